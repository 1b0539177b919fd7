package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"storefront/config"
	"storefront/model"
	"storefront/service"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error

	// standalone commands do not need a session store or API client.
	standalone func(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string) error
}

var commands = []command{
	{name: "login", summary: "log in and persist the session", run: cmdLogin},
	{name: "logout", summary: "forget the persisted session", run: cmdLogout},
	{name: "whoami", summary: "show the persisted session", run: cmdWhoami},
	{name: "register-buyer", summary: "create a buyer account", run: cmdRegisterBuyer},
	{name: "register-seller", summary: "create a seller account", run: cmdRegisterSeller},
	{name: "verify-otp", summary: "confirm an account with its OTP", run: cmdVerifyOTP},
	{name: "products", summary: "list products, optionally filtered by name", run: cmdProducts},
	{name: "search-tags", summary: "find products carrying any of the given tags", run: cmdSearchTags},
	{name: "search-image", summary: "find products matching the tags of an image", run: cmdSearchImage},
	{name: "cart", summary: "show the cart", run: cmdCart},
	{name: "cart-add", summary: "add a product to the cart", run: cmdCartAdd},
	{name: "cart-remove", summary: "remove a product from the cart", run: cmdCartRemove},
	{name: "order", summary: "check out the cart, or buy one product now", run: cmdOrder},
	{name: "devserver", summary: "serve an in-memory storefront backend", standalone: runDevServer},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// parseFlags parses args into flagSet. ok is false when --help was asked
// for and the command should return without doing anything.
func parseFlags(flagSet *pflag.FlagSet, args []string) (ok bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	var email, password, role string
	flagSet := pflag.NewFlagSet("login", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "account email")
	flagSet.StringVar(&password, "password", "", "account password")
	flagSet.StringVar(&role, "role", string(model.RoleBuyer), "buyer, seller or admin")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	if strings.TrimSpace(email) == "" || password == "" {
		return model.ErrCredentialsRequired
	}
	r, err := model.ParseRole(role)
	if err != nil {
		return err
	}
	if _, err := a.svc.Login(ctx, email, password, r); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s (%s)\n", strings.TrimSpace(email), r)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.svc.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	token := a.svc.Snapshot().Token
	if token == "" {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	claims, err := model.ParseClaims(token)
	if err != nil {
		fmt.Fprintln(a.out, "Logged in (opaque session token)")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "EMAIL\t%s\n", claims.Email)
	fmt.Fprintf(w, "ROLE\t%s\n", claims.Role)
	fmt.Fprintf(w, "ACCOUNT\t%s\n", claims.Subject)
	if claims.ExpiresAt != nil {
		fmt.Fprintf(w, "EXPIRES\t%s\n", claims.ExpiresAt.Time.Format("2006-01-02 15:04:05"))
	}
	if id, err := a.svc.BuyerID(ctx); err == nil {
		fmt.Fprintf(w, "BUYER ID\t%s\n", id)
	}
	return w.Flush()
}

type registrationFlags struct {
	email, password, firstName, lastName, address, phone string
}

func (f *registrationFlags) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.email, "email", "", "account email")
	flagSet.StringVar(&f.password, "password", "", "account password")
	flagSet.StringVar(&f.firstName, "first-name", "", "first name")
	flagSet.StringVar(&f.lastName, "last-name", "", "last name")
	flagSet.StringVar(&f.address, "address", "", "postal address")
	flagSet.StringVar(&f.phone, "phone", "", "phone number")
}

func cmdRegisterBuyer(ctx context.Context, a *app, args []string) error {
	var f registrationFlags
	var username string
	flagSet := pflag.NewFlagSet("register-buyer", pflag.ContinueOnError)
	f.bind(flagSet)
	flagSet.StringVar(&username, "username", "", "display username")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	reg := model.BuyerRegistration{
		Email: f.email, Password: f.password, FirstName: f.firstName, LastName: f.lastName,
		Username: username, Address: f.address, PhoneNumber: f.phone, Role: model.RoleBuyer,
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if _, err := a.svc.RegisterBuyer(ctx, reg); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered %s. Confirm with: storefront verify-otp --email %s --otp <code>\n", f.email, f.email)
	return nil
}

func cmdRegisterSeller(ctx context.Context, a *app, args []string) error {
	var f registrationFlags
	var shopName string
	flagSet := pflag.NewFlagSet("register-seller", pflag.ContinueOnError)
	f.bind(flagSet)
	flagSet.StringVar(&shopName, "shop-name", "", "shop name")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	reg := model.SellerRegistration{
		Email: f.email, Password: f.password, FirstName: f.firstName, LastName: f.lastName,
		ShopName: shopName, Address: f.address, PhoneNumber: f.phone, Role: model.RoleSeller,
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if _, err := a.svc.RegisterSeller(ctx, reg); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered %s. Confirm with: storefront verify-otp --role seller --email %s --otp <code>\n", f.email, f.email)
	return nil
}

func cmdVerifyOTP(ctx context.Context, a *app, args []string) error {
	var email, otp, role string
	flagSet := pflag.NewFlagSet("verify-otp", pflag.ContinueOnError)
	flagSet.StringVar(&email, "email", "", "account email")
	flagSet.StringVar(&otp, "otp", "", "one-time password")
	flagSet.StringVar(&role, "role", string(model.RoleBuyer), "buyer or seller")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	if strings.TrimSpace(otp) == "" {
		return model.ErrOTPRequired
	}
	r, err := model.ParseRole(role)
	if err != nil {
		return err
	}
	if _, err := a.svc.VerifyOTP(ctx, email, otp, r); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "OTP verified successfully!")
	return nil
}

func cmdProducts(ctx context.Context, a *app, args []string) error {
	var query string
	flagSet := pflag.NewFlagSet("products", pflag.ContinueOnError)
	flagSet.StringVarP(&query, "query", "q", "", "name search; empty lists everything")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	list, err := a.svc.SearchProductsByName(ctx, query)
	if err != nil {
		return err
	}
	return printProducts(a.out, list)
}

func cmdSearchTags(ctx context.Context, a *app, args []string) error {
	var tags []string
	flagSet := pflag.NewFlagSet("search-tags", pflag.ContinueOnError)
	flagSet.StringSliceVar(&tags, "tags", nil, "comma separated tags")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}
	tags = append(tags, flagSet.Args()...)
	if len(tags) == 0 {
		return errors.New("search-tags: at least one tag is required")
	}

	list, err := a.svc.SearchProductsByTags(ctx, tags)
	if err != nil {
		return err
	}
	return printProducts(a.out, list)
}

func cmdSearchImage(ctx context.Context, a *app, args []string) error {
	var path string
	flagSet := pflag.NewFlagSet("search-image", pflag.ContinueOnError)
	flagSet.StringVar(&path, "file", "", "image file")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}
	if path == "" && flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if path == "" {
		return errors.New("search-image: --file is required")
	}

	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("search-image: %w", err)
	}
	list, err := a.svc.SearchProductsByImage(ctx, image)
	if err != nil {
		if errors.Is(err, service.ErrTaggingDisabled) {
			a.log.Warn("set tagging.api_key and tagging.api_secret to enable image search")
		}
		return err
	}
	return printProducts(a.out, list)
}

func cmdCart(ctx context.Context, a *app, _ []string) error {
	cart, err := a.svc.FetchCart(ctx)
	if err != nil {
		return err
	}
	return printCart(a.out, cart)
}

func cmdCartAdd(ctx context.Context, a *app, args []string) error {
	var product string
	var quantity int
	flagSet := pflag.NewFlagSet("cart-add", pflag.ContinueOnError)
	flagSet.StringVarP(&product, "product", "p", "", "product id")
	flagSet.IntVarP(&quantity, "quantity", "n", 1, "quantity")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	cart, err := a.svc.AddToCart(ctx, product, quantity)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Product added to cart!")
	fmt.Fprintf(a.out, "In cart: %d x %s\n", cart.Quantity(strings.TrimSpace(product)), strings.TrimSpace(product))
	return printCart(a.out, cart)
}

func cmdCartRemove(ctx context.Context, a *app, args []string) error {
	var product string
	flagSet := pflag.NewFlagSet("cart-remove", pflag.ContinueOnError)
	flagSet.StringVarP(&product, "product", "p", "", "product id")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}

	buyerID, err := a.svc.BuyerID(ctx)
	if err != nil {
		return service.ErrNoBuyerID
	}
	cart, err := a.svc.RemoveFromCart(ctx, buyerID, product)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Item removed from cart")
	return printCart(a.out, cart)
}

func cmdOrder(ctx context.Context, a *app, args []string) error {
	var req model.OrderRequest
	flagSet := pflag.NewFlagSet("order", pflag.ContinueOnError)
	flagSet.StringVarP(&req.ProductID, "product", "p", "", "buy this product now instead of checking out the cart")
	flagSet.IntVarP(&req.Quantity, "quantity", "n", 0, "quantity for --product (default 1)")
	if ok, err := parseFlags(flagSet, args); !ok {
		return err
	}
	if req.ProductID != "" && req.Quantity == 0 {
		req.Quantity = 1
	}

	ord, err := a.svc.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Order placed successfully!")
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ORDER\t%s\n", ord.ID)
	if ord.Status != "" {
		fmt.Fprintf(w, "STATUS\t%s\n", ord.Status)
	}
	fmt.Fprintf(w, "TOTAL\t%.2f\n", ord.Total)
	return w.Flush()
}

func printProducts(out io.Writer, list model.ProductList) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "No products found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE\tTAGS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", p.ID, p.Name, p.Price, strings.Join(p.Tags, ","))
	}
	return w.Flush()
}

func printCart(out io.Writer, cart model.Cart) error {
	if len(cart) == 0 {
		fmt.Fprintln(out, "Cart is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tNAME\tQUANTITY")
	for _, line := range cart {
		name := ""
		if line.Item != nil {
			name = line.Item.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", line.Product, name, line.Quantity)
	}
	return w.Flush()
}
