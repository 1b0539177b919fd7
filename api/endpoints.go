package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"storefront/model"
)

// Ack is the loosely specified body returned by registration and OTP
// verification.
type Ack struct {
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds model.Credentials) (string, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) VerifyOTP(ctx context.Context, v model.OTPVerification) (Ack, error) {
	return c.ack(ctx, "/auth/otp/verify", v)
}

func (c *Client) RegisterBuyer(ctx context.Context, r model.BuyerRegistration) (Ack, error) {
	return c.ack(ctx, "/buyers/register", r)
}

func (c *Client) RegisterSeller(ctx context.Context, r model.SellerRegistration) (Ack, error) {
	return c.ack(ctx, "/sellers/register", r)
}

// ack posts in and tolerates an empty or non-object success body.
func (c *Client) ack(ctx context.Context, path string, in any) (Ack, error) {
	var raw rawBody
	if err := c.do(ctx, http.MethodPost, path, nil, in, &raw); err != nil {
		return Ack{}, err
	}
	return raw.ack(), nil
}

// ListProducts returns the full catalog in server order.
func (c *Client) ListProducts(ctx context.Context) (model.ProductList, error) {
	var list model.ProductList
	if err := c.do(ctx, http.MethodGet, "/products", nil, nil, &list); err != nil {
		return nil, err
	}
	return nonNil(list), nil
}

// SearchProductsByName returns products whose name matches title.
func (c *Client) SearchProductsByName(ctx context.Context, title string) (model.ProductList, error) {
	var list model.ProductList
	path := "/products/name/" + url.PathEscape(title)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &list); err != nil {
		return nil, err
	}
	return nonNil(list), nil
}

// SearchProductsByTags returns products carrying any of tags.
func (c *Client) SearchProductsByTags(ctx context.Context, tags []string) (model.ProductList, error) {
	var list model.ProductList
	q := url.Values{"tags": {strings.Join(tags, ",")}}
	if err := c.do(ctx, http.MethodGet, "/products/search/tags", q, nil, &list); err != nil {
		return nil, err
	}
	return nonNil(list), nil
}

// AddToCart adds quantity of product and returns the resulting cart.
func (c *Client) AddToCart(ctx context.Context, add model.CartAddition) (model.Cart, error) {
	var cart model.Cart
	if err := c.do(ctx, http.MethodPost, "/cart/add", nil, add, &cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (c *Client) GetCart(ctx context.Context) (model.Cart, error) {
	var cart model.Cart
	if err := c.do(ctx, http.MethodGet, "/cart", nil, nil, &cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveFromCart deletes productID from buyerID's cart and returns what
// is left.
func (c *Client) RemoveFromCart(ctx context.Context, buyerID, productID string) (model.Cart, error) {
	var cart model.Cart
	path := "/cart/" + url.PathEscape(buyerID) + "/items/" + url.PathEscape(productID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	var order model.Order
	if err := c.do(ctx, http.MethodPost, "/orders", nil, req, &order); err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// rawBody keeps a success body verbatim; it may be empty.
type rawBody struct {
	data json.RawMessage
}

func (r *rawBody) UnmarshalJSON(b []byte) error {
	r.data = append(r.data[:0], b...)
	return nil
}

func (r rawBody) ack() Ack {
	var wire struct {
		Ack
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(r.data, &wire); err != nil {
		return Ack{}
	}
	if wire.ID == "" {
		wire.ID = wire.MongoID
	}
	return wire.Ack
}

func nonNil(list model.ProductList) model.ProductList {
	if list == nil {
		return model.ProductList{}
	}
	return list
}
