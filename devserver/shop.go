package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"storefront/model"
)

var (
	// ErrInsufficientStock is returned when a requested quantity exceeds
	// available stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	ErrNotFound        = errors.New("not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrProductExists   = errors.New("product already exists")
	ErrBadCredentials  = errors.New("invalid email or password")
	ErrNotVerified     = errors.New("account not verified")
	ErrBadOTP          = errors.New("invalid otp")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be > 0")
)

type accountKey struct {
	email string
	role  model.Role
}

func keyFor(email string, role model.Role) accountKey {
	return accountKey{email: strings.ToLower(strings.TrimSpace(email)), role: role}
}

type account struct {
	ID       string
	Email    string
	Role     model.Role
	Name     string
	Hash     []byte
	Verified bool
}

type stockedProduct struct {
	model.Product
	Stock int
}

// Shop is the in-memory state behind the development server: accounts,
// the catalog with stock levels, per-buyer carts and placed orders.
// Stock is reserved when a product is added to a cart and released when
// it is removed; checkout turns the reservation into an order.
type Shop struct {
	mu       sync.RWMutex
	accounts map[accountKey]*account
	otps     map[accountKey]string
	products map[string]*stockedProduct
	order    []string // catalog order
	orders   map[string][]model.Order

	carts sync.Map // buyerID -> model.Cart

	// per-buyer mutexes so concurrent requests for one cart serialize.
	// Keys are buyerID -> *sync.Mutex
	locks sync.Map

	newOTP func() string
	now    func() time.Time
}

// NewShop returns an empty shop. fixedOTP, when set, is issued to every
// registration instead of a random code.
func NewShop(fixedOTP string) *Shop {
	s := &Shop{
		accounts: make(map[accountKey]*account),
		otps:     make(map[accountKey]string),
		products: make(map[string]*stockedProduct),
		orders:   make(map[string][]model.Order),
		newOTP:   randomOTP,
		now:      time.Now,
	}
	if fixedOTP != "" {
		s.newOTP = func() string { return fixedOTP }
	}
	return s
}

func randomOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(fmt.Sprintf("devserver: otp: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// lockForUser acquires the per-buyer lock. Returns unlock func.
func (s *Shop) lockForUser(buyerID string) func() {
	v, _ := s.locks.LoadOrStore(buyerID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// ---- accounts ----

// Register creates an unverified account and returns its id and the OTP
// that verifies it.
func (s *Shop) Register(email, password, name string, role model.Role) (id, otp string, err error) {
	if email == "" || password == "" || !role.Valid() {
		return "", "", errors.New("email, password and role are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}

	k := keyFor(email, role)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[k]; ok {
		return "", "", ErrAccountExists
	}
	a := &account{ID: uuid.NewString(), Email: k.email, Role: role, Name: name, Hash: hash}
	s.accounts[k] = a
	otp = s.newOTP()
	s.otps[k] = otp
	return a.ID, otp, nil
}

func (s *Shop) VerifyOTP(email, otp string, role model.Role) error {
	k := keyFor(email, role)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[k]
	if !ok {
		return ErrNotFound
	}
	if a.Verified {
		return nil
	}
	if want, ok := s.otps[k]; !ok || want != strings.TrimSpace(otp) {
		return ErrBadOTP
	}
	a.Verified = true
	delete(s.otps, k)
	return nil
}

// Authenticate checks a password and returns the account.
func (s *Shop) Authenticate(email, password string, role model.Role) (account, error) {
	s.mu.RLock()
	a, ok := s.accounts[keyFor(email, role)]
	var acct account
	if ok {
		acct = *a
	}
	s.mu.RUnlock()

	if !ok {
		return account{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.Hash, []byte(password)); err != nil {
		return account{}, ErrBadCredentials
	}
	if !acct.Verified {
		return account{}, ErrNotVerified
	}
	return acct, nil
}

// ---- catalog ----

// AddProduct inserts p with the given stock. An empty ID is generated.
func (s *Shop) AddProduct(p model.Product, stock int) (model.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return model.Product{}, err
	}
	if stock < 0 {
		return model.Product{}, errors.New("stock cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return model.Product{}, fmt.Errorf("product %s: %w", p.ID, ErrProductExists)
	}
	s.products[p.ID] = &stockedProduct{Product: p, Stock: stock}
	s.order = append(s.order, p.ID)
	return p, nil
}

// UpdateStock sets the absolute stock for a product.
func (s *Shop) UpdateStock(productID string, stock int) error {
	if stock < 0 {
		return errors.New("stock cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return ErrNotFound
	}
	p.Stock = stock
	return nil
}

// Stock returns current stock for a product.
func (s *Shop) Stock(productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, ErrNotFound
	}
	return p.Stock, nil
}

// Products returns the products accepted by match, in catalog order.
func (s *Shop) Products(match func(model.Product) bool) model.ProductList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := model.ProductList{}
	for _, id := range s.order {
		p := s.products[id].Product
		if match == nil || match(p) {
			out = append(out, p)
		}
	}
	return out
}

func NameContains(q string) func(model.Product) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	return func(p model.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), q)
	}
}

func AnyTag(tags []string) func(model.Product) bool {
	return func(p model.Product) bool {
		return slices.ContainsFunc(tags, p.HasTag)
	}
}

// ---- cart ----

func (s *Shop) Cart(buyerID string) model.Cart {
	if v, ok := s.carts.Load(buyerID); ok {
		return slices.Clone(v.(model.Cart))
	}
	return model.Cart{}
}

// AddToCart reserves qty units of productID and adds them to the cart.
func (s *Shop) AddToCart(buyerID, productID string, qty int) (model.Cart, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	unlock := s.lockForUser(buyerID)
	defer unlock()

	s.mu.Lock()
	p, ok := s.products[productID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if p.Stock < qty {
		s.mu.Unlock()
		return nil, ErrInsufficientStock
	}
	// decrement product stock (reserved)
	p.Stock -= qty
	s.mu.Unlock()

	cart := s.Cart(buyerID)
	i := slices.IndexFunc(cart, func(l model.CartLine) bool { return l.Product == productID })
	if i >= 0 {
		cart[i].Quantity += qty
	} else {
		cart = append(cart, model.CartLine{Product: productID, Quantity: qty})
	}
	s.carts.Store(buyerID, cart)
	return slices.Clone(cart), nil
}

// RemoveFromCart drops productID from the cart and releases its stock.
func (s *Shop) RemoveFromCart(buyerID, productID string) (model.Cart, error) {
	unlock := s.lockForUser(buyerID)
	defer unlock()

	cart := s.Cart(buyerID)
	i := slices.IndexFunc(cart, func(l model.CartLine) bool { return l.Product == productID })
	if i < 0 {
		return nil, ErrNotFound
	}
	qty := cart[i].Quantity
	cart = slices.Delete(cart, i, i+1)
	s.carts.Store(buyerID, cart)

	// restore reserved stock
	s.mu.Lock()
	if p, ok := s.products[productID]; ok {
		p.Stock += qty
	}
	s.mu.Unlock()
	return slices.Clone(cart), nil
}

// ---- orders ----

// Checkout turns the reserved cart into an order and empties the cart.
// Stock was reserved on AddToCart and is not touched again.
func (s *Shop) Checkout(buyerID string) (model.Order, error) {
	unlock := s.lockForUser(buyerID)
	defer unlock()

	cart := s.Cart(buyerID)
	if len(cart) == 0 {
		return model.Order{}, ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, l := range cart {
		p, ok := s.products[l.Product]
		if !ok {
			return model.Order{}, fmt.Errorf("product %s: %w", l.Product, ErrNotFound)
		}
		total += p.Price * float64(l.Quantity)
	}
	s.carts.Store(buyerID, model.Cart{})
	return s.recordOrder(buyerID, cart, total), nil
}

// BuyNow orders qty units of one product directly, bypassing the cart.
func (s *Shop) BuyNow(buyerID, productID string, qty int) (model.Order, error) {
	if qty <= 0 {
		return model.Order{}, ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if p.Stock < qty {
		return model.Order{}, ErrInsufficientStock
	}
	p.Stock -= qty
	items := model.Cart{{Product: productID, Quantity: qty}}
	return s.recordOrder(buyerID, items, p.Price*float64(qty)), nil
}

// recordOrder must be called with s.mu held.
func (s *Shop) recordOrder(buyerID string, items model.Cart, total float64) model.Order {
	o := model.Order{
		ID:        uuid.NewString(),
		Status:    "placed",
		Items:     items,
		Total:     total,
		CreatedAt: s.now().UTC(),
	}
	s.orders[buyerID] = append(s.orders[buyerID], o)
	return o
}

func (s *Shop) Orders(buyerID string) []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.orders[buyerID])
}

// ---- seeding ----

// Seed is the YAML document accepted by LoadSeed.
type Seed struct {
	Products []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Price       float64  `yaml:"price"`
		Stock       int      `yaml:"stock"`
		Tags        []string `yaml:"tags"`
	} `yaml:"products"`
	Accounts []struct {
		Email    string     `yaml:"email"`
		Password string     `yaml:"password"`
		Name     string     `yaml:"name"`
		Role     model.Role `yaml:"role"`
	} `yaml:"accounts"`
}

// LoadSeed reads a seed file and applies it.
func (s *Shop) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	return s.ApplySeed(seed)
}

// ApplySeed adds the seed's products and verified accounts.
func (s *Shop) ApplySeed(seed Seed) error {
	for i, p := range seed.Products {
		_, err := s.AddProduct(model.Product{
			ID: p.ID, Name: p.Name, Description: p.Description, Price: p.Price, Tags: p.Tags,
		}, p.Stock)
		if err != nil {
			return fmt.Errorf("seed products[%d]: %w", i, err)
		}
	}
	for i, a := range seed.Accounts {
		if _, _, err := s.Register(a.Email, a.Password, a.Name, a.Role); err != nil {
			return fmt.Errorf("seed accounts[%d]: %w", i, err)
		}
		s.mu.Lock()
		k := keyFor(a.Email, a.Role)
		s.accounts[k].Verified = true
		delete(s.otps, k)
		s.mu.Unlock()
	}
	return nil
}

// DefaultSeed is the catalog served when no seed file is configured.
const DefaultSeed = `
products:
  - id: p1
    name: Running Shoe
    description: Lightweight trainer
    price: 59.99
    stock: 25
    tags: [shoe, footwear, sport]
  - id: p2
    name: Leather Boot
    description: Waterproof ankle boot
    price: 89.5
    stock: 10
    tags: [boot, footwear, leather]
  - id: p3
    name: Canvas Tote
    description: Everyday shopping bag
    price: 15
    stock: 40
    tags: [bag, canvas]
  - id: p4
    name: Wool Scarf
    price: 22
    stock: 0
    tags: [scarf, wool, winter]
accounts:
  - email: admin@storefront.local
    password: admin
    name: Admin
    role: admin
`

// ApplyDefaultSeed loads DefaultSeed.
func (s *Shop) ApplyDefaultSeed() error {
	var seed Seed
	if err := yaml.Unmarshal([]byte(DefaultSeed), &seed); err != nil {
		return fmt.Errorf("parse default seed: %w", err)
	}
	return s.ApplySeed(seed)
}
