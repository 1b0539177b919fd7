package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"storefront/model"
)

// Handler is the HTTP layer that talks to Shop
type Handler struct {
	shop      *Shop
	jwtSecret []byte
	tokenTTL  time.Duration
	log       logrus.FieldLogger

	// authLimit throttles the login, OTP and registration routes when set.
	authLimit *clientLimiter
}

// NewHandler returns a Handler instance
func NewHandler(shop *Shop, jwtSecret []byte, tokenTTL time.Duration, log logrus.FieldLogger) *Handler {
	return &Handler{shop: shop, jwtSecret: jwtSecret, tokenTTL: tokenTTL, log: log}
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Auth
	r.Handle("/auth/login", h.authLimit.wrap(h.Login)).Methods("POST")
	r.Handle("/auth/otp/verify", h.authLimit.wrap(h.VerifyOTP)).Methods("POST")
	r.Handle("/buyers/register", h.authLimit.wrap(h.RegisterBuyer)).Methods("POST")
	r.Handle("/sellers/register", h.authLimit.wrap(h.RegisterSeller)).Methods("POST")

	// Products
	r.HandleFunc("/products", h.ListProducts).Methods("GET")
	r.HandleFunc("/products/name/{title}", h.SearchByName).Methods("GET")
	r.HandleFunc("/products/search/tags", h.SearchByTags).Methods("GET")
	r.Handle("/products", h.requireRole(h.CreateProduct, model.RoleSeller, model.RoleAdmin)).Methods("POST")
	r.Handle("/products/{id}/stock", h.requireRole(h.UpdateStock, model.RoleSeller, model.RoleAdmin)).Methods("PUT")

	// Cart
	r.Handle("/cart/add", h.requireRole(h.AddToCart, model.RoleBuyer)).Methods("POST")
	r.Handle("/cart", h.requireRole(h.GetCart, model.RoleBuyer)).Methods("GET")
	r.Handle("/cart/{buyerId}/items/{productId}", h.requireRole(h.RemoveFromCart, model.RoleBuyer)).Methods("DELETE")

	// Orders
	r.Handle("/orders", h.requireRole(h.PlaceOrder, model.RoleBuyer)).Methods("POST")
	r.Handle("/orders", h.requireRole(h.ListOrders, model.RoleBuyer)).Methods("GET")
}

// --- request / response shapes ---
type updateStockReq struct {
	Stock *int `json:"stock"`
}

type registerResp struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeShopErr maps Shop errors to HTTP codes.
func writeShopErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrAccountExists), errors.Is(err, ErrProductExists):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrBadCredentials), errors.Is(err, ErrBadOTP):
		writeErr(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotVerified):
		writeErr(w, http.StatusForbidden, err.Error())
	default:
		writeErr(w, http.StatusBadRequest, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// --- auth ---

type claimsKey struct{}

func claimsFrom(ctx context.Context) *model.Claims {
	c, _ := ctx.Value(claimsKey{}).(*model.Claims)
	return c
}

func (h *Handler) issueToken(a account) (string, error) {
	now := time.Now()
	claims := model.Claims{
		Email: a.Email,
		Role:  a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
}

func (h *Handler) parseToken(raw string) (*model.Claims, error) {
	claims := &model.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// requireRole rejects requests without a valid bearer token for one of roles.
func (h *Handler) requireRole(next http.HandlerFunc, roles ...model.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.parseToken(raw)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		allowed := false
		for _, role := range roles {
			if claims.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			writeErr(w, http.StatusForbidden, "role "+string(claims.Role)+" may not access this resource")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.shop.Authenticate(req.Email, req.Password, req.Role)
	if err != nil {
		writeShopErr(w, err)
		return
	}
	tok, err := h.issueToken(acct)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, model.LoginResponse{Token: tok})
}

// VerifyOTP handles POST /auth/otp/verify
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req model.OTPVerification
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.shop.VerifyOTP(req.Email, req.OTP, req.Role); err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "verified"})
}

// RegisterBuyer handles POST /buyers/register
func (h *Handler) RegisterBuyer(w http.ResponseWriter, r *http.Request) {
	var req model.BuyerRegistration
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	h.register(w, req.Email, req.Password, req.FirstName+" "+req.LastName, req.Role)
}

// RegisterSeller handles POST /sellers/register
func (h *Handler) RegisterSeller(w http.ResponseWriter, r *http.Request) {
	var req model.SellerRegistration
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	h.register(w, req.Email, req.Password, req.ShopName, req.Role)
}

func (h *Handler) register(w http.ResponseWriter, email, password, name string, role model.Role) {
	id, otp, err := h.shop.Register(email, password, name, role)
	if err != nil {
		writeShopErr(w, err)
		return
	}
	// stands in for the verification e-mail
	h.log.WithFields(logrus.Fields{"email": email, "role": role, "otp": otp}).Info("otp issued")
	writeJSON(w, http.StatusCreated, registerResp{Message: "verify the otp sent to " + email, ID: id})
}

// --- products ---

// ListProducts handles GET /products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shop.Products(nil))
}

// SearchByName handles GET /products/name/{title}
func (h *Handler) SearchByName(w http.ResponseWriter, r *http.Request) {
	title := mux.Vars(r)["title"]
	writeJSON(w, http.StatusOK, h.shop.Products(NameContains(title)))
}

// SearchByTags handles GET /products/search/tags?tags=a,b
func (h *Handler) SearchByTags(w http.ResponseWriter, r *http.Request) {
	var tags []string
	for _, t := range strings.Split(r.URL.Query().Get("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		writeErr(w, http.StatusBadRequest, "tags required")
		return
	}
	writeJSON(w, http.StatusOK, h.shop.Products(AnyTag(tags)))
}

// CreateProduct handles POST /products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	// body: a product plus "stock"; decoded twice since Product has its
	// own UnmarshalJSON
	var raw json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	var (
		p     model.Product
		stock struct {
			Stock int `json:"stock"`
		}
	)
	if json.Unmarshal(raw, &p) != nil || json.Unmarshal(raw, &stock) != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.shop.AddProduct(p, stock.Stock)
	if err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateStock handles PUT /products/{id}/stock
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockReq
	if !decode(w, r, &req) {
		return
	}
	if req.Stock == nil {
		writeErr(w, http.StatusBadRequest, "stock required")
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.shop.UpdateStock(id, *req.Stock); err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "stock": strconv.Itoa(*req.Stock)})
}

// --- cart ---

// AddToCart handles POST /cart/add
// body: { "product": "p1", "quantity": 2 }
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req model.CartAddition
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	cart, err := h.shop.AddToCart(claimsFrom(r.Context()).Subject, req.Product, req.Quantity)
	if err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// GetCart handles GET /cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.shop.Cart(claimsFrom(r.Context()).Subject))
}

// RemoveFromCart handles DELETE /cart/{buyerId}/items/{productId}
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if vars["buyerId"] != claimsFrom(r.Context()).Subject {
		writeErr(w, http.StatusForbidden, "cannot modify another buyer's cart")
		return
	}
	cart, err := h.shop.RemoveFromCart(vars["buyerId"], vars["productId"])
	if err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// --- orders ---

// PlaceOrder handles POST /orders
// body: { "productId": "p1", "quantity": 1 } buys one product directly;
// an empty body checks out the cart.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer := claimsFrom(r.Context()).Subject

	var (
		ord model.Order
		err error
	)
	if req.ProductID == "" {
		ord, err = h.shop.Checkout(buyer)
	} else {
		ord, err = h.shop.BuyNow(buyer, req.ProductID, req.Quantity)
	}
	if err != nil {
		writeShopErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.shop.Orders(claimsFrom(r.Context()).Subject)
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
