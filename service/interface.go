package service

import (
	"context"

	"storefront/api"
	"storefront/model"
)

type ServiceInterface interface {
	Login(ctx context.Context, email, password string, role model.Role) (string, error)
	RegisterBuyer(ctx context.Context, r model.BuyerRegistration) (api.Ack, error)
	RegisterSeller(ctx context.Context, r model.SellerRegistration) (api.Ack, error)
	VerifyOTP(ctx context.Context, email, otp string, role model.Role) (api.Ack, error)
	FetchProducts(ctx context.Context) (model.ProductList, error)
	SearchProductsByName(ctx context.Context, query string) (model.ProductList, error)
	SearchProductsByTags(ctx context.Context, tags []string) (model.ProductList, error)
	SearchProductsByImage(ctx context.Context, image []byte) (model.ProductList, error)
	AddToCart(ctx context.Context, productRef string, quantity int) (model.Cart, error)
	FetchCart(ctx context.Context) (model.Cart, error)
	RemoveFromCart(ctx context.Context, buyerID, productRef string) (model.Cart, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	Logout(ctx context.Context) error
	ClearSearchResults()
	RestoreSession(ctx context.Context) (string, error)
	BuyerID(ctx context.Context) (string, error)
	Snapshot() State
	Status(op Op) Status
	Subscribe() (<-chan struct{}, func())
}

// Backend is the remote storefront server. *api.Client implements it.
type Backend interface {
	Login(ctx context.Context, creds model.Credentials) (string, error)
	RegisterBuyer(ctx context.Context, r model.BuyerRegistration) (api.Ack, error)
	RegisterSeller(ctx context.Context, r model.SellerRegistration) (api.Ack, error)
	VerifyOTP(ctx context.Context, v model.OTPVerification) (api.Ack, error)
	ListProducts(ctx context.Context) (model.ProductList, error)
	SearchProductsByName(ctx context.Context, title string) (model.ProductList, error)
	SearchProductsByTags(ctx context.Context, tags []string) (model.ProductList, error)
	AddToCart(ctx context.Context, add model.CartAddition) (model.Cart, error)
	GetCart(ctx context.Context) (model.Cart, error)
	RemoveFromCart(ctx context.Context, buyerID, productID string) (model.Cart, error)
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
}

// Tagger labels an image. *tagging.Client implements it.
type Tagger interface {
	Tags(ctx context.Context, image []byte) ([]string, error)
}

var (
	_ ServiceInterface = (*Service)(nil)
	_ Backend          = (*api.Client)(nil)
)
