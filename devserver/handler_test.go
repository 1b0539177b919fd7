package devserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api"
	"storefront/config"
	"storefront/model"
	"storefront/service"
	"storefront/store"
)

type harness struct {
	srv    *Server
	url    string
	tokens *store.MemoryStore
	client *api.Client
	svc    *service.Service
	hook   *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	srv, err := New(config.DevServerConfig{JWTSecret: "test-secret", OTP: "123456", TokenTTL: time.Hour}, log)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tokens := store.NewMemoryStore()
	client, err := api.NewClient(api.Config{BaseURL: ts.URL, Tokens: store.TokenSource{Store: tokens}})
	require.NoError(t, err)

	return &harness{
		srv:    srv,
		url:    ts.URL,
		tokens: tokens,
		client: client,
		svc:    service.NewService(client, tokens),
		hook:   hook,
	}
}

func (h *harness) signUpBuyer(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.RegisterBuyer(ctx, model.BuyerRegistration{
		Email: email, Password: "pw", FirstName: "Ada", LastName: "L",
		Username: "ada", Address: "1 Road", PhoneNumber: "555",
	})
	require.NoError(t, err)
	_, err = h.svc.VerifyOTP(ctx, email, "123456", model.RoleBuyer)
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, email, "pw", model.RoleBuyer)
	require.NoError(t, err)
}

func TestBuyerJourney(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUpBuyer(t, "ada@example.com")

	// the otp is "sent" by logging it
	var sawOTP bool
	for _, e := range h.hook.AllEntries() {
		if e.Message == "otp issued" && e.Data["otp"] == "123456" {
			sawOTP = true
		}
	}
	assert.True(t, sawOTP)

	buyerID, err := h.svc.BuyerID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, buyerID)

	list, err := h.svc.FetchProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	found, err := h.svc.SearchProductsByName(ctx, "leather boot")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "p2", found[0].ID)

	byTag, err := h.svc.SearchProductsByTags(ctx, []string{"footwear"})
	require.NoError(t, err)
	assert.Len(t, byTag, 2)

	cart, err := h.svc.AddToCart(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, model.Cart{{Product: "p1", Quantity: 2}}, cart)
	_, err = h.svc.AddToCart(ctx, "p3", 1)
	require.NoError(t, err)

	cart, err = h.svc.RemoveFromCart(ctx, buyerID, "p3")
	require.NoError(t, err)
	assert.Equal(t, model.Cart{{Product: "p1", Quantity: 2}}, cart)

	cart, err = h.svc.FetchCart(ctx)
	require.NoError(t, err)
	assert.Len(t, cart, 1)

	ord, err := h.svc.PlaceOrder(ctx, model.OrderRequest{})
	require.NoError(t, err)
	assert.Equal(t, "placed", ord.Status)
	assert.InDelta(t, 119.98, ord.Total, 1e-9)

	cart, err = h.svc.FetchCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, cart)

	ord, err = h.svc.PlaceOrder(ctx, model.OrderRequest{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 89.5, ord.Total)
	assert.Equal(t, ord.ID, h.svc.Snapshot().Order.ID)

	require.NoError(t, h.svc.Logout(ctx))
	_, err = h.svc.FetchCart(ctx)
	assert.EqualError(t, err, "Failed to fetch cart")
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))
}

func TestOrderFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUpBuyer(t, "bo@example.com")

	_, err := h.svc.PlaceOrder(ctx, model.OrderRequest{})
	assert.EqualError(t, err, "Failed to place order")
	assert.True(t, api.IsStatus(err, http.StatusBadRequest), "empty cart")

	_, err = h.svc.AddToCart(ctx, "p4", 1)
	assert.EqualError(t, err, "Failed to add product to cart")
	assert.True(t, api.IsStatus(err, http.StatusConflict), "scarf is out of stock")

	_, err = h.svc.PlaceOrder(ctx, model.OrderRequest{ProductID: "missing", Quantity: 1})
	assert.True(t, api.IsStatus(err, http.StatusNotFound))
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RegisterSeller(ctx, model.SellerRegistration{
		Email: "shop@example.com", Password: "pw", FirstName: "S", LastName: "T",
		ShopName: "Shop", Address: "2 Road", PhoneNumber: "556",
	})
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "shop@example.com", "pw", model.RoleSeller)
	assert.EqualError(t, err, "Invalid credentials")
	assert.True(t, api.IsStatus(err, http.StatusForbidden), "unverified")

	_, err = h.svc.VerifyOTP(ctx, "shop@example.com", "999999", model.RoleSeller)
	assert.EqualError(t, err, "OTP verification failed")

	_, err = h.svc.VerifyOTP(ctx, "shop@example.com", "123456", model.RoleSeller)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "shop@example.com", "nope", model.RoleSeller)
	assert.True(t, api.IsStatus(err, http.StatusUnauthorized))

	_, err = h.svc.Login(ctx, "shop@example.com", "pw", model.RoleSeller)
	require.NoError(t, err)
	_, err = h.svc.BuyerID(ctx)
	assert.ErrorIs(t, err, service.ErrNoBuyerID, "sellers have no buyer id")

	// sellers cannot use a cart
	_, err = h.svc.FetchCart(ctx)
	assert.True(t, api.IsStatus(err, http.StatusForbidden))

	_, err = h.svc.RegisterSeller(ctx, model.SellerRegistration{
		Email: "shop@example.com", Password: "pw", FirstName: "S", LastName: "T",
		ShopName: "Shop", Address: "2 Road", PhoneNumber: "556",
	})
	assert.EqualError(t, err, "Seller registration failed")
	assert.True(t, api.IsStatus(err, http.StatusConflict))
}

func TestBuyerCannotTouchAnotherCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUpBuyer(t, "cy@example.com")

	_, err := h.svc.AddToCart(ctx, "p1", 1)
	require.NoError(t, err)

	_, err = h.svc.RemoveFromCart(ctx, "someone-else", "p1")
	assert.EqualError(t, err, "Failed to remove product from cart")
	assert.True(t, api.IsStatus(err, http.StatusForbidden))
	assert.Len(t, h.svc.Snapshot().Cart, 1)
}

func TestSellerManagesCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Login(ctx, "admin@storefront.local", "admin", model.RoleAdmin)
	require.NoError(t, err)
	tok, _ := h.tokens.Get(ctx, store.TokenKey)

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, h.url+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/products", `{"id":"p9","name":"Gloves","price":12,"stock":3,"tags":["winter"]}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	st, err := h.srv.Shop.Stock("p9")
	require.NoError(t, err)
	assert.Equal(t, 3, st)

	resp = do(http.MethodPut, "/products/p4/stock", `{"stock":7}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	st, _ = h.srv.Shop.Stock("p4")
	assert.Equal(t, 7, st)

	resp = do(http.MethodPut, "/products/p4/stock", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(http.MethodPut, "/products/zz/stock", `{"stock":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	winter, err := h.svc.SearchProductsByTags(ctx, []string{"winter"})
	require.NoError(t, err)
	assert.Len(t, winter, 2)
}

func TestUnauthenticatedAndBadTokens(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.url + "/cart")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, h.url+"/cart", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(h.url + "/products/search/tags")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.FetchProducts(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(h.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `storefront_devserver_http_requests_total{method="GET",route="/products",status="200"} 1`)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(config.DevServerConfig{}, logrus.New())
	assert.Error(t, err)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	srv, err := New(config.DevServerConfig{Addr: "127.0.0.1:0", JWTSecret: "s"}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	log, hook := test.NewNullLogger()
	srv, err := New(config.DevServerConfig{JWTSecret: "s", AuthRate: 0.001, AuthBurst: 2}, log)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	login := func() int {
		resp, err := http.Post(ts.URL+"/auth/login", "application/json",
			strings.NewReader(`{"email":"x@y.z","password":"pw","role":"buyer"}`))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusUnauthorized, login())
	assert.Equal(t, http.StatusUnauthorized, login())
	assert.Equal(t, http.StatusTooManyRequests, login())
	assert.Equal(t, "rate limit exceeded", hook.LastEntry().Message)

	// catalog routes are not limited
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/products")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestMetricsCountUnmatchedRequests(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.url + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, h.url+"/products", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(h.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `storefront_devserver_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, string(body), `storefront_devserver_http_requests_total{method="DELETE",route="unmatched",status="405"} 1`)
}
