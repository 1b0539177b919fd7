package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductDecodesMongoIDAndBase64Image(t *testing.T) {
	var p Product
	err := json.Unmarshal([]byte(`{"_id":"p1","name":"Shoe","price":19.5,"image":"aGVsbG8=","tags":["shoe","red"]}`), &p)
	require.NoError(t, err)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, []byte("hello"), p.Image)
	assert.True(t, p.HasTag("RED"))
	assert.False(t, p.HasTag("blue"))
	assert.NoError(t, p.Validate())
}

func TestProductPrefersID(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","_id":"b","name":"n","price":1}`), &p))
	assert.Equal(t, "a", p.ID)
}

func TestProductValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Product
		ok   bool
	}{
		{"valid", Product{ID: "1", Name: "n", Price: 0}, true},
		{"missing id", Product{Name: "n"}, false},
		{"missing name", Product{ID: "1"}, false},
		{"negative price", Product{ID: "1", Name: "n", Price: -1}, false},
		{"nan price", Product{ID: "1", Name: "n", Price: math.NaN()}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	list := ProductList{{ID: "1", Name: "a"}, {ID: "2"}}
	assert.ErrorContains(t, list.Validate(), "products[1]")
}

func TestCartDecodesArrayObjectAndPopulatedLines(t *testing.T) {
	var bare Cart
	require.NoError(t, json.Unmarshal([]byte(`[{"product":"p1","quantity":2}]`), &bare))
	assert.Equal(t, Cart{{Product: "p1", Quantity: 2}}, bare)

	var wrapped Cart
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{"product":{"_id":"p2","name":"Hat","price":5},"quantity":1}]}`), &wrapped))
	require.Len(t, wrapped, 1)
	assert.Equal(t, "p2", wrapped[0].Product)
	require.NotNil(t, wrapped[0].Item)
	assert.Equal(t, "Hat", wrapped[0].Item.Name)
	assert.Equal(t, 1, wrapped.Quantity("p2"))
	assert.Equal(t, 0, wrapped.Quantity("p1"))

	var empty Cart
	require.NoError(t, json.Unmarshal([]byte(`{"items":null}`), &empty))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	var bad Cart
	assert.Error(t, json.Unmarshal([]byte(`[{"product":12,"quantity":1}]`), &bad))
}

func TestCartLineEncodesReferenceOnly(t *testing.T) {
	line := CartLine{Product: "p1", Quantity: 2, Item: &Product{ID: "p1", Name: "x"}}
	out, err := json.Marshal(line)
	require.NoError(t, err)
	assert.JSONEq(t, `{"product":"p1","quantity":2}`, string(out))
}

func TestCartValidate(t *testing.T) {
	assert.NoError(t, Cart{{Product: "p", Quantity: 1}}.Validate())
	assert.Error(t, Cart{{Product: "", Quantity: 1}}.Validate())
	assert.Error(t, Cart{{Product: "p", Quantity: 0}}.Validate())
}

func TestOrderRequestValidate(t *testing.T) {
	assert.NoError(t, OrderRequest{}.Validate(), "cart checkout")
	assert.NoError(t, OrderRequest{ProductID: "p", Quantity: 1}.Validate())
	assert.Error(t, OrderRequest{Quantity: 1}.Validate())
	assert.Error(t, OrderRequest{ProductID: "p"}.Validate())
}

func TestOrderDecodes(t *testing.T) {
	var o Order
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"o1","status":"placed","total":12.5,"createdAt":"2026-01-02T03:04:05Z","items":[{"product":"p1","quantity":1}]}`), &o))
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), o.CreatedAt)
	assert.NoError(t, o.Validate())
	assert.Error(t, Order{}.Validate())
}

func TestRegistrationValidate(t *testing.T) {
	buyer := BuyerRegistration{
		Email: "b@example.com", Password: "pw", FirstName: "B", LastName: "Uyer",
		Username: "buyer1", Address: "1 Main St", PhoneNumber: "555", Role: RoleBuyer,
	}
	assert.NoError(t, buyer.Validate())

	missing := buyer
	missing.Username = "  "
	assert.ErrorIs(t, missing.Validate(), ErrMissingFields)

	wrongRole := buyer
	wrongRole.Role = RoleSeller
	assert.Error(t, wrongRole.Validate())

	seller := SellerRegistration{
		Email: "s@example.com", Password: "pw", FirstName: "S", LastName: "Eller",
		ShopName: "Shop", Address: "2 Main St", PhoneNumber: "555", Role: RoleSeller,
	}
	assert.NoError(t, seller.Validate())
	seller.ShopName = ""
	assert.ErrorIs(t, seller.Validate(), ErrMissingFields)
}

func TestFormErrorsKeepScreenText(t *testing.T) {
	err := Credentials{Email: "a@b.c", Role: RoleBuyer}.Validate()
	assert.ErrorIs(t, err, ErrCredentialsRequired)
	assert.EqualError(t, err, "Email and Password are required")

	err = OTPVerification{Email: "a@b.c", Role: RoleBuyer}.Validate()
	assert.ErrorIs(t, err, ErrOTPRequired)
	assert.EqualError(t, err, "Please enter the OTP")

	assert.EqualError(t, ErrMissingFields, "All fields are required")
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Seller ")
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, r)

	_, err = ParseRole("guest")
	assert.Error(t, err)
}

func TestParseClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:            "b@example.com",
		Role:             RoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "buyer-7"},
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := ParseClaims(signed)
	require.NoError(t, err)
	assert.Equal(t, "buyer-7", claims.Subject)
	assert.Equal(t, RoleBuyer, claims.Role)

	_, err = ParseClaims("abc123")
	assert.Error(t, err)
}
