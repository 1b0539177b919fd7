package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role selects which account table a login or registration targets.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (want buyer, seller or admin)", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Form validation errors. Their text is shown to users as is, so it stays
// capitalized.
var (
	ErrMissingFields       = errors.New("All fields are required")
	ErrCredentialsRequired = errors.New("Email and Password are required")
	ErrOTPRequired         = errors.New("Please enter the OTP")
)

// Credentials is the body of POST /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (c Credentials) Validate() error {
	if c.Email == "" || c.Password == "" {
		return ErrCredentialsRequired
	}
	if !c.Role.Valid() {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return nil
}

// LoginResponse is the body returned by POST /auth/login.
type LoginResponse struct {
	Token string `json:"token"`
}

func (r LoginResponse) Validate() error {
	if r.Token == "" {
		return errors.New("login response carries no token")
	}
	return nil
}

// OTPVerification is the body of POST /auth/otp/verify.
type OTPVerification struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
	Role  Role   `json:"role"`
}

func (v OTPVerification) Validate() error {
	if v.OTP == "" {
		return ErrOTPRequired
	}
	if v.Email == "" {
		return errors.New("email is required")
	}
	if !v.Role.Valid() {
		return fmt.Errorf("unknown role %q", v.Role)
	}
	return nil
}

// BuyerRegistration is the body of POST /buyers/register.
type BuyerRegistration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Username    string `json:"username"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`
}

// Validate requires every field, as the buyer signup form does.
func (b BuyerRegistration) Validate() error {
	if anyBlank(b.Email, b.Password, b.FirstName, b.LastName, b.Username, b.Address, b.PhoneNumber) {
		return ErrMissingFields
	}
	if b.Role != RoleBuyer {
		return fmt.Errorf("buyer registration with role %q", b.Role)
	}
	return nil
}

// SellerRegistration is the body of POST /sellers/register.
type SellerRegistration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	ShopName    string `json:"shopName"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phoneNumber"`
	Role        Role   `json:"role"`
}

// Validate requires every field, as the seller signup form does.
func (s SellerRegistration) Validate() error {
	if anyBlank(s.Email, s.Password, s.FirstName, s.LastName, s.ShopName, s.Address, s.PhoneNumber) {
		return ErrMissingFields
	}
	if s.Role != RoleSeller {
		return fmt.Errorf("seller registration with role %q", s.Role)
	}
	return nil
}

func anyBlank(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return true
		}
	}
	return false
}

// Claims are the session token claims the storefront backend issues.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims reads the claims of a JWT session token without verifying
// its signature. The client cannot verify it and only uses the claims to
// learn its own account id. Tokens that are not JWTs return an error.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	return claims, nil
}
