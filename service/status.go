package service

import "fmt"

// Phase is where an operation is in its lifecycle.
type Phase int

const (
	Idle Phase = iota
	Pending
	Fulfilled
	Rejected
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Op names an asynchronous operation.
type Op string

const (
	OpLogin                 Op = "auth/login"
	OpRegisterSeller        Op = "auth/registerSeller"
	OpRegisterBuyer         Op = "auth/registerBuyer"
	OpVerifyOTP             Op = "auth/verifyOTP"
	OpFetchProducts         Op = "buyer/fetchProducts"
	OpSearchProductsByName  Op = "buyer/searchProductsByName"
	OpSearchProductsByTags  Op = "buyer/searchProductsByTags"
	OpSearchProductsByImage Op = "buyer/searchProductsByImage"
	OpAddToCart             Op = "buyer/addToCart"
	OpFetchCart             Op = "buyer/fetchCart"
	OpRemoveFromCart        Op = "buyer/removeFromCart"
	OpPlaceOrder            Op = "buyer/placeOrder"
)

// Ops lists every asynchronous operation.
var Ops = []Op{
	OpLogin, OpRegisterSeller, OpRegisterBuyer, OpVerifyOTP,
	OpFetchProducts, OpSearchProductsByName, OpSearchProductsByTags, OpSearchProductsByImage,
	OpAddToCart, OpFetchCart, OpRemoveFromCart, OpPlaceOrder,
}

var failureMessages = map[Op]string{
	OpLogin:                 "Invalid credentials",
	OpRegisterSeller:        "Seller registration failed",
	OpRegisterBuyer:         "Buyer registration failed",
	OpVerifyOTP:             "OTP verification failed",
	OpFetchProducts:         "Failed to fetch products",
	OpSearchProductsByName:  "Failed to search products",
	OpSearchProductsByTags:  "Failed to search products",
	OpSearchProductsByImage: "Failed to search products by image",
	OpAddToCart:             "Failed to add product to cart",
	OpFetchCart:             "Failed to fetch cart",
	OpRemoveFromCart:        "Failed to remove product from cart",
	OpPlaceOrder:            "Failed to place order",
}

// FailureMessage is the fixed text recorded when op is rejected.
func (o Op) FailureMessage() string {
	if m, ok := failureMessages[o]; ok {
		return m
	}
	return "Operation failed"
}

// Status is the last known outcome of one operation. Message is set only
// when Phase is Rejected.
type Status struct {
	Phase   Phase
	Message string
}

// OperationError is returned by a rejected operation. Error reports the
// fixed user facing message; the underlying cause is kept for logs and
// errors.Is/As.
type OperationError struct {
	Op      Op
	Message string
	Err     error
}

func (e *OperationError) Error() string { return e.Message }

func (e *OperationError) Unwrap() error { return e.Err }
