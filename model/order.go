package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Order is the record the server returns for a placed order. The client
// keeps at most one, the last one placed.
type Order struct {
	ID        string     `json:"id"`
	Status    string     `json:"status,omitempty"`
	Items     []CartLine `json:"items,omitempty"`
	Total     float64    `json:"total"`
	CreatedAt time.Time  `json:"createdAt,omitzero"`
}

// UnmarshalJSON accepts both "id" and "_id".
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var wire struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = Order(wire.plain)
	if o.ID == "" {
		o.ID = wire.MongoID
	}
	return nil
}

// Validate requires the server to have assigned an id.
func (o Order) Validate() error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	return nil
}

// OrderRequest is the body of POST /orders. An empty ProductID asks the
// server to check out the whole cart.
type OrderRequest struct {
	ProductID string `json:"productId,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Validate checks a buy-now request. A cart checkout carries neither field.
func (r OrderRequest) Validate() error {
	if r.ProductID == "" && r.Quantity == 0 {
		return nil
	}
	if r.ProductID == "" {
		return errors.New("productId is required")
	}
	if r.Quantity < 1 {
		return errors.New("quantity must be >= 1")
	}
	return nil
}
