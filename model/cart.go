package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CartLine is one product reference in the server-side cart.
// Item is set when the server populated the product instead of sending
// only its id.
type CartLine struct {
	Product  string   `json:"product"`
	Quantity int      `json:"quantity"`
	Item     *Product `json:"-"`
}

// UnmarshalJSON accepts "product" either as an id string or as a full
// product object.
func (l *CartLine) UnmarshalJSON(data []byte) error {
	var wire struct {
		Product  json.RawMessage `json:"product"`
		Quantity int             `json:"quantity"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*l = CartLine{Quantity: wire.Quantity}

	raw := bytes.TrimSpace(wire.Product)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &l.Product); err != nil {
			return err
		}
	case raw[0] == '{':
		var p Product
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("cart line product: %w", err)
		}
		l.Product = p.ID
		l.Item = &p
	default:
		return fmt.Errorf("cart line product: unexpected json %s", raw)
	}
	return nil
}

// Validate checks a single cart line.
func (l CartLine) Validate() error {
	if l.Product == "" {
		return errors.New("cart line product is required")
	}
	if l.Quantity < 1 {
		return fmt.Errorf("cart line %s: quantity must be >= 1", l.Product)
	}
	return nil
}

// Cart is the server-authoritative cart for the current session.
type Cart []CartLine

// UnmarshalJSON accepts a bare array of lines or an object wrapping them
// in "items".
func (c *Cart) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*c = Cart{}
		return nil
	}
	if raw[0] == '{' {
		var wrapped struct {
			Items []CartLine `json:"items"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return err
		}
		*c = Cart(wrapped.Items)
		if *c == nil {
			*c = Cart{}
		}
		return nil
	}
	var lines []CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return err
	}
	if lines == nil {
		lines = []CartLine{}
	}
	*c = Cart(lines)
	return nil
}

// Validate validates every line in the cart.
func (c Cart) Validate() error {
	for i, l := range c {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("cart[%d]: %w", i, err)
		}
	}
	return nil
}

// Quantity returns the quantity of productID in the cart, or 0.
func (c Cart) Quantity(productID string) int {
	for _, l := range c {
		if l.Product == productID {
			return l.Quantity
		}
	}
	return 0
}

// CartAddition is the body of POST /cart/add.
type CartAddition struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Validate requires a product reference and a positive quantity.
func (a CartAddition) Validate() error {
	if a.Product == "" {
		return errors.New("product is required")
	}
	if a.Quantity < 1 {
		return errors.New("quantity must be >= 1")
	}
	return nil
}
