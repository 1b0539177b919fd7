package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Product is a catalog entry as served by the storefront API.
// Image holds the raw image bytes; on the wire it is a base64 string.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Image       []byte   `json:"image,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UnmarshalJSON accepts both "id" and the document-store style "_id".
func (p *Product) UnmarshalJSON(data []byte) error {
	type plain Product
	var wire struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Product(wire.plain)
	if p.ID == "" {
		p.ID = wire.MongoID
	}
	return nil
}

// Validate checks the fields the client relies on for rendering and for
// cart/order references.
func (p Product) Validate() error {
	if p.ID == "" {
		return errors.New("product id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("product %s: name is required", p.ID)
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		return fmt.Errorf("product %s: price must be a finite number >= 0", p.ID)
	}
	return nil
}

// HasTag reports whether the product carries tag t, ignoring case.
func (p Product) HasTag(t string) bool {
	for _, tag := range p.Tags {
		if strings.EqualFold(tag, t) {
			return true
		}
	}
	return false
}

// ProductList is an ordered product sequence, kept in server order.
type ProductList []Product

// Validate validates every product in the list.
func (l ProductList) Validate() error {
	for i, p := range l {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
	}
	return nil
}
