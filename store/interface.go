package store

import (
	"context"
	"errors"
)

// Keys held by the client. token is the session bearer token; buyerId is
// the account id cart removal addresses.
const (
	TokenKey   = "token"
	BuyerIDKey = "buyerId"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Store is durable key-value storage that survives process restarts.
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	Close() error
}
