package store

import (
	"context"
	"errors"
)

// TokenSource reads the session token from a Store. It satisfies the
// token lookup the API client performs before every request.
type TokenSource struct {
	Store Store
}

// Token returns the persisted token, or "" when none is stored.
func (t TokenSource) Token(ctx context.Context) (string, error) {
	v, err := t.Store.Get(ctx, TokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
