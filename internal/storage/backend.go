// Package storage holds the pieces shared by the hot cache, the tiered store
// and the durable backends: the error taxonomy and the Backend contract.
package storage

import (
	"context"
	"io"
)

// Backend is a durable key/value store used as the cold tier.
//
// Implementations own their own consistency guarantees. Retrieve of an absent
// key must return an error satisfying errors.Is(err, ErrNotFound); every other
// failure should satisfy errors.Is(err, ErrStorage).
type Backend interface {
	Store(ctx context.Context, key string, value []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ClosableBackend is a Backend holding resources (files, connections).
type ClosableBackend interface {
	Backend
	io.Closer
}
