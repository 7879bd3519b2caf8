// Package kvstore abstracts the durable key-value store backing cart
// persistence. The store is a flat string keyspace shared across execution
// contexts; change notifications cover the whole keyspace and carry the key,
// so consumers filter for the keys they own.
package kvstore

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations against a closed store.
var ErrClosed = errors.New("kvstore: store is closed")

// ChangeHandler receives a change made to the keyspace, potentially by a
// different execution context. ok is false when the key was deleted.
type ChangeHandler func(key, value string, ok bool)

// Store is a durable key-value store with whole-keyspace change
// subscription. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key; the boolean is false when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value under key, superseding any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes the key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Watch registers a handler for subsequent changes to any key and
	// returns a cancel function that unregisters it.
	Watch(ctx context.Context, fn ChangeHandler) (func(), error)
	// Close releases watchers and backend connections.
	Close() error
}
