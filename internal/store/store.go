// Package store provides opaque byte-range storage under stable keys. Every
// storage component of the engine sits on top of the FileStore contract; the
// store is never exposed to clients.
package store

import (
	"context"
	"io"

	"github.com/dawsync/dawsync/internal/errors"
)

// ErrNotExist is wrapped by implementations when a key is absent.
var ErrNotExist = errors.New("file does not exist")

// IsNotExist returns true if the error was caused by a non-existing key.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// FileStore stores byte payloads under opaque string keys. Writes are atomic
// with respect to full success: a partially written object must never become
// observable.
type FileStore interface {
	// Put stores the data from rd under key and returns the number of bytes
	// written. An existing object under the same key is replaced atomically.
	Put(ctx context.Context, key string, rd io.Reader) (int64, error)

	// Open returns a reader for the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns the size of the object at key.
	Stat(ctx context.Context, key string) (int64, error)

	// List runs fn for every object whose key starts with prefix. When fn
	// returns an error, List stops and returns it.
	List(ctx context.Context, prefix string, fn func(key string, size int64) error) error

	// Close releases resources held by the store.
	Close() error
}

// ShardPruner is an optional capability: stores with physical directory
// shards can drop shards that became empty.
type ShardPruner interface {
	RemoveEmptyShards(ctx context.Context, prefix string) error
}

// Unwrapper is implemented by wrapping stores.
type Unwrapper interface {
	Unwrap() FileStore
}

// RemoveEmptyShards prunes empty directory shards if the store (or a store it
// wraps) supports that; otherwise it is a no-op.
func RemoveEmptyShards(ctx context.Context, s FileStore, prefix string) error {
	for s != nil {
		if p, ok := s.(ShardPruner); ok {
			return p.RemoveEmptyShards(ctx, prefix)
		}
		u, ok := s.(Unwrapper)
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	return nil
}
