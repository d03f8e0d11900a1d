// Package cache provides the keyed store used to persist the tabular output
// of expensive pipeline stages. Every stage must remain correct when the
// store is empty, so a miss is never an error.
package cache

import "context"

type Store interface {
	// Get returns the cached payload for key, with ok=false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// Purge removes every entry owned by this store.
	Purge(ctx context.Context) error
}
