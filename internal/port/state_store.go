package port

import "context"

// StateStore persists small client-side blobs (cart snapshot, customer
// session token, local order history) the way browser storage would.
type StateStore interface {
	// Get returns the value stored under key; ok is false when absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// SetIfAbsent stores value only if key is unset, returns false if it already exists
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Ping checks the backing store is reachable
	Ping(ctx context.Context) error
}
