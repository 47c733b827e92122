// Package store defines the key-value backend abstraction used by tagcache.
//
// Implementations MUST be transparent: fields written through SetFields or
// SetField must come back byte-for-byte from GetAllFields/GetField. The
// batched methods exist for latency only and must produce exactly the same
// results as the equivalent sequence of single calls issued in the same
// order; they are pipelines, not transactions, and a concurrent reader may
// observe one command of a batch applied without the other.
//
// The keyspaces "entry:<bin>:" and "meta:<bin>:" are owned by tagcache.
// External code MUST NOT write under these prefixes; foreign records are
// treated as malformed and ignored on read.
package store

import (
	"context"
	"time"
)

// Store is a field-map key-value backend with TTLs. Must be safe for
// concurrent use. Backend or transport failures are returned as errors and
// never retried at this layer.
type Store interface {
	// Get returns a scalar value. ok is false on miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores a scalar value with no expiry.
	Set(ctx context.Context, key, value string) error

	// GetAllFields returns the field map stored at key, or an empty map on miss.
	GetAllFields(ctx context.Context, key string) (map[string]string, error)

	// GetAllFieldsMulti fetches the field maps of all keys in one pipelined
	// round trip. Results are in submission order, one per key, empty on miss.
	GetAllFieldsMulti(ctx context.Context, keys []string) ([]map[string]string, error)

	// GetField reads one field. ok is false when the key or field is absent.
	GetField(ctx context.Context, key, field string) (value string, ok bool, err error)

	// SetField updates one field in place, leaving the rest of the map and
	// the key's TTL untouched.
	SetField(ctx context.Context, key, field, value string) error

	// SetFields writes the full field map and applies ttl as one pipelined
	// round trip (two commands, one network turnaround). ttl == 0 removes
	// any expiry; ttl < 0 must leave the key absent or immediately expired.
	SetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// Del removes the given keys in one round trip. Missing keys are not an
	// error; empty input is a no-op.
	Del(ctx context.Context, keys ...string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
