// Package checksum implements tag invalidation tracking for tagcache.
//
// Every tag has a monotonic invalidation counter, and the checksum of a tag
// set is the sum of its counters rendered as a decimal token. An entry
// freezes the token at write time; invalidating any member tag changes the
// current sum, so the frozen token stops matching and the entry reads as
// invalid. Entries written after the invalidation freeze the new sum and
// stay valid. No reverse index from tag to entries exists anywhere.
package checksum

import (
	"context"
)

// Provider maps tag sets to checksum tokens and invalidates tags.
// Use Local (in-process) for a single replica, or Redis to share counters
// across processes.
type Provider interface {
	// Current returns the checksum token for tags as of now.
	Current(ctx context.Context, tags []string) (string, error)

	// Valid reports whether token still matches the current checksum of tags.
	Valid(ctx context.Context, token string, tags []string) (bool, error)

	// Invalidate bumps the counter of every tag.
	Invalidate(ctx context.Context, tags []string) error

	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
