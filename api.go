package tagcache

import (
	"context"
	"time"

	ck "github.com/unkn0wn-root/tagcache/checksum"
	c "github.com/unkn0wn-root/tagcache/codec"
	st "github.com/unkn0wn-root/tagcache/store"
)

// Permanent marks an entry with no expiry time of its own. Whether the
// backend key still expires is controlled by Options.PermanentTTL.
const Permanent int64 = -1

// Entry is a decoded cache entry. When a read was issued with allowInvalid,
// callers must inspect Valid before trusting Data.
type Entry struct {
	CID      string
	Data     any     // []byte when stored raw, codec output otherwise
	Created  float64 // unix seconds, millisecond precision
	Expire   int64   // absolute unix seconds, or Permanent
	Tags     []string
	Valid    bool
	Checksum string
}

// Cache is the public surface of one cache bin. All operations issue
// blocking round trips to the backend; cross-caller ordering comes from the
// backend's per-command atomicity, not from locks in this layer.
type Cache interface {
	Enabled() bool
	Close(context.Context) error

	// Get fetches a single entry. ok is false on miss, expiry, staleness by
	// watermark, or (unless allowInvalid) explicit invalidation.
	Get(ctx context.Context, cid string, allowInvalid bool) (e Entry, ok bool, err error)

	// GetMultiple fetches all cids in a single pipelined round trip and
	// returns the entries found plus the cids that were not, in input order.
	// Empty input performs no backend call.
	GetMultiple(ctx context.Context, cids []string, allowInvalid bool) (found map[string]Entry, remaining []string, err error)

	// Set stores value under cid. expire is an absolute unix second or
	// Permanent; the bin's synthetic tag is appended to tags automatically.
	Set(ctx context.Context, cid string, value any, expire int64, tags []string) error

	Delete(ctx context.Context, cid string) error
	// DeleteMultiple removes all cids in one batched round trip.
	DeleteMultiple(ctx context.Context, cids []string) error
	// DeleteAll logically clears the bin by advancing its flush watermark.
	// No entry key is touched; stale entries fall out of reads and expire on
	// their own. Blocks until the wall clock has left the watermark's
	// millisecond so later writes always sort after it.
	DeleteAll(ctx context.Context) error

	// Invalidate marks a single stored entry invalid in place.
	Invalidate(ctx context.Context, cid string) error
	// InvalidateMultiple flips the valid flag of each stored entry that is
	// currently valid. Missing entries are skipped silently. The flag is
	// monotonic: nothing ever flips it back.
	InvalidateMultiple(ctx context.Context, cids []string) error
	// InvalidateAll invalidates the bin's synthetic tag, failing the
	// checksum comparison of every entry in the bin on next read. O(1) in
	// the number of entries.
	InvalidateAll(ctx context.Context) error

	// GarbageCollection is a no-op: expiry is enforced lazily on read and by
	// the backend's own TTL eviction.
	GarbageCollection(ctx context.Context) error

	// LastDeleteAll returns the bin's flush watermark in unix seconds.
	// Fetched from the backend once per instance and cached; a DeleteAll
	// through this instance updates the cache immediately, other instances
	// converge eventually.
	LastDeleteAll(ctx context.Context) (float64, error)
}

// Options tune one cache bin. Bin, Store and Checksum are required; the rest
// have defaults.
type Options struct {
	// Required
	Bin      string // logical namespace, e.g. "render", "page", "entity"
	Store    st.Store
	Checksum ck.Provider

	Codec        c.Codec       // nil => codec.Msgpack{}
	Logger       Logger        // nil => NopLogger
	Hooks        Hooks         // nil => NopHooks
	PermanentTTL time.Duration // TTL applied to Permanent entries; 0 => keys never expire
	Disabled     bool          // default false (enabled)
}

func New(opts Options) (Cache, error) {
	return newBin(opts)
}
