package tagcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry present in the backend was treated as absent or invalid on read.
	// reason ∈ {"malformed", "expired", "checksum_mismatch", "flushed", "value_decode"}
	EntryDropped(storageKey, reason string)

	// The flush watermark was fetched from the backend (once per instance).
	MarkerLoaded(bin string, marker float64)

	// DeleteAll stalled to push the watermark into a fresh millisecond.
	FlushDelay(bin string, wait time.Duration)

	// The checksum provider failed; tags is the number of tags involved.
	ChecksumError(tags int, err error)

	// The backend rejected an entry write.
	StoreSetFailed(storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EntryDropped(string, string)      {}
func (NopHooks) MarkerLoaded(string, float64)     {}
func (NopHooks) FlushDelay(string, time.Duration) {}
func (NopHooks) ChecksumError(int, error)         {}
func (NopHooks) StoreSetFailed(string, error)     {}
