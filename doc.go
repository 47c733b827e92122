// Package tagcache implements a tag-invalidated cache bin on top of a remote
// key-value store. Entries carry a set of tags; invalidating a tag cheaply
// invalidates every entry written under it, without enumerating or deleting
// the affected keys.
//
// Components:
//   - store.Store: field-map key-value backend with TTL and pipelined batches
//     (e.g. Redis, BigCache, Ristretto).
//   - checksum.Provider: monotonic per-tag invalidation counters. An entry
//     freezes the checksum of its tags at write time; a read stays valid only
//     while the frozen checksum matches the current one.
//   - codec.Codec: (de)serializes non-[]byte values <-> []byte.
//
// Keys:
//
//	entry:<bin>:<cid>           - one field map per cache entry
//	meta:<bin>:last_delete_all  - flush watermark for the bin
//
// Clearing a bin never scans keys. InvalidateAll bumps the counter of the
// bin's synthetic tag, which every entry in the bin carries; DeleteAll
// advances the flush watermark, and entries created before the watermark are
// treated as nonexistent on read.
package tagcache
