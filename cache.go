package tagcache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tagcache/checksum"
	"github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/internal/wire"
	"github.com/unkn0wn-root/tagcache/store"
)

// tickPoll is how often DeleteAll re-checks the clock while waiting out the
// watermark's millisecond.
const tickPoll = 200 * time.Microsecond

type bin struct {
	name     string
	store    store.Store
	checksum checksum.Provider
	codec    codec.Codec
	log      Logger
	hooks    Hooks
	enabled  bool
	permTTL  time.Duration

	// Flush watermark as last observed by this instance; nil until first
	// fetched. Written on first read and on local DeleteAll, never
	// invalidated mid-lifetime. Other instances converge when they fetch.
	lastFlush atomic.Pointer[float64]
}

func newBin(opts Options) (*bin, error) {
	if opts.Bin == "" {
		return nil, fmt.Errorf("tagcache: bin is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("tagcache: store is required")
	}
	if opts.Checksum == nil {
		return nil, fmt.Errorf("tagcache: checksum provider is required")
	}

	b := &bin{
		name:     opts.Bin,
		store:    opts.Store,
		checksum: opts.Checksum,
		enabled:  !opts.Disabled,
		permTTL:  opts.PermanentTTL,
	}

	// defaults
	b.codec = coalesce[codec.Codec](opts.Codec, codec.Msgpack{})
	b.log = coalesce[Logger](opts.Logger, NopLogger{})
	b.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	return b, nil
}

func (b *bin) Enabled() bool { return b.enabled }

func (b *bin) Close(ctx context.Context) error {
	// Close checksum provider first (best effort)
	if b.checksum != nil {
		_ = b.checksum.Close(ctx)
	}
	if b.store != nil {
		return b.store.Close(ctx)
	}
	return nil
}

func (b *bin) entryKey(cid string) string { return "entry:" + b.name + ":" + cid }
func (b *bin) metaKey() string            { return "meta:" + b.name + ":last_delete_all" }

// binTag is the synthetic tag every entry in this bin carries. Invalidating
// it fails every entry's checksum comparison at once.
func (b *bin) binTag() string { return "bin:" + b.name }

func (b *bin) Get(ctx context.Context, cid string, allowInvalid bool) (Entry, bool, error) {
	found, _, err := b.GetMultiple(ctx, []string{cid}, allowInvalid)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := found[cid]
	return e, ok, nil
}

func (b *bin) GetMultiple(ctx context.Context, cids []string, allowInvalid bool) (map[string]Entry, []string, error) {
	found := make(map[string]Entry, len(cids))
	if !b.enabled {
		remaining := make([]string, 0, len(cids))
		remaining = append(remaining, cids...)
		return found, remaining, nil
	}
	if len(cids) == 0 {
		return found, nil, nil
	}

	keys := make([]string, len(cids))
	for i, cid := range cids {
		keys[i] = b.entryKey(cid)
	}

	var maps []map[string]string
	if len(keys) == 1 {
		m, err := b.store.GetAllFields(ctx, keys[0])
		if err != nil {
			return nil, nil, err
		}
		maps = []map[string]string{m}
	} else {
		var err error
		maps, err = b.store.GetAllFieldsMulti(ctx, keys)
		if err != nil {
			return nil, nil, err
		}
	}

	now := time.Now()
	var remaining []string
	for i, cid := range cids {
		e, ok, err := b.evaluate(ctx, keys[i], maps[i], allowInvalid, now)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			remaining = append(remaining, cid)
			continue
		}
		found[cid] = e
	}
	return found, remaining, nil
}

// evaluate decides whether a fetched field map is a usable entry.
// Order matters: the flush watermark overrides allowInvalid, so a flushed
// entry is absent even for callers willing to take invalid ones.
func (b *bin) evaluate(ctx context.Context, storageKey string, fields map[string]string, allowInvalid bool, now time.Time) (Entry, bool, error) {
	rec, ok := wire.DecodeFields(fields)
	if !ok {
		if len(fields) > 0 {
			b.hooks.EntryDropped(storageKey, "malformed")
		}
		return Entry{}, false, nil
	}

	// The stored valid flag is monotonic: once false it stays false. A true
	// flag is re-checked against expiry and the current tag checksum, for
	// this read only.
	valid := rec.Valid
	if valid {
		if rec.Expire != Permanent && rec.Expire < now.Unix() {
			valid = false
			b.hooks.EntryDropped(storageKey, "expired")
		} else {
			match, err := b.checksum.Valid(ctx, rec.Checksum, rec.Tags)
			if err != nil {
				b.hooks.ChecksumError(len(rec.Tags), err)
				return Entry{}, false, err
			}
			if !match {
				valid = false
				b.hooks.EntryDropped(storageKey, "checksum_mismatch")
			}
		}
	}

	flushed, err := b.lastDeleteAll(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if rec.Created < flushed {
		b.hooks.EntryDropped(storageKey, "flushed")
		return Entry{}, false, nil
	}

	if !valid && !allowInvalid {
		return Entry{}, false, nil
	}

	data := any(rec.Data)
	if rec.Serialized {
		v, err := b.codec.Decode(rec.Data)
		if err != nil {
			b.log.Warn("entry value decode failed", Fields{"key": storageKey, "err": err})
			b.hooks.EntryDropped(storageKey, "value_decode")
			return Entry{}, false, nil
		}
		data = v
	}

	return Entry{
		CID:      rec.CID,
		Data:     data,
		Created:  rec.Created,
		Expire:   rec.Expire,
		Tags:     rec.Tags,
		Valid:    valid,
		Checksum: rec.Checksum,
	}, true, nil
}

func (b *bin) Set(ctx context.Context, cid string, value any, expire int64, tags []string) error {
	if !b.enabled {
		return nil
	}
	key := b.entryKey(cid)

	var data []byte
	serialized := false
	if raw, ok := value.([]byte); ok {
		data = raw
	} else {
		enc, err := b.codec.Encode(value)
		if err != nil {
			return fmt.Errorf("tagcache: encode %q: %w", cid, err)
		}
		data = enc
		serialized = true
	}

	all := make([]string, 0, len(tags)+1)
	all = append(all, tags...)
	all = append(all, b.binTag())

	token, err := b.checksum.Current(ctx, all)
	if err != nil {
		b.hooks.ChecksumError(len(all), err)
		return err
	}

	now := time.Now()
	ttl := b.permTTL
	if expire != Permanent {
		ttl = time.Duration(expire-now.Unix()) * time.Second
		if ttl <= 0 {
			// Expired on arrival: clear first so the old entry never
			// lingers, not even until the TTL command lands.
			if err := b.store.Del(ctx, key); err != nil {
				return err
			}
			ttl = -time.Second
		}
	}

	fields := wire.EncodeFields(wire.Record{
		CID:        cid,
		Data:       data,
		Serialized: serialized,
		Created:    float64(now.UnixMilli()) / 1e3,
		Expire:     expire,
		Valid:      true,
		Checksum:   token,
		Tags:       all,
	})
	if err := b.store.SetFields(ctx, key, fields, ttl); err != nil {
		b.hooks.StoreSetFailed(key, err)
		return err
	}
	return nil
}

func (b *bin) Delete(ctx context.Context, cid string) error {
	return b.DeleteMultiple(ctx, []string{cid})
}

func (b *bin) DeleteMultiple(ctx context.Context, cids []string) error {
	if !b.enabled || len(cids) == 0 {
		return nil
	}
	keys := make([]string, len(cids))
	for i, cid := range cids {
		keys[i] = b.entryKey(cid)
	}
	return b.store.Del(ctx, keys...)
}

func (b *bin) DeleteAll(ctx context.Context) error {
	if !b.enabled {
		return nil
	}
	prev, err := b.lastDeleteAll(ctx)
	if err != nil {
		return err
	}

	// The watermark must advance by real wall-clock time, not just
	// numerically, so two DeleteAll calls in one millisecond still order.
	start := time.Now()
	ms := start.UnixMilli()
	for float64(ms)/1e3 <= prev {
		time.Sleep(tickPoll)
		ms = time.Now().UnixMilli()
	}
	marker := float64(ms) / 1e3

	if err := b.store.Set(ctx, b.metaKey(), strconv.FormatFloat(marker, 'f', 3, 64)); err != nil {
		return err
	}
	b.lastFlush.Store(&marker)

	// Writes issued after DeleteAll returns must land in a later millisecond
	// than the watermark, or the created-before comparison would flush them.
	for time.Now().UnixMilli() <= ms {
		time.Sleep(tickPoll)
	}
	b.hooks.FlushDelay(b.name, time.Since(start))
	b.log.Debug("bin flushed", Fields{"bin": b.name, "marker": marker})
	return nil
}

func (b *bin) Invalidate(ctx context.Context, cid string) error {
	return b.InvalidateMultiple(ctx, []string{cid})
}

func (b *bin) InvalidateMultiple(ctx context.Context, cids []string) error {
	if !b.enabled {
		return nil
	}
	for _, cid := range cids {
		key := b.entryKey(cid)
		v, ok, err := b.store.GetField(ctx, key, wire.FieldValid)
		if err != nil {
			return &InvalidateError{CID: cid, ReadErr: err}
		}
		if !ok || v != wire.True {
			// missing entry or already invalid: silent no-op per id
			continue
		}
		if err := b.store.SetField(ctx, key, wire.FieldValid, wire.False); err != nil {
			return &InvalidateError{CID: cid, WriteErr: err}
		}
	}
	return nil
}

func (b *bin) InvalidateAll(ctx context.Context) error {
	if !b.enabled {
		return nil
	}
	return b.checksum.Invalidate(ctx, []string{b.binTag()})
}

// GarbageCollection is a deliberate no-op: expired and invalidated entries
// are filtered lazily on read and evicted by the backend's own TTL handling.
func (b *bin) GarbageCollection(context.Context) error { return nil }

func (b *bin) LastDeleteAll(ctx context.Context) (float64, error) {
	if !b.enabled {
		return 0, nil
	}
	return b.lastDeleteAll(ctx)
}

// lastDeleteAll fetches the flush watermark once per instance; a missing
// marker key reads as 0 (never flushed).
func (b *bin) lastDeleteAll(ctx context.Context) (float64, error) {
	if p := b.lastFlush.Load(); p != nil {
		return *p, nil
	}

	raw, ok, err := b.store.Get(ctx, b.metaKey())
	if err != nil {
		return 0, err
	}
	marker := 0.0
	if ok {
		marker, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("tagcache: bad delete marker %q: %w", raw, err)
		}
	}

	// Another goroutine may have fetched (or a local DeleteAll stored)
	// concurrently; first writer wins so the cached value never regresses.
	if b.lastFlush.CompareAndSwap(nil, &marker) {
		b.hooks.MarkerLoaded(b.name, marker)
		return marker, nil
	}
	return *b.lastFlush.Load(), nil
}
