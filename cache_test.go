package tagcache

import (
	"bytes"
	"context"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/unkn0wn-root/tagcache/checksum"
	"github.com/unkn0wn-root/tagcache/codec"
	st "github.com/unkn0wn-root/tagcache/store"
)

type memEntry struct {
	scalar string
	fields map[string]string
	exp    time.Time // zero => no TTL
}

// memStore is an in-memory store.Store that counts backend round trips so
// tests can assert on call behavior (batching, zero-call paths, caching).
type memStore struct {
	m map[string]*memEntry

	calls      int // total round trips
	scalarGets int
	setFields  int
	fieldSets  int // single-field in-place updates
}

var _ st.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{m: make(map[string]*memEntry)} }

func (s *memStore) live(key string) *memEntry {
	e, ok := s.m[key]
	if !ok {
		return nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return nil
	}
	return e
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.calls++
	s.scalarGets++
	e := s.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.scalar, true, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.calls++
	s.m[key] = &memEntry{scalar: value}
	return nil
}

func (s *memStore) GetAllFields(_ context.Context, key string) (map[string]string, error) {
	s.calls++
	e := s.live(key)
	if e == nil {
		return map[string]string{}, nil
	}
	return e.fields, nil
}

func (s *memStore) GetAllFieldsMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	s.calls++ // one pipelined round trip
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		if e := s.live(k); e != nil {
			out[i] = e.fields
		} else {
			out[i] = map[string]string{}
		}
	}
	return out, nil
}

func (s *memStore) GetField(_ context.Context, key, field string) (string, bool, error) {
	s.calls++
	e := s.live(key)
	if e == nil {
		return "", false, nil
	}
	v, ok := e.fields[field]
	return v, ok, nil
}

func (s *memStore) SetField(_ context.Context, key, field, value string) error {
	s.calls++
	s.fieldSets++
	e := s.live(key)
	if e == nil {
		e = &memEntry{fields: make(map[string]string)}
		s.m[key] = e
	}
	e.fields[field] = value
	return nil
}

func (s *memStore) SetFields(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.calls++
	s.setFields++
	if ttl < 0 {
		delete(s.m, key)
		return nil
	}
	e := &memEntry{fields: fields}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	s.m[key] = e
	return nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.calls++
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

func (s *memStore) Close(_ context.Context) error { return nil }

func newTestBin(t *testing.T, name string, ms st.Store, cp checksum.Provider, optsOpt func(*Options)) Cache {
	t.Helper()
	if cp == nil {
		cp = checksum.NewLocal(0, 0)
	}
	opts := Options{
		Bin:      name,
		Store:    ms,
		Checksum: cp,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

// ==============================
// Miss / round-trip basics
// ==============================

// TestMissReturnsRemaining verifies that an unset cid comes back in the
// remaining list and nowhere else.
func TestMissReturnsRemaining(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	found, remaining, err := cc.GetMultiple(ctx, []string{"missing"}, false)
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no entries, got %v", found)
	}
	if len(remaining) != 1 || remaining[0] != "missing" {
		t.Fatalf("remaining = %v, want [missing]", remaining)
	}
}

// TestRawRoundTrip sets a []byte value (stored raw, no codec) and reads it back.
func TestRawRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	v := []byte("payload")
	if err := cc.Set(ctx, "k", v, Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e, ok, err := cc.Get(ctx, "k", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	raw, isBytes := e.Data.([]byte)
	if !isBytes || !bytes.Equal(raw, v) {
		t.Fatalf("Data = %#v, want raw %q", e.Data, v)
	}
	if !e.Valid {
		t.Fatalf("entry should be valid")
	}
	if e.Expire != Permanent {
		t.Fatalf("Expire = %d, want Permanent", e.Expire)
	}
	if e.Created <= 0 {
		t.Fatalf("Created = %f, want > 0", e.Created)
	}
}

// TestSerializedRoundTrip exercises the default msgpack codec for a
// non-[]byte value.
func TestSerializedRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	v := map[string]any{"title": "front", "lang": "en"}
	if err := cc.Set(ctx, "page", v, Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e, ok, err := cc.Get(ctx, "page", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(e.Data, v) {
		t.Fatalf("Data = %#v, want %#v", e.Data, v)
	}
}

// TestStringCodec swaps in the String codec so text bins read back as string.
func TestStringCodec(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, func(o *Options) {
		o.Codec = codec.String{}
	})

	if err := cc.Set(ctx, "greeting", "hello", Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, err := cc.Get(ctx, "greeting", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got, _ := e.Data.(string); got != "hello" {
		t.Fatalf("Data = %#v, want %q", e.Data, "hello")
	}
}

// ==============================
// Expiry
// ==============================

// TestExpiredOnArrival verifies a set with a past expire time never yields a
// stale hit, not even with allowInvalid.
func TestExpiredOnArrival(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	past := time.Now().Unix() - 1
	if err := cc.Set(ctx, "gone", []byte("x"), past, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	found, remaining, err := cc.GetMultiple(ctx, []string{"gone"}, true)
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(found) != 0 || len(remaining) != 1 {
		t.Fatalf("expired entry surfaced: found=%v remaining=%v", found, remaining)
	}
}

// TestFutureExpireVisible confirms a not-yet-expired TTL entry reads normally.
func TestFutureExpireVisible(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	exp := time.Now().Unix() + 100
	if err := cc.Set(ctx, "soon", []byte("x"), exp, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, err := cc.Get(ctx, "soon", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if e.Expire != exp {
		t.Fatalf("Expire = %d, want %d", e.Expire, exp)
	}
}

// ==============================
// Tag invalidation
// ==============================

// TestInvalidateAllViaBinTag verifies that flushing the bin tag invalidates
// every pre-existing entry while entries written afterwards stay valid.
func TestInvalidateAllViaBinTag(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	if err := cc.Set(ctx, "a", []byte("a"), Permanent, []string{"t1"}); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := cc.Set(ctx, "b", []byte("b"), Permanent, []string{"t2"}); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	if err := cc.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}

	found, remaining, err := cc.GetMultiple(ctx, []string{"a", "b"}, false)
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}
	if len(found) != 0 || len(remaining) != 2 {
		t.Fatalf("entries survived InvalidateAll: found=%v remaining=%v", found, remaining)
	}

	// Invalid entries are still observable when the caller opts in.
	found, _, err = cc.GetMultiple(ctx, []string{"a", "b"}, true)
	if err != nil {
		t.Fatalf("GetMultiple allowInvalid: %v", err)
	}
	if len(found) != 2 || found["a"].Valid || found["b"].Valid {
		t.Fatalf("allowInvalid read wrong: %v", found)
	}

	// A fresh write freezes the new checksum and stays valid.
	if err := cc.Set(ctx, "c", []byte("c"), Permanent, nil); err != nil {
		t.Fatalf("Set c: %v", err)
	}
	if e, ok, err := cc.Get(ctx, "c", false); err != nil || !ok || !e.Valid {
		t.Fatalf("entry written after InvalidateAll should be valid: ok=%v err=%v", ok, err)
	}
}

// TestInvalidateSingleTag invalidates one tag through the provider and
// checks only its member entry goes invalid.
func TestInvalidateSingleTag(t *testing.T) {
	ctx := context.Background()
	cp := checksum.NewLocal(0, 0)
	cc := newTestBin(t, "render", newMemStore(), cp, nil)

	if err := cc.Set(ctx, "a", []byte("a"), Permanent, []string{"node:1"}); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := cc.Set(ctx, "b", []byte("b"), Permanent, []string{"node:2"}); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	if err := cp.Invalidate(ctx, []string{"node:1"}); err != nil {
		t.Fatalf("Invalidate tag: %v", err)
	}

	if _, ok, _ := cc.Get(ctx, "a", false); ok {
		t.Fatalf("entry a should be invalid after its tag was invalidated")
	}
	if _, ok, _ := cc.Get(ctx, "b", false); !ok {
		t.Fatalf("entry b should be unaffected")
	}
}

// ==============================
// Explicit invalidation
// ==============================

// TestInvalidateMultipleIdempotent flips the valid flag once and verifies the
// second call writes nothing (already-invalid entries are skipped).
func TestInvalidateMultipleIdempotent(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	if err := cc.Set(ctx, "k", []byte("x"), Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := cc.InvalidateMultiple(ctx, []string{"k"}); err != nil {
		t.Fatalf("InvalidateMultiple: %v", err)
	}
	if ms.fieldSets != 1 {
		t.Fatalf("fieldSets = %d, want 1", ms.fieldSets)
	}

	if _, ok, _ := cc.Get(ctx, "k", false); ok {
		t.Fatalf("invalidated entry should miss without allowInvalid")
	}
	if e, ok, _ := cc.Get(ctx, "k", true); !ok || e.Valid {
		t.Fatalf("invalidated entry should surface as invalid with allowInvalid")
	}

	// Second call: read, no write.
	if err := cc.InvalidateMultiple(ctx, []string{"k"}); err != nil {
		t.Fatalf("InvalidateMultiple (2nd): %v", err)
	}
	if ms.fieldSets != 1 {
		t.Fatalf("fieldSets = %d after second call, want still 1", ms.fieldSets)
	}

	// Missing cid is a silent no-op.
	if err := cc.InvalidateMultiple(ctx, []string{"nope"}); err != nil {
		t.Fatalf("InvalidateMultiple missing: %v", err)
	}
}

// ==============================
// DeleteAll watermark
// ==============================

// TestDeleteAllWatermark verifies entries written strictly before a
// DeleteAll vanish (allowInvalid cannot resurrect them) and entries written
// after remain visible.
func TestDeleteAllWatermark(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	if err := cc.Set(ctx, "old", []byte("x"), Permanent, nil); err != nil {
		t.Fatalf("Set old: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // put the write in an earlier millisecond than the watermark

	if err := cc.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	if _, ok, _ := cc.Get(ctx, "old", true); ok {
		t.Fatalf("flushed entry surfaced despite allowInvalid")
	}

	if err := cc.Set(ctx, "new", []byte("y"), Permanent, nil); err != nil {
		t.Fatalf("Set new: %v", err)
	}
	if _, ok, _ := cc.Get(ctx, "new", false); !ok {
		t.Fatalf("entry written after DeleteAll should be visible")
	}

	first, err := cc.LastDeleteAll(ctx)
	if err != nil || first <= 0 {
		t.Fatalf("LastDeleteAll = %f err=%v", first, err)
	}

	// A second flush advances the watermark by real wall-clock time.
	if err := cc.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll (2nd): %v", err)
	}
	second, _ := cc.LastDeleteAll(ctx)
	if second <= first {
		t.Fatalf("watermark did not advance: %f -> %f", first, second)
	}
}

// TestMarkerCachedPerInstance checks the watermark is fetched once per
// instance, a local DeleteAll updates it without a round trip, and foreign
// instances stay stale until they fetch for themselves.
func TestMarkerCachedPerInstance(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cp := checksum.NewLocal(0, 0)
	bin1 := newTestBin(t, "render", ms, cp, nil)
	bin2 := newTestBin(t, "render", ms, cp, nil)

	if _, err := bin1.LastDeleteAll(ctx); err != nil {
		t.Fatalf("LastDeleteAll: %v", err)
	}
	fetches := ms.scalarGets
	if _, err := bin1.LastDeleteAll(ctx); err != nil {
		t.Fatalf("LastDeleteAll (cached): %v", err)
	}
	if ms.scalarGets != fetches {
		t.Fatalf("cached watermark read hit the backend")
	}

	if err := bin1.Set(ctx, "e", []byte("x"), Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// bin2 observes the entry and pins its own (pre-flush) watermark.
	if _, ok, _ := bin2.Get(ctx, "e", false); !ok {
		t.Fatalf("bin2 should see the entry before the flush")
	}

	time.Sleep(5 * time.Millisecond)
	if err := bin1.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	// The flushing instance sees its own watermark immediately.
	if _, ok, _ := bin1.Get(ctx, "e", false); ok {
		t.Fatalf("bin1 should treat the entry as flushed")
	}
	// bin2 cached the old watermark for its lifetime: eventual, not
	// synchronous, consistency across instances.
	if _, ok, _ := bin2.Get(ctx, "e", false); !ok {
		t.Fatalf("bin2 should still see the entry through its cached watermark")
	}
	// A fresh instance fetches the new watermark and misses.
	bin3 := newTestBin(t, "render", ms, cp, nil)
	if _, ok, _ := bin3.Get(ctx, "e", false); ok {
		t.Fatalf("fresh instance should observe the flush")
	}
}

// ==============================
// Batching
// ==============================

// TestBatchedGetMatchesSequential compares one batched GetMultiple against
// per-cid single fetches.
func TestBatchedGetMatchesSequential(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	cids := []string{"a", "b", "c", "d"}
	for _, cid := range []string{"a", "c"} {
		if err := cc.Set(ctx, cid, []byte(cid), Permanent, nil); err != nil {
			t.Fatalf("Set %s: %v", cid, err)
		}
	}

	batched, remaining, err := cc.GetMultiple(ctx, cids, false)
	if err != nil {
		t.Fatalf("GetMultiple: %v", err)
	}

	sequential := make(map[string]Entry)
	var seqRemaining []string
	for _, cid := range cids {
		if e, ok, err := cc.Get(ctx, cid, false); err != nil {
			t.Fatalf("Get %s: %v", cid, err)
		} else if ok {
			sequential[cid] = e
		} else {
			seqRemaining = append(seqRemaining, cid)
		}
	}

	if !reflect.DeepEqual(remaining, seqRemaining) {
		t.Fatalf("remaining mismatch: batched=%v sequential=%v", remaining, seqRemaining)
	}
	if len(batched) != len(sequential) {
		t.Fatalf("found mismatch: batched=%v sequential=%v", batched, sequential)
	}
	for cid, e := range batched {
		se := sequential[cid]
		if e.CID != se.CID || !bytes.Equal(e.Data.([]byte), se.Data.([]byte)) || e.Valid != se.Valid {
			t.Fatalf("entry %s differs: batched=%+v sequential=%+v", cid, e, se)
		}
	}
}

// TestEmptyInputsNoBackendCalls asserts the zero-call fast paths.
func TestEmptyInputsNoBackendCalls(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	calls := ms.calls
	found, remaining, err := cc.GetMultiple(ctx, nil, false)
	if err != nil || len(found) != 0 || remaining != nil {
		t.Fatalf("empty GetMultiple: found=%v remaining=%v err=%v", found, remaining, err)
	}
	if err := cc.DeleteMultiple(ctx, nil); err != nil {
		t.Fatalf("empty DeleteMultiple: %v", err)
	}
	if ms.calls != calls {
		t.Fatalf("empty inputs reached the backend: %d calls", ms.calls-calls)
	}
}

// ==============================
// Delete / lifecycle
// ==============================

func TestDeleteMultiple(t *testing.T) {
	ctx := context.Background()
	cc := newTestBin(t, "render", newMemStore(), nil, nil)

	for _, cid := range []string{"a", "b"} {
		if err := cc.Set(ctx, cid, []byte(cid), Permanent, nil); err != nil {
			t.Fatalf("Set %s: %v", cid, err)
		}
	}
	if err := cc.DeleteMultiple(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("DeleteMultiple: %v", err)
	}
	found, remaining, err := cc.GetMultiple(ctx, []string{"a", "b"}, true)
	if err != nil || len(found) != 0 || len(remaining) != 2 {
		t.Fatalf("entries survived delete: found=%v remaining=%v err=%v", found, remaining, err)
	}
}

func TestGarbageCollectionIsNoop(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	calls := ms.calls
	if err := cc.GarbageCollection(ctx); err != nil {
		t.Fatalf("GarbageCollection: %v", err)
	}
	if ms.calls != calls {
		t.Fatalf("GarbageCollection hit the backend")
	}
}

func TestDisabledBin(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, func(o *Options) { o.Disabled = true })

	if cc.Enabled() {
		t.Fatalf("bin should report disabled")
	}
	if err := cc.Set(ctx, "k", []byte("x"), Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	found, remaining, err := cc.GetMultiple(ctx, []string{"k"}, false)
	if err != nil || len(found) != 0 || len(remaining) != 1 {
		t.Fatalf("disabled bin: found=%v remaining=%v err=%v", found, remaining, err)
	}
	if ms.calls != 0 {
		t.Fatalf("disabled bin reached the backend: %d calls", ms.calls)
	}
}

func TestNewValidation(t *testing.T) {
	ms := newMemStore()
	cp := checksum.NewLocal(0, 0)

	if _, err := New(Options{Store: ms, Checksum: cp}); err == nil {
		t.Fatalf("expected error for missing bin")
	}
	if _, err := New(Options{Bin: "b", Checksum: cp}); err == nil {
		t.Fatalf("expected error for missing store")
	}
	if _, err := New(Options{Bin: "b", Store: ms}); err == nil {
		t.Fatalf("expected error for missing checksum provider")
	}
}

// TestCorruptMarkerIsAnError ensures a malformed watermark surfaces as an
// operation error instead of being silently treated as zero.
func TestCorruptMarkerIsAnError(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	if err := ms.Set(ctx, "meta:render:last_delete_all", "not-a-number"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	if _, err := cc.LastDeleteAll(ctx); err == nil {
		t.Fatalf("expected error for corrupt watermark")
	}
}

// TestMalformedEntryIsAMiss seeds a cid-less field map and expects a silent miss.
func TestMalformedEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, nil)

	if err := ms.SetFields(ctx, "entry:render:bad", map[string]string{"data": "x"}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := cc.Get(ctx, "bad", true); err != nil || ok {
		t.Fatalf("malformed entry: ok=%v err=%v", ok, err)
	}
}

// TestPermanentTTLOption verifies Permanent entries get the configured
// backend TTL instead of living forever.
func TestPermanentTTLOption(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestBin(t, "render", ms, nil, func(o *Options) {
		o.PermanentTTL = 30 * time.Millisecond
	})

	if err := cc.Set(ctx, "k", []byte("x"), Permanent, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := cc.Get(ctx, "k", false); !ok {
		t.Fatalf("entry should be visible before the backend TTL fires")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := cc.Get(ctx, "k", false); ok {
		t.Fatalf("entry should be evicted by the backend TTL")
	}
}

// TestStoredChecksumFrozen reads the raw stored checksum and confirms reads
// compare against it instead of recomputing it.
func TestStoredChecksumFrozen(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cp := checksum.NewLocal(0, 0)
	cc := newTestBin(t, "render", ms, cp, nil)

	if err := cp.Invalidate(ctx, []string{"t1"}); err != nil {
		t.Fatalf("pre-bump: %v", err)
	}
	if err := cc.Set(ctx, "k", []byte("x"), Permanent, []string{"t1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e, ok, err := cc.Get(ctx, "k", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	// bin tag counter 0 + t1 counter 1
	if n, err := strconv.ParseUint(e.Checksum, 10, 64); err != nil || n != 1 {
		t.Fatalf("Checksum = %q, want frozen token 1 (err=%v)", e.Checksum, err)
	}
}
