package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tagcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all. EntryDropped fires once per
	// stale entry on read, which on a busy bin after InvalidateAll is a lot.
	EntryDroppedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	droppedCtr atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EntryDropped(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.EntryDroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Debug("tagcache.entry_dropped",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) MarkerLoaded(bin string, marker float64) {
	if h.l == nil {
		return
	}
	h.l.Debug("tagcache.marker_loaded",
		"bin", bin,
		"marker", marker)
}

func (h *Hooks) FlushDelay(bin string, wait time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("tagcache.flush_delay",
		"bin", bin,
		"wait", wait)
}

func (h *Hooks) ChecksumError(tags int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tagcache.checksum_error",
		"tags", tags,
		"err", err)
}

func (h *Hooks) StoreSetFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tagcache.store_set_failed",
		"key", h.redact(storageKey),
		"err", err)
}
