// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tagcache"
//	"github.com/unkn0wn-root/tagcache/hooks/async"
//	"github.com/unkn0wn-root/tagcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    EntryDroppedEvery: 10, // sample logs: ~every 10th dropped entry
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tagcache.New(tagcache.Options{
//	    Bin:      "render",
//	    Store:    store,
//	    Checksum: provider,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/tagcache"
)

type Hooks struct {
	inner tagcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) EntryDropped(k, r string) { h.try(func() { h.inner.EntryDropped(k, r) }) }
func (h *Hooks) MarkerLoaded(bin string, m float64) {
	h.try(func() { h.inner.MarkerLoaded(bin, m) })
}
func (h *Hooks) FlushDelay(bin string, w time.Duration) {
	h.try(func() { h.inner.FlushDelay(bin, w) })
}
func (h *Hooks) ChecksumError(n int, err error) { h.try(func() { h.inner.ChecksumError(n, err) }) }
func (h *Hooks) StoreSetFailed(k string, err error) {
	h.try(func() { h.inner.StoreSetFailed(k, err) })
}
