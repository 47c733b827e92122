package checksum

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type localCounter struct {
	Count     uint64
	UpdatedAt time.Time
}

// Local keeps tag counters in-process. Optional cleanup loop prunes tags not
// invalidated within the retention window.
//
// Pruning resets a counter to zero; tokens frozen against the old counter
// read as invalid afterwards, which is the safe direction. Keep retention
// well above the longest entry TTL so a re-grown counter cannot collide with
// a still-stored token.
type Local struct {
	mu     sync.RWMutex
	counts map[string]localCounter
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	retention time.Duration
}

var _ Provider = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	p := &Local{
		counts:    make(map[string]localCounter),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		p.ticker = time.NewTicker(cleanupInterval)
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.ticker.C:
					p.Cleanup(retention)
				case <-p.stopCh:
					return
				}
			}
		}()
	}
	return p
}

// sum acquires the read lock once and adds up all requested counters.
// Missing tags count as zero.
func (p *Local) sum(tags []string) uint64 {
	var total uint64
	p.mu.RLock()
	for _, t := range tags {
		total += p.counts[t].Count
	}
	p.mu.RUnlock()
	return total
}

func (p *Local) Current(_ context.Context, tags []string) (string, error) {
	return strconv.FormatUint(p.sum(tags), 10), nil
}

func (p *Local) Valid(_ context.Context, token string, tags []string) (bool, error) {
	return token == strconv.FormatUint(p.sum(tags), 10), nil
}

func (p *Local) Invalidate(_ context.Context, tags []string) error {
	now := time.Now()
	p.mu.Lock()
	for _, t := range tags {
		c := p.counts[t]
		c.Count++
		c.UpdatedAt = now
		p.counts[t] = c
	}
	p.mu.Unlock()
	return nil
}

func (p *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	p.mu.Lock()
	for t, c := range p.counts {
		if !c.UpdatedAt.IsZero() && c.UpdatedAt.Before(cutoff) {
			delete(p.counts, t)
		}
	}
	p.mu.Unlock()
}

func (p *Local) Close(_ context.Context) error {
	if p.stopCh != nil {
		close(p.stopCh)
		if p.ticker != nil {
			p.ticker.Stop()
		}
		p.wg.Wait()
	}
	return nil
}
