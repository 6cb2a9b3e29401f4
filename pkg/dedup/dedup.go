// Package dedup keeps a bounded set of ids that were already handled.
package dedup

import (
	"sync"
	"time"
)

// Deduper remembers ids for ttl. A ttl <= 0 keeps ids until Reset.
// When more than max ids are held, expired ids are dropped first and then the oldest.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time // id -> first seen
}

func New(ttl time.Duration, max int) *Deduper {
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time)}
}

// ShouldProcess records id and reports whether it was new.
// Empty ids are always processed and never recorded.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.seen[id]; ok && !d.expired(at, now) {
		return false
	}
	d.seen[id] = now
	d.evict(now)
	return true
}

// Seen reports whether id is currently recorded without recording it.
func (d *Deduper) Seen(id string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[id]
	return ok && !d.expired(at, now)
}

// Seed records ids as already handled.
func (d *Deduper) Seed(ids ...string) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			d.seen[id] = now
		}
	}
	d.evict(now)
}

// Reset forgets every id.
func (d *Deduper) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) expired(at, now time.Time) bool {
	return d.ttl > 0 && now.Sub(at) >= d.ttl
}

func (d *Deduper) evict(now time.Time) {
	if len(d.seen) <= d.max {
		return
	}
	for k, at := range d.seen {
		if d.expired(at, now) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var oldestAt time.Time
		for k, at := range d.seen {
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = k, at
			}
		}
		delete(d.seen, oldest)
	}
}
