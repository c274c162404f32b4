// Package dedup remembers recently seen keys so redelivered messages
// can be dropped.
package dedup

import (
	"sync"
	"time"
)

const (
	defaultTTL = 10 * time.Minute
	defaultMax = 10000
)

// Deduper is a TTL set with a soft capacity. Safe for concurrent use.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

// New builds a Deduper. Non-positive ttl or max select the defaults.
func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if max <= 0 {
		max = defaultMax
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// ShouldProcess reports whether key is new (or its previous sighting expired)
// and records it. Empty keys are always processed.
func (d *Deduper) ShouldProcess(key string) bool {
	if d == nil || key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// Len returns the number of keys currently tracked, expired ones included.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// evict drops expired keys first, then the oldest ones until under max.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var (
			oldestKey string
			oldestExp time.Time
		)
		for k, exp := range d.seen {
			if oldestKey == "" || exp.Before(oldestExp) {
				oldestKey, oldestExp = k, exp
			}
		}
		delete(d.seen, oldestKey)
	}
}
