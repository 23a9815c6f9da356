package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same client order id from being submitted more than
// once within a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // clientID -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers a client id a duplicate
// if it has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if id has been seen within the TTL window. If
// it has not been seen (or has expired), it is recorded and false is
// returned. Empty ids are never duplicates.
func (d *Dedup) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[id]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[id] = now
	d.cleanupLocked(now)
	return false
}

// Forget drops id so it may be submitted again, e.g. after a submission
// that never reached the venue.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *Dedup) cleanupLocked(now time.Time) {
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
