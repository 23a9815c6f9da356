// Package registry holds the set of market windows the bot knows about:
// the single ACTIVE window and superseded windows that may still own open
// positions. Readers get immutable snapshots without locking.
package registry

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Snapshot is an immutable view of the registry. Callers must not modify
// it.
type Snapshot struct {
	Active     *domain.MarketWindow
	Superseded []domain.MarketWindow
	// Stale is set when discovery keeps failing and Active may no longer
	// be the tradable window.
	Stale     bool
	UpdatedAt time.Time
}

// IsActive reports whether slug names the active window.
func (s *Snapshot) IsActive(slug string) bool {
	return s.Active != nil && s.Active.Slug == slug
}

// Lookup finds a window by slug among the active and superseded windows.
func (s *Snapshot) Lookup(slug string) (domain.MarketWindow, bool) {
	if s.IsActive(slug) {
		return *s.Active, true
	}
	for _, w := range s.Superseded {
		if w.Slug == slug {
			return w, true
		}
	}
	return domain.MarketWindow{}, false
}

// Registry publishes window snapshots. Writes are serialized; reads are
// lock-free.
type Registry struct {
	mu sync.Mutex
	p  atomic.Pointer[Snapshot]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.p.Store(&Snapshot{})
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.p.Load()
}

// Active returns a copy of the active window.
func (r *Registry) Active() (domain.MarketWindow, bool) {
	s := r.p.Load()
	if s.Active == nil {
		return domain.MarketWindow{}, false
	}
	return *s.Active, true
}

// Install makes w the active window. When w replaces a window with a
// different slug, the old one becomes SUPERSEDED and is returned with
// rotated set. Installing the current slug again only clears Stale.
func (r *Registry) Install(w domain.MarketWindow, at time.Time) (old *domain.MarketWindow, rotated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.p.Load()
	w.Status = domain.WindowStatusActive
	next := &Snapshot{
		Active:     &w,
		Superseded: slices.Clone(cur.Superseded),
		UpdatedAt:  at,
	}

	if cur.Active != nil && cur.Active.Slug == w.Slug {
		r.p.Store(next)
		return nil, false
	}

	if cur.Active != nil {
		prev := *cur.Active
		prev.Status = domain.WindowStatusSuperseded
		next.Superseded = append(next.Superseded, prev)
		old = &prev
	}
	// A window that comes back becomes active again.
	next.Superseded = slices.DeleteFunc(next.Superseded, func(s domain.MarketWindow) bool {
		return s.Slug == w.Slug
	})
	r.p.Store(next)
	return old, true
}

// MarkStale flags the active window as possibly outdated.
func (r *Registry) MarkStale(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.p.Load()
	if cur.Stale {
		return
	}
	next := *cur
	next.Superseded = slices.Clone(cur.Superseded)
	next.Stale = true
	next.UpdatedAt = at
	r.p.Store(&next)
}

// Expire drops superseded windows that have ended (or never had an end,
// like the manual window) and no longer own open positions. The dropped
// windows are returned with status EXPIRED.
func (r *Registry) Expire(now time.Time, inUse func(slug string) bool) []domain.MarketWindow {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.p.Load()
	var expired []domain.MarketWindow
	kept := make([]domain.MarketWindow, 0, len(cur.Superseded))
	for _, w := range cur.Superseded {
		if (w.End.IsZero() || w.Expired(now)) && (inUse == nil || !inUse(w.Slug)) {
			w.Status = domain.WindowStatusExpired
			expired = append(expired, w)
			continue
		}
		kept = append(kept, w)
	}
	if len(expired) == 0 {
		return nil
	}
	next := *cur
	next.Superseded = kept
	next.UpdatedAt = now
	r.p.Store(&next)
	return expired
}
