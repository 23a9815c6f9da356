package feed

import (
	"sync"
	"sync/atomic"
	"time"
)

type sample[T any] struct {
	val T
	at  time.Time
}

// Latest holds the most recent value of a stream. One goroutine writes,
// any number read without locking.
type Latest[T any] struct {
	p atomic.Pointer[sample[T]]
}

// Store publishes v observed at time at.
func (l *Latest[T]) Store(v T, at time.Time) {
	l.p.Store(&sample[T]{val: v, at: at})
}

// Load returns the latest value and when it was observed.
func (l *Latest[T]) Load() (T, time.Time, bool) {
	s := l.p.Load()
	if s == nil {
		var zero T
		return zero, time.Time{}, false
	}
	return s.val, s.at, true
}

// Fresh returns the latest value only if it is younger than maxAge at now.
func (l *Latest[T]) Fresh(now time.Time, maxAge time.Duration) (T, bool) {
	v, at, ok := l.Load()
	if !ok || now.Sub(at) > maxAge {
		var zero T
		return zero, false
	}
	return v, true
}

// Reset drops the stored value.
func (l *Latest[T]) Reset() {
	l.p.Store(nil)
}

// PriceHistory is a bounded ring of recent prices.
type PriceHistory struct {
	mu   sync.RWMutex
	buf  []float64
	next int
	full bool
}

// NewPriceHistory creates a ring holding up to capacity prices.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &PriceHistory{buf: make([]float64, capacity)}
}

// Append adds a price, evicting the oldest when full.
func (h *PriceHistory) Append(p float64) {
	h.mu.Lock()
	h.buf[h.next] = p
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Len returns the number of stored prices.
func (h *PriceHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Tail returns a copy of the newest n prices, oldest first. Fewer are
// returned when the ring holds fewer.
func (h *PriceHistory) Tail(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n > size {
		n = size
	}
	out := make([]float64, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}
