// Package scheduler keeps the market window registry pointed at the
// currently tradable Up/Down window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/registry"
)

// rotateLag is how long after a window's end the next discovery runs, so
// the successor is already listed.
const rotateLag = time.Second

// Discoverer resolves the window that is tradable at now.
type Discoverer interface {
	ResolveActiveWindow(ctx context.Context, now time.Time) (domain.MarketWindow, error)
}

// RotateHook is called after the registry switched to a new window. The
// first installed window is reported with a nil Old.
type RotateHook func(ctx context.Context, ev domain.MarketRotated)

// Config controls rotation timing.
type Config struct {
	RotateInterval time.Duration
	// FallbackDelay is how long discovery may fail before the static window
	// is installed.
	FallbackDelay time.Duration
	// Static is the window built from configured token ids, or nil.
	Static  *domain.MarketWindow
	Backoff feed.BackoffPolicy
}

// Scheduler periodically resolves the active window and installs it in the
// registry. Discovery failures are retried with backoff and never stop the
// loop.
type Scheduler struct {
	cfg      Config
	discover Discoverer
	reg      *registry.Registry
	errs     domain.ErrorStore
	logger   *slog.Logger

	hooks []RotateHook
	inUse func(slug string) bool

	now  func() time.Time
	rand func() float64

	started  time.Time
	lastOK   time.Time
	failures atomic.Int32
}

// New creates a Scheduler. discover may be nil when no discovery host is
// configured; the static window is then installed on the first step.
func New(cfg Config, discover Discoverer, reg *registry.Registry, errs domain.ErrorStore, logger *slog.Logger) *Scheduler {
	if cfg.RotateInterval <= 0 {
		cfg.RotateInterval = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		discover: discover,
		reg:      reg,
		errs:     errs,
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      time.Now,
		rand:     rand.Float64,
	}
}

// OnRotate registers a hook for window changes.
func (s *Scheduler) OnRotate(h RotateHook) {
	s.hooks = append(s.hooks, h)
}

// KeepWhile sets the predicate that holds superseded windows in the
// registry, typically "has open positions".
func (s *Scheduler) KeepWhile(inUse func(slug string) bool) {
	s.inUse = inUse
}

// Failures returns the number of consecutive discovery failures.
func (s *Scheduler) Failures() int {
	return int(s.failures.Load())
}

// Run steps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("rotate_interval", s.cfg.RotateInterval),
		slog.Duration("fallback_delay", s.cfg.FallbackDelay),
		slog.Bool("static_fallback", s.cfg.Static != nil),
		slog.Bool("discovery", s.discover != nil),
	)
	for {
		wait := s.safeStep(ctx)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Scheduler) safeStep(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "scheduler step panicked", slog.Any("panic", r))
			s.record(ctx, "panic", fmt.Sprint(r), map[string]any{"stack": string(debug.Stack())})
			wait = s.cfg.Backoff.Delay(1, s.rand)
		}
	}()
	return s.Step(ctx)
}

// Step runs one discovery attempt, updates the registry, drops expired
// superseded windows and returns how long to wait before the next step.
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	defer s.expire(ctx, now)

	if s.discover == nil {
		if s.cfg.Static != nil {
			s.install(ctx, *s.cfg.Static, now)
		}
		return s.cfg.RotateInterval
	}

	w, err := s.discover.ResolveActiveWindow(ctx, now)
	if err == nil {
		if n := s.failures.Swap(0); n > 0 {
			s.logger.InfoContext(ctx, "discovery recovered", slog.Int("failures", int(n)))
		}
		s.lastOK = now
		s.install(ctx, w, now)
		return s.nextWait(w, now)
	}

	failures := int(s.failures.Add(1))
	s.logger.WarnContext(ctx, "market discovery failed",
		slog.String("error", err.Error()),
		slog.Int("failures", failures),
	)
	s.record(ctx, "discovery", err.Error(), map[string]any{"failures": failures})

	wait := s.cfg.Backoff.Delay(failures, s.rand)
	if wait > s.cfg.RotateInterval {
		wait = s.cfg.RotateInterval
	}

	active, hasActive := s.reg.Active()
	needsWindow := !hasActive || active.Expired(now)
	if s.cfg.Static != nil && needsWindow {
		since := s.started
		if !s.lastOK.IsZero() {
			since = s.lastOK
		}
		if remaining := s.cfg.FallbackDelay - now.Sub(since); remaining > 0 {
			return min(wait, remaining)
		}
		s.logger.WarnContext(ctx, "discovery failing, installing static window",
			slog.String("slug", s.cfg.Static.Slug),
		)
		s.install(ctx, *s.cfg.Static, now)
		return wait
	}

	if hasActive && (s.cfg.Static == nil || active.Slug != s.cfg.Static.Slug) {
		if !s.reg.Snapshot().Stale {
			s.logger.ErrorContext(ctx, "registry stale, keeping last valid window",
				slog.String("slug", active.Slug),
			)
		}
		s.reg.MarkStale(now)
	}
	return wait
}

// nextWait schedules the next discovery for shortly after w ends when that
// comes before the regular interval.
func (s *Scheduler) nextWait(w domain.MarketWindow, now time.Time) time.Duration {
	wait := s.cfg.RotateInterval
	if w.End.IsZero() {
		return wait
	}
	if untilEnd := w.End.Sub(now) + rotateLag; untilEnd > 0 && untilEnd < wait {
		return untilEnd
	}
	return wait
}

func (s *Scheduler) expire(ctx context.Context, now time.Time) {
	for _, w := range s.reg.Expire(now, s.inUse) {
		s.logger.InfoContext(ctx, "window expired",
			slog.String("slug", w.Slug),
			slog.String("status", string(w.Status)),
			slog.Time("end", w.End),
		)
	}
}

func (s *Scheduler) install(ctx context.Context, w domain.MarketWindow, now time.Time) {
	old, rotated := s.reg.Install(w, now)
	if !rotated {
		return
	}
	ev := domain.MarketRotated{Old: old, New: w, At: now}
	attrs := []any{
		slog.String("new_slug", w.Slug),
		slog.String("new_up", w.UpTokenID),
		slog.String("new_down", w.DownTokenID),
		slog.Time("new_end", w.End),
	}
	if old != nil {
		attrs = append(attrs,
			slog.String("old_slug", old.Slug),
			slog.String("old_up", old.UpTokenID),
			slog.String("old_down", old.DownTokenID),
		)
	}
	s.logger.InfoContext(ctx, "market rotated", attrs...)
	for _, h := range s.hooks {
		h(ctx, ev)
	}
}

func (s *Scheduler) record(ctx context.Context, kind, msg string, detail map[string]any) {
	if s.errs == nil {
		return
	}
	ev := domain.ErrorEvent{Kind: kind, Message: msg, Detail: detail, CreatedAt: s.now()}
	if err := s.errs.Record(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "record error event failed", slog.String("error", err.Error()))
	}
}
