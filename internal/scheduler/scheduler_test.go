package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/registry"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

func window(slug string, end time.Time) domain.MarketWindow {
	return domain.MarketWindow{Slug: slug, UpTokenID: slug + "-up", DownTokenID: slug + "-down", End: end}
}

type result struct {
	w   domain.MarketWindow
	err error
}

// scriptedDiscoverer returns results in order and repeats the last one.
type scriptedDiscoverer struct {
	results []result
	calls   int
}

func (d *scriptedDiscoverer) ResolveActiveWindow(context.Context, time.Time) (domain.MarketWindow, error) {
	r := d.results[min(d.calls, len(d.results)-1)]
	d.calls++
	if r.err != nil {
		return domain.MarketWindow{}, r.err
	}
	return r.w, nil
}

type panicDiscoverer struct{}

func (panicDiscoverer) ResolveActiveWindow(context.Context, time.Time) (domain.MarketWindow, error) {
	panic("boom")
}

type errorLog struct{ evs []domain.ErrorEvent }

func (e *errorLog) Record(_ context.Context, ev domain.ErrorEvent) error {
	e.evs = append(e.evs, ev)
	return nil
}

type fixture struct {
	s       *Scheduler
	reg     *registry.Registry
	errs    *errorLog
	clock   time.Time
	rotated []domain.MarketRotated
}

func newFixture(cfg Config, d Discoverer) *fixture {
	f := &fixture{reg: registry.New(), errs: &errorLog{}, clock: t0}
	if cfg.Backoff == (feed.BackoffPolicy{}) {
		cfg.Backoff = feed.BackoffPolicy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}
	}
	f.s = New(cfg, d, f.reg, f.errs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.s.now = func() time.Time { return f.clock }
	f.s.rand = func() float64 { return 0.5 }
	f.s.OnRotate(func(_ context.Context, ev domain.MarketRotated) {
		f.rotated = append(f.rotated, ev)
	})
	return f
}

func TestStartupInstallsDiscoveredWindow(t *testing.T) {
	w1 := window("w1", t0.Add(4*time.Minute+30*time.Second))
	f := newFixture(Config{RotateInterval: 5 * time.Minute}, &scriptedDiscoverer{results: []result{{w: w1}}})

	wait := f.s.Step(context.Background())

	active, ok := f.reg.Active()
	require.True(t, ok)
	assert.Equal(t, "w1", active.Slug)
	assert.Equal(t, domain.WindowStatusActive, active.Status)
	require.Len(t, f.rotated, 1)
	assert.Nil(t, f.rotated[0].Old)
	assert.Equal(t, "w1", f.rotated[0].New.Slug)
	assert.Equal(t, 4*time.Minute+31*time.Second, wait)
}

func TestRotationHappensOnce(t *testing.T) {
	w1 := window("w1", t0.Add(time.Minute))
	w2 := window("w2", t0.Add(6*time.Minute))
	d := &scriptedDiscoverer{results: []result{{w: w1}, {w: w1}, {w: w2}, {w: w2}}}
	f := newFixture(Config{RotateInterval: 5 * time.Minute}, d)

	holding := true
	f.s.KeepWhile(func(slug string) bool { return slug == "w1" && holding })

	ctx := context.Background()
	f.s.Step(ctx)
	f.clock = t0.Add(30 * time.Second)
	f.s.Step(ctx)
	f.clock = t0.Add(time.Minute + time.Second)
	f.s.Step(ctx)
	f.clock = t0.Add(2 * time.Minute)
	f.s.Step(ctx)

	require.Len(t, f.rotated, 2)
	ev := f.rotated[1]
	require.NotNil(t, ev.Old)
	assert.Equal(t, "w1", ev.Old.Slug)
	assert.Equal(t, domain.WindowStatusSuperseded, ev.Old.Status)
	assert.Equal(t, "w2", ev.New.Slug)

	snap := f.reg.Snapshot()
	assert.True(t, snap.IsActive("w2"))
	_, ok := snap.Lookup("w1")
	assert.True(t, ok, "superseded window with open positions stays")

	holding = false
	f.s.Step(ctx)
	_, ok = f.reg.Snapshot().Lookup("w1")
	assert.False(t, ok)
}

func TestDiscoveryFailureMarksStaleAndBacksOff(t *testing.T) {
	w1 := window("w1", t0.Add(10*time.Minute))
	fail := fmt.Errorf("%w: gamma down", domain.ErrDiscovery)
	d := &scriptedDiscoverer{results: []result{{w: w1}, {err: fail}, {err: fail}, {err: fail}, {w: w1}}}
	f := newFixture(Config{RotateInterval: 5 * time.Minute}, d)
	ctx := context.Background()

	f.s.Step(ctx)
	assert.False(t, f.reg.Snapshot().Stale)

	var waits []time.Duration
	for range 3 {
		waits = append(waits, f.s.Step(ctx))
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
	assert.Equal(t, 3, f.s.Failures())

	snap := f.reg.Snapshot()
	assert.True(t, snap.Stale)
	assert.True(t, snap.IsActive("w1"))
	require.Len(t, f.errs.evs, 3)
	assert.Equal(t, "discovery", f.errs.evs[0].Kind)

	f.s.Step(ctx)
	assert.False(t, f.reg.Snapshot().Stale)
	assert.Zero(t, f.s.Failures())
	assert.Len(t, f.rotated, 1)
}

func TestStaticFallbackAfterDelay(t *testing.T) {
	static := domain.MarketWindow{Slug: domain.ManualWindowSlug, UpTokenID: "su", DownTokenID: "sd"}
	fail := fmt.Errorf("%w: ambiguous", domain.ErrAmbiguousWindow)
	f := newFixture(Config{
		RotateInterval: 5 * time.Minute,
		FallbackDelay:  2 * time.Minute,
		Static:         &static,
	}, &scriptedDiscoverer{results: []result{{err: fail}}})
	ctx := context.Background()

	assert.Equal(t, time.Second, f.s.Step(ctx))
	_, ok := f.reg.Active()
	assert.False(t, ok)

	f.clock = t0.Add(2*time.Minute - 500*time.Millisecond)
	wait := f.s.Step(ctx)
	assert.Equal(t, 500*time.Millisecond, wait, "wakes exactly when the fallback is due")
	_, ok = f.reg.Active()
	assert.False(t, ok)

	f.clock = t0.Add(2 * time.Minute)
	f.s.Step(ctx)
	active, ok := f.reg.Active()
	require.True(t, ok)
	assert.Equal(t, domain.ManualWindowSlug, active.Slug)
	assert.False(t, f.reg.Snapshot().Stale)
	require.Len(t, f.rotated, 1)

	// Continued failures keep the static window without flagging it stale.
	f.clock = t0.Add(3 * time.Minute)
	f.s.Step(ctx)
	assert.False(t, f.reg.Snapshot().Stale)
	assert.Len(t, f.rotated, 1)
}

func TestStaticWindowWithoutDiscovery(t *testing.T) {
	static := domain.MarketWindow{Slug: domain.ManualWindowSlug, UpTokenID: "su", DownTokenID: "sd"}
	f := newFixture(Config{RotateInterval: time.Minute, Static: &static}, nil)

	assert.Equal(t, time.Minute, f.s.Step(context.Background()))
	assert.True(t, f.reg.Snapshot().IsActive(domain.ManualWindowSlug))

	f.s.Step(context.Background())
	assert.Len(t, f.rotated, 1)
}

func TestStepPanicIsRecovered(t *testing.T) {
	f := newFixture(Config{RotateInterval: time.Minute}, panicDiscoverer{})

	wait := f.s.safeStep(context.Background())
	assert.Equal(t, time.Second, wait)
	require.Len(t, f.errs.evs, 1)
	assert.Equal(t, "panic", f.errs.evs[0].Kind)
	assert.Contains(t, f.errs.evs[0].Detail, "stack")
}

func TestRunStopsOnCancel(t *testing.T) {
	w1 := window("w1", time.Now().Add(time.Hour))
	f := newFixture(Config{RotateInterval: time.Hour}, &scriptedDiscoverer{results: []result{{w: w1}}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
