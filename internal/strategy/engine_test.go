package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrades struct {
	tick   domain.TradeTick
	at     time.Time
	prices []float64
}

func (f *fakeTrades) LatestTrade() (domain.TradeTick, time.Time, bool) {
	return f.tick, f.at, !f.at.IsZero()
}

func (f *fakeTrades) Prices(n int) []float64 {
	if n > len(f.prices) {
		n = len(f.prices)
	}
	return f.prices[len(f.prices)-n:]
}

type fakeQuotes map[string]domain.Quote

func (f fakeQuotes) LatestQuote(token string) (domain.Quote, time.Time, bool) {
	q, ok := f[token]
	return q, q.Timestamp, ok
}

type fakeWindows struct{ w *domain.MarketWindow }

func (f fakeWindows) Active() (domain.MarketWindow, bool) {
	if f.w == nil {
		return domain.MarketWindow{}, false
	}
	return *f.w, true
}

type fakeManager struct {
	positions []domain.Position
	verdict   risk.Verdict
	entries   []domain.EntryIntent
	exits     []domain.ExitIntent
	syncs     int
	panicSync bool
}

func (m *fakeManager) Sync(context.Context, time.Time) error {
	m.syncs++
	if m.panicSync {
		panic("boom")
	}
	return nil
}

func (m *fakeManager) OpenPositions() []domain.Position { return m.positions }

func (m *fakeManager) CheckEntry(float64, risk.Exposure, time.Time) risk.Verdict { return m.verdict }

func (m *fakeManager) SubmitExit(_ context.Context, x domain.ExitIntent, _ time.Time) error {
	m.exits = append(m.exits, x)
	return nil
}

func (m *fakeManager) SubmitEntry(_ context.Context, e domain.EntryIntent, _ time.Time) error {
	m.entries = append(m.entries, e)
	return nil
}

type memDecisions struct {
	mu    sync.Mutex
	snaps []domain.DecisionSnapshot
}

func (m *memDecisions) Insert(_ context.Context, s domain.DecisionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memDecisions) List(context.Context, domain.ListOpts) ([]domain.DecisionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DecisionSnapshot(nil), m.snaps...), nil
}

type memErrors struct{ events []domain.ErrorEvent }

func (m *memErrors) Record(_ context.Context, ev domain.ErrorEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func newTestEngine(t *testing.T, trades *fakeTrades, quotes fakeQuotes, mgr *fakeManager) (*Engine, *memDecisions, *memErrors) {
	t.Helper()
	store := &memDecisions{}
	errs := &memErrors{}
	cfg := EngineConfig{
		Mode:         "paper",
		LoopInterval: time.Second,
		MaxAge:       10 * time.Second,
		Model:        Model{MomentumWindow: 40, VolWindow: 60, Gain: 1, Squash: Logistic},
		Params:       params(),
	}
	e := NewEngine(cfg, trades, quotes, fakeWindows{w: &w1}, mgr, store, errs, discardLogger())
	e.now = func() time.Time { return now }
	return e, store, errs
}

func freshTrades() *fakeTrades {
	prices := walk(200, 0.0004, 3)
	return &fakeTrades{tick: domain.TradeTick{Price: prices[len(prices)-1], Timestamp: now}, at: now, prices: prices}
}

func TestEngineTickEnters(t *testing.T) {
	quotes := fakeQuotes{"up1": quote("up1", 0.49, 0.51), "down1": quote("down1", 0.49, 0.51)}
	mgr := &fakeManager{verdict: risk.Verdict{Allowed: true}}
	e, store, _ := newTestEngine(t, freshTrades(), quotes, mgr)

	var hooked int
	e.OnDecision(func(Decision) { hooked++ })

	d := e.Tick(context.Background())
	assert.Equal(t, domain.ReasonEntryUp, d.Snapshot.Reason)
	assert.Equal(t, "paper", d.Snapshot.Mode)
	require.Len(t, mgr.entries, 1)
	assert.Equal(t, "up1", mgr.entries[0].TokenID)
	assert.Equal(t, 1, mgr.syncs)
	assert.Equal(t, 1, hooked)

	snaps, _ := store.List(context.Background(), domain.ListOpts{})
	require.Len(t, snaps, 1)
	last, ok := e.LastDecision()
	require.True(t, ok)
	assert.Equal(t, snaps[0], last)

	e.DisableEntries()
	d = e.Tick(context.Background())
	assert.Len(t, mgr.entries, 1, "no entries after DisableEntries")
	assert.Nil(t, d.Entry)
	assert.Equal(t, domain.ReasonEntriesDisabled, d.Snapshot.Reason)
	snaps, _ = store.List(context.Background(), domain.ListOpts{})
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.ReasonEntriesDisabled, snaps[1].Reason)
}

func TestEngineStaleInputs(t *testing.T) {
	stale := quote("up1", 0.49, 0.51)
	stale.Timestamp = now.Add(-11 * time.Second)
	quotes := fakeQuotes{"up1": stale, "down1": quote("down1", 0.49, 0.51)}
	mgr := &fakeManager{verdict: risk.Verdict{Allowed: true}}
	e, _, _ := newTestEngine(t, freshTrades(), quotes, mgr)

	d := e.Tick(context.Background())
	assert.Equal(t, domain.ReasonInsufficientData, d.Snapshot.Reason)

	trades := freshTrades()
	trades.at = now.Add(-time.Minute)
	quotes["up1"] = quote("up1", 0.49, 0.51)
	e, _, _ = newTestEngine(t, trades, quotes, mgr)
	d = e.Tick(context.Background())
	assert.Equal(t, domain.ReasonInsufficientData, d.Snapshot.Reason)
	assert.Zero(t, d.Snapshot.PUpModel)
	assert.Equal(t, trades.tick.Price, d.Snapshot.BTCPrice)
	assert.Empty(t, mgr.entries)
}

func TestEngineRecoversPanics(t *testing.T) {
	mgr := &fakeManager{panicSync: true}
	e, store, errs := newTestEngine(t, freshTrades(), fakeQuotes{}, mgr)

	assert.NotPanics(t, func() { e.safeTick(context.Background()) })
	require.Len(t, errs.events, 1)
	assert.Equal(t, "panic", errs.events[0].Kind)
	assert.Equal(t, "boom", errs.events[0].Message)
	snaps, _ := store.List(context.Background(), domain.ListOpts{})
	assert.Empty(t, snaps)
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	mgr := &fakeManager{verdict: risk.Verdict{Allowed: true}}
	e, _, _ := newTestEngine(t, freshTrades(), fakeQuotes{}, mgr)
	e.cfg.LoopInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, mgr.syncs)
}
