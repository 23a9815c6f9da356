package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/registry"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w1 = domain.MarketWindow{Slug: "w1", UpTokenID: "up1", DownTokenID: "down1", End: t0.Add(5 * time.Minute)}
	w2 = domain.MarketWindow{Slug: "w2", UpTokenID: "up2", DownTokenID: "down2", End: t0.Add(10 * time.Minute)}
)

// fakeExec rests every order and fills only what a test queues.
type fakeExec struct {
	mu        sync.Mutex
	seq       int
	rejectErr error
	resting   map[string]domain.LimitOrderRequest
	queued    map[string][]domain.Fill
	closed    map[string]bool
	cancelled []string
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		resting: map[string]domain.LimitOrderRequest{},
		queued:  map[string][]domain.Fill{},
		closed:  map[string]bool{},
	}
}

func (f *fakeExec) SubmitLimit(_ context.Context, req domain.LimitOrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectErr != nil {
		return "", f.rejectErr
	}
	f.seq++
	id := fmt.Sprintf("ex-%d", f.seq)
	f.resting[id] = req
	return id, nil
}

func (f *fakeExec) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resting[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.resting, id)
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExec) PollFills(_ context.Context, id string) ([]domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fills := f.queued[id]
	delete(f.queued, id)
	if len(fills) == 0 && f.closed[id] {
		return nil, domain.ErrOrderClosed
	}
	return fills, nil
}

// closeAtVenue makes the venue report the order closed once its queued
// fills are drained.
func (f *fakeExec) closeAtVenue(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resting, id)
	f.closed[id] = true
}

func (f *fakeExec) fill(id string, price, size float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[id] = append(f.queued[id], domain.Fill{Price: price, Size: size, Timestamp: at})
}

type memOrders struct{ m map[string]domain.Order }

func (s *memOrders) Upsert(_ context.Context, o domain.Order) error {
	s.m[o.ID] = o
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := s.m[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}
func (s *memOrders) List(context.Context, domain.ListOpts) ([]domain.Order, error) { return nil, nil }

type memFills struct{ fills []domain.Fill }

func (s *memFills) Insert(_ context.Context, f domain.Fill) error {
	s.fills = append(s.fills, f)
	return nil
}
func (s *memFills) ListByOrder(context.Context, string) ([]domain.Fill, error) { return nil, nil }

type memPositions struct{ m map[string]domain.Position }

func (s *memPositions) Upsert(_ context.Context, p domain.Position) error {
	s.m[p.ID] = p
	return nil
}

func (s *memPositions) ListOpen(_ context.Context, mode string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.m {
		if p.Status == domain.PositionStatusOpen && p.Mode == mode {
			out = append(out, p)
		}
	}
	return out, nil
}

type memPnL struct{ recs []domain.PnLRecord }

func (s *memPnL) Insert(_ context.Context, r domain.PnLRecord) error {
	s.recs = append(s.recs, r)
	return nil
}
func (s *memPnL) SumSince(_ context.Context, since time.Time) (float64, error) {
	var sum float64
	for _, r := range s.recs {
		if !r.ClosedAt.Before(since) {
			sum += r.RealizedPnL
		}
	}
	return sum, nil
}

type memErrors struct{ evs []domain.ErrorEvent }

func (s *memErrors) Record(_ context.Context, ev domain.ErrorEvent) error {
	s.evs = append(s.evs, ev)
	return nil
}

type recordingEvents struct {
	NopEvents
	closed    []domain.PnLRecord
	kills     int
	flattened int
}

func (r *recordingEvents) PositionClosed(_ context.Context, _ domain.Position, rec domain.PnLRecord) {
	r.closed = append(r.closed, rec)
}
func (r *recordingEvents) KillSwitch(context.Context, domain.RiskState)          { r.kills++ }
func (r *recordingEvents) FlattenFailed(context.Context, domain.Position, error) { r.flattened++ }

type harness struct {
	mgr       *OrderManager
	exec      *fakeExec
	reg       *registry.Registry
	orders    *memOrders
	fills     *memFills
	positions *memPositions
	pnl       *memPnL
	errs      *memErrors
	events    *recordingEvents
	marks     map[string]float64
}

func newHarness(t *testing.T, riskCfg risk.Config) *harness {
	t.Helper()
	h := &harness{
		exec:      newFakeExec(),
		reg:       registry.New(),
		orders:    &memOrders{m: map[string]domain.Order{}},
		fills:     &memFills{},
		positions: &memPositions{m: map[string]domain.Position{}},
		pnl:       &memPnL{},
		errs:      &memErrors{},
		events:    &recordingEvents{},
		marks:     map[string]float64{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := domain.Stores{
		Orders:    h.orders,
		Fills:     h.fills,
		Positions: h.positions,
		PnL:       h.pnl,
		Errors:    h.errs,
	}
	mark := func(token string) (float64, bool) {
		p, ok := h.marks[token]
		return p, ok
	}
	h.mgr = NewOrderManager(
		ManagerConfig{Mode: "paper", ExitGrace: 10 * time.Second},
		h.exec,
		risk.NewGate(riskCfg, t0, logger),
		h.reg,
		stores,
		h.events,
		mark,
		logger,
	)
	h.reg.Install(w1, t0)
	return h
}

func defaultRisk() risk.Config {
	return risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
}

// lastExchangeID returns the venue id of the most recently submitted order.
func (h *harness) lastExchangeID() string {
	return fmt.Sprintf("ex-%d", h.exec.seq)
}

func (h *harness) assertExposureInvariant(t *testing.T) {
	t.Helper()
	var sum float64
	for _, p := range h.mgr.OpenPositions() {
		sum += p.EntryPrice * p.Size
	}
	assert.InDelta(t, sum, h.mgr.RiskState().ExposureUSD, 1e-9)
}

// openPosition submits an entry and fills it completely.
func (h *harness) openPosition(t *testing.T, w domain.MarketWindow, price, size float64, at time.Time) domain.Position {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome:    domain.OutcomeUp,
		TokenID:    w.UpTokenID,
		LimitPrice: price,
		Size:       size,
		WindowSlug: w.Slug,
	}, at))
	h.exec.fill(h.lastExchangeID(), price, size, at)
	require.NoError(t, h.mgr.Sync(ctx, at))

	for _, p := range h.mgr.OpenPositions() {
		if p.WindowSlug == w.Slug && p.TokenID == w.UpTokenID {
			return p
		}
	}
	t.Fatalf("no position opened in %s", w.Slug)
	return domain.Position{}
}

func TestEntryFillsBuildWeightedPosition(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()

	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.50, Size: 20, WindowSlug: "w1",
	}, t0))
	id := h.lastExchangeID()
	assert.Equal(t, t0, h.mgr.RiskState().LastEntryAt)
	assert.Empty(t, h.mgr.OpenPositions())

	h.exec.fill(id, 0.50, 8, t0.Add(time.Second))
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(time.Second)))
	orders := h.mgr.OpenOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, orders[0].Status)
	assert.InDelta(t, 8.0, orders[0].FilledSize, 1e-9)
	h.assertExposureInvariant(t)

	h.exec.fill(id, 0.48, 12, t0.Add(2*time.Second))
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(2*time.Second)))
	assert.Empty(t, h.mgr.OpenOrders())

	positions := h.mgr.OpenPositions()
	require.Len(t, positions, 1)
	p := positions[0]
	assert.InDelta(t, 20.0, p.Size, 1e-9)
	assert.InDelta(t, 0.488, p.EntryPrice, 1e-9)
	assert.Equal(t, "w1", p.WindowSlug)
	assert.Equal(t, t0.Add(time.Second), p.OpenedAt)
	assert.InDelta(t, 9.76, h.mgr.RiskState().ExposureUSD, 1e-9)
	h.assertExposureInvariant(t)

	assert.Len(t, h.fills.fills, 2)
	stored := h.orders.m[orders[0].ID]
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)
	assert.Equal(t, p.ID, stored.PositionID)
}

func TestDuplicateEntrySkipped(t *testing.T) {
	h := newHarness(t, defaultRisk())
	intent := domain.EntryIntent{Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.5, Size: 20, WindowSlug: "w1"}

	require.NoError(t, h.mgr.SubmitEntry(context.Background(), intent, t0))
	require.NoError(t, h.mgr.SubmitEntry(context.Background(), intent, t0.Add(time.Second)))
	assert.Equal(t, 1, h.exec.seq)
	assert.Len(t, h.mgr.OpenOrders(), 1)
}

func TestSubmissionErrorRejectsOrder(t *testing.T) {
	h := newHarness(t, defaultRisk())
	h.exec.rejectErr = fmt.Errorf("clob: %w", domain.ErrInvalidOrder)

	err := h.mgr.SubmitEntry(context.Background(), domain.EntryIntent{
		Outcome: domain.OutcomeDown, TokenID: "down1", LimitPrice: 0.5, Size: 20, WindowSlug: "w1",
	}, t0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	assert.Empty(t, h.mgr.OpenOrders())
	assert.True(t, h.mgr.RiskState().LastEntryAt.IsZero())
	require.Len(t, h.orders.m, 1)
	for _, o := range h.orders.m {
		assert.Equal(t, domain.OrderStatusRejected, o.Status)
		assert.Contains(t, o.Error, "invalid order")
	}
	require.Len(t, h.errs.evs, 1)
	assert.Equal(t, "order_rejected", h.errs.evs[0].Kind)
}

// Scenario C on the execution side: a profit-take exit fills in two parts
// and the position closes once with the size-weighted exit price.
func TestProfitTakeExitRealizesPnL(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	pos := h.openPosition(t, w1, 0.50, 20, t0)

	at := t0.Add(30 * time.Second)
	require.NoError(t, h.mgr.SubmitExit(ctx, domain.ExitIntent{
		PositionID: pos.ID, TokenID: "up1", LimitPrice: 0.51, Reason: domain.ExitProfitTake,
	}, at))
	exitID := h.lastExchangeID()
	assert.Equal(t, 1, h.mgr.PendingExits())

	// A second exit for the same position is ignored while one rests.
	require.NoError(t, h.mgr.SubmitExit(ctx, domain.ExitIntent{
		PositionID: pos.ID, TokenID: "up1", LimitPrice: 0.50, Reason: domain.ExitTimeStop,
	}, at))
	assert.Equal(t, 1, h.mgr.PendingExits())

	h.exec.fill(exitID, 0.52, 5, at.Add(time.Second))
	require.NoError(t, h.mgr.Sync(ctx, at.Add(time.Second)))
	require.Len(t, h.mgr.OpenPositions(), 1)

	h.exec.fill(exitID, 0.51, 15, at.Add(2*time.Second))
	require.NoError(t, h.mgr.Sync(ctx, at.Add(2*time.Second)))

	assert.Empty(t, h.mgr.OpenPositions())
	assert.Zero(t, h.mgr.PendingExits())
	assert.InDelta(t, 0.0, h.mgr.RiskState().ExposureUSD, 1e-12)

	require.Len(t, h.pnl.recs, 1)
	assert.InDelta(t, 0.25, h.pnl.recs[0].RealizedPnL, 1e-9)
	assert.Equal(t, domain.ExitProfitTake, h.pnl.recs[0].ExitReason)
	assert.InDelta(t, 0.25, h.mgr.RiskState().DailyRealizedPnL, 1e-9)

	closed := h.positions.m[pos.ID]
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitProfitTake, closed.ExitReason)
	assert.InDelta(t, 0.5125, closed.ExitPrice, 1e-9)
	assert.Len(t, h.events.closed, 1)
}

func TestExitCancelsPendingEntryOnSameToken(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	pos := h.openPosition(t, w1, 0.50, 20, t0)

	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.49, Size: 20, WindowSlug: "w1",
	}, t0.Add(time.Minute)))
	entryID := h.lastExchangeID()

	require.NoError(t, h.mgr.SubmitExit(ctx, domain.ExitIntent{
		PositionID: pos.ID, LimitPrice: 0.48, Reason: domain.ExitTimeStop,
	}, t0.Add(3*time.Minute)))

	assert.Equal(t, []string{entryID}, h.exec.cancelled)
	orders := h.mgr.OpenOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderPurposeExit, orders[0].Purpose)
}

func TestExitUnknownPosition(t *testing.T) {
	h := newHarness(t, defaultRisk())
	err := h.mgr.SubmitExit(context.Background(), domain.ExitIntent{PositionID: "missing"}, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Scenario D on the execution side: rotation cancels resting entries of the
// old window, the position keeps its window and is flattened once the old
// window has ended and the exit grace has passed.
func TestRotationAndFlatten(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	pos := h.openPosition(t, w1, 0.50, 20, t0)

	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeDown, TokenID: "down1", LimitPrice: 0.45, Size: 10, WindowSlug: "w1",
	}, t0.Add(time.Minute)))
	restingEntry := h.lastExchangeID()

	rotatedAt := w1.End.Add(time.Second)
	old, rotated := h.reg.Install(w2, rotatedAt)
	require.True(t, rotated)
	h.mgr.OnRotated(ctx, domain.MarketRotated{Old: old, New: w2, At: rotatedAt})

	assert.Equal(t, []string{restingEntry}, h.exec.cancelled)
	require.Len(t, h.mgr.OpenPositions(), 1)
	assert.Equal(t, "w1", h.mgr.OpenPositions()[0].WindowSlug)
	assert.True(t, h.mgr.HasOpenPositionIn("w1"))
	assert.Empty(t, h.reg.Expire(rotatedAt, h.mgr.HasOpenPositionIn))

	require.NoError(t, h.mgr.SubmitExit(ctx, domain.ExitIntent{
		PositionID: pos.ID, LimitPrice: 0.49, Reason: domain.ExitMarketRotated,
	}, rotatedAt))
	exitID := h.lastExchangeID()

	// Inside the grace period nothing happens.
	require.NoError(t, h.mgr.Sync(ctx, w1.End.Add(9*time.Second)))
	require.Len(t, h.mgr.OpenPositions(), 1)

	h.marks["up1"] = 0.45
	flattenAt := w1.End.Add(11 * time.Second)
	require.NoError(t, h.mgr.Sync(ctx, flattenAt))

	assert.Empty(t, h.mgr.OpenPositions())
	assert.Contains(t, h.exec.cancelled, exitID)
	closed := h.positions.m[pos.ID]
	assert.Equal(t, domain.ExitFlatten, closed.ExitReason)
	assert.InDelta(t, 0.45, closed.ExitPrice, 1e-12)
	require.Len(t, h.pnl.recs, 1)
	assert.InDelta(t, -1.0, h.pnl.recs[0].RealizedPnL, 1e-9)

	require.NotEmpty(t, h.errs.evs)
	last := h.errs.evs[len(h.errs.evs)-1]
	assert.Equal(t, "flatten", last.Kind)
	assert.Contains(t, last.Message, domain.ErrFlattenFailure.Error())
	assert.Equal(t, 1, h.events.flattened)

	expired := h.reg.Expire(flattenAt, h.mgr.HasOpenPositionIn)
	require.Len(t, expired, 1)
	assert.Equal(t, "w1", expired[0].Slug)
	assert.Equal(t, domain.WindowStatusExpired, expired[0].Status)
	h.assertExposureInvariant(t)
}

func TestFlattenWithoutMarkUsesEntryPrice(t *testing.T) {
	h := newHarness(t, defaultRisk())
	pos := h.openPosition(t, w1, 0.50, 20, t0)
	h.reg.Install(w2, w1.End)

	require.NoError(t, h.mgr.Sync(context.Background(), w1.End.Add(time.Minute)))
	closed := h.positions.m[pos.ID]
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.InDelta(t, 0.50, closed.ExitPrice, 1e-12)
}

// Scenario E: a loss reaching the daily limit blocks entries until the UTC
// day rolls over.
func TestKillSwitchUntilRollover(t *testing.T) {
	h := newHarness(t, risk.Config{DailyLossLimitUSD: 50, MaxPositionUSD: 100, Cooldown: 45 * time.Second})
	ctx := context.Background()
	pos := h.openPosition(t, w1, 0.50, 125, t0)

	require.NoError(t, h.mgr.SubmitExit(ctx, domain.ExitIntent{
		PositionID: pos.ID, LimitPrice: 0.10, Reason: domain.ExitTimeStop,
	}, t0.Add(3*time.Minute)))
	h.exec.fill(h.lastExchangeID(), 0.10, 125, t0.Add(3*time.Minute))
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(3*time.Minute)))

	st := h.mgr.RiskState()
	assert.InDelta(t, -50.0, st.DailyRealizedPnL, 1e-9)
	assert.True(t, st.KillSwitchActive)
	assert.Equal(t, 1, h.events.kills)

	later := t0.Add(6 * time.Hour)
	v := h.mgr.CheckEntry(10, risk.Exposure{}, later)
	assert.False(t, v.Allowed)
	assert.Equal(t, domain.ReasonDailyLossLimitHit, v.Reason)

	nextDay := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	v = h.mgr.CheckEntry(10, risk.Exposure{}, nextDay)
	assert.True(t, v.Allowed)
	st = h.mgr.RiskState()
	assert.Zero(t, st.DailyRealizedPnL)
	assert.False(t, st.KillSwitchActive)
	assert.Equal(t, "2026-03-02", st.Day)
}

func TestOverfillIsRejected(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.5, Size: 10, WindowSlug: "w1",
	}, t0))
	h.exec.fill(h.lastExchangeID(), 0.5, 12, t0)

	err := h.mgr.Sync(ctx, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOverfill))

	orders := h.mgr.OpenOrders()
	require.Len(t, orders, 1)
	assert.Zero(t, orders[0].FilledSize)
	assert.Empty(t, h.mgr.OpenPositions())
	assert.Empty(t, h.fills.fills)
}

func TestCancelEntriesOnShutdown(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.5, Size: 10, WindowSlug: "w1",
	}, t0))

	h.mgr.CancelEntries(ctx, t0.Add(time.Second))
	assert.Empty(t, h.mgr.OpenOrders())
	for _, o := range h.orders.m {
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}
}

func TestRestoreRebuildsRiskState(t *testing.T) {
	h := newHarness(t, defaultRisk())
	h.positions.m["p1"] = domain.Position{
		ID: "p1", Outcome: domain.OutcomeUp, TokenID: "up1", EntryPrice: 0.5, Size: 20,
		OpenedAt: t0, WindowSlug: "w1", Status: domain.PositionStatusOpen, Mode: "paper",
	}
	h.positions.m["p2"] = domain.Position{ID: "p2", Status: domain.PositionStatusOpen, Mode: "live", EntryPrice: 0.5, Size: 100}
	h.pnl.recs = []domain.PnLRecord{
		{RealizedPnL: -30, ClosedAt: t0.Add(-48 * time.Hour)},
		{RealizedPnL: -25, ClosedAt: t0.Add(-time.Hour)},
	}

	require.NoError(t, h.mgr.Restore(context.Background(), t0))

	positions := h.mgr.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "p1", positions[0].ID)
	st := h.mgr.RiskState()
	assert.InDelta(t, 10.0, st.ExposureUSD, 1e-12)
	assert.InDelta(t, -25.0, st.DailyRealizedPnL, 1e-12)
	assert.True(t, st.KillSwitchActive)
	h.assertExposureInvariant(t)
}

func TestVenueClosedOrderIsCancelled(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()

	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeUp, TokenID: "up1", LimitPrice: 0.40, Size: 10, WindowSlug: "w1",
	}, t0))
	partial := h.lastExchangeID()
	require.NoError(t, h.mgr.SubmitEntry(ctx, domain.EntryIntent{
		Outcome: domain.OutcomeDown, TokenID: "down1", LimitPrice: 0.40, Size: 10, WindowSlug: "w1",
	}, t0))
	untouched := h.lastExchangeID()

	h.exec.fill(partial, 0.40, 4, t0.Add(time.Second))
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(time.Second)))

	h.exec.closeAtVenue(partial)
	h.exec.closeAtVenue(untouched)
	for i := 2; i <= 5; i++ {
		require.NoError(t, h.mgr.Sync(ctx, t0.Add(time.Duration(i)*time.Second)))
	}

	assert.Empty(t, h.mgr.OpenOrders())
	for _, o := range h.orders.m {
		assert.Equal(t, domain.OrderStatusCancelled, o.Status, o.ExchangeID)
	}
	positions := h.mgr.OpenPositions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 4.0, positions[0].Size, 1e-9)
	assert.InDelta(t, 1.6, h.mgr.RiskState().ExposureUSD, 1e-9)
	assert.Len(t, h.fills.fills, 1)
	h.assertExposureInvariant(t)
}

func TestEntryFillRecordsWindowEnd(t *testing.T) {
	h := newHarness(t, defaultRisk())
	pos := h.openPosition(t, w1, 0.50, 10, t0)
	assert.Equal(t, w1.End, pos.WindowEnd)
	assert.Equal(t, w1.End, h.positions.m[pos.ID].WindowEnd)
}

// After a restart the registry only knows the new window; positions left
// from the previous process are still flattened once their window is over.
func TestRestoredPositionFromUnknownWindowIsFlattened(t *testing.T) {
	h := newHarness(t, defaultRisk())
	ctx := context.Background()
	prevEnd := t0.Add(-time.Minute)
	h.positions.m["p-stored"] = domain.Position{
		ID: "p-stored", Outcome: domain.OutcomeUp, TokenID: "up0", EntryPrice: 0.5, Size: 20,
		OpenedAt: prevEnd.Add(-3 * time.Minute), WindowSlug: "w0", WindowEnd: prevEnd,
		Status: domain.PositionStatusOpen, Mode: "paper",
	}
	h.positions.m["p-legacy"] = domain.Position{
		ID: "p-legacy", Outcome: domain.OutcomeDown, TokenID: "down0", EntryPrice: 0.4, Size: 10,
		OpenedAt: t0.Add(-2 * time.Minute), WindowSlug: "w0-legacy",
		Status: domain.PositionStatusOpen, Mode: "paper",
	}
	h.mgr.cfg.WindowLength = 5 * time.Minute

	require.NoError(t, h.mgr.Restore(ctx, t0))
	assert.InDelta(t, 14.0, h.mgr.RiskState().ExposureUSD, 1e-9)
	h.reg.Install(w2, t0)

	require.NoError(t, h.mgr.Sync(ctx, t0))
	positions := h.mgr.OpenPositions()
	require.Len(t, positions, 1, "stored window end plus grace has passed")
	assert.Equal(t, "p-legacy", positions[0].ID)
	assert.Equal(t, domain.ExitFlatten, h.positions.m["p-stored"].ExitReason)

	// The legacy row has no stored end; its window is bounded by open time
	// plus the window length.
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(3*time.Minute+5*time.Second)))
	require.Len(t, h.mgr.OpenPositions(), 1)
	require.NoError(t, h.mgr.Sync(ctx, t0.Add(3*time.Minute+11*time.Second)))
	assert.Empty(t, h.mgr.OpenPositions())
	assert.Zero(t, h.mgr.RiskState().ExposureUSD)

	assert.Equal(t, 2, h.events.flattened)
	var flattens int
	for _, ev := range h.errs.evs {
		if ev.Kind == "flatten" {
			flattens++
		}
	}
	assert.Equal(t, 2, flattens)
	assert.Len(t, h.pnl.recs, 2)
}
