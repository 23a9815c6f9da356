// Package service holds the order and position manager, the single owner
// of orders, positions and the risk state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/registry"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

// WindowLookup exposes registry snapshots.
type WindowLookup interface {
	Snapshot() *registry.Snapshot
}

// MarkFunc returns the last known bid for a token, used to price forced
// flattens.
type MarkFunc func(tokenID string) (float64, bool)

// ManagerConfig configures the order manager.
type ManagerConfig struct {
	Mode             string
	AllowCrossWindow bool
	// ExitGrace is how long after a window ends an exit may still fill
	// before the position is flattened.
	ExitGrace time.Duration
	// WindowLength bounds a restored position whose window end is unknown:
	// its window is taken to end WindowLength after it opened.
	WindowLength time.Duration
}

// exitProgress accumulates exit fills for one position.
type exitProgress struct {
	size  float64
	value float64
}

// OrderManager executes entry and exit intents, tracks orders, fills and
// positions, realizes PnL and keeps the risk gate's exposure current. All
// methods serialize on one mutex, so the manager is the only writer of
// positions and risk state.
type OrderManager struct {
	cfg     ManagerConfig
	exec    executor.Executor
	gate    *risk.Gate
	windows WindowLookup
	stores  domain.Stores
	events  Events
	mark    MarkFunc
	logger  *slog.Logger

	mu        sync.Mutex
	orders    map[string]*domain.Order // live (non-terminal) orders by id
	positions map[string]*domain.Position
	exits     map[string]*exitProgress // by position id
}

// NewOrderManager wires an OrderManager. events and mark may be nil.
func NewOrderManager(
	cfg ManagerConfig,
	exec executor.Executor,
	gate *risk.Gate,
	windows WindowLookup,
	stores domain.Stores,
	events Events,
	mark MarkFunc,
	logger *slog.Logger,
) *OrderManager {
	if events == nil {
		events = NopEvents{}
	}
	return &OrderManager{
		cfg:       cfg,
		exec:      exec,
		gate:      gate,
		windows:   windows,
		stores:    stores,
		events:    events,
		mark:      mark,
		logger:    logger.With(slog.String("component", "order_manager")),
		orders:    make(map[string]*domain.Order),
		positions: make(map[string]*domain.Position),
		exits:     make(map[string]*exitProgress),
	}
}

// Restore reloads open positions and today's realized PnL from
// persistence so a restarted process resumes with the same exposure and
// kill switch state.
func (m *OrderManager) Restore(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, err := m.stores.Positions.ListOpen(ctx, m.cfg.Mode)
	if err != nil {
		return fmt.Errorf("order_manager: restore positions: %w", err)
	}
	snap := m.windows.Snapshot()
	for i := range open {
		p := open[i]
		if w, ok := snap.Lookup(p.WindowSlug); ok && !w.End.IsZero() {
			p.WindowEnd = w.End
		}
		m.positions[p.ID] = &p
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	pnl, err := m.stores.PnL.SumSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("order_manager: restore pnl: %w", err)
	}
	m.gate.Rollover(now)
	if pnl != 0 {
		m.gate.RecordPnL(pnl, now)
	}
	m.recomputeExposureLocked()

	m.logger.InfoContext(ctx, "state restored",
		slog.Int("open_positions", len(open)),
		slog.Float64("daily_realized_pnl", pnl),
	)
	return nil
}

// CheckEntry asks the risk gate about an entry of notional USD.
func (m *OrderManager) CheckEntry(notional float64, exp risk.Exposure, now time.Time) risk.Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate.Check(notional, exp, now)
}

// RiskState returns a copy of the risk state.
func (m *OrderManager) RiskState() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate.State()
}

// OpenPositions returns copies of the open positions, oldest first.
func (m *OrderManager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenOrders returns copies of the live orders.
func (m *OrderManager) OpenOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HasOpenPositionIn reports whether any open position belongs to slug.
func (m *OrderManager) HasOpenPositionIn(slug string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.WindowSlug == slug {
			return true
		}
	}
	return false
}

// PendingExits returns how many exit orders are still resting.
func (m *OrderManager) PendingExits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.Purpose == domain.OrderPurposeExit {
			n++
		}
	}
	return n
}

// SubmitEntry places a resting buy for intent. It does nothing when an
// entry on the same token is already resting.
func (m *OrderManager) SubmitEntry(ctx context.Context, intent domain.EntryIntent, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.Purpose == domain.OrderPurposeEntry && o.TokenID == intent.TokenID {
			m.logger.DebugContext(ctx, "entry already resting", slog.String("order_id", o.ID))
			return nil
		}
	}

	o := &domain.Order{
		ID:         uuid.NewString(),
		Side:       domain.OrderSideBuy,
		Outcome:    intent.Outcome,
		TokenID:    intent.TokenID,
		LimitPrice: intent.LimitPrice,
		Size:       intent.Size,
		Status:     domain.OrderStatusPending,
		Purpose:    domain.OrderPurposeEntry,
		WindowSlug: intent.WindowSlug,
		Mode:       m.cfg.Mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.submitLocked(ctx, o, now); err != nil {
		return err
	}
	m.gate.RecordEntry(now)
	return nil
}

// SubmitExit places a resting sell for a position. Resting entries on the
// same token are cancelled first. A position with an exit already resting
// is left alone.
func (m *OrderManager) SubmitExit(ctx context.Context, intent domain.ExitIntent, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[intent.PositionID]
	if !ok {
		return fmt.Errorf("order_manager: exit %s: %w", intent.PositionID, domain.ErrNotFound)
	}
	for _, o := range m.orders {
		if o.Purpose == domain.OrderPurposeExit && o.PositionID == pos.ID {
			return nil
		}
	}
	for _, o := range m.liveOrdersLocked() {
		if o.Purpose == domain.OrderPurposeEntry && o.TokenID == pos.TokenID {
			m.cancelLocked(ctx, o, now, "superseded by exit")
		}
	}

	size := pos.Size
	if prog := m.exits[pos.ID]; prog != nil {
		size -= prog.size
	}
	o := &domain.Order{
		ID:         uuid.NewString(),
		Side:       domain.OrderSideSell,
		Outcome:    pos.Outcome,
		TokenID:    pos.TokenID,
		LimitPrice: intent.LimitPrice,
		Size:       size,
		Status:     domain.OrderStatusPending,
		Purpose:    domain.OrderPurposeExit,
		ExitReason: intent.Reason,
		PositionID: pos.ID,
		WindowSlug: pos.WindowSlug,
		Mode:       m.cfg.Mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.logger.InfoContext(ctx, "exiting position",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(intent.Reason)),
		slog.Float64("price", intent.LimitPrice),
	)
	return m.submitLocked(ctx, o, now)
}

func (m *OrderManager) submitLocked(ctx context.Context, o *domain.Order, now time.Time) error {
	exID, err := m.exec.SubmitLimit(ctx, domain.LimitOrderRequest{
		ClientID: o.ID,
		TokenID:  o.TokenID,
		Side:     o.Side,
		Price:    o.LimitPrice,
		Size:     o.Size,
	})
	if err != nil {
		_ = o.Transition(domain.OrderStatusRejected, now)
		o.Error = err.Error()
		m.persistOrder(ctx, *o)
		m.recordError(ctx, "order_rejected", err.Error(), map[string]any{
			"order_id": o.ID,
			"purpose":  string(o.Purpose),
			"token_id": o.TokenID,
		}, now)
		m.events.OrderChanged(ctx, *o)
		return fmt.Errorf("order_manager: %w: %w", domain.ErrOrderRejected, err)
	}

	o.ExchangeID = exID
	m.orders[o.ID] = o
	m.persistOrder(ctx, *o)
	m.events.OrderChanged(ctx, *o)
	m.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", o.ID),
		slog.String("exchange_id", exID),
		slog.String("purpose", string(o.Purpose)),
		slog.String("side", string(o.Side)),
		slog.Float64("price", o.LimitPrice),
		slog.Float64("size", o.Size),
	)
	return nil
}

// Sync polls every live order for fills, then flattens positions whose
// window has expired.
func (m *OrderManager) Sync(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gate.Rollover(now)

	var errs []error
	for _, o := range m.liveOrdersLocked() {
		fills, err := m.exec.PollFills(ctx, o.ExchangeID)
		if errors.Is(err, domain.ErrOrderClosed) {
			m.dropClosedLocked(ctx, o, now)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("poll %s: %w", o.ID, err))
			continue
		}
		for _, f := range fills {
			if err := m.applyFillLocked(ctx, o, f); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}

	m.flattenExpiredLocked(ctx, now)
	return errors.Join(errs...)
}

// dropClosedLocked retires an order the venue closed before it filled,
// typically a resting order swept when its market closed.
func (m *OrderManager) dropClosedLocked(ctx context.Context, o *domain.Order, now time.Time) {
	delete(m.orders, o.ID)
	if err := o.Transition(domain.OrderStatusCancelled, now); err != nil {
		m.logger.WarnContext(ctx, "venue close transition", slog.String("error", err.Error()))
		return
	}
	m.persistOrder(ctx, *o)
	m.events.OrderChanged(ctx, *o)
	m.logger.InfoContext(ctx, "order closed by venue",
		slog.String("order_id", o.ID),
		slog.String("purpose", string(o.Purpose)),
		slog.Float64("filled", o.FilledSize),
	)
}

func (m *OrderManager) applyFillLocked(ctx context.Context, o *domain.Order, f domain.Fill) error {
	f.OrderID = o.ID
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := o.ApplyFill(f); err != nil {
		m.recordError(ctx, "fill", err.Error(), map[string]any{"order_id": o.ID}, f.Timestamp)
		return fmt.Errorf("order_manager: apply fill: %w", err)
	}
	if err := m.stores.Fills.Insert(ctx, f); err != nil {
		m.logger.WarnContext(ctx, "persist fill failed", slog.String("error", err.Error()))
	}
	if o.Status.Terminal() {
		delete(m.orders, o.ID)
	}

	switch o.Purpose {
	case domain.OrderPurposeEntry:
		m.applyEntryFillLocked(ctx, o, f)
	case domain.OrderPurposeExit:
		m.applyExitFillLocked(ctx, o, f)
	}
	m.persistOrder(ctx, *o)
	m.events.OrderChanged(ctx, *o)
	return nil
}

func (m *OrderManager) applyEntryFillLocked(ctx context.Context, o *domain.Order, f domain.Fill) {
	pos, ok := m.positions[o.PositionID]
	if !ok {
		pos = &domain.Position{
			ID:         uuid.NewString(),
			Outcome:    o.Outcome,
			TokenID:    o.TokenID,
			EntryPrice: f.Price,
			Size:       f.Size,
			OpenedAt:   f.Timestamp,
			WindowSlug: o.WindowSlug,
			Status:     domain.PositionStatusOpen,
			Mode:       m.cfg.Mode,
		}
		if w, ok := m.windows.Snapshot().Lookup(o.WindowSlug); ok {
			pos.WindowEnd = w.End
		}
		o.PositionID = pos.ID
		m.positions[pos.ID] = pos
		m.logger.InfoContext(ctx, "position opened",
			slog.String("position_id", pos.ID),
			slog.String("outcome", string(pos.Outcome)),
			slog.String("window", pos.WindowSlug),
			slog.Float64("entry_price", pos.EntryPrice),
			slog.Float64("size", pos.Size),
		)
	} else {
		pos.AddFill(f.Price, f.Size)
	}
	m.persistPosition(ctx, *pos)
	m.recomputeExposureLocked()
	m.events.PositionChanged(ctx, *pos)
}

func (m *OrderManager) applyExitFillLocked(ctx context.Context, o *domain.Order, f domain.Fill) {
	pos, ok := m.positions[o.PositionID]
	if !ok {
		return
	}
	prog := m.exits[pos.ID]
	if prog == nil {
		prog = &exitProgress{}
		m.exits[pos.ID] = prog
	}
	prog.size += f.Size
	prog.value += f.Price * f.Size

	if prog.size < pos.Size-1e-9 {
		return
	}
	m.closeLocked(ctx, pos, prog.value/prog.size, o.ExitReason, f.Timestamp)
}

// closeLocked closes pos, realizes PnL and feeds it to the risk gate.
func (m *OrderManager) closeLocked(ctx context.Context, pos *domain.Position, exitPrice float64, reason domain.ExitReason, at time.Time) {
	if err := pos.Close(exitPrice, reason, at); err != nil {
		m.logger.ErrorContext(ctx, "close position failed", slog.String("error", err.Error()))
		return
	}
	delete(m.positions, pos.ID)
	delete(m.exits, pos.ID)

	rec := domain.PnLRecord{
		PositionID:  pos.ID,
		WindowSlug:  pos.WindowSlug,
		ExitReason:  reason,
		RealizedPnL: domain.RealizedPnL(pos.EntryPrice, exitPrice, pos.Size, 1),
		ClosedAt:    at,
	}
	m.persistPosition(ctx, *pos)
	if err := m.stores.PnL.Insert(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "persist pnl failed", slog.String("error", err.Error()))
	}

	wasKilled := m.gate.State().KillSwitchActive
	m.gate.RecordPnL(rec.RealizedPnL, at)
	m.recomputeExposureLocked()

	m.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", string(reason)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", rec.RealizedPnL),
	)
	m.events.PositionClosed(ctx, *pos, rec)
	if st := m.gate.State(); st.KillSwitchActive && !wasKilled {
		m.events.KillSwitch(ctx, st)
	}
}

// flattenExpiredLocked force-closes positions whose window ended more than
// ExitGrace ago without an exit filling. Each flatten is recorded as an
// error event.
func (m *OrderManager) flattenExpiredLocked(ctx context.Context, now time.Time) {
	if m.cfg.AllowCrossWindow || len(m.positions) == 0 {
		return
	}
	snap := m.windows.Snapshot()
	for _, pos := range m.positionsLocked() {
		end := m.windowEndLocked(snap, pos)
		if end.IsZero() || now.Before(end.Add(m.cfg.ExitGrace)) {
			continue
		}

		for _, o := range m.liveOrdersLocked() {
			if o.PositionID == pos.ID || (o.Purpose == domain.OrderPurposeEntry && o.TokenID == pos.TokenID) {
				m.cancelLocked(ctx, o, now, "window expired")
			}
		}

		price, marked := pos.EntryPrice, false
		if m.mark != nil {
			if bid, ok := m.mark(pos.TokenID); ok && bid > 0 {
				price, marked = bid, true
			}
		}
		err := fmt.Errorf("%w: position %s in window %s has no filled exit", domain.ErrFlattenFailure, pos.ID, pos.WindowSlug)
		m.logger.ErrorContext(ctx, "flattening position",
			slog.String("position_id", pos.ID),
			slog.String("window", pos.WindowSlug),
			slog.Float64("price", price),
			slog.Bool("marked", marked),
		)
		m.recordError(ctx, "flatten", err.Error(), map[string]any{
			"position_id": pos.ID,
			"window":      pos.WindowSlug,
			"price":       price,
			"marked":      marked,
		}, now)
		m.events.FlattenFailed(ctx, *pos, err)

		exitPrice := price
		if prog := m.exits[pos.ID]; prog != nil && prog.size > 0 {
			exitPrice = (prog.value + price*(pos.Size-prog.size)) / pos.Size
		}
		m.closeLocked(ctx, pos, exitPrice, domain.ExitFlatten, now)
	}
}

// windowEndLocked resolves when the window of pos ends: from the registry,
// else from the end stored with the position, else from its open time.
func (m *OrderManager) windowEndLocked(snap *registry.Snapshot, pos *domain.Position) time.Time {
	if w, ok := snap.Lookup(pos.WindowSlug); ok && !w.End.IsZero() {
		return w.End
	}
	if !pos.WindowEnd.IsZero() {
		return pos.WindowEnd
	}
	if m.cfg.WindowLength > 0 && !pos.OpenedAt.IsZero() {
		return pos.OpenedAt.Add(m.cfg.WindowLength)
	}
	return time.Time{}
}

// OnRotated cancels resting entries for the window that was replaced.
func (m *OrderManager) OnRotated(ctx context.Context, ev domain.MarketRotated) {
	if ev.Old == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.liveOrdersLocked() {
		if o.Purpose == domain.OrderPurposeEntry && o.WindowSlug == ev.Old.Slug {
			m.cancelLocked(ctx, o, ev.At, "market rotated")
		}
	}
}

// CancelEntries cancels every resting entry, used when shutting down.
func (m *OrderManager) CancelEntries(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.liveOrdersLocked() {
		if o.Purpose == domain.OrderPurposeEntry {
			m.cancelLocked(ctx, o, now, "shutdown")
		}
	}
}

func (m *OrderManager) cancelLocked(ctx context.Context, o *domain.Order, now time.Time, why string) {
	if err := m.exec.Cancel(ctx, o.ExchangeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.WarnContext(ctx, "cancel failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := o.Transition(domain.OrderStatusCancelled, now); err != nil {
		m.logger.WarnContext(ctx, "cancel transition", slog.String("error", err.Error()))
		return
	}
	delete(m.orders, o.ID)
	m.persistOrder(ctx, *o)
	m.events.OrderChanged(ctx, *o)
	m.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", o.ID),
		slog.String("purpose", string(o.Purpose)),
		slog.String("why", why),
	)
}

// recomputeExposureLocked sets the gate's exposure to the open notional.
func (m *OrderManager) recomputeExposureLocked() {
	var total float64
	for _, p := range m.positions {
		total += p.Notional()
	}
	m.gate.SetExposure(total)
}

func (m *OrderManager) liveOrdersLocked() []*domain.Order {
	out := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *OrderManager) positionsLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (m *OrderManager) persistOrder(ctx context.Context, o domain.Order) {
	if err := m.stores.Orders.Upsert(ctx, o); err != nil {
		m.logger.WarnContext(ctx, "persist order failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *OrderManager) persistPosition(ctx context.Context, p domain.Position) {
	if err := m.stores.Positions.Upsert(ctx, p); err != nil {
		m.logger.WarnContext(ctx, "persist position failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *OrderManager) recordError(ctx context.Context, kind, msg string, detail map[string]any, at time.Time) {
	if m.stores.Errors == nil {
		return
	}
	if err := m.stores.Errors.Record(ctx, domain.ErrorEvent{Kind: kind, Message: msg, Detail: detail, CreatedAt: at}); err != nil {
		m.logger.WarnContext(ctx, "record error event failed", slog.String("error", err.Error()))
	}
}
