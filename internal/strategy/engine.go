package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

// TradeSource is the BTC trade cache.
type TradeSource interface {
	LatestTrade() (domain.TradeTick, time.Time, bool)
	Prices(n int) []float64
}

// QuoteSource is the order book cache.
type QuoteSource interface {
	LatestQuote(tokenID string) (domain.Quote, time.Time, bool)
}

// WindowSource returns the active market window.
type WindowSource interface {
	Active() (domain.MarketWindow, bool)
}

// OrderManager executes decisions. It owns positions and the risk state.
type OrderManager interface {
	// Sync advances resting orders and flattens positions whose window
	// has expired.
	Sync(ctx context.Context, now time.Time) error
	OpenPositions() []domain.Position
	CheckEntry(notional float64, exp risk.Exposure, now time.Time) risk.Verdict
	SubmitExit(ctx context.Context, intent domain.ExitIntent, now time.Time) error
	SubmitEntry(ctx context.Context, intent domain.EntryIntent, now time.Time) error
}

// EngineConfig holds the engine's timing and model settings.
type EngineConfig struct {
	Mode         string
	LoopInterval time.Duration
	// MaxAge is the staleness threshold for trades and quotes.
	MaxAge             time.Duration
	QuotePrintInterval time.Duration
	Model              Model
	Params             Params
}

// Engine runs the fixed-cadence decision loop. Each tick samples the
// caches, decides, persists one snapshot and hands intents to the order
// manager. It never waits on a feed.
type Engine struct {
	cfg     EngineConfig
	trades  TradeSource
	quotes  QuoteSource
	windows WindowSource
	manager OrderManager
	store   domain.DecisionStore
	errs    domain.ErrorStore
	logger  *slog.Logger

	now        func() time.Time
	entries    atomic.Bool
	last       atomic.Pointer[domain.DecisionSnapshot]
	lastPrint  time.Time
	onDecision func(Decision)
}

// NewEngine creates an Engine. errs may be nil.
func NewEngine(
	cfg EngineConfig,
	trades TradeSource,
	quotes QuoteSource,
	windows WindowSource,
	manager OrderManager,
	store domain.DecisionStore,
	errs domain.ErrorStore,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		cfg:     cfg,
		trades:  trades,
		quotes:  quotes,
		windows: windows,
		manager: manager,
		store:   store,
		errs:    errs,
		logger:  logger.With(slog.String("component", "decision_engine")),
		now:     time.Now,
	}
	e.entries.Store(true)
	return e
}

// OnDecision registers a hook called after every tick.
func (e *Engine) OnDecision(fn func(Decision)) {
	e.onDecision = fn
}

// DisableEntries stops new entries. Exits keep running.
func (e *Engine) DisableEntries() {
	if e.entries.CompareAndSwap(true, false) {
		e.logger.Info("new entries disabled")
	}
}

// LastDecision returns the most recent snapshot, if any.
func (e *Engine) LastDecision() (domain.DecisionSnapshot, bool) {
	s := e.last.Load()
	if s == nil {
		return domain.DecisionSnapshot{}, false
	}
	return *s, true
}

// Run ticks every LoopInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "decision loop started",
		slog.Duration("interval", e.cfg.LoopInterval),
		slog.String("mode", e.cfg.Mode),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// safeTick runs one tick, turning a panic into a logged error event so
// the loop carries on.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "decision tick panicked", slog.Any("panic", r))
			e.recordError(ctx, "panic", fmt.Sprint(r), map[string]any{"stack": string(debug.Stack())})
		}
	}()
	e.Tick(ctx)
}

// Tick runs one decision cycle and returns its result.
func (e *Engine) Tick(ctx context.Context) Decision {
	now := e.now()

	if err := e.manager.Sync(ctx, now); err != nil {
		e.logger.WarnContext(ctx, "order sync failed", slog.String("error", err.Error()))
		e.recordError(ctx, "sync", err.Error(), nil)
	}

	in := e.sample(now)
	d := Decide(e.cfg.Params, in, func(notional float64, exp risk.Exposure) risk.Verdict {
		return e.manager.CheckEntry(notional, exp, now)
	})
	d.Snapshot.Mode = e.cfg.Mode
	if d.Entry != nil && !e.entries.Load() {
		d.Entry = nil
		d.Snapshot.Reason = domain.ReasonEntriesDisabled
	}

	if err := e.store.Insert(ctx, d.Snapshot); err != nil {
		e.logger.WarnContext(ctx, "persist decision failed", slog.String("error", err.Error()))
	}
	snap := d.Snapshot
	e.last.Store(&snap)

	for _, x := range d.Exits {
		if err := e.manager.SubmitExit(ctx, x, now); err != nil {
			e.logger.WarnContext(ctx, "exit submission failed",
				slog.String("position_id", x.PositionID),
				slog.String("reason", string(x.Reason)),
				slog.String("error", err.Error()),
			)
		}
	}
	if d.Entry != nil {
		if err := e.manager.SubmitEntry(ctx, *d.Entry, now); err != nil {
			e.logger.WarnContext(ctx, "entry submission failed",
				slog.String("outcome", string(d.Entry.Outcome)),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.DebugContext(ctx, "decision",
		slog.String("reason", string(snap.Reason)),
		slog.String("window", snap.WindowSlug),
		slog.Float64("p_up_model", snap.PUpModel),
		slog.Float64("p_up_mkt", snap.PUpMkt),
		slog.Float64("edge_up", snap.EdgeUp),
	)
	e.maybePrint(ctx, snap)

	if e.onDecision != nil {
		e.onDecision(d)
	}
	return d
}

// sample reads every cache once. Stale values are treated as missing.
func (e *Engine) sample(now time.Time) TickInput {
	in := TickInput{
		Now:       now,
		Quotes:    make(map[string]domain.Quote),
		Positions: e.manager.OpenPositions(),
	}
	if w, ok := e.windows.Active(); ok {
		in.Window = &w
	}

	trade, at, ok := e.trades.LatestTrade()
	switch {
	case !ok:
		in.PUpErr = fmt.Errorf("%w: no trades yet", domain.ErrInsufficientData)
	case now.Sub(at) > e.cfg.MaxAge:
		in.BTCPrice = trade.Price
		in.PUpErr = fmt.Errorf("%w: last trade %s old", domain.ErrStaleQuote, now.Sub(at).Round(time.Millisecond))
	default:
		in.BTCPrice = trade.Price
		in.PUp, in.PUpErr = e.cfg.Model.PUp(e.trades.Prices(e.cfg.Model.Samples()))
	}

	tokens := make([]string, 0, 2+len(in.Positions))
	if in.Window != nil {
		tokens = append(tokens, in.Window.UpTokenID, in.Window.DownTokenID)
	}
	for _, p := range in.Positions {
		tokens = append(tokens, p.TokenID)
	}
	for _, t := range tokens {
		if _, done := in.Quotes[t]; done {
			continue
		}
		q, at, ok := e.quotes.LatestQuote(t)
		if ok && now.Sub(at) <= e.cfg.MaxAge {
			in.Quotes[t] = q
		}
	}
	return in
}

func (e *Engine) maybePrint(ctx context.Context, s domain.DecisionSnapshot) {
	if e.cfg.QuotePrintInterval <= 0 || s.Timestamp.Sub(e.lastPrint) < e.cfg.QuotePrintInterval {
		return
	}
	e.lastPrint = s.Timestamp
	e.logger.InfoContext(ctx, "quotes",
		slog.String("window", s.WindowSlug),
		slog.Float64("btc", s.BTCPrice),
		slog.Float64("up_bid", s.UpBid),
		slog.Float64("up_ask", s.UpAsk),
		slog.Float64("down_bid", s.DownBid),
		slog.Float64("down_ask", s.DownAsk),
		slog.Float64("p_up_model", s.PUpModel),
		slog.Float64("edge_up", s.EdgeUp),
		slog.String("reason", string(s.Reason)),
	)
}

func (e *Engine) recordError(ctx context.Context, kind, msg string, detail map[string]any) {
	if e.errs == nil {
		return
	}
	ev := domain.ErrorEvent{Kind: kind, Message: msg, Detail: detail, CreatedAt: e.now()}
	if err := e.errs.Record(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "record error event failed", slog.String("error", err.Error()))
	}
}
