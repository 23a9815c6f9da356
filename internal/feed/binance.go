package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/binance"
)

type tradeSource interface {
	Next() (domain.TradeTick, error)
	Close() error
}

// TradeFeed keeps the latest BTC trade and a rolling price history.
type TradeFeed struct {
	url     string
	sup     *Supervisor
	latest  Latest[domain.TradeTick]
	history *PriceHistory
	logger  *slog.Logger

	now     func() time.Time
	dial    func(ctx context.Context, url string) (tradeSource, error)
	onTrade func(domain.TradeTick)
}

// NewTradeFeed creates a feed for the trade stream at url keeping up to
// history prices.
func NewTradeFeed(url string, history int, policy BackoffPolicy, logger *slog.Logger) *TradeFeed {
	return &TradeFeed{
		url:     url,
		sup:     NewSupervisor("binance_trades", policy, logger),
		history: NewPriceHistory(history),
		logger:  logger.With(slog.String("component", "trade_feed")),
		now:     time.Now,
		dial: func(ctx context.Context, url string) (tradeSource, error) {
			return binance.DialTrades(ctx, url)
		},
	}
}

// OnTrade registers a hook called for every trade, from the feed goroutine.
// It must not block.
func (f *TradeFeed) OnTrade(fn func(domain.TradeTick)) {
	f.onTrade = fn
}

// Run streams trades until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	return f.sup.Run(ctx, f.session)
}

func (f *TradeFeed) session(ctx context.Context, connected func()) error {
	src, err := f.dial(ctx, f.url)
	if err != nil {
		return err
	}
	defer src.Close()
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	connected()
	for {
		tick, err := src.Next()
		if err != nil {
			return err
		}
		f.ingest(tick)
	}
}

func (f *TradeFeed) ingest(tick domain.TradeTick) {
	f.latest.Store(tick, f.now())
	f.history.Append(tick.Price)
	if f.onTrade != nil {
		f.onTrade(tick)
	}
}

// LatestTrade returns the most recent trade and when it was received.
func (f *TradeFeed) LatestTrade() (domain.TradeTick, time.Time, bool) {
	return f.latest.Load()
}

// Prices returns up to n of the newest trade prices, oldest first.
func (f *TradeFeed) Prices(n int) []float64 {
	return f.history.Tail(n)
}

// Connected reports whether the stream is currently live.
func (f *TradeFeed) Connected() bool {
	return f.sup.State() == StateConnected
}

// State returns the stream's connection state.
func (f *TradeFeed) State() ConnState {
	return f.sup.State()
}
