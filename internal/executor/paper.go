package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// QuoteFunc returns the current fresh quote for a token.
type QuoteFunc func(tokenID string) (domain.Quote, bool)

// PaperConfig tunes the fill simulation.
type PaperConfig struct {
	// Epsilon lets a buy fill when the ask is within Epsilon above the
	// limit (a sell when the bid is within Epsilon below).
	Epsilon float64
	// MaxFillFraction caps each simulated fill at this fraction of the
	// order size. 1 fills the whole remainder at once.
	MaxFillFraction float64
}

type paperOrder struct {
	req       domain.LimitOrderRequest
	remaining float64
}

// Paper simulates resting limit orders against live quotes. A resting buy
// fills at its limit once the ask trades through it; sells mirror this on
// the bid.
type Paper struct {
	cfg    PaperConfig
	quotes QuoteFunc
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]*paperOrder
}

// NewPaper creates a paper executor reading quotes from quotes.
func NewPaper(cfg PaperConfig, quotes QuoteFunc, logger *slog.Logger) *Paper {
	if cfg.MaxFillFraction <= 0 || cfg.MaxFillFraction > 1 {
		cfg.MaxFillFraction = 1
	}
	return &Paper{
		cfg:    cfg,
		quotes: quotes,
		logger: logger.With(slog.String("component", "paper_executor")),
		now:    time.Now,
		orders: make(map[string]*paperOrder),
	}
}

// SubmitLimit rests an order on the simulated book.
func (p *Paper) SubmitLimit(_ context.Context, req domain.LimitOrderRequest) (string, error) {
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		return "", fmt.Errorf("executor/paper: %w: price %v size %v", domain.ErrInvalidOrder, req.Price, req.Size)
	}
	id := "paper-" + uuid.NewString()
	p.mu.Lock()
	p.orders[id] = &paperOrder{req: req, remaining: req.Size}
	p.mu.Unlock()
	p.logger.Debug("paper order resting",
		slog.String("order_id", id),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
	)
	return id, nil
}

// Cancel removes a resting order.
func (p *Paper) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return fmt.Errorf("executor/paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	delete(p.orders, orderID)
	return nil
}

// PollFills checks the order against the current touch and returns at most
// one fill.
func (p *Paper) PollFills(_ context.Context, orderID string) ([]domain.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("executor/paper: poll %s: %w", orderID, domain.ErrNotFound)
	}
	q, ok := p.quotes(o.req.TokenID)
	if !ok || !p.crosses(o.req, q) {
		return nil, nil
	}

	size := o.req.Size * p.cfg.MaxFillFraction
	if size > o.remaining || p.cfg.MaxFillFraction >= 1 {
		size = o.remaining
	}
	o.remaining -= size
	if o.remaining <= 1e-9 {
		delete(p.orders, orderID)
	}
	return []domain.Fill{{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Price:     o.req.Price,
		Size:      size,
		Timestamp: p.now(),
	}}, nil
}

func (p *Paper) crosses(req domain.LimitOrderRequest, q domain.Quote) bool {
	if req.Side == domain.OrderSideBuy {
		return q.BestAsk > 0 && q.BestAsk <= req.Price+p.cfg.Epsilon
	}
	return q.BestBid > 0 && q.BestBid >= req.Price-p.cfg.Epsilon
}
