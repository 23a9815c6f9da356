package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
)

// Clob is the subset of the CLOB client the live executor needs.
type Clob interface {
	PostOrder(ctx context.Context, req domain.LimitOrderRequest, salt int64) (polymarket.APIOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (polymarket.APIOrder, error)
}

// LiveConfig tunes request pacing and retries.
type LiveConfig struct {
	OrdersPerMinute int
	Backoff         feed.BackoffPolicy
	// MaxRetries bounds retries of rate-limited requests.
	MaxRetries int
}

// Live submits orders to the Polymarket CLOB. Fills are derived from the
// growth of an order's matched size between polls.
type Live struct {
	clob    Clob
	cfg     LiveConfig
	limiter *rate.Limiter
	dedup   *Dedup
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	tracks map[string]*matchTrack
}

// matchTrack is the matched-size high-water mark of one order. It outlives
// the venue closing the order so a late poll never reports the same size
// twice.
type matchTrack struct {
	matched float64
	closed  bool
}

// NewLive creates a live executor over clob.
func NewLive(clob Clob, cfg LiveConfig, logger *slog.Logger) *Live {
	perMin := cfg.OrdersPerMinute
	if perMin <= 0 {
		perMin = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Live{
		clob:    clob,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60), max(1, perMin/10)),
		dedup:   NewDedup(10 * time.Minute),
		logger:  logger.With(slog.String("component", "live_executor")),
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		tracks: make(map[string]*matchTrack),
	}
}

// SubmitLimit posts a GTC limit order. Rejections are not retried; rate
// limits are, with backoff.
func (l *Live) SubmitLimit(ctx context.Context, req domain.LimitOrderRequest) (string, error) {
	if l.dedup.IsDuplicate(req.ClientID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSubmit, req.ClientID)
	}

	salt := int64(uuid.New().ID())
	var res polymarket.APIOrderResult
	err := l.retry(ctx, "post_order", func() error {
		var err error
		res, err = l.clob.PostOrder(ctx, req, salt)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			l.dedup.Forget(req.ClientID)
		}
		return "", fmt.Errorf("executor/live: submit: %w", err)
	}

	l.logger.InfoContext(ctx, "order posted",
		slog.String("order_id", res.OrderID),
		slog.String("status", res.Status),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
	)
	return res.OrderID, nil
}

// Cancel cancels the order at the venue.
func (l *Live) Cancel(ctx context.Context, orderID string) error {
	err := l.retry(ctx, "cancel_order", func() error {
		return l.clob.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return fmt.Errorf("executor/live: cancel: %w", err)
	}
	return nil
}

// PollFills fetches the order and reports any newly matched size as a
// fill at the order price. Once the venue has closed the order and its
// last matched size has been reported, it returns domain.ErrOrderClosed.
func (l *Live) PollFills(ctx context.Context, orderID string) ([]domain.Fill, error) {
	l.mu.Lock()
	tr, ok := l.tracks[orderID]
	if !ok {
		tr = &matchTrack{}
		l.tracks[orderID] = tr
	}
	closed := tr.closed
	l.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("executor/live: poll %s: %w", orderID, domain.ErrOrderClosed)
	}

	var o polymarket.APIOrder
	err := l.retry(ctx, "get_order", func() error {
		var err error
		o, err = l.clob.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("executor/live: poll: %w", err)
	}

	matched, err := strconv.ParseFloat(o.SizeMatched, 64)
	if err != nil && o.SizeMatched != "" {
		return nil, fmt.Errorf("executor/live: parse size_matched %q: %w", o.SizeMatched, err)
	}
	price, _ := strconv.ParseFloat(o.Price, 64)

	l.mu.Lock()
	prev := tr.matched
	if matched > prev {
		tr.matched = matched
	}
	tr.closed = isClosedStatus(o.Status)
	closed = tr.closed
	l.mu.Unlock()

	if matched <= prev {
		if closed {
			return nil, fmt.Errorf("executor/live: poll %s: %w", orderID, domain.ErrOrderClosed)
		}
		return nil, nil
	}
	return []domain.Fill{{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Price:     price,
		Size:      matched - prev,
		Timestamp: l.now(),
	}}, nil
}

func isClosedStatus(s string) bool {
	switch strings.ToLower(s) {
	case "matched", "canceled", "cancelled", "filled":
		return true
	}
	return false
}

// retry runs fn after waiting for the rate limiter, retrying only
// rate-limit errors.
func (l *Live) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if werr := l.limiter.Wait(ctx); werr != nil {
			return werr
		}
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrRateLimited) || attempt > l.cfg.MaxRetries {
			return err
		}
		delay := l.cfg.Backoff.Delay(attempt, rand.Float64)
		l.logger.WarnContext(ctx, "rate limited, backing off",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if serr := l.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}
