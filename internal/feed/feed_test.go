package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoffDelay(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(0, nil))
	assert.Equal(t, time.Second, p.Delay(1, nil))
	assert.Equal(t, 4*time.Second, p.Delay(3, nil))
	assert.Equal(t, 10*time.Second, p.Delay(10, nil))

	p.Jitter = 0.2
	assert.Equal(t, 800*time.Millisecond, p.Delay(1, func() float64 { return 0 }))
	assert.Equal(t, time.Second, p.Delay(1, func() float64 { return 0.5 }))
	for i := 0; i < 50; i++ {
		d := p.Delay(2, nil)
		assert.Equal(t, 2*time.Second, d)
	}
}

func newTestSupervisor(policy BackoffPolicy) (*Supervisor, *[]time.Duration) {
	s := NewSupervisor("test", policy, discardLogger())
	var slept []time.Duration
	s.rand = func() float64 { return 0.5 }
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, &slept
}

func TestSupervisorGivesUpOnFatal(t *testing.T) {
	s, slept := newTestSupervisor(BackoffPolicy{Initial: time.Second, Max: time.Minute, Multiplier: 2, MaxFatalRetries: 2})
	calls := 0
	err := s.Run(context.Background(), func(ctx context.Context, connected func()) error {
		calls++
		return domain.ErrUnauthorized
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisorResetsAfterConnect(t *testing.T) {
	s, slept := newTestSupervisor(BackoffPolicy{Initial: time.Second, Max: time.Minute, Multiplier: 2, MaxFatalRetries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := s.Run(ctx, func(ctx context.Context, connected func()) error {
		calls++
		switch calls {
		case 1:
			return errors.New("dial refused")
		case 2:
			connected()
			assert.Equal(t, StateConnected, s.State())
			return domain.ErrUnauthorized
		case 3:
			return errResubscribe
		case 4:
			return errors.New("connection reset")
		default:
			cancel()
			return io.EOF
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, calls)
	// Connecting resets the attempt count; resubscribing does not sleep.
	assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, *slept)
}

func TestLatest(t *testing.T) {
	var l Latest[float64]
	_, _, ok := l.Load()
	assert.False(t, ok)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Store(42, now)
	v, ok := l.Fresh(now.Add(5*time.Second), 10*time.Second)
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = l.Fresh(now.Add(11*time.Second), 10*time.Second)
	assert.False(t, ok)

	l.Reset()
	_, _, ok = l.Load()
	assert.False(t, ok)
}

func TestPriceHistory(t *testing.T) {
	h := NewPriceHistory(3)
	assert.Empty(t, h.Tail(5))

	h.Append(1)
	h.Append(2)
	assert.Equal(t, []float64{1, 2}, h.Tail(5))

	h.Append(3)
	h.Append(4)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []float64{2, 3, 4}, h.Tail(3))
	assert.Equal(t, []float64{3, 4}, h.Tail(2))
}

type fakeTrades struct {
	ticks  chan domain.TradeTick
	closed chan struct{}
	once   sync.Once
}

func newFakeTrades() *fakeTrades {
	return &fakeTrades{ticks: make(chan domain.TradeTick), closed: make(chan struct{})}
}

func (f *fakeTrades) Next() (domain.TradeTick, error) {
	select {
	case t := <-f.ticks:
		return t, nil
	case <-f.closed:
		return domain.TradeTick{}, io.EOF
	}
}

func (f *fakeTrades) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestTradeFeed(t *testing.T) {
	src := newFakeTrades()
	feed := NewTradeFeed("ws://unused", 10, DefaultBackoff, discardLogger())
	feed.dial = func(ctx context.Context, url string) (tradeSource, error) { return src, nil }

	var hooked []float64
	var mu sync.Mutex
	feed.OnTrade(func(t domain.TradeTick) {
		mu.Lock()
		hooked = append(hooked, t.Price)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	at := time.Now()
	src.ticks <- domain.TradeTick{Price: 100, Timestamp: at}
	src.ticks <- domain.TradeTick{Price: 101, Timestamp: at}

	require.Eventually(t, func() bool { return len(feed.Prices(10)) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, feed.Connected())
	tick, _, ok := feed.LatestTrade()
	assert.True(t, ok)
	assert.Equal(t, 101.0, tick.Price)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, feed.Connected())
	mu.Lock()
	assert.Equal(t, []float64{100, 101}, hooked)
	mu.Unlock()
}

type fakeBook struct {
	subscribed []string
	frames     chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newFakeBook() *fakeBook {
	return &fakeBook{frames: make(chan []byte), closed: make(chan struct{})}
}

func (f *fakeBook) Subscribe(ids []string) error {
	f.subscribed = ids
	return nil
}

func (f *fakeBook) ReadFrame() ([]byte, error) {
	select {
	case b := <-f.frames:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeBook) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestBookFeedSwitchTokens(t *testing.T) {
	conns := make(chan *fakeBook, 4)
	feed := NewBookFeed("wss://example", DefaultBackoff, discardLogger())
	feed.dial = func(ctx context.Context, url string) (bookSource, error) {
		assert.Equal(t, "wss://example/ws/market", url)
		c := newFakeBook()
		conns <- c
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	feed.SwitchTokens("up1", "down1")
	first := <-conns
	first.frames <- []byte(`{"asset_id":"up1","best_bid":"0.48","best_ask":"0.50"}`)
	require.Eventually(t, func() bool {
		_, _, ok := feed.LatestQuote("up1")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"up1", "down1"}, first.subscribed)

	feed.SwitchTokens("up2", "down2")
	second := <-conns
	_, _, ok := feed.LatestQuote("up1")
	assert.False(t, ok, "quotes for old tokens are dropped")

	second.frames <- []byte(`[{"asset_id":"up1","best_bid":"0.1","best_ask":"0.2"},{"asset_id":"up2","best_bid":"0.6","best_ask":"0.62"}]`)
	require.Eventually(t, func() bool {
		q, _, ok := feed.LatestQuote("up2")
		return ok && q.BestAsk == 0.62
	}, time.Second, 5*time.Millisecond)
	_, _, ok = feed.LatestQuote("up1")
	assert.False(t, ok)
	assert.Equal(t, []string{"up2", "down2"}, feed.Tokens())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
