package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
)

// silenceWarning is how long a subscribed connection may go without any
// frame before a warning is logged.
const silenceWarning = 10 * time.Second

type bookSource interface {
	Subscribe(assetIDs []string) error
	ReadFrame() ([]byte, error)
	Close() error
}

// bookState is the token set a connection subscribes to and the quote
// slots it fills. It is replaced wholesale when tokens switch, so quotes
// for old tokens are never served.
type bookState struct {
	tokens []string
	quotes map[string]*Latest[domain.Quote]
}

func newBookState(tokens []string) *bookState {
	st := &bookState{tokens: slices.Clone(tokens), quotes: make(map[string]*Latest[domain.Quote], len(tokens))}
	for _, t := range tokens {
		st.quotes[t] = &Latest[domain.Quote]{}
	}
	return st
}

// BookFeed keeps the top of book for the outcome tokens of the active
// market window.
type BookFeed struct {
	url    string
	sup    *Supervisor
	state  atomic.Pointer[bookState]
	logger *slog.Logger

	switched chan struct{}
	mu       sync.Mutex
	conn     bookSource

	now     func() time.Time
	dial    func(ctx context.Context, url string) (bookSource, error)
	onQuote func(domain.Quote)
	silence time.Duration
}

// NewBookFeed creates a book feed for the CLOB market channel at url.
func NewBookFeed(url string, policy BackoffPolicy, logger *slog.Logger) *BookFeed {
	f := &BookFeed{
		url:      polymarket.NormalizeMarketURL(url),
		sup:      NewSupervisor("polymarket_book", policy, logger),
		logger:   logger.With(slog.String("component", "book_feed")),
		switched: make(chan struct{}, 1),
		now:      time.Now,
		dial: func(ctx context.Context, url string) (bookSource, error) {
			return polymarket.DialMarket(ctx, url)
		},
		silence: silenceWarning,
	}
	f.state.Store(newBookState(nil))
	return f
}

// OnQuote registers a hook called for every quote of a subscribed token.
// It must not block.
func (f *BookFeed) OnQuote(fn func(domain.Quote)) {
	f.onQuote = fn
}

// SwitchTokens replaces the subscribed token set. Quotes for the previous
// tokens are dropped and the connection resubscribes.
func (f *BookFeed) SwitchTokens(tokens ...string) {
	cur := f.state.Load()
	if slices.Equal(cur.tokens, tokens) {
		return
	}
	f.state.Store(newBookState(tokens))
	f.logger.Info("switching book subscription", slog.Any("tokens", tokens))

	select {
	case f.switched <- struct{}{}:
	default:
	}
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.mu.Unlock()
}

// Tokens returns the currently subscribed token ids.
func (f *BookFeed) Tokens() []string {
	return slices.Clone(f.state.Load().tokens)
}

// LatestQuote returns the latest quote for tokenID and when it was
// received. ok is false for unknown tokens or before the first quote.
func (f *BookFeed) LatestQuote(tokenID string) (domain.Quote, time.Time, bool) {
	l, ok := f.state.Load().quotes[tokenID]
	if !ok {
		return domain.Quote{}, time.Time{}, false
	}
	return l.Load()
}

// Connected reports whether the stream is currently live.
func (f *BookFeed) Connected() bool {
	return f.sup.State() == StateConnected
}

// State returns the stream's connection state.
func (f *BookFeed) State() ConnState {
	return f.sup.State()
}

// Run streams book updates until ctx is cancelled.
func (f *BookFeed) Run(ctx context.Context) error {
	return f.sup.Run(ctx, f.session)
}

func (f *BookFeed) session(ctx context.Context, connected func()) error {
	st := f.state.Load()
	if len(st.tokens) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.switched:
			return errResubscribe
		}
	}

	src, err := f.dial(ctx, f.url)
	if err != nil {
		return err
	}
	f.setConn(src)
	defer f.setConn(nil)
	defer src.Close()
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	// A switch between loading st and publishing the conn would otherwise
	// go unnoticed.
	if f.state.Load() != st {
		return errResubscribe
	}

	if err := src.Subscribe(st.tokens); err != nil {
		return err
	}
	connected()

	var frames atomic.Int64
	warn := time.AfterFunc(f.silence, func() {
		if frames.Load() == 0 {
			f.logger.Warn("no messages received yet", slog.Any("tokens", st.tokens))
		}
	})
	defer warn.Stop()

	for {
		raw, err := src.ReadFrame()
		if err != nil {
			if f.state.Load() != st {
				return errResubscribe
			}
			return err
		}
		frames.Add(1)
		f.ingest(st, raw)
	}
}

func (f *BookFeed) ingest(st *bookState, raw []byte) {
	now := f.now()
	for _, q := range polymarket.ExtractQuotes(raw, now) {
		l, ok := st.quotes[q.TokenID]
		if !ok {
			continue
		}
		l.Store(q, now)
		if f.onQuote != nil {
			f.onQuote(q)
		}
	}
}

func (f *BookFeed) setConn(c bookSource) {
	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
}
