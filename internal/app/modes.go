package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/registry"
	"github.com/alanyoungcy/updownbot/internal/report"
	"github.com/alanyoungcy/updownbot/internal/risk"
	"github.com/alanyoungcy/updownbot/internal/scheduler"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/service"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

const (
	walletLockTTL    = 30 * time.Second
	sampleInterval   = 5 * time.Second
	cacheWriteBudget = 500 * time.Millisecond
	finishTimeout    = 30 * time.Second
	liveMaxRetries   = 3

	// btcAssetID keys the BTC trade price in the price cache.
	btcAssetID = "BTCUSDT"
)

// session is everything one trading run owns.
type session struct {
	id        string
	mode      string
	started   time.Time
	trades    *feed.TradeFeed
	book      *feed.BookFeed
	reg       *registry.Registry
	manager   *service.OrderManager
	engine    *strategy.Engine
	collector *report.Collector
}

// Status implements handler.StatusProvider.
func (s *session) Status() domain.BotStatus {
	snap := s.reg.Snapshot()
	st := domain.BotStatus{
		Mode:          s.mode,
		StartedAt:     s.started,
		Window:        snap.Active,
		RegistryStale: snap.Stale,
		TradeFeedUp:   s.trades.Connected(),
		BookFeedUp:    s.book.Connected(),
		OpenPositions: len(s.manager.OpenPositions()),
		OpenOrders:    len(s.manager.OpenOrders()),
		Risk:          s.manager.RiskState(),
	}
	if last, ok := s.engine.LastDecision(); ok {
		st.LastReason = last.Reason
		st.LastDecisionAt = last.Timestamp
	}
	return st
}

// Trade runs the decision loop in paper or live mode until ctx is cancelled
// or the configured run duration elapses, then winds down and emits the run
// summary.
func (a *App) Trade(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	mode := strings.ToLower(cfg.Mode)
	logger := a.logger.With(slog.String("mode", mode))

	if deps.LockManager != nil {
		release, err := deps.LockManager.Hold(ctx, "wallet:"+mode, walletLockTTL)
		if err != nil {
			return fmt.Errorf("app: another %s instance is running: %w", mode, err)
		}
		defer release()
	}

	policy := backoffPolicy(cfg.Reconnect)
	trades := feed.NewTradeFeed(cfg.Binance.WsURL, cfg.Model.History, policy, logger)
	book := feed.NewBookFeed(cfg.Polymarket.WsHost, policy, logger)
	if deps.PriceCache != nil {
		mirrorToCache(ctx, deps.PriceCache, trades, book, logger)
	}

	maxAge := cfg.Trading.QuoteMaxAge.Duration
	freshQuote := func(tokenID string) (domain.Quote, bool) {
		q, at, ok := book.LatestQuote(tokenID)
		if !ok || time.Since(at) > maxAge {
			return domain.Quote{}, false
		}
		return q, true
	}
	mark := func(tokenID string) (float64, bool) {
		q, _, ok := book.LatestQuote(tokenID)
		if !ok || q.BestBid <= 0 {
			return 0, false
		}
		return q.BestBid, true
	}

	exec, err := buildExecutor(ctx, cfg, policy, freshQuote, logger)
	if err != nil {
		return err
	}

	reg := registry.New()
	gate := risk.NewGate(risk.Config{
		DailyLossLimitUSD: cfg.Trading.DailyLossLimitUSD,
		MaxPositionUSD:    cfg.Trading.MaxPositionUSD,
		Cooldown:          cfg.Trading.Cooldown.Duration,
		AllowCrossWindow:  cfg.Trading.AllowCrossWindowPositions,
	}, time.Now(), logger)

	m := metrics.New()
	broadcaster := service.NewBroadcaster(deps.SignalBus, deps.Notifier, logger)
	events := service.Fanout{broadcaster, m}

	manager := service.NewOrderManager(service.ManagerConfig{
		Mode:             mode,
		AllowCrossWindow: cfg.Trading.AllowCrossWindowPositions,
		ExitGrace:        cfg.Trading.ExitGrace.Duration,
		WindowLength:     time.Duration(cfg.Market.WindowMinutes) * time.Minute,
	}, exec, gate, reg, deps.Stores, events, mark, logger)
	if err := manager.Restore(ctx, time.Now()); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}

	sched := buildScheduler(cfg, policy, reg, deps.Stores.Errors, logger)
	sched.KeepWhile(manager.HasOpenPositionIn)
	sched.OnRotate(func(_ context.Context, ev domain.MarketRotated) {
		book.SwitchTokens(subscriptionTokens(ev.New, manager.OpenPositions())...)
	})
	sched.OnRotate(manager.OnRotated)
	sched.OnRotate(events.MarketRotated)

	engine, err := buildEngine(cfg, mode, trades, book, reg, manager, deps.Stores, logger)
	if err != nil {
		return err
	}

	id, started := uuid.NewString(), time.Now().UTC()
	sess := &session{
		id:        id,
		mode:      mode,
		started:   started,
		trades:    trades,
		book:      book,
		reg:       reg,
		manager:   manager,
		engine:    engine,
		collector: report.NewCollector(id, mode, started),
	}
	engine.OnDecision(func(d strategy.Decision) {
		sess.collector.Observe(d.Snapshot)
		m.ObserveDecision(d.Snapshot)
		if deps.SignalBus != nil {
			appendDecision(ctx, deps.SignalBus, d.Snapshot, logger)
		}
	})

	logger.InfoContext(ctx, "trading session starting",
		slog.String("session_id", sess.id),
		slog.Duration("run_duration", cfg.RunDuration.Duration),
		slog.Int("restored_positions", len(manager.OpenPositions())),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return trades.Run(gctx) })
	g.Go(func() error { return book.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.Sample(sess.Status())
			}
		}
	})

	if cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(deps.HealthChecks, logger),
			Status:  handler.NewStatusHandler(sess),
			Trading: handler.NewTradingHandler(manager, deps.Stores, logger),
			Metrics: m.Handler(),
		}, deps.RateLimiter, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if d := cfg.RunDuration.Duration; d > 0 {
		g.Go(func() error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-gctx.Done():
				return nil
			case <-timer.C:
			}
			windDown(gctx, engine, manager, cfg.Trading.ExitGrace.Duration, cfg.Trading.LoopInterval.Duration, logger)
			cancelRun()
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.finish(deps, sess, logger)
	if err != nil {
		return fmt.Errorf("app: trade: %w", err)
	}
	return ctx.Err()
}

// windDown stops new entries, cancels resting entry orders and gives
// pending exits up to grace to complete while the loop keeps syncing.
func windDown(ctx context.Context, engine *strategy.Engine, manager *service.OrderManager, grace, poll time.Duration, logger *slog.Logger) {
	logger.InfoContext(ctx, "run duration reached, winding down",
		slog.Int("pending_exits", manager.PendingExits()),
		slog.Duration("grace", grace),
	)
	engine.DisableEntries()
	manager.CancelEntries(ctx, time.Now())

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for manager.PendingExits() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.WarnContext(ctx, "exits still pending at shutdown",
				slog.Int("pending_exits", manager.PendingExits()),
			)
			return
		case <-ticker.C:
		}
	}
}

// finish cancels what is still resting and emits the run summary to the
// log, the notifier and the archive. It runs on a fresh context because
// the run context is already cancelled.
func (a *App) finish(deps *Dependencies, sess *session, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	now := time.Now().UTC()
	sess.manager.CancelEntries(ctx, now)

	summary := sess.collector.Summary(now)
	if rep, err := deps.Stores.Report.Summary(ctx, sess.mode); err != nil {
		logger.WarnContext(ctx, "load stored report failed", slog.String("error", err.Error()))
	} else {
		summary.Store = &rep
	}
	logger.InfoContext(ctx, "run summary", slog.Any("summary", summary))

	lines, order := summary.Lines()
	alert := notify.RunSummary(lines, order)
	alert.At = now
	if err := deps.Notifier.Notify(ctx, alert); err != nil {
		logger.WarnContext(ctx, "run summary notification failed", slog.String("error", err.Error()))
	}

	if deps.Archiver == nil {
		return
	}
	paths, err := deps.Archiver.ArchiveSession(ctx, sess.id, sess.started, summary)
	if err != nil {
		logger.ErrorContext(ctx, "archive session failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.InfoContext(ctx, "session archived",
		slog.String("session_id", sess.id),
		slog.Any("objects", paths),
	)
}

func backoffPolicy(rc config.ReconnectConfig) feed.BackoffPolicy {
	return feed.BackoffPolicy{
		Initial:         rc.Initial.Duration,
		Max:             rc.Max.Duration,
		Multiplier:      rc.Multiplier,
		Jitter:          rc.Jitter,
		MaxFatalRetries: rc.MaxFatalRetries,
	}
}

// buildExecutor returns the paper simulator or, in live mode, a CLOB-backed
// executor with L2 credentials loaded from config or derived on startup.
func buildExecutor(ctx context.Context, cfg *config.Config, policy feed.BackoffPolicy, quotes executor.QuoteFunc, logger *slog.Logger) (executor.Executor, error) {
	if !cfg.IsLive() {
		return executor.NewPaper(executor.PaperConfig{
			Epsilon:         cfg.Trading.PaperFillEpsilon,
			MaxFillFraction: cfg.Trading.PaperMaxFillFraction,
		}, quotes, logger), nil
	}

	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID, crypto.CTFExchangePolygon)
	if err != nil {
		return nil, fmt.Errorf("app: create signer: %w", err)
	}

	var creds *crypto.HMACAuth
	if cfg.Builder.ApiKey != "" {
		creds = &crypto.HMACAuth{
			Key:        cfg.Builder.ApiKey,
			Secret:     cfg.Builder.ApiSecret,
			Passphrase: cfg.Builder.ApiPassphrase,
		}
	}
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, creds, cfg.Wallet.SafeAddress, cfg.Polymarket.SignatureType)
	if !clob.HasCreds() {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("app: derive api key: %w", err)
		}
		logger.InfoContext(ctx, "derived clob api credentials", slog.String("address", signer.Address().Hex()))
	}

	return executor.NewLive(clob, executor.LiveConfig{
		OrdersPerMinute: cfg.Polymarket.OrdersPerMinute,
		Backoff:         policy,
		MaxRetries:      liveMaxRetries,
	}, logger), nil
}

func buildScheduler(cfg *config.Config, policy feed.BackoffPolicy, reg *registry.Registry, errs domain.ErrorStore, logger *slog.Logger) *scheduler.Scheduler {
	var static *domain.MarketWindow
	if cfg.Market.HasStaticTokens() {
		static = &domain.MarketWindow{
			Slug:        domain.ManualWindowSlug,
			Question:    cfg.Market.Search,
			UpTokenID:   cfg.Market.UpTokenID,
			DownTokenID: cfg.Market.DownTokenID,
			Status:      domain.WindowStatusActive,
		}
	}

	var discover scheduler.Discoverer
	if cfg.Polymarket.GammaHost != "" {
		window := time.Duration(cfg.Market.WindowMinutes) * time.Minute
		discover = polymarket.NewDiscoverer(polymarket.NewGammaClient(cfg.Polymarket.GammaHost), window)
	}

	return scheduler.New(scheduler.Config{
		RotateInterval: cfg.Trading.RotateInterval.Duration,
		FallbackDelay:  cfg.Trading.DiscoveryFallback.Duration,
		Static:         static,
		Backoff:        policy,
	}, discover, reg, errs, logger)
}

func buildEngine(
	cfg *config.Config,
	mode string,
	trades strategy.TradeSource,
	quotes strategy.QuoteSource,
	reg *registry.Registry,
	manager strategy.OrderManager,
	stores domain.Stores,
	logger *slog.Logger,
) (*strategy.Engine, error) {
	rule, err := strategy.NewPriceRule(cfg.Trading.EntryPriceRule, cfg.Trading.EntryPriceOffset)
	if err != nil {
		return nil, fmt.Errorf("app: entry price rule: %w", err)
	}
	squash, err := strategy.SquashByName(cfg.Model.Squash)
	if err != nil {
		return nil, fmt.Errorf("app: model: %w", err)
	}

	return strategy.NewEngine(strategy.EngineConfig{
		Mode:               mode,
		LoopInterval:       cfg.Trading.LoopInterval.Duration,
		MaxAge:             cfg.Trading.QuoteMaxAge.Duration,
		QuotePrintInterval: cfg.Trading.QuotePrintInterval.Duration,
		Model: strategy.Model{
			MomentumWindow: cfg.Model.MomentumWindow,
			VolWindow:      cfg.Model.VolWindow,
			Gain:           cfg.Model.Gain,
			Squash:         squash,
		},
		Params: strategy.Params{
			EdgeMin:          cfg.Trading.EdgeMin,
			MaxSpread:        cfg.Trading.MaxSpread,
			OrderSizeUSD:     cfg.Trading.OrderSizeUSD,
			ProfitTakeBps:    cfg.Trading.ProfitTakeBps,
			TimeStop:         cfg.Trading.TimeStop.Duration,
			AllowCrossWindow: cfg.Trading.AllowCrossWindowPositions,
			PriceRule:        rule,
		},
	}, trades, quotes, reg, manager, stores.Decisions, stores.Errors, logger), nil
}

// subscriptionTokens lists the new window's tokens followed by any other
// token an open position still needs quotes for.
func subscriptionTokens(w domain.MarketWindow, open []domain.Position) []string {
	tokens := []string{w.UpTokenID, w.DownTokenID}
	seen := map[string]bool{w.UpTokenID: true, w.DownTokenID: true}
	for _, p := range open {
		if p.TokenID == "" || seen[p.TokenID] {
			continue
		}
		seen[p.TokenID] = true
		tokens = append(tokens, p.TokenID)
	}
	return tokens
}

// mirrorToCache copies trades and quotes into the shared price cache so
// other processes can read them.
func mirrorToCache(ctx context.Context, cache domain.PriceCache, trades *feed.TradeFeed, book *feed.BookFeed, logger *slog.Logger) {
	trades.OnTrade(func(t domain.TradeTick) {
		wctx, cancel := context.WithTimeout(ctx, cacheWriteBudget)
		defer cancel()
		if err := cache.SetPrice(wctx, btcAssetID, t.Price, t.Timestamp); err != nil {
			logger.Debug("cache trade failed", slog.String("error", err.Error()))
		}
	})
	book.OnQuote(func(q domain.Quote) {
		wctx, cancel := context.WithTimeout(ctx, cacheWriteBudget)
		defer cancel()
		if err := cache.SetQuote(wctx, q); err != nil {
			logger.Debug("cache quote failed", slog.String("error", err.Error()))
		}
	})
}

func appendDecision(ctx context.Context, bus domain.SignalBus, s domain.DecisionSnapshot, logger *slog.Logger) {
	payload, err := json.Marshal(s)
	if err != nil {
		logger.Warn("marshal decision failed", slog.String("error", err.Error()))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, cacheWriteBudget)
	defer cancel()
	if err := bus.StreamAppend(wctx, domain.StreamDecisions, payload); err != nil {
		logger.Debug("append decision stream failed", slog.String("error", err.Error()))
	}
}
