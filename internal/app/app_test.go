package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/registry"
	"github.com/alanyoungcy/updownbot/internal/report"
	"github.com/alanyoungcy/updownbot/internal/risk"
	"github.com/alanyoungcy/updownbot/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "bot.db")
	return &cfg
}

func TestSubscriptionTokens(t *testing.T) {
	w := domain.MarketWindow{Slug: "w2", UpTokenID: "up2", DownTokenID: "down2"}
	open := []domain.Position{
		{ID: "p1", TokenID: "up1"},
		{ID: "p2", TokenID: "up2"},
		{ID: "p3", TokenID: "up1"},
		{ID: "p4"},
	}
	assert.Equal(t, []string{"up2", "down2", "up1"}, subscriptionTokens(w, open))
	assert.Equal(t, []string{"up2", "down2"}, subscriptionTokens(w, nil))
}

func TestBackoffPolicyFromConfig(t *testing.T) {
	cfg := config.Defaults()
	p := backoffPolicy(cfg.Reconnect)
	assert.Equal(t, feed.DefaultBackoff, p)
}

func TestSchedulerInstallsStaticWindowWithoutGamma(t *testing.T) {
	cfg := testConfig(t)
	cfg.Polymarket.GammaHost = ""
	cfg.Market.UpTokenID = "static-up"
	cfg.Market.DownTokenID = "static-down"

	reg := registry.New()
	s := buildScheduler(cfg, feed.DefaultBackoff, reg, nil, quietLogger())
	var rotated []domain.MarketRotated
	s.OnRotate(func(_ context.Context, ev domain.MarketRotated) { rotated = append(rotated, ev) })

	s.Step(context.Background())

	active, ok := reg.Active()
	require.True(t, ok)
	assert.Equal(t, domain.ManualWindowSlug, active.Slug)
	assert.Equal(t, "static-up", active.UpTokenID)
	require.Len(t, rotated, 1)
	assert.Nil(t, rotated[0].Old)
}

func TestBuildEngineRejectsUnknownSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trading.EntryPriceRule = "midpoint"
	_, err := buildEngine(cfg, "paper", nil, nil, registry.New(), nil, domain.Stores{}, quietLogger())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Model.Squash = "relu"
	_, err = buildEngine(cfg, "paper", nil, nil, registry.New(), nil, domain.Stores{}, quietLogger())
	assert.Error(t, err)
}

func TestBuildExecutorPaper(t *testing.T) {
	cfg := testConfig(t)
	exec, err := buildExecutor(context.Background(), cfg, feed.DefaultBackoff,
		func(string) (domain.Quote, bool) { return domain.Quote{}, false }, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &executor.Paper{}, exec)
}

func TestWireSQLiteOnly(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Stores.Decisions)
	assert.NotNil(t, deps.Stores.Report)
	assert.Contains(t, deps.HealthChecks, "sqlite")
	assert.NoError(t, deps.HealthChecks["sqlite"](context.Background()))
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.Notifier)
}

func TestReportCommand(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, quietLogger())
	defer a.Close()

	var buf bytes.Buffer
	require.NoError(t, a.Report(context.Background(), &buf))

	var sum domain.ReportSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &sum))
	assert.Equal(t, "paper", sum.Mode)
	assert.Zero(t, sum.TotalOrders)
}

func TestArchivesNeedsS3(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, quietLogger())
	defer a.Close()

	err := a.Archives(context.Background(), "", io.Discard)
	assert.ErrorContains(t, err, "s3 is not enabled")
}

type recordingArchiver struct {
	sessionID string
	summary   any
}

func (r *recordingArchiver) ArchiveSession(_ context.Context, sessionID string, _ time.Time, summary any) ([]string, error) {
	r.sessionID = sessionID
	r.summary = summary
	return []string{"sessions/x/" + sessionID + "/summary.json"}, nil
}

func newTestSession(t *testing.T, cfg *config.Config, stores domain.Stores) *session {
	t.Helper()
	logger := quietLogger()
	trades := feed.NewTradeFeed(cfg.Binance.WsURL, 100, feed.DefaultBackoff, logger)
	book := feed.NewBookFeed(cfg.Polymarket.WsHost, feed.DefaultBackoff, logger)
	reg := registry.New()
	paper := executor.NewPaper(executor.PaperConfig{MaxFillFraction: 1},
		func(string) (domain.Quote, bool) { return domain.Quote{}, false }, logger)
	gate := risk.NewGate(risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30}, time.Now(), logger)
	manager := service.NewOrderManager(service.ManagerConfig{Mode: "paper"}, paper, gate, reg, stores, nil, nil, logger)
	engine, err := buildEngine(cfg, "paper", trades, book, reg, manager, stores, logger)
	require.NoError(t, err)

	started := time.Now().UTC()
	return &session{
		id:        "sess-1",
		mode:      "paper",
		started:   started,
		trades:    trades,
		book:      book,
		reg:       reg,
		manager:   manager,
		engine:    engine,
		collector: report.NewCollector("sess-1", "paper", started),
	}
}

func TestSessionStatus(t *testing.T) {
	cfg := testConfig(t)
	sess := newTestSession(t, cfg, domain.Stores{})
	w := domain.MarketWindow{Slug: "btc-updown-5m-1", UpTokenID: "u", DownTokenID: "d", End: time.Now().Add(time.Minute)}
	sess.reg.Install(w, time.Now())

	st := sess.Status()
	assert.Equal(t, "paper", st.Mode)
	require.NotNil(t, st.Window)
	assert.Equal(t, "btc-updown-5m-1", st.Window.Slug)
	assert.False(t, st.TradeFeedUp)
	assert.False(t, st.BookFeedUp)
	assert.Zero(t, st.OpenPositions)
	assert.Empty(t, st.LastReason)
}

func TestFinishArchivesSummary(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	arch := &recordingArchiver{}
	deps.Archiver = arch

	sess := newTestSession(t, cfg, deps.Stores)
	sess.collector.Observe(domain.DecisionSnapshot{Reason: domain.ReasonNoWindow})

	a := New(cfg, quietLogger())
	a.finish(deps, sess, quietLogger())

	assert.Equal(t, "sess-1", arch.sessionID)
	summary, ok := arch.summary.(report.RunSummary)
	require.True(t, ok)
	assert.EqualValues(t, 1, summary.Ticks)
	require.NotNil(t, summary.Store)
	assert.Equal(t, "paper", summary.Store.Mode)
}
