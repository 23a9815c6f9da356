package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	alerts []Alert
}

func (r *recordingSender) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) titles() []string {
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Title)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventKillSwitch, " " + EventFlatten, ""}, testLogger())
	ctx := context.Background()

	assert.False(t, n.Enabled(EventRotation))
	assert.True(t, n.Enabled(EventFlatten))

	require.NoError(t, n.Notify(ctx, Rotation(domain.MarketRotated{New: domain.MarketWindow{Slug: "w2"}})))
	require.NoError(t, n.Notify(ctx, KillSwitch(domain.RiskState{Day: "2026-03-01"})))
	require.NoError(t, n.Notify(ctx, Flatten(domain.Position{WindowSlug: "w1"}, nil)))
	require.NoError(t, n.NotifyAll(ctx, RunSummary(nil, nil)))

	assert.Equal(t, []string{"Kill switch active", "Position flattened", "Run finished"}, s.titles())
}

func TestNotifierWithoutSendersIsDisabled(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.False(t, n.Enabled(EventKillSwitch))
	assert.NoError(t, n.Notify(context.Background(), KillSwitch(domain.RiskState{})))
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), Rotation(domain.MarketRotated{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.alerts, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL

	p := domain.Position{Outcome: domain.OutcomeUp, ExitReason: domain.ExitProfitTake, WindowSlug: "btc_5m", Size: 20, EntryPrice: 0.5, ExitPrice: 0.55}
	require.NoError(t, s.Send(context.Background(), PositionClosed(p, domain.PnLRecord{RealizedPnL: 1})))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, true, got["disable_notification"])
	assert.Equal(t, "*Closed UP PROFIT\\_TAKE*\n`window` btc\\_5m\n`size` 20.00\n`entry` 0.5000\n`exit` 0.5500\n`pnl` +1.0000 USD", got["text"])

	require.NoError(t, s.Send(context.Background(), KillSwitch(domain.RiskState{Day: "2026-03-01", DailyRealizedPnL: -50})))
	assert.Equal(t, false, got["disable_notification"])
	assert.Contains(t, got["text"], "[ERROR] *Kill switch active*")
}

func TestDiscordEmbeds(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	s := NewDiscordSender(srv.URL)
	ctx := context.Background()

	flat := Flatten(domain.Position{WindowSlug: "w1", Outcome: domain.OutcomeDown, Size: 10, EntryPrice: 0.4}, domain.ErrFlattenFailure)
	require.NoError(t, s.Send(ctx, flat))
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "Position flattened", e.Title)
	assert.Equal(t, discordColors[SeverityError], e.Color)
	assert.Equal(t, "flatten failed", e.Description)
	assert.Equal(t, "@here", got.Content)
	require.Len(t, e.Fields, 4)
	assert.False(t, e.Fields[0].Inline)
	assert.Equal(t, "flatten · ERROR", e.Footer.Text)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sum := RunSummary(map[string]string{"ticks": "300", "entries": "2"}, []string{"ticks", "entries"})
	sum.At = at
	require.NoError(t, s.Send(ctx, sum))
	e = got.Embeds[0]
	assert.Equal(t, discordColors[SeverityInfo], e.Color)
	assert.Empty(t, got.Content)
	require.Len(t, e.Fields, 2)
	assert.True(t, e.Fields[0].Inline)
	assert.Equal(t, "ticks", e.Fields[0].Name)
	assert.Equal(t, "2026-03-01T12:00:00Z", e.Timestamp)
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Rotation(domain.MarketRotated{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400: nope")
}

func TestAlertFormatting(t *testing.T) {
	closedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := domain.Position{
		Outcome:    domain.OutcomeUp,
		WindowSlug: "btc-updown-5m-1",
		EntryPrice: 0.5,
		ExitPrice:  0.45,
		Size:       20,
		ExitReason: domain.ExitTimeStop,
		ClosedAt:   &closedAt,
	}
	a := PositionClosed(p, domain.PnLRecord{RealizedPnL: -1})
	assert.Equal(t, "Closed UP TIME_STOP", a.Title)
	assert.Equal(t, SeverityWarn, a.Severity)
	assert.Equal(t, closedAt, a.At)
	assert.Contains(t, a.Text(), "pnl: -1.0000 USD")

	a = Rotation(domain.MarketRotated{New: domain.MarketWindow{Slug: "w2", End: closedAt}})
	assert.Equal(t, EventRotation, a.Event)
	assert.Equal(t, "from: none\nto: w2\nends: 12:00:00", a.Text())

	a = RunSummary(map[string]string{"b": "2", "a": "1"}, []string{"a", "b", "c"})
	assert.Equal(t, "a: 1\nb: 2", a.Text())

	a = OrderRejected(domain.Order{Purpose: domain.OrderPurposeEntry, Side: domain.OrderSideBuy, Outcome: domain.OutcomeDown, Size: 20, LimitPrice: 0.5, Error: "not enough balance"})
	assert.Equal(t, SeverityWarn, a.Severity)
	assert.Equal(t, "purpose: entry\nside: buy\noutcome: DOWN\norder: 20.00 @ 0.5000\nnot enough balance", a.Text())
}
