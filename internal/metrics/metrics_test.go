package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestObserveDecision(t *testing.T) {
	m := New()
	m.ObserveDecision(domain.DecisionSnapshot{Reason: domain.ReasonEdgeTooLow, UpAsk: 0.5, EdgeUp: 0.02, SpreadUp: 0.01})
	m.ObserveDecision(domain.DecisionSnapshot{Reason: domain.ReasonEdgeTooLow})
	m.ObserveDecision(domain.DecisionSnapshot{Reason: domain.ReasonEntryUp})

	assert.InDelta(t, 2, testutil.ToFloat64(m.decisions.WithLabelValues("edge_too_low")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisions.WithLabelValues("entry_up")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.decisions.WithLabelValues("no_window")), 0)
	assert.InDelta(t, 0.02, testutil.ToFloat64(m.edge.WithLabelValues("up")), 1e-12)
}

func TestEventsAndSample(t *testing.T) {
	ctx := context.Background()
	m := New()

	m.OrderChanged(ctx, domain.Order{Side: domain.OrderSideBuy, Status: domain.OrderStatusFilled})
	m.PositionClosed(ctx, domain.Position{ExitReason: domain.ExitProfitTake}, domain.PnLRecord{RealizedPnL: 0.25})
	m.PositionClosed(ctx, domain.Position{ExitReason: domain.ExitFlatten}, domain.PnLRecord{RealizedPnL: -1})
	m.FlattenFailed(ctx, domain.Position{}, domain.ErrFlattenFailure)
	m.MarketRotated(ctx, domain.MarketRotated{})
	m.KillSwitch(ctx, domain.RiskState{KillSwitchActive: true})

	assert.InDelta(t, 1, testutil.ToFloat64(m.orders.WithLabelValues(string(domain.OrderSideBuy), "FILLED")), 0)
	assert.InDelta(t, -0.75, testutil.ToFloat64(m.sessionPnL), 1e-12)
	assert.InDelta(t, 1, testutil.ToFloat64(m.flattenFailures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rotations), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.killSwitch), 0)

	m.Sample(domain.BotStatus{
		TradeFeedUp:   true,
		OpenPositions: 2,
		Risk:          domain.RiskState{ExposureUSD: 9.76, DailyRealizedPnL: -3},
	})
	assert.InDelta(t, 9.76, testutil.ToFloat64(m.exposure), 1e-12)
	assert.InDelta(t, -3, testutil.ToFloat64(m.dailyPnL), 1e-12)
	assert.InDelta(t, 0, testutil.ToFloat64(m.killSwitch), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.feedUp.WithLabelValues("binance")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.feedUp.WithLabelValues("polymarket")), 0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDecision(domain.DecisionSnapshot{Reason: domain.ReasonNoWindow})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `updown_decisions_total{reason="no_window"} 1`)
}
