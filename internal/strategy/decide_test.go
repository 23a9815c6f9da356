package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

var (
	now = time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)
	w1  = domain.MarketWindow{Slug: "w1", UpTokenID: "up1", DownTokenID: "down1", End: now.Add(3 * time.Minute)}
	w2  = domain.MarketWindow{Slug: "w2", UpTokenID: "up2", DownTokenID: "down2", End: now.Add(8 * time.Minute)}
)

func params() Params {
	return Params{
		EdgeMin:       0.04,
		MaxSpread:     0.03,
		OrderSizeUSD:  10,
		ProfitTakeBps: 300,
		TimeStop:      180 * time.Second,
		PriceRule:     TouchRule{},
	}
}

func allow(float64, risk.Exposure) risk.Verdict { return risk.Verdict{Allowed: true} }

func gateFor(cfg risk.Config, st domain.RiskState) GateFunc {
	return func(notional float64, exp risk.Exposure) risk.Verdict {
		return risk.Check(cfg, st, notional, exp, now)
	}
}

func input(window *domain.MarketWindow, pUp float64, quotes ...domain.Quote) TickInput {
	in := TickInput{Now: now, Window: window, BTCPrice: 64000, PUp: pUp, Quotes: map[string]domain.Quote{}}
	for _, q := range quotes {
		in.Quotes[q.TokenID] = q
	}
	return in
}

func quote(token string, bid, ask float64) domain.Quote {
	return domain.Quote{TokenID: token, BestBid: bid, BestAsk: ask, Timestamp: now}
}

func TestScenarioAEntry(t *testing.T) {
	in := input(&w1, 0.58, quote("up1", 0.49, 0.51), quote("down1", 0.49, 0.51))
	d := Decide(params(), in, allow)

	assert.Equal(t, domain.ReasonEntryUp, d.Snapshot.Reason)
	assert.InDelta(t, 0.50, d.Snapshot.PUpMkt, 1e-12)
	assert.InDelta(t, 0.08, d.Snapshot.EdgeUp, 1e-12)
	assert.InDelta(t, -0.08, d.Snapshot.EdgeDown, 1e-12)
	assert.InDelta(t, 0.02, d.Snapshot.SpreadUp, 1e-12)
	require.NotNil(t, d.Entry)
	assert.Equal(t, domain.OutcomeUp, d.Entry.Outcome)
	assert.Equal(t, "up1", d.Entry.TokenID)
	assert.Equal(t, 0.51, d.Entry.LimitPrice)
	assert.InDelta(t, 10.0, d.Entry.Notional(), 1e-9)
	assert.Equal(t, "w1", d.Entry.WindowSlug)
}

func TestEntryDown(t *testing.T) {
	in := input(&w1, 0.40, quote("up1", 0.49, 0.51), quote("down1", 0.48, 0.50))
	d := Decide(params(), in, allow)
	assert.Equal(t, domain.ReasonEntryDown, d.Snapshot.Reason)
	require.NotNil(t, d.Entry)
	assert.Equal(t, "down1", d.Entry.TokenID)
	assert.Equal(t, 0.50, d.Entry.LimitPrice)
}

func TestScenarioBBlock(t *testing.T) {
	cfg := risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
	in := input(&w1, 0.58, quote("up1", 0.49, 0.51), quote("down1", 0.49, 0.51))
	d := Decide(params(), in, gateFor(cfg, domain.RiskState{ExposureUSD: 29}))

	assert.Equal(t, domain.ReasonMaxExposureHit, d.Snapshot.Reason)
	assert.Nil(t, d.Entry)
	assert.InDelta(t, 0.08, d.Snapshot.EdgeUp, 1e-12, "signal fields are still recorded")
}

func TestReasonPriority(t *testing.T) {
	cfg := risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
	wide := []domain.Quote{quote("up1", 0.40, 0.60), quote("down1", 0.40, 0.60)}
	tight := []domain.Quote{quote("up1", 0.49, 0.51), quote("down1", 0.49, 0.51)}

	tests := []struct {
		name  string
		in    TickInput
		state domain.RiskState
		want  domain.Reason
	}{
		{"daily loss beats wide spread", input(&w1, 0.7, wide...), domain.RiskState{DailyRealizedPnL: -20}, domain.ReasonDailyLossLimitHit},
		{"kill switch beats missing data", TickInput{Now: now, Window: &w1, PUpErr: domain.ErrInsufficientData}, domain.RiskState{KillSwitchActive: true}, domain.ReasonDailyLossLimitHit},
		{"cooldown beats edge", input(&w1, 0.5, tight...), domain.RiskState{LastEntryAt: now.Add(-time.Second)}, domain.ReasonCooldownActive},
		{"no window", input(nil, 0.7), domain.RiskState{}, domain.ReasonNoWindow},
		{"model unavailable", TickInput{Now: now, Window: &w1, PUpErr: domain.ErrInsufficientData, Quotes: map[string]domain.Quote{"up1": tight[0], "down1": tight[1]}}, domain.RiskState{}, domain.ReasonInsufficientData},
		{"missing down quote", input(&w1, 0.7, tight[0]), domain.RiskState{}, domain.ReasonInsufficientData},
		{"wide spread", input(&w1, 0.7, wide...), domain.RiskState{}, domain.ReasonSpreadTooWide},
		{"low edge", input(&w1, 0.52, tight...), domain.RiskState{}, domain.ReasonEdgeTooLow},
		{"low edge with wide spread", input(&w1, 0.52, wide...), domain.RiskState{}, domain.ReasonEdgeTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(params(), tt.in, gateFor(cfg, tt.state))
			assert.Equal(t, tt.want, d.Snapshot.Reason)
			assert.Nil(t, d.Entry)
		})
	}
}

func TestOldWindowBlocksEntry(t *testing.T) {
	cfg := risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 100, Cooldown: time.Second}
	in := input(&w2, 0.58, quote("up2", 0.49, 0.51), quote("down2", 0.49, 0.51))
	in.Positions = []domain.Position{{ID: "p1", TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.5, Size: 20, OpenedAt: now.Add(-time.Minute), Status: domain.PositionStatusOpen}}

	d := Decide(params(), in, gateFor(cfg, domain.RiskState{}))
	assert.Equal(t, domain.ReasonPositionOpenOldWindow, d.Snapshot.Reason)

	cfg.AllowCrossWindow = true
	p := params()
	p.AllowCrossWindow = true
	d = Decide(p, in, gateFor(cfg, domain.RiskState{}))
	assert.Equal(t, domain.ReasonEntryUp, d.Snapshot.Reason)
	require.NotNil(t, d.Entry)
	assert.Equal(t, "w2", d.Entry.WindowSlug)
}

func TestScenarioCProfitTake(t *testing.T) {
	p := params()
	p.ProfitTakeBps = 250
	in := input(&w1, 0.5, quote("up1", 0.51, 0.52), quote("down1", 0.48, 0.49))
	in.Positions = []domain.Position{{ID: "p1", Outcome: domain.OutcomeUp, TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.50, Size: 20, OpenedAt: now.Add(-10 * time.Second), Status: domain.PositionStatusOpen}}

	d := Decide(p, in, allow)
	require.Len(t, d.Exits, 1)
	assert.Equal(t, domain.ExitProfitTake, d.Exits[0].Reason)
	assert.Equal(t, "p1", d.Exits[0].PositionID)
	assert.Equal(t, 0.51, d.Exits[0].LimitPrice)
	assert.Equal(t, 20.0, d.Exits[0].Size)
}

func TestTimeStop(t *testing.T) {
	in := input(&w1, 0.5, quote("up1", 0.49, 0.50), quote("down1", 0.5, 0.51))
	in.Positions = []domain.Position{
		{ID: "old", TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.50, Size: 20, OpenedAt: now.Add(-180 * time.Second), Status: domain.PositionStatusOpen},
		{ID: "young", TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.50, Size: 20, OpenedAt: now.Add(-179 * time.Second), Status: domain.PositionStatusOpen},
	}
	d := Decide(params(), in, allow)
	require.Len(t, d.Exits, 1)
	assert.Equal(t, "old", d.Exits[0].PositionID)
	assert.Equal(t, domain.ExitTimeStop, d.Exits[0].Reason)
}

func TestScenarioDRotation(t *testing.T) {
	cfg := risk.Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
	in := input(&w2, 0.58,
		quote("up1", 0.49, 0.51),
		quote("up2", 0.49, 0.51), quote("down2", 0.49, 0.51),
	)
	in.Positions = []domain.Position{{ID: "p1", TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.50, Size: 20, OpenedAt: now.Add(-30 * time.Second), Status: domain.PositionStatusOpen}}

	d := Decide(params(), in, gateFor(cfg, domain.RiskState{ExposureUSD: 10}))
	require.Len(t, d.Exits, 1)
	assert.Equal(t, domain.ExitMarketRotated, d.Exits[0].Reason)
	assert.Equal(t, "w2", d.Snapshot.WindowSlug)
	assert.Nil(t, d.Entry)

	// Once flat, entries target the new window only.
	in.Positions = nil
	d = Decide(params(), in, gateFor(cfg, domain.RiskState{}))
	require.NotNil(t, d.Entry)
	assert.Equal(t, "up2", d.Entry.TokenID)
	assert.Equal(t, "w2", d.Entry.WindowSlug)
}

func TestExitsNeedQuotes(t *testing.T) {
	in := input(&w2, 0.5)
	in.Positions = []domain.Position{{ID: "p1", TokenID: "up1", WindowSlug: "w1", EntryPrice: 0.5, Size: 1, OpenedAt: now.Add(-time.Hour), Status: domain.PositionStatusOpen}}
	assert.Empty(t, Decide(params(), in, allow).Exits)
}

func TestScenarioEKillSwitch(t *testing.T) {
	cfg := risk.Config{DailyLossLimitUSD: 50, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
	g := risk.NewGate(cfg, now, discardLogger())
	g.RecordPnL(-50, now)

	in := input(&w1, 0.58, quote("up1", 0.49, 0.51), quote("down1", 0.49, 0.51))
	for i := 0; i < 5; i++ {
		at := now.Add(time.Duration(i) * time.Hour)
		in.Now = at
		d := Decide(params(), in, func(n float64, exp risk.Exposure) risk.Verdict { return g.Check(n, exp, at) })
		assert.Equal(t, domain.ReasonDailyLossLimitHit, d.Snapshot.Reason)
		assert.Nil(t, d.Entry)
	}

	next := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	in.Now = next
	d := Decide(params(), in, func(n float64, exp risk.Exposure) risk.Verdict { return g.Check(n, exp, next) })
	assert.Equal(t, domain.ReasonEntryUp, d.Snapshot.Reason)
	assert.Zero(t, g.State().DailyRealizedPnL)
}
