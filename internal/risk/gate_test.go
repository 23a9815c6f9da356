package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

var (
	t0  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg = Config{DailyLossLimitUSD: 20, MaxPositionUSD: 30, Cooldown: 45 * time.Second}
	ten = 10.0
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckPriority(t *testing.T) {
	tests := []struct {
		name  string
		state domain.RiskState
		exp   Exposure
		want  domain.Reason
	}{
		{"pass", domain.RiskState{}, Exposure{}, ""},
		{"old window", domain.RiskState{}, Exposure{OldWindowOpen: true}, domain.ReasonPositionOpenOldWindow},
		{"cooldown beats old window", domain.RiskState{LastEntryAt: t0.Add(-10 * time.Second)}, Exposure{OldWindowOpen: true}, domain.ReasonCooldownActive},
		{"exposure beats cooldown", domain.RiskState{ExposureUSD: 25, LastEntryAt: t0}, Exposure{}, domain.ReasonMaxExposureHit},
		{"daily loss beats everything", domain.RiskState{DailyRealizedPnL: -20, ExposureUSD: 25, LastEntryAt: t0}, Exposure{OldWindowOpen: true}, domain.ReasonDailyLossLimitHit},
		{"kill switch", domain.RiskState{KillSwitchActive: true}, Exposure{}, domain.ReasonDailyLossLimitHit},
		{"exposure exactly at limit passes", domain.RiskState{ExposureUSD: 20}, Exposure{}, ""},
		{"cooldown elapsed", domain.RiskState{LastEntryAt: t0.Add(-45 * time.Second)}, Exposure{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(cfg, tt.state, ten, tt.exp, t0)
			assert.Equal(t, tt.want, v.Reason)
			assert.Equal(t, tt.want == "", v.Allowed)

			// Idempotent over identical inputs.
			assert.Equal(t, v, Check(cfg, tt.state, ten, tt.exp, t0))
		})
	}
}

func TestCrossWindowAllowed(t *testing.T) {
	c := cfg
	c.AllowCrossWindow = true
	assert.True(t, Check(c, domain.RiskState{}, ten, Exposure{OldWindowOpen: true}, t0).Allowed)
}

func TestKillSwitchStickyUntilRollover(t *testing.T) {
	g := NewGate(cfg, t0, discardLogger())
	kills := 0
	g.OnKillSwitch(func(domain.RiskState) { kills++ })

	g.RecordPnL(-12, t0)
	assert.False(t, g.State().KillSwitchActive)
	g.RecordPnL(-8, t0.Add(time.Minute))
	assert.True(t, g.State().KillSwitchActive)
	assert.Equal(t, 1, kills)

	// A later win does not lift the switch.
	g.RecordPnL(15, t0.Add(2*time.Minute))
	assert.True(t, g.State().KillSwitchActive)
	assert.Equal(t, domain.ReasonDailyLossLimitHit, g.Check(ten, Exposure{}, t0.Add(3*time.Minute)).Reason)
	assert.Equal(t, 1, kills)

	next := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	assert.True(t, g.Check(ten, Exposure{}, next).Allowed)
	st := g.State()
	assert.False(t, st.KillSwitchActive)
	assert.Zero(t, st.DailyRealizedPnL)
	assert.Equal(t, "2026-03-02", st.Day)
}

func TestRolloverKeepsExposureAndCooldown(t *testing.T) {
	g := NewGate(cfg, t0, discardLogger())
	g.SetExposure(12)
	late := time.Date(2026, 3, 1, 23, 59, 50, 0, time.UTC)
	g.RecordEntry(late)

	v := g.Check(ten, Exposure{}, late.Add(20*time.Second))
	assert.Equal(t, domain.ReasonCooldownActive, v.Reason)
	assert.Equal(t, 12.0, g.State().ExposureUSD)
	assert.False(t, g.Rollover(late.Add(25*time.Second)))
}
