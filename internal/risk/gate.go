// Package risk decides whether a new entry may be placed.
package risk

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Config holds the risk limits.
type Config struct {
	DailyLossLimitUSD float64
	MaxPositionUSD    float64
	Cooldown          time.Duration
	// AllowCrossWindow lets new entries open while positions from a
	// superseded window are still held.
	AllowCrossWindow bool
}

// Verdict is the gate's answer for one entry intent.
type Verdict struct {
	Allowed bool
	Reason  domain.Reason
}

// Exposure describes open positions at check time.
type Exposure struct {
	// OldWindowOpen is true when a position from a non-active window is
	// still open.
	OldWindowOpen bool
}

// Check evaluates a proposed entry of notional USD against state. It is
// pure: the same inputs always yield the same verdict. Blocks are reported
// in priority order: daily loss, max exposure, cooldown, old-window
// position.
func Check(cfg Config, state domain.RiskState, notional float64, exp Exposure, now time.Time) Verdict {
	switch {
	case state.KillSwitchActive || state.DailyRealizedPnL <= -cfg.DailyLossLimitUSD:
		return Verdict{Reason: domain.ReasonDailyLossLimitHit}
	case state.ExposureUSD+notional > cfg.MaxPositionUSD:
		return Verdict{Reason: domain.ReasonMaxExposureHit}
	case !state.LastEntryAt.IsZero() && now.Sub(state.LastEntryAt) < cfg.Cooldown:
		return Verdict{Reason: domain.ReasonCooldownActive}
	case exp.OldWindowOpen && !cfg.AllowCrossWindow:
		return Verdict{Reason: domain.ReasonPositionOpenOldWindow}
	}
	return Verdict{Allowed: true}
}

// Gate owns the RiskState. It is not safe for concurrent use; the order
// manager is its only caller.
type Gate struct {
	cfg    Config
	state  domain.RiskState
	logger *slog.Logger

	// onKill is called once each time the kill switch trips.
	onKill func(state domain.RiskState)
}

// NewGate creates a gate with a fresh state for the day containing now.
func NewGate(cfg Config, now time.Time, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		state:  domain.RiskState{Day: domain.UTCDay(now)},
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// OnKillSwitch registers a hook for kill switch activation.
func (g *Gate) OnKillSwitch(fn func(state domain.RiskState)) {
	g.onKill = fn
}

// State returns a copy of the current state.
func (g *Gate) State() domain.RiskState {
	return g.state
}

// Restore replaces the state, e.g. with one rebuilt from persistence.
func (g *Gate) Restore(s domain.RiskState) {
	g.state = s
}

// Check rolls the day over if needed and evaluates a proposed entry.
func (g *Gate) Check(notional float64, exp Exposure, now time.Time) Verdict {
	g.Rollover(now)
	return Check(g.cfg, g.state, notional, exp, now)
}

// Rollover resets the daily PnL and kill switch when now falls on a new
// UTC day. It reports whether a reset happened.
func (g *Gate) Rollover(now time.Time) bool {
	day := domain.UTCDay(now)
	if day == g.state.Day {
		return false
	}
	g.logger.Info("utc day rollover",
		slog.String("from", g.state.Day),
		slog.String("to", day),
		slog.Float64("realized_pnl", g.state.DailyRealizedPnL),
		slog.Bool("kill_switch", g.state.KillSwitchActive),
	)
	g.state.Day = day
	g.state.DailyRealizedPnL = 0
	g.state.KillSwitchActive = false
	return true
}

// RecordEntry starts the cooldown.
func (g *Gate) RecordEntry(at time.Time) {
	g.state.LastEntryAt = at
}

// SetExposure replaces the open notional.
func (g *Gate) SetExposure(usd float64) {
	g.state.ExposureUSD = usd
}

// RecordPnL adds realized PnL and trips the kill switch when the daily
// loss limit is reached. The switch stays on until the next UTC day.
func (g *Gate) RecordPnL(pnl float64, at time.Time) {
	g.Rollover(at)
	g.state.DailyRealizedPnL += pnl
	if g.state.KillSwitchActive || g.state.DailyRealizedPnL > -g.cfg.DailyLossLimitUSD {
		return
	}
	g.state.KillSwitchActive = true
	g.logger.Warn("kill switch activated",
		slog.Float64("daily_realized_pnl", g.state.DailyRealizedPnL),
		slog.Float64("limit", g.cfg.DailyLossLimitUSD),
	)
	if g.onKill != nil {
		g.onKill(g.state)
	}
}
