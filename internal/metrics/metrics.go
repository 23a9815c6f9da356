// Package metrics exposes the trading loop's counters and gauges in
// Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Metrics owns a private registry so tests and multiple bots in one process
// do not collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	decisions       *prometheus.CounterVec
	orders          *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	sessionPnL      prometheus.Gauge
	rotations       prometheus.Counter
	flattenFailures prometheus.Counter
	killSwitches    prometheus.Counter

	exposure      prometheus.Gauge
	dailyPnL      prometheus.Gauge
	killSwitch    prometheus.Gauge
	openPositions prometheus.Gauge
	openOrders    prometheus.Gauge
	feedUp        *prometheus.GaugeVec
	registryStale prometheus.Gauge
	edge          *prometheus.GaugeVec
	spread        *prometheus.GaugeVec
}

// New creates and registers every collector under the "updown" namespace.
func New() *Metrics {
	const ns = "updown"
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "decisions_total", Help: "Decision ticks by reason code",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "order_updates_total", Help: "Order state changes by side and status",
		}, []string{"side", "status"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "positions_closed_total", Help: "Closed positions by exit reason",
		}, []string{"exit_reason"}),
		sessionPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "session_realized_pnl_usd", Help: "Realized PnL since process start",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rotations_total", Help: "Active window changes",
		}),
		flattenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "flatten_failures_total", Help: "Positions force-closed after their window expired",
		}),
		killSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "kill_switch_trips_total", Help: "Times the daily loss limit tripped",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "exposure_usd", Help: "Open position notional in USD",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "daily_pnl_usd", Help: "Realized PnL since the UTC day start",
		}),
		killSwitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "kill_switch", Help: "1 while new entries are blocked by the daily loss limit",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "open_positions", Help: "Open positions",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "open_orders", Help: "Resting orders",
		}),
		feedUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "feed_connected", Help: "1 while the feed connection is up",
		}, []string{"feed"}),
		registryStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "registry_stale", Help: "1 when the active window failed to refresh",
		}),
		edge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "edge", Help: "Last computed edge per side",
		}, []string{"side"}),
		spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "spread", Help: "Last observed spread per side",
		}, []string{"side"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions, m.orders, m.positionsClosed, m.sessionPnL, m.rotations,
		m.flattenFailures, m.killSwitches, m.exposure, m.dailyPnL, m.killSwitch,
		m.openPositions, m.openOrders, m.feedUp, m.registryStale, m.edge, m.spread,
	)
	for _, r := range domain.AllReasons {
		m.decisions.WithLabelValues(string(r))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveDecision counts a tick and records its edges and spreads.
func (m *Metrics) ObserveDecision(s domain.DecisionSnapshot) {
	m.decisions.WithLabelValues(string(s.Reason)).Inc()
	if s.UpAsk > 0 {
		m.edge.WithLabelValues("up").Set(s.EdgeUp)
		m.spread.WithLabelValues("up").Set(s.SpreadUp)
	}
	if s.DownAsk > 0 {
		m.edge.WithLabelValues("down").Set(s.EdgeDown)
		m.spread.WithLabelValues("down").Set(s.SpreadDown)
	}
}

// Sample copies the point-in-time status into the gauges.
func (m *Metrics) Sample(st domain.BotStatus) {
	m.exposure.Set(st.Risk.ExposureUSD)
	m.dailyPnL.Set(st.Risk.DailyRealizedPnL)
	m.killSwitch.Set(boolGauge(st.Risk.KillSwitchActive))
	m.openPositions.Set(float64(st.OpenPositions))
	m.openOrders.Set(float64(st.OpenOrders))
	m.feedUp.WithLabelValues("binance").Set(boolGauge(st.TradeFeedUp))
	m.feedUp.WithLabelValues("polymarket").Set(boolGauge(st.BookFeedUp))
	m.registryStale.Set(boolGauge(st.RegistryStale))
}

// OrderChanged counts an order state change.
func (m *Metrics) OrderChanged(_ context.Context, o domain.Order) {
	m.orders.WithLabelValues(string(o.Side), string(o.Status)).Inc()
}

// PositionChanged is a no-op; open positions are sampled from status.
func (m *Metrics) PositionChanged(context.Context, domain.Position) {}

// PositionClosed counts the close and its PnL.
func (m *Metrics) PositionClosed(_ context.Context, p domain.Position, rec domain.PnLRecord) {
	m.positionsClosed.WithLabelValues(string(p.ExitReason)).Inc()
	m.sessionPnL.Add(rec.RealizedPnL)
}

// KillSwitch counts a trip.
func (m *Metrics) KillSwitch(_ context.Context, _ domain.RiskState) {
	m.killSwitches.Inc()
	m.killSwitch.Set(1)
}

// FlattenFailed counts a forced flatten.
func (m *Metrics) FlattenFailed(context.Context, domain.Position, error) {
	m.flattenFailures.Inc()
}

// MarketRotated counts a window change.
func (m *Metrics) MarketRotated(context.Context, domain.MarketRotated) {
	m.rotations.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
