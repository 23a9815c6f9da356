// Package report aggregates a run's decision ticks into the end-of-run
// summary and renders the persisted session report.
package report

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Stat is the min/max/mean of one series. N is zero when nothing was seen.
type Stat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	N   int64   `json:"n"`
}

type accumulator struct {
	min, max, sum float64
	n             int64
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) stat() Stat {
	if a.n == 0 {
		return Stat{}
	}
	return Stat{Min: a.min, Max: a.max, Avg: a.sum / float64(a.n), N: a.n}
}

// RunSummary is logged, alerted and archived when a run ends.
type RunSummary struct {
	SessionID  string                  `json:"session_id"`
	Mode       string                  `json:"mode"`
	StartedAt  time.Time               `json:"started_at"`
	EndedAt    time.Time               `json:"ended_at"`
	Ticks      int64                   `json:"ticks"`
	Reasons    map[domain.Reason]int64 `json:"reasons"`
	Entries    int64                   `json:"entries"`
	EdgeUp     Stat                    `json:"edge_up"`
	EdgeDown   Stat                    `json:"edge_down"`
	SpreadUp   Stat                    `json:"spread_up"`
	SpreadDown Stat                    `json:"spread_down"`
	Store      *domain.ReportSummary   `json:"store,omitempty"`
}

// Collector accumulates decision snapshots. It is safe for concurrent use.
type Collector struct {
	sessionID string
	mode      string
	started   time.Time

	mu         sync.Mutex
	ticks      int64
	reasons    map[domain.Reason]int64
	edgeUp     accumulator
	edgeDown   accumulator
	spreadUp   accumulator
	spreadDown accumulator
}

// NewCollector starts a collector for one session.
func NewCollector(sessionID, mode string, started time.Time) *Collector {
	return &Collector{
		sessionID: sessionID,
		mode:      mode,
		started:   started,
		reasons:   make(map[domain.Reason]int64),
	}
}

// Observe records one tick. Spreads count on ticks where both outcome books
// were quoted; edges additionally need a model probability.
func (c *Collector) Observe(s domain.DecisionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticks++
	c.reasons[s.Reason]++
	if s.UpAsk <= 0 || s.DownAsk <= 0 || s.UpBid <= 0 || s.DownBid <= 0 {
		return
	}
	c.spreadUp.add(s.SpreadUp)
	c.spreadDown.add(s.SpreadDown)
	if s.PUpModel > 0 {
		c.edgeUp.add(s.EdgeUp)
		c.edgeDown.add(s.EdgeDown)
	}
}

// Summary snapshots the accumulated state.
func (c *Collector) Summary(ended time.Time) RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	reasons := make(map[domain.Reason]int64, len(c.reasons))
	for r, n := range c.reasons {
		reasons[r] = n
	}
	return RunSummary{
		SessionID:  c.sessionID,
		Mode:       c.mode,
		StartedAt:  c.started,
		EndedAt:    ended,
		Ticks:      c.ticks,
		Reasons:    reasons,
		Entries:    reasons[domain.ReasonEntryUp] + reasons[domain.ReasonEntryDown],
		EdgeUp:     c.edgeUp.stat(),
		EdgeDown:   c.edgeDown.stat(),
		SpreadUp:   c.spreadUp.stat(),
		SpreadDown: c.spreadDown.stat(),
	}
}

// LogValue renders the summary as a slog group.
func (s RunSummary) LogValue() slog.Value {
	reasons := make([]slog.Attr, 0, len(domain.AllReasons))
	for _, r := range domain.AllReasons {
		if n := s.Reasons[r]; n > 0 {
			reasons = append(reasons, slog.Int64(string(r), n))
		}
	}
	attrs := []slog.Attr{
		slog.String("session_id", s.SessionID),
		slog.String("mode", s.Mode),
		slog.Duration("duration", s.EndedAt.Sub(s.StartedAt).Round(time.Second)),
		slog.Int64("ticks", s.Ticks),
		slog.Int64("entries", s.Entries),
		slog.Attr{Key: "reasons", Value: slog.GroupValue(reasons...)},
		statAttr("edge_up", s.EdgeUp),
		statAttr("edge_down", s.EdgeDown),
		statAttr("spread_up", s.SpreadUp),
		statAttr("spread_down", s.SpreadDown),
	}
	if s.Store != nil {
		attrs = append(attrs,
			slog.Int64("orders", s.Store.TotalOrders),
			slog.Int64("fills", s.Store.Fills),
			slog.Float64("realized_pnl", s.Store.RealizedPnL),
		)
	}
	return slog.GroupValue(attrs...)
}

func statAttr(key string, st Stat) slog.Attr {
	return slog.Group(key,
		slog.Float64("min", st.Min),
		slog.Float64("max", st.Max),
		slog.Float64("avg", st.Avg),
	)
}

// Lines renders the summary as ordered key/value lines for alerts.
func (s RunSummary) Lines() (map[string]string, []string) {
	lines := map[string]string{
		"session":     s.SessionID,
		"mode":        s.Mode,
		"duration":    s.EndedAt.Sub(s.StartedAt).Round(time.Second).String(),
		"ticks":       fmt.Sprintf("%d", s.Ticks),
		"entries":     fmt.Sprintf("%d", s.Entries),
		"edge up":     formatStat(s.EdgeUp),
		"edge down":   formatStat(s.EdgeDown),
		"spread up":   formatStat(s.SpreadUp),
		"spread down": formatStat(s.SpreadDown),
	}
	order := []string{"session", "mode", "duration", "ticks", "entries"}
	for _, r := range domain.AllReasons {
		if n := s.Reasons[r]; n > 0 {
			lines[string(r)] = fmt.Sprintf("%d", n)
			order = append(order, string(r))
		}
	}
	order = append(order, "edge up", "edge down", "spread up", "spread down")
	if s.Store != nil {
		lines["orders"] = fmt.Sprintf("%d (%d buy, %d sell)", s.Store.TotalOrders, s.Store.BuyOrders, s.Store.SellOrders)
		lines["realized pnl"] = fmt.Sprintf("%+.4f USD", s.Store.RealizedPnL)
		order = append(order, "orders", "realized pnl")
	}
	return lines, order
}

func formatStat(st Stat) string {
	if st.N == 0 {
		return "n/a"
	}
	return fmt.Sprintf("min %.4f max %.4f avg %.4f", st.Min, st.Max, st.Avg)
}
