package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Event types accepted by Notify and used in the [notify] events filter.
const (
	EventPositionClosed = "position_closed"
	EventKillSwitch     = "kill_switch"
	EventFlatten        = "flatten"
	EventRotation       = "rotation"
	EventOrderRejected  = "order_rejected"
	EventRunSummary     = "run_summary"
)

// Severity ranks an alert. Senders use it for colour and for whether the
// message pings the operator.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Field is one name/value row of an alert.
type Field struct {
	Name  string
	Value string
}

// Alert is an operator notification about one bot event.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Fields   []Field
	// Note is free text shown under the fields.
	Note string
	At   time.Time
}

// Text renders the alert body as "name: value" lines followed by the note.
func (a Alert) Text() string {
	var b strings.Builder
	for _, f := range a.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	if a.Note != "" {
		b.WriteString(a.Note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func price(v float64) string { return fmt.Sprintf("%.4f", v) }

// PositionClosed builds the alert for a closed position. Losing closes are
// warnings.
func PositionClosed(p domain.Position, rec domain.PnLRecord) Alert {
	sev := SeverityInfo
	if rec.RealizedPnL < 0 {
		sev = SeverityWarn
	}
	a := Alert{
		Event:    EventPositionClosed,
		Severity: sev,
		Title:    fmt.Sprintf("Closed %s %s", p.Outcome, p.ExitReason),
		Fields: []Field{
			{"window", p.WindowSlug},
			{"size", fmt.Sprintf("%.2f", p.Size)},
			{"entry", price(p.EntryPrice)},
			{"exit", price(p.ExitPrice)},
			{"pnl", fmt.Sprintf("%+.4f USD", rec.RealizedPnL)},
		},
		At: rec.ClosedAt,
	}
	if p.ClosedAt != nil && a.At.IsZero() {
		a.At = *p.ClosedAt
	}
	return a
}

// KillSwitch builds the daily loss limit alert.
func KillSwitch(st domain.RiskState) Alert {
	return Alert{
		Event:    EventKillSwitch,
		Severity: SeverityError,
		Title:    "Kill switch active",
		Fields: []Field{
			{"day", st.Day},
			{"daily pnl", fmt.Sprintf("%+.2f USD", st.DailyRealizedPnL)},
			{"exposure", fmt.Sprintf("%.2f USD", st.ExposureUSD)},
		},
		Note: "entries blocked until UTC rollover",
	}
}

// Flatten builds the forced flatten alert.
func Flatten(p domain.Position, err error) Alert {
	a := Alert{
		Event:    EventFlatten,
		Severity: SeverityError,
		Title:    "Position flattened",
		Fields: []Field{
			{"window", p.WindowSlug},
			{"outcome", string(p.Outcome)},
			{"size", fmt.Sprintf("%.2f", p.Size)},
			{"entry", price(p.EntryPrice)},
		},
	}
	if err != nil {
		a.Note = err.Error()
	}
	return a
}

// Rotation builds the market rotation alert.
func Rotation(ev domain.MarketRotated) Alert {
	from := "none"
	if ev.Old != nil {
		from = ev.Old.Slug
	}
	return Alert{
		Event:    EventRotation,
		Severity: SeverityInfo,
		Title:    "Market rotated",
		Fields: []Field{
			{"from", from},
			{"to", ev.New.Slug},
			{"ends", ev.New.End.UTC().Format("15:04:05")},
		},
		At: ev.At,
	}
}

// OrderRejected builds the order rejection alert.
func OrderRejected(o domain.Order) Alert {
	return Alert{
		Event:    EventOrderRejected,
		Severity: SeverityWarn,
		Title:    "Order rejected",
		Fields: []Field{
			{"purpose", string(o.Purpose)},
			{"side", string(o.Side)},
			{"outcome", string(o.Outcome)},
			{"order", fmt.Sprintf("%.2f @ %s", o.Size, price(o.LimitPrice))},
		},
		Note: o.Error,
		At:   o.UpdatedAt,
	}
}

// RunSummary builds the end-of-run alert, one field per summary line in
// the given order.
func RunSummary(lines map[string]string, order []string) Alert {
	a := Alert{Event: EventRunSummary, Severity: SeverityInfo, Title: "Run finished"}
	for _, k := range order {
		if v, ok := lines[k]; ok {
			a.Fields = append(a.Fields, Field{k, v})
		}
	}
	return a
}
