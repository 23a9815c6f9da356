package strategy

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/risk"
)

// Params are the decision thresholds.
type Params struct {
	EdgeMin          float64
	MaxSpread        float64
	OrderSizeUSD     float64
	ProfitTakeBps    float64
	TimeStop         time.Duration
	AllowCrossWindow bool
	PriceRule        PriceRule
}

// TickInput is everything one decision tick looks at, sampled up front.
type TickInput struct {
	Now time.Time
	// Window is the active window, nil when none is installed.
	Window   *domain.MarketWindow
	BTCPrice float64
	// PUp is the model probability; PUpErr is set when the model could not
	// produce one.
	PUp    float64
	PUpErr error
	// Quotes holds fresh quotes only, keyed by token id.
	Quotes    map[string]domain.Quote
	Positions []domain.Position
}

// GateFunc asks the risk gate about an entry of the given notional.
type GateFunc func(notional float64, exp risk.Exposure) risk.Verdict

// Decision is the result of one tick.
type Decision struct {
	Snapshot domain.DecisionSnapshot
	Entry    *domain.EntryIntent
	Exits    []domain.ExitIntent
}

// Decide evaluates one tick. It records exactly one reason, in priority
// order: risk gate blocks, no_window, insufficient_data, then
// spread_too_wide or edge_too_low. Exits are evaluated for every open
// position regardless of the entry outcome.
func Decide(p Params, in TickInput, gate GateFunc) Decision {
	snap := domain.DecisionSnapshot{
		Timestamp: in.Now,
		BTCPrice:  in.BTCPrice,
	}
	if in.PUpErr == nil {
		snap.PUpModel = in.PUp
	}

	var up, down domain.Quote
	quotesOK := false
	if in.Window != nil {
		snap.WindowSlug = in.Window.Slug
		var okUp, okDown bool
		up, okUp = in.Quotes[in.Window.UpTokenID]
		down, okDown = in.Quotes[in.Window.DownTokenID]
		quotesOK = okUp && okDown && up.Complete() && down.Complete()
		if quotesOK {
			snap.PUpMkt = up.Mid()
			snap.SpreadUp = up.Spread()
			snap.SpreadDown = down.Spread()
			snap.UpBid, snap.UpAsk = up.BestBid, up.BestAsk
			snap.DownBid, snap.DownAsk = down.BestBid, down.BestAsk
		}
	}
	if quotesOK && in.PUpErr == nil {
		snap.EdgeUp = in.PUp - snap.PUpMkt
		snap.EdgeDown = -snap.EdgeUp
	}

	d := Decision{Exits: exits(p, in)}

	v := gate(p.OrderSizeUSD, risk.Exposure{OldWindowOpen: oldWindowOpen(in)})
	switch {
	case !v.Allowed:
		snap.Reason = v.Reason
	case in.Window == nil:
		snap.Reason = domain.ReasonNoWindow
	case in.PUpErr != nil || !quotesOK:
		snap.Reason = domain.ReasonInsufficientData
	default:
		outcome, edge, spread, q := domain.OutcomeUp, snap.EdgeUp, snap.SpreadUp, up
		if snap.EdgeDown > snap.EdgeUp {
			outcome, edge, spread, q = domain.OutcomeDown, snap.EdgeDown, snap.SpreadDown, down
		}
		switch {
		case edge < p.EdgeMin:
			snap.Reason = domain.ReasonEdgeTooLow
		case spread > p.MaxSpread:
			snap.Reason = domain.ReasonSpreadTooWide
		default:
			price := p.PriceRule.Entry(q)
			d.Entry = &domain.EntryIntent{
				Outcome:    outcome,
				TokenID:    in.Window.TokenFor(outcome),
				LimitPrice: price,
				Size:       p.OrderSizeUSD / price,
				WindowSlug: in.Window.Slug,
			}
			snap.Reason = domain.ReasonEntryUp
			if outcome == domain.OutcomeDown {
				snap.Reason = domain.ReasonEntryDown
			}
		}
	}

	d.Snapshot = snap
	return d
}

func oldWindowOpen(in TickInput) bool {
	for _, pos := range in.Positions {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		if in.Window == nil || pos.WindowSlug != in.Window.Slug {
			return true
		}
	}
	return false
}

// exits applies the exit rules to each open position: profit take, then
// time stop, then market rotation. Positions without a fresh quote are
// left alone this tick.
func exits(p Params, in TickInput) []domain.ExitIntent {
	var out []domain.ExitIntent
	for _, pos := range in.Positions {
		if pos.Status != domain.PositionStatusOpen || pos.EntryPrice <= 0 {
			continue
		}
		q, ok := in.Quotes[pos.TokenID]
		if !ok || !q.Complete() {
			continue
		}

		var reason domain.ExitReason
		gainBps := (q.Mid() - pos.EntryPrice) / pos.EntryPrice * 10_000
		switch {
		case gainBps >= p.ProfitTakeBps:
			reason = domain.ExitProfitTake
		case in.Now.Sub(pos.OpenedAt) >= p.TimeStop:
			reason = domain.ExitTimeStop
		case !p.AllowCrossWindow && (in.Window == nil || pos.WindowSlug != in.Window.Slug):
			reason = domain.ExitMarketRotated
		default:
			continue
		}
		out = append(out, domain.ExitIntent{
			PositionID: pos.ID,
			TokenID:    pos.TokenID,
			LimitPrice: p.PriceRule.Exit(q),
			Size:       pos.Size,
			Reason:     reason,
		})
	}
	return out
}
