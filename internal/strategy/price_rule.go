package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PriceRule chooses resting limit prices from the touch.
type PriceRule interface {
	// Entry returns the buy price for an entry on q's token.
	Entry(q domain.Quote) float64
	// Exit returns the sell price for an exit on q's token.
	Exit(q domain.Quote) float64
}

// TouchRule rests at the best opposing touch: buys at the ask, sells at the
// bid.
type TouchRule struct{}

func (TouchRule) Entry(q domain.Quote) float64 { return clampPrice(q.BestAsk) }
func (TouchRule) Exit(q domain.Quote) float64  { return clampPrice(q.BestBid) }

// OffsetRule shifts the opposing touch by Offset. A positive offset pays
// up on entries and gives up on exits; a negative one rests inside the
// spread.
type OffsetRule struct {
	Offset float64
}

func (r OffsetRule) Entry(q domain.Quote) float64 { return clampPrice(q.BestAsk + r.Offset) }
func (r OffsetRule) Exit(q domain.Quote) float64  { return clampPrice(q.BestBid - r.Offset) }

// clampPrice keeps prices on valid outcome-token ticks.
func clampPrice(p float64) float64 {
	p = math.Round(p*1e4) / 1e4
	return math.Min(math.Max(p, minProb), maxProb)
}

// NewPriceRule returns the rule registered under name.
func NewPriceRule(name string, offset float64) (PriceRule, error) {
	switch name {
	case "", "touch":
		return TouchRule{}, nil
	case "offset":
		return OffsetRule{Offset: offset}, nil
	}
	return nil, fmt.Errorf("strategy: unknown entry price rule %q", name)
}
