package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitProfitTake    ExitReason = "PROFIT_TAKE"
	ExitTimeStop      ExitReason = "TIME_STOP"
	ExitMarketRotated ExitReason = "MARKET_ROTATED"
	ExitFlatten       ExitReason = "FLATTEN"
	ExitManual        ExitReason = "MANUAL"
)

// Position is inventory in one outcome token, bound to the window that
// opened it.
type Position struct {
	ID         string
	Outcome    Outcome
	TokenID    string
	EntryPrice float64
	Size       float64
	OpenedAt   time.Time
	WindowSlug string
	// WindowEnd is the end of the opening window, kept so a restarted
	// process can flatten positions whose window it never saw.
	WindowEnd  time.Time
	Status     PositionStatus
	ExitReason ExitReason
	ExitPrice  float64
	ClosedAt   *time.Time
	Mode       string
}

// Notional returns entry price times size.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Size
}

// AddFill folds an additional entry fill into the position using a
// size-weighted average entry price.
func (p *Position) AddFill(price, size float64) {
	total := p.Size + size
	if total <= 0 {
		return
	}
	p.EntryPrice = (p.EntryPrice*p.Size + price*size) / total
	p.Size = total
}

// Close marks the position closed. A position closes exactly once.
func (p *Position) Close(exitPrice float64, reason ExitReason, at time.Time) error {
	if p.Status == PositionStatusClosed {
		return fmt.Errorf("%w: %s", ErrPositionClosed, p.ID)
	}
	p.Status = PositionStatusClosed
	p.ExitPrice = exitPrice
	p.ExitReason = reason
	p.ClosedAt = &at
	return nil
}
