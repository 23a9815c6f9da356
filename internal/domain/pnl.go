package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLRecord is the realized result of one closed position.
type PnLRecord struct {
	PositionID  string
	WindowSlug  string
	ExitReason  ExitReason
	RealizedPnL float64
	ClosedAt    time.Time
}

// RealizedPnL returns (exit - entry) * size * sign. Outcome tokens are held
// long, so sign is +1 for every position this bot opens; a negative sign
// is accepted for completeness.
func RealizedPnL(entry, exit, size float64, sign int) float64 {
	d := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromFloat(size)).
		Mul(decimal.NewFromInt(int64(sign)))
	f, _ := d.Round(8).Float64()
	return f
}
