package domain

import "time"

// RiskState is the mutable risk ledger. Only the order manager writes it.
type RiskState struct {
	Day              string // UTC date, YYYY-MM-DD
	DailyRealizedPnL float64
	ExposureUSD      float64
	LastEntryAt      time.Time
	KillSwitchActive bool
}

// UTCDay formats t as the UTC calendar day key used by RiskState.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
