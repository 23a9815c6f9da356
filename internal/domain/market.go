package domain

import "time"

// Outcome names one side of a binary Up/Down market.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// Opposite returns the other outcome of the pair.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeUp {
		return OutcomeDown
	}
	return OutcomeUp
}

// WindowStatus represents the lifecycle state of a market window.
type WindowStatus string

const (
	WindowStatusActive     WindowStatus = "ACTIVE"
	WindowStatusSuperseded WindowStatus = "SUPERSEDED"
	WindowStatusExpired    WindowStatus = "EXPIRED"
)

// ManualWindowSlug identifies a window built from statically configured
// token ids rather than discovered.
const ManualWindowSlug = "manual-config"

// MarketWindow is one tradable 5-minute Up/Down contract.
type MarketWindow struct {
	Slug        string
	Question    string
	Start       time.Time
	End         time.Time
	UpTokenID   string
	DownTokenID string
	Status      WindowStatus
}

// TokenFor returns the token id backing the given outcome.
func (w MarketWindow) TokenFor(o Outcome) string {
	if o == OutcomeUp {
		return w.UpTokenID
	}
	return w.DownTokenID
}

// OutcomeFor maps a token id back to its outcome.
func (w MarketWindow) OutcomeFor(tokenID string) (Outcome, bool) {
	switch tokenID {
	case w.UpTokenID:
		return OutcomeUp, true
	case w.DownTokenID:
		return OutcomeDown, true
	}
	return "", false
}

// Expired reports whether the window's trading period has ended at now.
// Windows without an end time never expire on their own.
func (w MarketWindow) Expired(now time.Time) bool {
	return !w.End.IsZero() && !now.Before(w.End)
}

// Valid reports whether both outcome tokens are present and distinct.
func (w MarketWindow) Valid() bool {
	return w.Slug != "" && w.UpTokenID != "" && w.DownTokenID != "" && w.UpTokenID != w.DownTokenID
}

// MarketRotated is published when the active window changes.
type MarketRotated struct {
	Old *MarketWindow `json:"old,omitempty"`
	New MarketWindow  `json:"new"`
	At  time.Time     `json:"at"`
}
