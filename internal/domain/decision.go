package domain

import "time"

// Reason is the single outcome code recorded for a decision tick.
type Reason string

const (
	ReasonEntryUp               Reason = "entry_up"
	ReasonEntryDown             Reason = "entry_down"
	ReasonInsufficientData      Reason = "insufficient_data"
	ReasonEdgeTooLow            Reason = "edge_too_low"
	ReasonSpreadTooWide         Reason = "spread_too_wide"
	ReasonDailyLossLimitHit     Reason = "daily_loss_limit_hit"
	ReasonMaxExposureHit        Reason = "max_exposure_hit"
	ReasonCooldownActive        Reason = "cooldown_active"
	ReasonPositionOpenOldWindow Reason = "position_open_old_window"
	ReasonNoWindow              Reason = "no_window"
	// ReasonEntriesDisabled replaces an entry reason once the run is
	// winding down and no new positions are opened.
	ReasonEntriesDisabled       Reason = "entries_disabled"
)

// AllReasons lists every reason code in a stable order for reporting.
var AllReasons = []Reason{
	ReasonEntryUp,
	ReasonEntryDown,
	ReasonInsufficientData,
	ReasonEdgeTooLow,
	ReasonSpreadTooWide,
	ReasonDailyLossLimitHit,
	ReasonMaxExposureHit,
	ReasonCooldownActive,
	ReasonPositionOpenOldWindow,
	ReasonNoWindow,
	ReasonEntriesDisabled,
}

// DecisionSnapshot is the write-once record of one decision tick.
type DecisionSnapshot struct {
	Timestamp  time.Time `json:"ts"`
	WindowSlug string    `json:"window_slug"`
	BTCPrice   float64   `json:"btc_price"`
	PUpModel   float64   `json:"p_up_model"`
	PUpMkt     float64   `json:"p_up_mkt"`
	EdgeUp     float64   `json:"edge_up"`
	EdgeDown   float64   `json:"edge_down"`
	SpreadUp   float64   `json:"spread_up"`
	SpreadDown float64   `json:"spread_down"`
	UpBid      float64   `json:"up_bid"`
	UpAsk      float64   `json:"up_ask"`
	DownBid    float64   `json:"down_bid"`
	DownAsk    float64   `json:"down_ask"`
	Reason     Reason    `json:"reason"`
	Mode       string    `json:"mode"`
}

// EntryIntent asks the order manager to open a position.
type EntryIntent struct {
	Outcome    Outcome
	TokenID    string
	LimitPrice float64
	Size       float64
	WindowSlug string
}

// Notional returns limit price times size.
func (e EntryIntent) Notional() float64 {
	return e.LimitPrice * e.Size
}

// ExitIntent asks the order manager to close a position.
type ExitIntent struct {
	PositionID string
	TokenID    string
	LimitPrice float64
	Size       float64
	Reason     ExitReason
}
