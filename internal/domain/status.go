package domain

import "time"

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode           string        `json:"mode"`
	StartedAt      time.Time     `json:"started_at"`
	Window         *MarketWindow `json:"window,omitempty"`
	RegistryStale  bool          `json:"registry_stale"`
	TradeFeedUp    bool          `json:"trade_feed_connected"`
	BookFeedUp     bool          `json:"book_feed_connected"`
	OpenPositions  int           `json:"open_positions"`
	OpenOrders     int           `json:"open_orders"`
	Risk           RiskState     `json:"risk"`
	LastReason     Reason        `json:"last_reason,omitempty"`
	LastDecisionAt time.Time     `json:"last_decision_at"`
}
