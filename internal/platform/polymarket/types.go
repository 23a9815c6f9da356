package polymarket

import (
	"encoding/json"
	"strings"
	"time"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals either a JSON array of strings or a string holding
// a JSON-encoded array, which is how Gamma ships outcomes and token ids.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    int64  `json:"created_at"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APICreds are the L2 API credentials returned by the auth endpoints.
type APICreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID             string      `json:"id"`
	Question       string      `json:"question"`
	ConditionID    string      `json:"conditionId"`
	Slug           string      `json:"slug"`
	Active         flexBool    `json:"active"`
	Closed         flexBool    `json:"closed"`
	Outcomes       flexStrings `json:"outcomes"`
	ClobTokenIDs   flexStrings `json:"clobTokenIds"`
	EndDate        string      `json:"endDate"`
	StartDate      string      `json:"startDate"`
	EventStartTime string      `json:"eventStartTime"`
}

// End parses the market end date; ok is false when absent or malformed.
func (m *APIMarket) End() (time.Time, bool) {
	return parseGammaTime(m.EndDate)
}

// WindowStart returns when the market's trading window opens. Recurring
// markets carry eventStartTime; otherwise it is end minus window.
func (m *APIMarket) WindowStart(window time.Duration) time.Time {
	if t, ok := parseGammaTime(m.EventStartTime); ok {
		return t
	}
	if end, ok := m.End(); ok {
		return end.Add(-window)
	}
	return time.Time{}
}

func parseGammaTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// MarketSubscription is sent on the market channel. The initial handshake
// uses Type; later changes use Operation.
type MarketSubscription struct {
	AssetIDs  []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
}
