package polymarket

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Market channel frames vary by event type and API revision, so quotes are
// located by shape rather than by a fixed schema.
var (
	candidateKeys = []string{"data", "payload", "message", "event", "book", "books", "market", "result", "orders", "price_changes", "changes"}
	nestedKeys    = []string{"data", "book", "market", "payload", "message"}
	tokenKeys     = []string{"asset_id", "token_id", "id"}
	levelKeys     = []string{"price", "px", "p"}
)

// ExtractQuotes pulls every complete top-of-book quote out of one market
// channel frame. Frames that carry no usable quote yield nil.
func ExtractQuotes(raw []byte, now time.Time) []domain.Quote {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	var out []domain.Quote
	for _, c := range candidates(gjson.ParseBytes(raw)) {
		if q, ok := extractQuote(c, now); ok {
			out = append(out, q)
		}
	}
	return out
}

// EventType returns a coarse label for a frame, for logging.
func EventType(raw []byte) string {
	r := gjson.ParseBytes(raw)
	if r.IsArray() {
		return "list"
	}
	for _, k := range []string{"event_type", "type", "event", "channel"} {
		if v := r.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return "unknown"
}

func candidates(r gjson.Result) []gjson.Result {
	switch {
	case r.IsArray():
		var out []gjson.Result
		r.ForEach(func(_, v gjson.Result) bool {
			out = append(out, candidates(v)...)
			return true
		})
		return out
	case r.IsObject():
		out := []gjson.Result{r}
		for _, k := range candidateKeys {
			if v := r.Get(k); v.IsObject() || v.IsArray() {
				out = append(out, candidates(v)...)
			}
		}
		return out
	}
	return nil
}

func extractQuote(obj gjson.Result, now time.Time) (domain.Quote, bool) {
	var token string
	for _, k := range tokenKeys {
		if v := obj.Get(k); v.Exists() && v.String() != "" {
			token = v.String()
			break
		}
	}
	if token == "" {
		return domain.Quote{}, false
	}
	bid, okb := bookPrice(obj, true)
	ask, oka := bookPrice(obj, false)
	if !okb || !oka {
		return domain.Quote{}, false
	}
	return domain.Quote{TokenID: token, BestBid: bid, BestAsk: ask, Timestamp: now}, true
}

func bookPrice(obj gjson.Result, bid bool) (float64, bool) {
	best, fallback, levels := "best_ask", "ask", "asks"
	if bid {
		best, fallback, levels = "best_bid", "bid", "bids"
	}
	if f, ok := number(obj.Get(best)); ok {
		return f, true
	}
	if f, ok := number(obj.Get(fallback)); ok {
		return f, true
	}
	if f, ok := bestLevel(obj.Get(levels), bid); ok {
		return f, true
	}
	for _, k := range nestedKeys {
		if v := obj.Get(k); v.IsObject() {
			if f, ok := bookPrice(v, bid); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// bestLevel scans a level list for the best price: highest bid or lowest
// ask. Levels are either objects with a price key or [price, size] pairs.
func bestLevel(levels gjson.Result, bid bool) (float64, bool) {
	if !levels.IsArray() {
		return 0, false
	}
	var best float64
	found := false
	levels.ForEach(func(_, lvl gjson.Result) bool {
		var p float64
		var ok bool
		switch {
		case lvl.IsObject():
			for _, k := range levelKeys {
				if p, ok = number(lvl.Get(k)); ok {
					break
				}
			}
		case lvl.IsArray():
			p, ok = number(lvl.Get("0"))
		}
		if !ok {
			return true
		}
		if !found || (bid && p > best) || (!bid && p < best) {
			best, found = p, true
		}
		return true
	})
	return best, found
}

func number(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	}
	return 0, false
}
