// Package binance reads the public BTC trade stream.
package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ParseTrade decodes a <symbol>@trade frame, raw or wrapped in a combined
// stream envelope ({"stream":...,"data":{...}}). The tick is stamped with
// the exchange trade time ("T") when present, otherwise with recv.
func ParseTrade(raw []byte, recv time.Time) (domain.TradeTick, error) {
	if !gjson.ValidBytes(raw) {
		return domain.TradeTick{}, fmt.Errorf("binance: decode trade: invalid json")
	}
	msg := gjson.ParseBytes(raw)
	if data := msg.Get("data"); data.IsObject() {
		msg = data
	}

	p := msg.Get("p")
	if !p.Exists() || p.String() == "" {
		return domain.TradeTick{}, fmt.Errorf("binance: trade frame without price")
	}
	price, err := strconv.ParseFloat(p.String(), 64)
	if err != nil || price <= 0 {
		return domain.TradeTick{}, fmt.Errorf("binance: bad price %q", p.String())
	}
	ts := recv
	if ms := msg.Get("T").Int(); ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return domain.TradeTick{Price: price, Timestamp: ts}, nil
}
