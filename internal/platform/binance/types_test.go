package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrade(t *testing.T) {
	recv := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tick, err := ParseTrade([]byte(`{"e":"trade","E":1700000000001,"s":"BTCUSDT","t":1,"p":"64250.10","q":"0.01","T":1700000000000}`), recv)
	require.NoError(t, err)
	assert.InDelta(t, 64250.10, tick.Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tick.Timestamp)

	tick, err = ParseTrade([]byte(`{"p":"100"}`), recv)
	require.NoError(t, err)
	assert.Equal(t, recv, tick.Timestamp)

	tick, err = ParseTrade([]byte(`{"stream":"btcusdt@trade","data":{"p":"65000.5","T":1700000000500}}`), recv)
	require.NoError(t, err)
	assert.InDelta(t, 65000.5, tick.Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000500).UTC(), tick.Timestamp)

	for _, bad := range []string{`{"result":null,"id":1}`, `{"p":"abc"}`, `{"p":"-1"}`, `not json`} {
		_, err := ParseTrade([]byte(bad), recv)
		assert.Error(t, err, bad)
	}
}
