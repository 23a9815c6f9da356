package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// readWait bounds silence on the stream before the connection is
	// considered dead. Binance pings every few minutes and trades arrive
	// far more often.
	readWait = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// TradeConn is a single connection to a Binance trade stream.
type TradeConn struct {
	conn *websocket.Conn
}

// DialTrades connects to the trade stream at url.
func DialTrades(ctx context.Context, url string) (*TradeConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance/ws: connect: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	return &TradeConn{conn: conn}, nil
}

// Next blocks for the next trade. Frames that are not trades are skipped.
func (c *TradeConn) Next() (domain.TradeTick, error) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return domain.TradeTick{}, fmt.Errorf("binance/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		tick, err := ParseTrade(raw, time.Now().UTC())
		if err != nil {
			continue
		}
		return tick, nil
	}
}

// Close closes the underlying connection.
func (c *TradeConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
