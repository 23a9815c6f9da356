package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// NormalizeMarketURL points a CLOB websocket host at the market channel.
// "wss://host", "wss://host/ws" and "wss://host/ws/" all become
// "wss://host/ws/market"; any other path is kept.
func NormalizeMarketURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Path {
	case "", "/", "/ws", "/ws/":
		u.Path = "/ws/market"
	default:
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}

// MarketConn is one connection to the CLOB market channel. Reconnection is
// the caller's job; a MarketConn is discarded after its first read error.
type MarketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// DialMarket connects to the market channel at wsURL (normalized first).
func DialMarket(ctx context.Context, wsURL string) (*MarketConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, NormalizeMarketURL(wsURL), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	// Set up pong handler for keep-alive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c := &MarketConn{conn: conn, done: make(chan struct{})}
	go c.pingLoop()
	return c, nil
}

// Subscribe asks for book updates on the given outcome tokens. Both the
// handshake form and the operation form are sent; the server ignores the
// one it does not expect.
func (c *MarketConn) Subscribe(assetIDs []string) error {
	for _, sub := range []MarketSubscription{
		{AssetIDs: assetIDs, Type: "market"},
		{AssetIDs: assetIDs, Operation: "subscribe"},
	} {
		if err := c.writeJSON(sub); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe: %w", err)
		}
	}
	return nil
}

// ReadFrame blocks for the next data frame.
func (c *MarketConn) ReadFrame() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: read: %w: %v", domain.ErrWSDisconnect, err)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return msg, nil
}

// Close shuts down the connection. Safe to call more than once and from
// any goroutine; a blocked ReadFrame returns an error.
func (c *MarketConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *MarketConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *MarketConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
