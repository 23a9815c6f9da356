package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
//
// Key schema:
//
//	{prefix}:price:{assetID}  - hash with "price" and "ts" (unix nanos)
//	{prefix}:quote:{tokenID}  - hash with "bid", "ask" and "ts"
//
// Both expire after ttl so a stopped bot does not leave stale marks behind.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	key := pc.c.key("price", assetID)
	fields := map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.write(ctx, key, fields); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an asset. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := parseFloatField(vals, "price")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	ts, err := parseTimeField(vals, "ts")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	return price, ts, nil
}

// SetQuote stores the touch of one outcome token.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := pc.c.key("quote", q.TokenID)
	fields := map[string]any{
		"bid": strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	if err := pc.write(ctx, key, fields); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.TokenID, err)
	}
	return nil
}

// GetQuote retrieves the last stored touch for tokenID.
func (pc *PriceCache) GetQuote(ctx context.Context, tokenID string) (domain.Quote, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("quote", tokenID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	q := domain.Quote{TokenID: tokenID}
	if q.BestBid, err = parseFloatField(vals, "bid"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if q.BestAsk, err = parseFloatField(vals, "ask"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if q.Timestamp, err = parseTimeField(vals, "ts"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	return q, nil
}

func (pc *PriceCache) write(ctx context.Context, key string, fields map[string]any) error {
	if pc.ttl <= 0 {
		return pc.c.rdb.HSet(ctx, key, fields).Err()
	}
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, pc.ttl)
		return nil
	})
	return err
}

func parseFloatField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, fmt.Errorf("missing %q: %w", field, domain.ErrNotFound)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", field, err)
	}
	return v, nil
}

func parseTimeField(vals map[string]string, field string) (time.Time, error) {
	s, ok := vals[field]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %q: %w", field, domain.ErrNotFound)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", field, err)
	}
	return time.Unix(0, n), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
