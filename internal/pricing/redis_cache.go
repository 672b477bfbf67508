package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crossarb/internal/model"
)

// RedisCache is a QuoteCache backed by redis, for sharing the quote view with
// external reporting. Entries expire on their own so a dead poller cannot
// serve arbitrarily old quotes.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a redis-backed quote cache. Entries live for ttl.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func redisQuoteKey(exchange, symbol string) string {
	return fmt.Sprintf("quotes:%s:%s", exchange, symbol)
}

func (c *RedisCache) Put(ctx context.Context, quote model.PriceQuote) error {
	payload, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisQuoteKey(quote.Exchange, quote.Symbol), payload, c.ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, exchange, symbol string) (model.PriceQuote, error) {
	payload, err := c.rdb.Get(ctx, redisQuoteKey(exchange, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PriceQuote{}, fmt.Errorf("%w: %s on %s", model.ErrQuoteUnavailable, symbol, exchange)
		}
		return model.PriceQuote{}, err
	}

	var quote model.PriceQuote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return model.PriceQuote{}, err
	}
	return quote, nil
}
