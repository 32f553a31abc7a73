package marketdata

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// CachedProvider wraps an OHLCV provider with a redis read-through cache.
// Cache failures degrade to the underlying provider; they never fail a fetch.
type CachedProvider struct {
	inner Provider
	rdb   redis.Cmdable
	ttl   time.Duration
}

// NewCachedProvider wraps inner with a redis cache using the given TTL.
func NewCachedProvider(inner Provider, rdb redis.Cmdable, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, rdb: rdb, ttl: ttl}
}

// FetchOHLCV implements Provider.
func (c *CachedProvider) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (PriceTable, error) {
	key := cacheKey(symbols, start, end)

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var table PriceTable
		if err := json.Unmarshal([]byte(raw), &table); err == nil {
			log.Debug().Str("key", key).Msg("ohlcv cache hit")
			return table, nil
		}
		log.Warn().Str("key", key).Msg("ohlcv cache entry corrupt, refetching")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("key", key).Msg("ohlcv cache read failed")
	}

	table, err := c.inner.FetchOHLCV(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(table); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("ohlcv cache write failed")
		}
	}
	return table, nil
}

func cacheKey(symbols []string, start, end time.Time) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	h := sha1.Sum([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("ohlcv:%s:%s:%s",
		hex.EncodeToString(h[:8]), start.Format("2006-01-02"), end.Format("2006-01-02"))
}
