package market

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

const summaryKeyPrefix = `market:summary:`

type SummaryCache interface {
	Get(ctx context.Context, segment, window string) (*model.MarketSummary, bool)
	Set(ctx context.Context, summary model.MarketSummary)
	Invalidate(ctx context.Context)
}

type NopCache struct{}

func (NopCache) Get(context.Context, string, string) (*model.MarketSummary, bool) { return nil, false }
func (NopCache) Set(context.Context, model.MarketSummary)                         {}
func (NopCache) Invalidate(context.Context)                                       {}

// RedisCache keeps recent summaries per (segment, window); cache errors only log.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.With(zap.String(`component`, `summary-cache`))}
}

func summaryKey(segment, window string) string {
	if segment == `` {
		segment = `all`
	}
	return summaryKeyPrefix + segment + `:` + window
}

func (cache *RedisCache) Get(ctx context.Context, segment, window string) (*model.MarketSummary, bool) {
	window, _ = model.WindowDuration(window)
	data, err := cache.client.Get(ctx, summaryKey(segment, window)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			cache.logger.Warn(`cache get`, zap.Error(err))
		}
		return nil, false
	}
	summary := &model.MarketSummary{}
	if err = json.Unmarshal(data, summary); err != nil {
		cache.logger.Warn(`cache decode`, zap.Error(err))
		return nil, false
	}
	return summary, true
}

// Set stores only error-free summaries.
func (cache *RedisCache) Set(ctx context.Context, summary model.MarketSummary) {
	if summary.Failed() {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		cache.logger.Warn(`cache encode`, zap.Error(err))
		return
	}
	if err = cache.client.Set(ctx, summaryKey(summary.MarketType, summary.TimeRange), data, cache.ttl).Err(); err != nil {
		cache.logger.Warn(`cache set`, zap.Error(err))
	}
}

func (cache *RedisCache) Invalidate(ctx context.Context) {
	iter := cache.client.Scan(ctx, 0, summaryKeyPrefix+`*`, 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		cache.logger.Warn(`cache scan`, zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := cache.client.Del(ctx, keys...).Err(); err != nil {
		cache.logger.Warn(`cache invalidate`, zap.Error(err))
	}
}
