package services

import (
	"context"
	"time"

	"possales/server/internal/utils"
)

// ForecastCache - кэш ответов прогноза
type ForecastCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context) error
}

// RedisForecastCache хранит ответы прогноза в Redis с TTL
type RedisForecastCache struct {
	redis *utils.RedisClient
	ttl   time.Duration
}

// NewRedisForecastCache создает кэш поверх RedisClient
func NewRedisForecastCache(redis *utils.RedisClient, ttl time.Duration) *RedisForecastCache {
	return &RedisForecastCache{redis: redis, ttl: ttl}
}

func (c *RedisForecastCache) Get(ctx context.Context, key string, dest interface{}) error {
	return c.redis.GetJSON(ctx, key, dest)
}

func (c *RedisForecastCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.redis.SetJSON(ctx, key, value, c.ttl)
}

// Invalidate сбрасывает все закэшированные прогнозы (после нового обучения)
func (c *RedisForecastCache) Invalidate(ctx context.Context) error {
	_, err := c.redis.DeletePattern(ctx, "*")
	return err
}
