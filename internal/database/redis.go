package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis подключается к Redis.
// Если заданы адреса Sentinel и имя мастера - через Sentinel, иначе напрямую по URL.
func ConnectRedis(redisURL string, sentinelAddrs []string, masterName string) (*redis.Client, error) {
	var client *redis.Client
	mode := "direct"

	if len(sentinelAddrs) > 0 && masterName != "" {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    masterName,
			SentinelAddrs: sentinelAddrs,
			PoolSize:      50,
			MinIdleConns:  5,
			MaxRetries:    3,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
		})
		mode = fmt.Sprintf("sentinel, master %s", masterName)
	} else {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		// Redis используется только как кэш прогнозов - большой пул не нужен
		opt.PoolSize = 50
		opt.MinIdleConns = 5
		opt.MaxRetries = 3
		client = redis.NewClient(opt)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis (%s): %w", mode, err)
	}

	log.Printf("✅ Redis подключен (%s)", mode)
	return client, nil
}

// CloseRedis закрывает подключение к Redis
func CloseRedis(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
