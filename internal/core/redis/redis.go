package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"restdispatch/internal/core/config"
	"restdispatch/internal/shared/logs"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by the getters when the key does not exist.
var ErrNotFound = redis.Nil

// Connect dials REDIS_URL, retrying with the configured count and delay.
// The URL may be a redis:// URL or a bare host:port.
func Connect(cfg config.Config) (*redis.Client, error) {
	opts, err := options(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	retryCount := cfg.RedisRetryCount
	if retryCount <= 0 {
		retryCount = 1
	}
	retryDelay := cfg.RedisRetryDelay

	for attempt := 1; attempt <= retryCount; attempt++ {
		client := redis.NewClient(opts)

		err := client.Ping(context.Background()).Err()
		if err == nil {
			logs.Info(fmt.Sprintf("Connected to Redis on attempt %d/%d", attempt, retryCount), "addr", opts.Addr)
			return client, nil
		}
		_ = client.Close()
		logs.Error(fmt.Sprintf("Failed to connect to Redis. Attempt %d/%d", attempt, retryCount), "addr", opts.Addr, "error", err)
		if attempt < retryCount {
			time.Sleep(retryDelay)
		}
	}

	message := fmt.Sprintf("Failed to connect to Redis after %d attempts", retryCount)
	logs.Error(message)
	return nil, errors.New(message)
}

func options(raw string) (*redis.Options, error) {
	if raw == "" {
		return nil, errors.New("redis url is empty")
	}
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}

func Cleanup(ctx context.Context, client *redis.Client) {
	if client == nil {
		return
	}
	_ = client.Close()
}

// SaveJSON stores any JSON-serializable value at the provided key.
func SaveJSON(ctx context.Context, client *redis.Client, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// GetJSON retrieves a JSON value from the provided key and unmarshals it into the target.
func GetJSON(ctx context.Context, client *redis.Client, key string, target any) error {
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), target)
}

// AcquireLock attempts to take a short-lived lock. It returns false with a nil
// error when another holder owns it. release is nil unless the lock was taken.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (bool, func(), error) {
	acquired, err := client.SetNX(ctx, key, time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !acquired {
		return false, nil, nil
	}

	release := func() {
		_ = client.Del(context.Background(), key).Err()
	}
	return true, release, nil
}
