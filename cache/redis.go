package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig defines connection settings for the shared cache.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
}

// Redis is a Cache shared between processes. Failures degrade to misses.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("redis cache get failed")
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("redis cache entry is corrupt")
		return Entry{}, false
	}
	return entry, true
}

func (r *Redis) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("redis cache set failed")
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn().Str("key", key).Err(err).Msg("redis cache delete failed")
	}
}

// Close releases the connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}
