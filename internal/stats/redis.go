package stats

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wernerpool/stratum/internal/config"
)

// redisBackend is the low-latency half of the Statistics Store: duplicate
// share detection, online-worker tracking, and the running counters
// record_share/update_best_difficulty update on every submission.
type redisBackend struct {
	client    *redis.Client
	cfg       config.RedisConfig
	logger    *zap.Logger
	keyPrefix string
}

func newRedisBackend(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))

	return &redisBackend{
		client:    client,
		cfg:       cfg,
		logger:    logger.Named("redis"),
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}

func (r *redisBackend) key(parts ...string) string {
	key := r.keyPrefix
	for _, part := range parts {
		key += part + ":"
	}
	return key[:len(key)-1]
}

// CheckDuplicateShare atomically checks-and-sets a share's identity key,
// reporting true if the key already existed (the share is a replay).
func (r *redisBackend) CheckDuplicateShare(ctx context.Context, shareKey string) (bool, error) {
	key := r.key("share", shareKey)

	created, err := r.client.SetNX(ctx, key, 1, r.cfg.ShareTTL).Result()
	if err != nil {
		return false, fmt.Errorf("check duplicate share: %w", err)
	}
	return !created, nil
}

// recordShare increments the per-address/worker accepted or rejected share
// counter and timestamps the worker's last activity.
func (r *redisBackend) recordShare(ctx context.Context, address, worker string, accepted bool, timestampMs int64) error {
	counterKey := r.key("addr", address, worker, "rejected")
	if accepted {
		counterKey = r.key("addr", address, worker, "accepted")
	}
	if err := r.client.Incr(ctx, counterKey).Err(); err != nil {
		return fmt.Errorf("increment share counter: %w", err)
	}

	lastShareKey := r.key("addr", address, worker, "last_share_ms")
	return r.client.Set(ctx, lastShareKey, timestampMs, 0).Err()
}

// updateBestDifficulty keeps the highest difficulty any share from this
// address has reached, via a client-side GET, compare and SET (no Lua
// script, so the read and write are not atomic).
func (r *redisBackend) updateBestDifficulty(ctx context.Context, address string, difficulty float64) error {
	key := r.key("addr", address, "best_difficulty")

	current, err := r.client.Get(ctx, key).Float64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read best difficulty: %w", err)
	}
	if difficulty <= current {
		return nil
	}
	return r.client.Set(ctx, key, difficulty, 0).Err()
}

func (r *redisBackend) trackOnline(ctx context.Context, address, worker string) {
	key := r.key("online")
	member := address + "." + worker
	if err := r.client.SAdd(ctx, key, member).Err(); err != nil {
		r.logger.Warn("failed to mark worker online", zap.String("worker", member), zap.Error(err))
	}
}

func (r *redisBackend) untrackOnline(ctx context.Context, address, worker string) {
	key := r.key("online")
	member := address + "." + worker
	if err := r.client.SRem(ctx, key, member).Err(); err != nil {
		r.logger.Warn("failed to mark worker offline", zap.String("worker", member), zap.Error(err))
	}
}
