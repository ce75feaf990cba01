package cache

import (
	"fmt"

	"github.com/transcribe/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// IdempotencyStoreFactory creates idempotency stores based on configuration
type IdempotencyStoreFactory struct {
	redisConfig           RedisConfig
	redisEnabled          bool
	idempotency           shared.IdempotencyConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// IdempotencyStoreFactoryOption is a functional option for configuring the factory
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory store when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// WithRedis enables the Redis store
func WithRedis(cfg RedisConfig) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.redisConfig = cfg
		f.redisEnabled = true
	}
}

// NewIdempotencyStoreFactory creates a new factory
func NewIdempotencyStoreFactory(cfg shared.IdempotencyConfig, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		idempotency:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateStore returns the dedup window to use, or nil when deduplication is
// disabled. Redis is preferred when configured; the in-memory window is used
// otherwise, or as a fallback when Redis is unreachable and fallback is allowed.
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	if !f.idempotency.Enabled {
		f.logger.Warn("webhook deduplication disabled")
		return nil, nil
	}
	if !f.redisEnabled {
		f.logger.Info("using in-memory idempotency store",
			zap.Int("max_entries", f.idempotency.MaxEntries),
			zap.Duration("ttl", f.idempotency.TTL))
		return NewInMemoryIdempotencyStore(f.idempotency), nil
	}

	store, err := NewRedisIdempotencyStore(f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis idempotency store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for idempotency but unavailable: %w", err)
	}

	// In-memory windows are per process; replicas may each apply a redelivery
	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(f.idempotency), nil
}
