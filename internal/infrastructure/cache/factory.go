package cache

import (
	"fmt"

	"github.com/dealsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// BatchLockerFactory creates batch lockers based on configuration
type BatchLockerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// BatchLockerFactoryOption is a functional option for configuring the factory
type BatchLockerFactoryOption func(*BatchLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) BatchLockerFactoryOption {
	return func(f *BatchLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory locker when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) BatchLockerFactoryOption {
	return func(f *BatchLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewBatchLockerFactory creates a new factory
func NewBatchLockerFactory(cfg config.RedisConfig, opts ...BatchLockerFactoryOption) *BatchLockerFactory {
	f := &BatchLockerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisLocker creates a Redis-based locker
func (f *BatchLockerFactory) CreateRedisLocker() (*RedisBatchLocker, error) {
	locker, err := NewRedisBatchLocker(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis batch locker: %w", err)
	}
	return locker, nil
}

// CreateLocker returns an in-memory locker when Redis is disabled. Otherwise
// it tries Redis and falls back to in-memory if that is allowed.
func (f *BatchLockerFactory) CreateLocker() (BatchLocker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Debug("Redis disabled, using in-memory batch lock")
		return NewInMemoryBatchLocker(), nil
	}

	locker, err := f.CreateRedisLocker()
	if err == nil {
		f.logger.Info("using Redis batch lock", zap.String("addr", f.redisConfig.Addr()))
		return locker, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for batch lock but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory batch lock. "+
		"Concurrent batches from other hosts will not be excluded.",
		zap.Error(err),
	)
	return NewInMemoryBatchLocker(), nil
}
