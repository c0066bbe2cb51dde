package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisBatchLocker implements BatchLocker with bsm/redislock.
// Suitable for distributed deployments where several operators or hosts may
// trigger batches against the same datastore.
type RedisBatchLocker struct {
	client *redis.Client
	locker *redislock.Client
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisBatchLocker connects to Redis and verifies the connection
func NewRedisBatchLocker(cfg RedisConfig) (*RedisBatchLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBatchLockerWithClient(client), nil
}

// NewRedisBatchLockerWithClient creates a locker with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisBatchLockerWithClient(client *redis.Client) *RedisBatchLocker {
	return &RedisBatchLocker{
		client: client,
		locker: redislock.New(client),
	}
}

// Obtain takes the lock once; it does not wait for the current holder
func (l *RedisBatchLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return &redisLease{lock: lock}, nil
}

// Close closes the underlying client
func (l *RedisBatchLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	lock *redislock.Lock
}

func (le *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	err := le.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockNotHeld
	}
	return err
}

func (le *redisLease) Release(ctx context.Context) error {
	err := le.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return ErrLockNotHeld
	}
	return err
}

var _ BatchLocker = (*RedisBatchLocker)(nil)
