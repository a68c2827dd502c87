package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRoomLocker is a lease-based room lock shared by all instances that use
// the same redis. The lease expires after ttl even if the holder dies.
type RedisRoomLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	prefix string

	// SetNX is retried from pollMin, doubling up to pollMax.
	pollMin time.Duration
	pollMax time.Duration
}

func NewRedisRoomLocker(client *redis.Client, cfg config.BookingConfig) *RedisRoomLocker {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = models.DefaultLockTTL
	}
	return &RedisRoomLocker{
		client:  client,
		ttl:     ttl,
		wait:    cfg.LockWait,
		prefix:  "arbiter:room_lock:",
		pollMin: 5 * time.Millisecond,
		pollMax: 100 * time.Millisecond,
	}
}

func (l *RedisRoomLocker) key(roomID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, roomID)
}

func (l *RedisRoomLocker) Lock(ctx context.Context, roomID int64) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis client is nil")
	}
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	key := l.key(roomID)
	token := uuid.NewString()

	delay := l.pollMin
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, lockWaitError(ctx.Err(), roomID)
			}
			return nil, fmt.Errorf("failed to acquire room lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lockWaitError(ctx.Err(), roomID)
		case <-timer.C:
		}
		delay = min(delay*2, l.pollMax)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
