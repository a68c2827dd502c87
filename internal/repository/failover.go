package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"arbiter/internal/domain"

	"github.com/rs/zerolog"
)

const recoverAfter = time.Minute

// FailoverRoomLocker uses the primary locker until it errors, then the
// fallback, retrying the primary once recoverAfter has passed. Lock wait
// timeouts are contention, not failure, and are returned as is.
type FailoverRoomLocker struct {
	primary  domain.RoomLocker
	fallback domain.RoomLocker
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverRoomLocker(primary, fallback domain.RoomLocker, logger *zerolog.Logger) *FailoverRoomLocker {
	return &FailoverRoomLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverRoomLocker) markDown(err error) {
	l.logger.Error().Err(err).Msg("Primary room locker failed, falling back to memory")
	l.isDown.Store(true)
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
}

func (l *FailoverRoomLocker) retryPrimary() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCheck) <= recoverAfter {
		return false
	}
	l.lastCheck = time.Now()
	return true
}

func (l *FailoverRoomLocker) Lock(ctx context.Context, roomID int64) (func(), error) {
	if !l.isDown.Load() || l.retryPrimary() {
		unlock, err := l.primary.Lock(ctx, roomID)
		switch {
		case err == nil:
			if l.isDown.CompareAndSwap(true, false) {
				l.logger.Info().Msg("Primary room locker recovered")
			}
			return unlock, nil
		case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.Canceled):
			return nil, err
		default:
			l.markDown(err)
		}
	}

	return l.fallback.Lock(ctx, roomID)
}
