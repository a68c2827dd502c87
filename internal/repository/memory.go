package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbiter/internal/domain"
)

// MemoryRoomLocker serializes writers per room inside one process.
type MemoryRoomLocker struct {
	mu    sync.Mutex
	rooms map[int64]chan struct{}
	wait  time.Duration
}

func NewMemoryRoomLocker(wait time.Duration) *MemoryRoomLocker {
	return &MemoryRoomLocker{
		rooms: make(map[int64]chan struct{}),
		wait:  wait,
	}
}

func (l *MemoryRoomLocker) slot(roomID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.rooms[roomID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rooms[roomID] = ch
	}
	return ch
}

// Lock blocks until the room is free, the configured wait elapses, or ctx is
// done. The returned unlock func is safe to call more than once.
func (l *MemoryRoomLocker) Lock(ctx context.Context, roomID int64) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ch := l.slot(roomID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-ch })
		}, nil
	case <-ctx.Done():
		return nil, lockWaitError(ctx.Err(), roomID)
	}
}

func lockWaitError(err error, roomID int64) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: room %d is busy", domain.ErrTimeout, roomID)
	}
	return err
}
