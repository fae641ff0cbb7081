package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionBusy is returned when another pipeline run holds the
// session lock.
var ErrSessionBusy = errors.New("session is busy with another operation")

const lockKeyPrefix = "planner:lock:"

// SessionLock serializes pipeline stages per session across processes.
// A lock is a Redis key with a TTL so a crashed holder cannot wedge
// the session forever.
type SessionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionLock(client *redis.Client, ttl time.Duration) *SessionLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionLock{client: client, ttl: ttl}
}

func (l *SessionLock) Acquire(ctx context.Context, sessionID string) error {
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+sessionID, "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire session lock failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	return nil
}

func (l *SessionLock) Release(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, lockKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("release session lock failed: %w", err)
	}
	return nil
}
