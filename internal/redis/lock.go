package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock held by another request")
	// ErrLockUnavailable means the lock store could not be reached; fn did not run.
	ErrLockUnavailable = errors.New("booking lock store unavailable")
)

// Locker serializes work on one booking across API replicas.
type Locker interface {
	WithBookingLock(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context) error) error
}

type bookingLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewBookingLocker returns a Locker backed by SET NX with a random owner token. fn runs with
// a context bounded by ttl so work cannot outlive the lock.
func NewBookingLocker(client redis.UniversalClient, ttl time.Duration) Locker {
	return &bookingLocker{
		client: client,
		ttl:    ttl,
		prefix: "lock:booking:",
	}
}

func (l *bookingLocker) WithBookingLock(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context) error) error {
	key := l.prefix + bookingID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// compare-and-delete: only the owner token may release
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *bookingLocker) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
