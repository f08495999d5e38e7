package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 10 * time.Minute

// Locker hands out single-attempt distributed locks backed by redsync.
type Locker struct {
	rs     *redsync.Redsync
	prefix string
	ttl    time.Duration
}

type LockerOption func(*Locker)

// WithLockTTL sets how long a lock survives a holder that never releases it.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces lock keys, default "lock:".
func WithKeyPrefix(prefix string) LockerOption {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

func NewLocker(client goredislib.UniversalClient, opts ...LockerOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	l := &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "lock:",
		ttl:    defaultLockTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryLock acquires name once without retrying. A lock held elsewhere is
// reported as acquired=false with a nil error.
func (l *Locker) TryLock(ctx context.Context, name string) (release func(context.Context) error, acquired bool, err error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, errors.New("lock name is required")
	}
	key := l.prefix + name
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.ttl), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	release = func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("release lock %s: lock expired before release", key)
		}
		return nil
	}
	return release, true, nil
}

// isContention reports whether err means another holder owns the lock.
func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken)
}
