package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// RunLockKey guards schedule runs across processes sharing one Redis.
const RunLockKey = "lock:schedule"

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// TryLock acquires the lock identified by key using SET NX EX. On success it
// returns an unlock function that must be called to release the lock.
// If the lock is already held, ErrLocked is returned.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	token := uuid.NewString()
	full := KeyPrefix + key

	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// Background context: unlock must run even when the caller's ctx is done.
		_ = r.client.Eval(context.Background(), unlockScript, []string{full}, token).Err()
	}, nil
}

// Locker adapts TryLock to a fixed key and TTL.
type Locker struct {
	r   *Redis
	key string
	ttl time.Duration
}

// NewLocker returns a Locker for key. ttl bounds how long a crashed holder
// can block other processes.
func NewLocker(r *Redis, key string, ttl time.Duration) *Locker {
	return &Locker{r: r, key: key, ttl: ttl}
}

// TryLock acquires the lock or returns ErrLocked.
func (l *Locker) TryLock(ctx context.Context) (func(), error) {
	return TryLock(ctx, l.r, l.key, l.ttl)
}
