package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "survey:lock:"

// ErrLockNotHeld is returned by Release when the lock expired or was taken
// over by another holder.
var ErrLockNotHeld = errors.New("lock not held")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a lock shared by every server instance using the same Redis.
// The TTL bounds how long a crashed holder can block a survey.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	onErr  func(error)
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 10 * time.Millisecond, onErr: func(error) {}}
}

// OnReleaseError registers a callback for failed releases.
func (l *RedisLocker) OnReleaseError(fn func(error)) {
	if fn != nil {
		l.onErr = fn
	}
}

// Lock polls SET NX until it owns key or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := l.release(k, token); err != nil {
					l.onErr(err)
				}
			}, nil
		}
		timer.Reset(l.retry)
	}
}

func (l *RedisLocker) release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
