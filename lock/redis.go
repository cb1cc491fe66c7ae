package lock

import (
	"context"
	"time"

	errs "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	uuid "github.com/satori/go.uuid"
)

// unlockScript deletes the key only if it is still owned by the caller, so an
// expired-and-reacquired lock is never released by its previous holder.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker on top of a redis instance using SET NX PX
// with a per-holder owner token. Contended acquisitions poll.
type RedisLocker struct {
	rdb           redis.UniversalClient
	keyPrefix     string
	retryInterval time.Duration
	expiry        time.Duration

	owners ownerMap
}

// NewRedisLocker creates a redis backed Locker. The expiry bounds how long a
// crashed holder can wedge a name; retryInterval is the poll period while the
// name is held by somebody else.
func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string, retryInterval, expiry time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:           rdb,
		keyPrefix:     keyPrefix,
		retryInterval: retryInterval,
		expiry:        expiry,
		owners:        newOwnerMap(),
	}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) key(name string) string {
	return l.keyPrefix + "lock-" + name
}

// Lock blocks until the name is acquired or the context is done.
func (l *RedisLocker) Lock(ctx context.Context, name string) error {
	token := uuid.NewV4().String()
	for {
		ok, err := l.rdb.SetNX(ctx, l.key(name), token, l.expiry).Result()
		if err != nil {
			return errs.Wrapf(err, "failed to acquire redis lock %q", name)
		}
		if ok {
			l.owners.set(name, token)
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.Wrapf(ctx.Err(), "gave up waiting for redis lock %q", name)
		case <-time.After(l.retryInterval):
		}
	}
}

// Unlock releases the name if it is still owned by this locker instance.
func (l *RedisLocker) Unlock(ctx context.Context, name string) error {
	token, ok := l.owners.take(name)
	if !ok {
		return errs.Errorf("lock %q is not held", name)
	}
	res, err := l.rdb.Eval(ctx, unlockScript, []string{l.key(name)}, token).Result()
	if err != nil {
		return errs.Wrapf(err, "failed to release redis lock %q", name)
	}
	if n, _ := res.(int64); n == 0 {
		return errs.Errorf("lock %q expired before release", name)
	}
	return nil
}
