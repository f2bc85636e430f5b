package match

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerr "github.com/ajenpan/surfmatch/core/errors"
)

var (
	refreshLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

	releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

type RedisLockerOptions struct {
	Key           string
	TTL           time.Duration
	RetryInterval time.Duration
}

// RedisLocker is a single-instance redis lock: SET NX PX with a random token,
// refreshed and released only by the token holder.
type RedisLocker struct {
	rds  redis.UniversalClient
	opts RedisLockerOptions
}

func NewRedisLocker(rds redis.UniversalClient, opts RedisLockerOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Millisecond
	}
	return &RedisLocker{rds: rds, opts: opts}
}

func (l *RedisLocker) Lock(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	for {
		ok, err := l.rds.SetNX(ctx, l.opts.Key, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, xerr.Wrap(xerr.CodeBackend, err, "redis lock")
		}
		if ok {
			return &redisLease{locker: l, token: token}, nil
		}

		timer := time.NewTimer(l.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLease struct {
	locker *RedisLocker
	token  string
}

func (l *redisLease) Refresh(ctx context.Context) error {
	opts := l.locker.opts
	n, err := refreshLockScript.Run(ctx, l.locker.rds, []string{opts.Key}, l.token, opts.TTL.Milliseconds()).Int()
	if err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "redis lock refresh")
	}
	if n == 0 {
		return errLockLost
	}
	return nil
}

func (l *redisLease) Unlock(ctx context.Context) error {
	n, err := releaseLockScript.Run(ctx, l.locker.rds, []string{l.locker.opts.Key}, l.token).Int()
	if err != nil {
		return xerr.Wrap(xerr.CodeBackend, err, "redis unlock")
	}
	if n == 0 {
		return errLockLost
	}
	return nil
}
