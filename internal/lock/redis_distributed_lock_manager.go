package lock

import (
	"context"
	"sync"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/constants"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDistributedLockManager implements locks with SET NX and a TTL.
type RedisDistributedLockManager struct {
	client       *redis.Client
	ttl          time.Duration
	retryBackoff time.Duration
	owner        string

	mu     sync.Mutex
	tokens map[int]string
}

func NewRedisDistributedLockManager(client *redis.Client, owner string, ttl time.Duration) *RedisDistributedLockManager {
	if ttl <= 0 {
		ttl = constants.PollLockTTL
	}
	return &RedisDistributedLockManager{
		client:       client,
		ttl:          ttl,
		retryBackoff: 200 * time.Millisecond,
		owner:        owner,
		tokens:       make(map[int]string),
	}
}

func (l *RedisDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	for {
		ok, err := l.TryAcquire(ctx, lockID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "failed to acquire lock")
		case <-time.After(l.retryBackoff):
		}
	}
}

func (l *RedisDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	token := l.owner + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, constants.LockKey(lockID), token, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lock")
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[lockID] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	token, ok := l.tokens[lockID]
	delete(l.tokens, lockID)
	l.mu.Unlock()

	if !ok {
		return errors.Newf("failed to release lock: lock %d is not held", lockID)
	}
	if err := releaseScript.Run(ctx, l.client, []string{constants.LockKey(lockID)}, token).Err(); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}
