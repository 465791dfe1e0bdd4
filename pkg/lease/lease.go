// Package lease keeps a single active poller across replicas.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotHeld is returned by Release when this owner does not hold the lease.
	ErrNotHeld = errors.New("lease not held")
	// ErrLost is the cancellation cause of work that was running when a
	// renewal found the lease gone.
	ErrLost = errors.New("lease lost")
)

// Lease is a renewable, exclusive claim on the poll loop.
type Lease interface {
	// Acquire takes the lease or renews it when already held. It reports
	// whether this owner holds the lease afterwards.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up.
	Release(ctx context.Context) error
}

// Always is a Lease that is always held. It is used when a single replica runs.
type Always struct{}

func (Always) Acquire(context.Context) (bool, error) { return true, nil }
func (Always) Release(context.Context) error         { return nil }

// acquireScript takes the lease if free or extends it if owned.
// KEYS[1] = lease key
// ARGV[1] = owner id
// ARGV[2] = ttl in milliseconds
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == ARGV[1] then
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
    return 1
end
if not current then
    redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
    return 1
end
return 0
`)

// releaseScript deletes the lease only if owned.
// KEYS[1] = lease key
// ARGV[1] = owner id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with a Redis key holding the owner id.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLease creates a lease on key with a random owner id. ttl should
// exceed the poll interval plus the longest expected cycle.
func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Owner returns this instance's owner id.
func (l *RedisLease) Owner() string { return l.owner }

// TTL returns how long the lease survives without renewal.
func (l *RedisLease) TTL() time.Duration { return l.ttl }

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	res, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lease acquire %s: %w", l.key, err)
	}
	return res == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("redis lease release %s: %w", l.key, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
