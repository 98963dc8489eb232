package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeliveryLease guards a webhook against concurrent delivery by two workers.
// Acquire returns ok=false when another holder owns the key.
type DeliveryLease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

const leaseKeyPrefix = "pharmaintel:webhook:lease:"

// releaseScript deletes the lease only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisDeliveryLease implements DeliveryLease with SET NX PX.
type RedisDeliveryLease struct {
	client redis.UniversalClient
}

// NewRedisDeliveryLease creates a lease backed by client.
func NewRedisDeliveryLease(client redis.UniversalClient) *RedisDeliveryLease {
	return &RedisDeliveryLease{client: client}
}

// Acquire sets the lease key if absent.
func (l *RedisDeliveryLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := leaseKeyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire delivery lease: %w", err)
	}

	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The delivery context may already be done; release with a short context of its own.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}

	return release, true, nil
}

// LocalDeliveryLease implements DeliveryLease inside one process.
type LocalDeliveryLease struct {
	mu      sync.Mutex
	holders map[string]localHolder
	seq     uint64
	now     func() time.Time
}

type localHolder struct {
	token   uint64
	expires time.Time
}

// NewLocalDeliveryLease creates an in-process lease.
func NewLocalDeliveryLease() *LocalDeliveryLease {
	return &LocalDeliveryLease{holders: map[string]localHolder{}, now: time.Now}
}

// Acquire takes the key unless a live holder exists.
func (l *LocalDeliveryLease) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holders[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq

	l.holders[key] = localHolder{token: token, expires: now.Add(ttl)}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if h, ok := l.holders[key]; ok && h.token == token {
			delete(l.holders, key)
		}
	}

	return release, true, nil
}
