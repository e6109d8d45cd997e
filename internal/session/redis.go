package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps sessions as JSON values with an optional expiry, so that
// several api replicas share conversation state. Replicas must also share a
// Locker to keep each user's events serialized.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a store. A zero idleTimeout keeps sessions until cleared.
func NewRedis(client *redis.Client, prefix string, idleTimeout time.Duration) *Redis {
	if prefix == "" {
		prefix = "schoolbot:session:"
	}
	return &Redis{client: client, prefix: prefix, ttl: idleTimeout}
}

func (r *Redis) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *Redis) Get(ctx context.Context, userID int64) (Session, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(userID), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get %d: %w", userID, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("session: decode %d: %w", userID, err)
	}
	return s, nil
}

func (r *Redis) Set(ctx context.Context, userID int64, state State, data map[string]string) error {
	raw, err := json.Marshal(Session{UserID: userID, State: state, Data: data, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("session: encode %d: %w", userID, err)
	}
	if err := r.client.Set(ctx, r.key(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: set %d: %w", userID, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("session: clear %d: %w", userID, err)
	}
	return nil
}

// Locker is a per-user lease in Redis, held while one event is dispatched.
type Locker struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
}

// release deletes the lease only while it still belongs to the caller.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewLocker creates a locker. A lease outlives a crashed holder by at most lease.
func NewLocker(client *redis.Client, prefix string, lease time.Duration) *Locker {
	if prefix == "" {
		prefix = "schoolbot:lock:"
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Locker{client: client, prefix: prefix, lease: lease, retry: 10 * time.Millisecond}
}

// Lock waits until the user's lease is free or ctx ends. The returned func
// gives the lease back.
func (l *Locker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := l.prefix + strconv.FormatInt(userID, 10)
	owner := uuid.NewString()
	wait := l.retry
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("session: lock %d: %w", userID, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = release.Run(ctx, l.client, []string{key}, owner).Err()
	}, nil
}
