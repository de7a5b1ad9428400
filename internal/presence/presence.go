// Package presence counts live socket connections per user across nodes so
// only the first connect and the last disconnect flip a user's online flag.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Tracker interface {
	// Connect records connID and reports whether it is the user's first.
	Connect(ctx context.Context, userID, connID string) (bool, error)
	// Disconnect drops connID and reports whether the user has no live
	// connection left.
	Disconnect(ctx context.Context, userID, connID string) (bool, error)
	// Touch keeps connID alive; live sessions call it on every heartbeat.
	Touch(ctx context.Context, userID, connID string) error
	Count(ctx context.Context, userID string) (int64, error)
}

type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTracker keeps one set per user. Every Connect and Touch pushes the
// set's expiry out by ttl, so connections of a crashed node stop counting
// once their heartbeats stop. ttl must exceed the heartbeat period.
func NewRedisTracker(client *redis.Client, prefix string, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix, ttl: ttl}
}

func (t *RedisTracker) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", t.prefix, userID) }

func (t *RedisTracker) Connect(ctx context.Context, userID, connID string) (bool, error) {
	key := t.connKey(userID)
	pipe := t.client.TxPipeline()
	added := pipe.SAdd(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

func (t *RedisTracker) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	key := t.connKey(userID)
	pipe := t.client.TxPipeline()
	pipe.SRem(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	// an expired set counts as empty even if connID was never removed
	return card.Val() == 0, nil
}

func (t *RedisTracker) Touch(ctx context.Context, userID, connID string) error {
	key := t.connKey(userID)
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Count(ctx context.Context, userID string) (int64, error) {
	return t.client.SCard(ctx, t.connKey(userID)).Result()
}

// MemoryTracker is the single-node tracker.
type MemoryTracker struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{conns: make(map[string]map[string]struct{})}
}

func (t *MemoryTracker) Connect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false, nil
	}
	set[connID] = struct{}{}
	return len(set) == 1, nil
}

func (t *MemoryTracker) Disconnect(_ context.Context, userID, connID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		return true, nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, userID)
		return true, nil
	}
	return false, nil
}

func (t *MemoryTracker) Touch(context.Context, string, string) error { return nil }

func (t *MemoryTracker) Count(_ context.Context, userID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.conns[userID])), nil
}
