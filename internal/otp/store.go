package otp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix   = "otp:session:"
	rateLimitPrefix = "otp_rate_limit:"
)

type Session struct {
	ID       string
	Phone    string
	CodeHash string
	Ref      string
	Attempts int
}

// SessionStore keeps pending OTP sessions in Redis until they expire or are
// consumed.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Create stores a new session. codeHash is empty when the provider keeps the
// code; ref is the provider's own session reference, if any.
func (s *SessionStore) Create(ctx context.Context, phone, codeHash, ref string) (string, error) {
	id := uuid.NewString()
	key := sessionPrefix + id
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"phone":    phone,
		"hash":     codeHash,
		"ref":      ref,
		"attempts": 0,
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store OTP session: %w", err)
	}
	return id, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := s.rdb.HGetAll(ctx, sessionPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrInvalidCode
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return &Session{
		ID:       id,
		Phone:    vals["phone"],
		CodeHash: vals["hash"],
		Ref:      vals["ref"],
		Attempts: attempts,
	}, nil
}

// Fail records a wrong guess and drops the session once maxAttempts is hit.
func (s *SessionStore) Fail(ctx context.Context, id string, maxAttempts int) error {
	key := sessionPrefix + id
	n, err := s.rdb.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return err
	}
	// the session may have expired between Get and HIncrBy, leaving a
	// recreated hash without a TTL
	if ttl, err := s.rdb.TTL(ctx, key).Result(); err == nil && ttl < 0 {
		return s.Delete(ctx, id)
	}
	if maxAttempts > 0 && n >= int64(maxAttempts) {
		return s.Delete(ctx, id)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	err := s.rdb.Del(ctx, sessionPrefix+id).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// RateLimiter caps OTP requests per phone per hour with a fixed window.
type RateLimiter struct {
	rdb     *redis.Client
	perHour int
}

func NewRateLimiter(rdb *redis.Client, perHour int) *RateLimiter {
	return &RateLimiter{rdb: rdb, perHour: perHour}
}

func (l *RateLimiter) Allow(ctx context.Context, phone string) error {
	if l.perHour <= 0 {
		return nil
	}
	key := rateLimitPrefix + phone
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment OTP rate limit: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, time.Hour).Err(); err != nil {
			return fmt.Errorf("failed to set expiry for OTP rate limit: %w", err)
		}
	}
	if count > int64(l.perHour) {
		l.rdb.Decr(ctx, key)
		return ErrRateLimited
	}
	return nil
}
