package otp

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Guarded bounds every provider call with a timeout and trips a circuit
// breaker after repeated upstream failures. Calls are never retried.
type Guarded struct {
	inner   Provider
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewGuarded(inner Provider, timeout time.Duration, logger *zap.Logger) *Guarded {
	st := gobreaker.Settings{
		Name:        "otp-" + inner.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a wrong code is the caller's fault, not the provider's
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Guarded{inner: inner, cb: gobreaker.NewCircuitBreaker(st), timeout: timeout}
}

func isCallerError(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrPhoneMissing)
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Send(ctx context.Context, phone string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Send(ctx, phone)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *Guarded) Verify(ctx context.Context, sessionID, phone, code string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.Verify(ctx, sessionID, phone, code)
	})
	return err
}
