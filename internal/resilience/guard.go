package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRejected marks runs that were not attempted at all.
	ErrRejected    = errors.New("run rejected")
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrRejected)
	ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", ErrRejected)
)

// Guard wraps a unit of work with a rate limiter, a circuit breaker and a
// fixed-delay retry loop, applied in that order.
type Guard struct {
	policy    Policy
	limiter   *rate.Limiter
	breaker   *Breaker
	retryable func(error) bool
	now       func() time.Time
}

// NewGuard builds a Guard. retryable decides which errors are worth another
// attempt; nil retries every error.
func NewGuard(policy Policy, retryable func(error) bool) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resilience policy: %w", err)
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	every := policy.RateWindow / time.Duration(policy.RateLimit)
	return &Guard{
		policy:    policy,
		limiter:   rate.NewLimiter(rate.Every(every), policy.RateLimit),
		breaker:   NewBreaker(policy.RequestVolumeThreshold, policy.FailureRatioThreshold, policy.Cooldown),
		retryable: retryable,
		now:       time.Now,
	}, nil
}

// Do runs fn under the policy. Rejections return an error wrapping ErrRejected
// without calling fn.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if !g.limiter.AllowN(g.now(), 1) {
		slog.Info("run rejected by rate limiter",
			"rate_window", g.policy.RateWindow,
			"rate_limit", g.policy.RateLimit)
		return ErrRateLimited
	}
	if err := g.breaker.Allow(); err != nil {
		slog.Info("run rejected by circuit breaker", "cooldown", g.policy.Cooldown)
		return err
	}

	err := retry(ctx, g.policy.MaxRetries, g.policy.RetryDelay, g.retryable, fn)
	if err != nil && ctx.Err() != nil {
		g.breaker.Release()
		return err
	}
	g.breaker.Record(err == nil)
	if state := g.breaker.State(); state == StateOpen {
		slog.Warn("circuit breaker is open", "cooldown", g.policy.Cooldown)
	}
	return err
}

func (g *Guard) BreakerState() BreakerState {
	return g.breaker.State()
}
