// Package transport wraps a single outbound call with bounded retry and
// exponential backoff. The retry policy is a pure function separate from
// the loop, and the loop acquires a rate-limiter token before every
// attempt, so pacing and retrying stay composed rather than entangled.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Response is the uniform result of one attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// Operation is a single idempotent-assumed network action. Implementations
// return a transport error for connection-level failures and a Response
// for anything the remote actually answered.
type Operation func(ctx context.Context) (*Response, error)

// TokenAcquirer grants dispatch tokens, blocking until one is available.
type TokenAcquirer interface {
	Acquire(ctx context.Context, target string) error
}

// AttemptFunc observes each finished attempt; err is nil when the attempt
// succeeded. Used to feed the audit trail.
type AttemptFunc func(target string, attempt int, err error)

// Caller runs operations under the retry policy.
type Caller struct {
	limiter   TokenAcquirer
	policy    Policy
	sleep     func(time.Duration)
	onAttempt AttemptFunc
	logger    *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithPolicy overrides the default retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Caller) { c.policy = p }
}

// WithSleep injects the delay function for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Caller) { c.sleep = sleep }
}

// WithAttemptFunc registers an observer for every finished attempt.
func WithAttemptFunc(fn AttemptFunc) Option {
	return func(c *Caller) { c.onAttempt = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) { c.logger = l }
}

// NewCaller builds a Caller over the given limiter.
func NewCaller(limiter TokenAcquirer, opts ...Option) *Caller {
	c := &Caller{
		limiter: limiter,
		policy:  DefaultPolicy,
		sleep:   time.Sleep,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs op until it succeeds or the policy's attempts are exhausted.
// A response with status >= 400 counts as a retryable failure carrying the
// status and body. Success on any attempt short-circuits. When the final
// attempt fails the caller receives a DispatchFailedError holding the last
// underlying failure; the result is never silently dropped.
func (c *Caller) Call(ctx context.Context, target string, op Operation) (*Response, error) {
	var last error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		// A limiter error is a bucket-store failure, not a remote failure;
		// abort instead of burning the remaining attempts.
		if err := c.limiter.Acquire(ctx, target); err != nil {
			return nil, &DispatchFailedError{Target: target, Attempts: attempt - 1, Last: fmt.Errorf("rate limiter: %w", err)}
		}

		resp, err := op(ctx)
		if err == nil && resp != nil && resp.StatusCode < 400 {
			if c.onAttempt != nil {
				c.onAttempt(target, attempt, nil)
			}
			return resp, nil
		}
		if err == nil {
			err = &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		last = err
		if c.onAttempt != nil {
			c.onAttempt(target, attempt, err)
		}
		c.logger.Warn("dispatch attempt failed",
			"target", target,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"error", err)

		if attempt < c.policy.MaxAttempts {
			c.sleep(c.policy.Backoff(attempt))
		}
	}
	return nil, &DispatchFailedError{Target: target, Attempts: c.policy.MaxAttempts, Last: last}
}
