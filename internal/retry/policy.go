// Package retry decides whether a failed call is tried again and how long to
// wait before doing so.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

const backoffMultiplier = 2

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy wraps one operation with bounded retries. It holds no mutable
// state; each Do call owns its attempt counter and backoff clock.
type Policy struct {
	config sfbulk.RetryConfig
	logger sfbulk.Logger
	sleep  func(ctx context.Context, delay time.Duration) error
	random func() float64
	clock  backoff.Clock
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger logs every retry at warn level.
func WithLogger(logger sfbulk.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithRandom replaces the jitter source; it must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(p *Policy) {
		p.random = random
	}
}

// WithClock replaces the clock used to measure elapsed retry time.
func WithClock(clock backoff.Clock) Option {
	return func(p *Policy) {
		p.clock = clock
	}
}

// Normalize fills zero fields with defaults.
func Normalize(config sfbulk.RetryConfig) sfbulk.RetryConfig {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = constants.DefaultRetryMaxAttempts
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = constants.DefaultRetryBaseBackoff
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = constants.DefaultRetryMaxBackoff
	}

	if config.MaxBackoff < config.BaseBackoff {
		config.MaxBackoff = config.BaseBackoff
	}

	// Zero means the default jitter; a negative fraction disables it.
	switch {
	case config.JitterFraction == 0:
		config.JitterFraction = constants.DefaultRetryJitterFraction
	case config.JitterFraction < 0:
		config.JitterFraction = 0
	}

	if config.MaxRetryAfter <= 0 {
		config.MaxRetryAfter = constants.DefaultMaxRetryAfter
	}

	return config
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() sfbulk.RetryConfig {
	return Normalize(sfbulk.RetryConfig{})
}

// New creates a policy.
func New(config sfbulk.RetryConfig, opts ...Option) *Policy {
	policy := &Policy{
		config: Normalize(config),
		sleep:  sleepContext,
		random: rand.Float64, //nolint:gosec // jitter does not need a CSPRNG
		clock:  backoff.SystemClock,
	}

	for _, opt := range opts {
		opt(policy)
	}

	return policy
}

// Config returns the effective configuration.
func (p *Policy) Config() sfbulk.RetryConfig {
	return p.config
}

// CallOption narrows the behaviour of a single Do call.
type CallOption func(*callOptions)

type callOptions struct {
	retryOn func(error) bool
}

// RetryOn restricts retries to retryable failures that also satisfy predicate.
func RetryOn(predicate func(error) bool) CallOption {
	return func(o *callOptions) {
		o.retryOn = predicate
	}
}

// OnlyRateLimited retries only 429 responses, for requests that are not
// safe to repeat once the server may have accepted them.
func OnlyRateLimited() CallOption {
	return RetryOn(sfbulk.IsRateLimited)
}

type attemptState struct {
	backOff *backoff.ExponentialBackOff
	attempt int
}

func (p *Policy) newState() *attemptState {
	backOff := &backoff.ExponentialBackOff{
		InitialInterval:     p.config.BaseBackoff,
		RandomizationFactor: 0,
		Multiplier:          backoffMultiplier,
		MaxInterval:         p.config.MaxBackoff,
		MaxElapsedTime:      p.config.MaxElapsed,
		Stop:                backoff.Stop,
		Clock:               p.clock,
	}
	backOff.Reset()

	return &attemptState{backOff: backOff}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. In the last case the error is RetriesExhausted
// wrapping the final failure.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error, opts ...CallOption) error {
	var call callOptions
	for _, opt := range opts {
		opt(&call)
	}

	state := p.newState()

	for {
		state.attempt++

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		decision, exhausted := p.decide(state, err, call.retryOn)
		if exhausted {
			return &sfbulk.Error{Kind: sfbulk.KindRetriesExhausted, Op: op, Attempts: state.attempt, Err: err}
		}

		if !decision.Retry {
			return err
		}

		p.logRetry(op, state.attempt, decision.Delay, err)

		if sleepErr := p.sleep(ctx, decision.Delay); sleepErr != nil {
			return err
		}
	}
}

// Execute is Do for operations that produce a value.
func Execute[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var result T

	err := p.Do(ctx, op, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}

		result = value

		return nil
	}, opts...)

	return result, err
}

// Decide computes the decision for err observed on the given 1-based attempt.
func (p *Policy) Decide(err error, attempt int) Decision {
	state := p.newState()
	for range attempt - 1 {
		state.backOff.NextBackOff()
	}

	state.attempt = attempt

	decision, _ := p.decide(state, err, nil)

	return decision
}

func (p *Policy) decide(state *attemptState, err error, retryOn func(error) bool) (Decision, bool) {
	if !sfbulk.IsRetryable(err) || (retryOn != nil && !retryOn(err)) {
		return Decision{}, false
	}

	if state.attempt >= p.config.MaxAttempts {
		return Decision{}, true
	}

	computed := state.backOff.NextBackOff()
	if computed == backoff.Stop {
		return Decision{}, true
	}

	delay := computed + time.Duration(p.random()*p.config.JitterFraction*float64(computed))
	if delay > p.config.MaxBackoff {
		delay = p.config.MaxBackoff
	}

	if classified, ok := sfbulk.AsError(err); ok && classified.Kind == sfbulk.KindRateLimited &&
		classified.RetryAfter != nil && *classified.RetryAfter <= p.config.MaxRetryAfter {
		delay = *classified.RetryAfter
	}

	if p.config.MaxElapsed > 0 && state.backOff.GetElapsedTime()+delay > p.config.MaxElapsed {
		return Decision{}, true
	}

	return Decision{Retry: true, Delay: delay}, false
}

func (p *Policy) logRetry(op string, attempt int, delay time.Duration, err error) {
	if p.logger == nil {
		return
	}

	fields := map[string]interface{}{
		"op":      op,
		"attempt": attempt,
		"delay":   delay.String(),
		"kind":    sfbulk.KindOf(err).String(),
	}

	if classified, ok := sfbulk.AsError(err); ok && classified.StatusCode != 0 {
		fields["status"] = classified.StatusCode
	}

	p.logger.Warn("Retrying request", fields)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
