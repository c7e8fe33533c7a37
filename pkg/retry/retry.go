package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// JitterStrategy defines the jitter strategy to use
type JitterStrategy int

const (
	// JitterNone disables jitter
	JitterNone JitterStrategy = iota
	// JitterEqual picks a uniform delay in [0, base)
	JitterEqual
	// JitterDecorrelated picks a delay in [base, 1.5*base)
	JitterDecorrelated
)

// Policy describes how a failed execution is retried.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int
	// InitialDelay is the delay before the second attempt
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier
	Multiplier float64
	// Jitter selects the randomization applied to each delay
	Jitter JitterStrategy
	// Retryable decides whether an error triggers another attempt (nil retries every error)
	Retryable func(err error) bool
	// OnRetry is called before waiting for the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Rand is the random source for jitter
	Rand *rand.Rand
	// After creates a timer channel (for testing, defaults to time.After)
	After func(d time.Duration) <-chan time.Time
}

// DefaultPolicy returns three attempts with a one second base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       JitterNone,
	}
}

// Normalize validates the policy and fills optional fields.
func (p *Policy) Normalize() error {
	if p.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if p.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("retry: InitialDelay cannot be greater than MaxDelay")
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	if p.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if p.After == nil {
		p.After = time.After
	}
	return nil
}

// RetriesExceededError is returned when every attempt failed.
type RetriesExceededError struct {
	LastError error
	Attempts  int
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.LastError)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, policy Policy, fn Func) (int, error) {
	p := policy
	if err := p.Normalize(); err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}

		delay := p.applyJitter(p.Backoff(attempt))
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); delay > remaining {
				delay = remaining
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return attempt, lastErr
		case <-p.After(delay):
		}
	}

	return p.MaxAttempts, &RetriesExceededError{LastError: lastErr, Attempts: p.MaxAttempts}
}

// Backoff returns the un-jittered delay after the given failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if delay > time.Duration(float64(p.MaxDelay)/p.Multiplier) {
			return p.MaxDelay
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) applyJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	switch p.Jitter {
	case JitterEqual:
		return time.Duration(p.Rand.Int63n(int64(base)))
	case JitterDecorrelated:
		half := base / 2
		if half <= 0 {
			return base
		}
		d := base + time.Duration(p.Rand.Int63n(int64(half)))
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
		return d
	default:
		return base
	}
}
