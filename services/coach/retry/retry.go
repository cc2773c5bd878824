// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retry provides the shared retry/backoff policy for calls to
// unreliable external endpoints (provider fetch, model inference, plan
// push).
//
// The policy is pure control flow: it knows nothing about the system it
// wraps. Callers supply a Classifier that maps each observed error to
// Retryable or Fatal. Fatal stops immediately; Retryable is retried
// with exponential backoff and jitter up to the attempt cap, after
// which the last observed error is surfaced.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
)

// ErrInvalidConfig indicates an out-of-range retry parameter.
var ErrInvalidConfig = errors.New("invalid retry configuration")

// Class is the outcome of classifying an error.
type Class int

const (
	// Retryable errors (network, timeout, rate limit) trigger another
	// attempt until MaxAttempts is exhausted.
	Retryable Class = iota

	// Fatal errors (malformed request, validation failure) stop the
	// policy immediately.
	Fatal
)

// Classifier maps an error to its retry class. It is never called with
// a nil error.
type Classifier func(error) Class

// AlwaysFatal treats every error as terminal. Useful for operations
// where a retry can never help.
func AlwaysFatal(error) Class { return Fatal }

// Config configures backoff behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each attempt.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the backoff
	// (0-1). Randomizes waits so scheduled runs don't retry in lockstep.
	JitterFactor float64
}

// DefaultConfig returns sensible defaults for external calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// FromSettings builds a Config from the loaded threshold configuration.
func FromSettings(r config.Retry) Config {
	return Config{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff.Std(),
		MaxBackoff:     r.MaxBackoff.Std(),
		BackoffFactor:  r.BackoffFactor,
		JitterFactor:   r.JitterFactor,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidConfig
	}
	return nil
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the final attempt (nil if successful).
	LastError error
}

// Func is an operation that can be retried. It should return nil on
// success. The attempt number (1-based) is passed for logging.
type Func func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff retry.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - cfg: Backoff configuration.
//   - classify: Maps errors to Retryable or Fatal.
//   - fn: The operation to execute.
//
// Outputs:
//   - Result: Attempt statistics.
//   - error: The last error if all attempts failed, nil on success.
//
// The operation is retried only while classify returns Retryable.
// Context cancellation during a wait returns the context error.
func Do(ctx context.Context, cfg Config, classify Classifier, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if classify(err) == Fatal {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(withJitter(backoff, cfg.JitterFactor)):
		}

		backoff = nextBackoff(backoff, cfg.BackoffFactor, cfg.MaxBackoff)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// withJitter spreads the wait over [base*(1-jitter), base*(1+jitter)].
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
