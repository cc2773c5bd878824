// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errTransient = errors.New("connection reset")
	errPermanent = errors.New("malformed request")
)

// classifyTest treats errTransient as retryable, everything else fatal.
func classifyTest(err error) Class {
	if errors.Is(err, errTransient) {
		return Retryable
	}
	return Fatal
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "default config is valid",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "zero max attempts is invalid",
			config:  Config{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 2.0},
			wantErr: true,
		},
		{
			name:    "negative initial backoff is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: -time.Second, MaxBackoff: time.Second, BackoffFactor: 2.0},
			wantErr: true,
		},
		{
			name:    "max backoff less than initial is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: 10 * time.Second, MaxBackoff: time.Second, BackoffFactor: 2.0},
			wantErr: true,
		},
		{
			name:    "backoff factor less than 1 is invalid",
			config:  Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffFactor: 0.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int32
	result, err := Do(context.Background(), fastConfig(3), classifyTest, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %d times, want 1", attempts)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32
	result, err := Do(context.Background(), fastConfig(5), classifyTest, func(ctx context.Context, attempt int) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	var attempts int32
	result, err := Do(context.Background(), fastConfig(5), classifyTest, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return errPermanent
	})

	if !errors.Is(err, errPermanent) {
		t.Fatalf("error = %v, want errPermanent", err)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestDo_ExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	var attempts int32
	result, err := Do(context.Background(), fastConfig(5), classifyTest, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Fatalf("error = %v, want errTransient", err)
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 5 {
		t.Errorf("function called %d times, want 5", attempts)
	}
	if !errors.Is(result.LastError, errTransient) {
		t.Errorf("LastError = %v, want errTransient", result.LastError)
	}
}

func TestDo_ContextCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts int32
	_, err := Do(ctx, fastConfig(3), classifyTest, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Errorf("function called %d times, want 0", attempts)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, cfg, classifyTest, func(ctx context.Context, attempt int) error {
		return errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, should not wait out the backoff", elapsed)
	}
}

func TestDo_AlwaysFatalNeverRetries(t *testing.T) {
	var attempts int32
	_, err := Do(context.Background(), fastConfig(5), AlwaysFatal, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return errTransient
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %d times, want 1", attempts)
	}
}

func TestWithJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := withJitter(base, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("withJitter = %v, want within [80ms, 120ms]", got)
		}
	}
}

func TestWithJitter_ZeroFactorIsExact(t *testing.T) {
	base := 100 * time.Millisecond
	if got := withJitter(base, 0); got != base {
		t.Errorf("withJitter = %v, want %v", got, base)
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	got := nextBackoff(20*time.Second, 2.0, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("nextBackoff = %v, want 30s", got)
	}
}
