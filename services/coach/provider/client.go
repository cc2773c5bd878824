// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package provider fetches activity and physiology records from the
// external data provider.
//
// The provider is reached through its companion CLI: the client spawns
// the binary, passes a fetch subcommand, and parses a JSON array from
// stdout. Authentication and token refresh live behind the same CLI.
// Every invocation is wrapped by the shared retry policy with a bounded
// per-attempt timeout; fetch is delta-capable and idempotent, so
// retries are safe.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
)

// Sentinel errors for provider interactions.
var (
	// ErrFetchFailed indicates the provider CLI exited non-zero or
	// could not be spawned after all retry attempts.
	ErrFetchFailed = errors.New("provider fetch failed")

	// ErrDecodeFailed indicates the CLI exited zero but its stdout was
	// not the expected JSON shape. Never retried: re-running the same
	// fetch yields the same malformed payload.
	ErrDecodeFailed = errors.New("provider response decode failed")
)

// DefaultCallTimeout bounds a single CLI invocation.
const DefaultCallTimeout = 2 * time.Minute

// Runner abstracts the CLI invocation so tests can substitute a fake.
type Runner interface {
	// Run executes the provider CLI with the given arguments and
	// returns its stdout. A non-zero exit status is an error.
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// execRunner spawns the real provider binary.
type execRunner struct {
	binary string
}

func (r *execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w (stderr: %s)", r.binary, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// activityPayload is the CLI wire shape for one activity.
type activityPayload struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_s"`
	Load            float64   `json:"load"`
	Type            string    `json:"type"`
}

// physiologyPayload is the CLI wire shape for one day's physiology.
type physiologyPayload struct {
	Timestamp  time.Time `json:"timestamp"`
	HRV        float64   `json:"hrv"`
	SleepHours float64   `json:"sleep_hours"`
}

// Client fetches records from the provider CLI.
type Client struct {
	runner      Runner
	retryCfg    retry.Config
	callTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner substitutes the CLI runner (used by tests).
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithCallTimeout bounds each CLI invocation.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// New creates a provider client around the given CLI binary.
func New(binary string, retryCfg retry.Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		runner:      &execRunner{binary: binary},
		retryCfg:    retryCfg,
		callTimeout: DefaultCallTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// classify maps CLI errors to retry classes. Exit failures and
// timeouts are provider hiccups worth retrying; a missing binary will
// not appear on retry.
func classify(err error) retry.Class {
	if errors.Is(err, exec.ErrNotFound) {
		return retry.Fatal
	}
	return retry.Retryable
}

// FetchActivities pulls activity records, optionally only those after
// since (delta fetch).
//
// Outputs:
//   - []analytics.ActivityRecord: Fetched records, in CLI order.
//   - error: ErrFetchFailed (wrapped) after exhausted retries, or
//     ErrDecodeFailed for a malformed payload.
func (c *Client) FetchActivities(ctx context.Context, since *time.Time) ([]analytics.ActivityRecord, error) {
	args := []string{"fetch", "activities"}
	if since != nil {
		args = append(args, "--since", since.UTC().Format(time.RFC3339))
	}

	raw, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var payloads []activityPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, fmt.Errorf("%w: activities: %v", ErrDecodeFailed, err)
	}

	records := make([]analytics.ActivityRecord, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, analytics.ActivityRecord{
			Timestamp: p.Timestamp,
			Duration:  time.Duration(p.DurationSeconds * float64(time.Second)),
			Load:      p.Load,
			Type:      p.Type,
		})
	}
	c.logger.Debug("fetched activities", "count", len(records), "delta", since != nil)
	return records, nil
}

// FetchPhysiology pulls daily physiology records, optionally only those
// after since.
func (c *Client) FetchPhysiology(ctx context.Context, since *time.Time) ([]analytics.PhysiologyRecord, error) {
	args := []string{"fetch", "physiology"}
	if since != nil {
		args = append(args, "--since", since.UTC().Format(time.RFC3339))
	}

	raw, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	var payloads []physiologyPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, fmt.Errorf("%w: physiology: %v", ErrDecodeFailed, err)
	}

	records := make([]analytics.PhysiologyRecord, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, analytics.PhysiologyRecord{
			Timestamp:  p.Timestamp,
			HRV:        p.HRV,
			SleepHours: p.SleepHours,
		})
	}
	c.logger.Debug("fetched physiology", "count", len(records), "delta", since != nil)
	return records, nil
}

// RefreshToken asks the provider CLI to refresh its stored credentials.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err := c.run(ctx, []string{"auth", "refresh"})
	return err
}

// run executes one CLI invocation under the retry policy with a bounded
// per-attempt timeout.
func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	var output []byte

	result, err := retry.Do(ctx, c.retryCfg, classify, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.logger.Warn("provider retry", "attempt", attempt, "args", args)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		out, err := c.runner.Run(callCtx, args...)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrFetchFailed, result.Attempts, err)
	}
	return output, nil
}
