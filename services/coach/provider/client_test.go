// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
)

// fakeRunner replays scripted responses per invocation.
type fakeRunner struct {
	calls     [][]string
	responses []fakeResponse
}

type fakeResponse struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.out, resp.err
}

func testClient(runner *fakeRunner, maxAttempts int) *Client {
	cfg := retry.Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2.0,
	}
	return New("garmin-fetch", cfg, slog.New(slog.DiscardHandler), WithRunner(runner))
}

func TestFetchActivities_ParsesPayload(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{{
		out: []byte(`[
			{"timestamp": "2026-03-01T08:00:00Z", "duration_s": 3600, "load": 85.5, "type": "running"},
			{"timestamp": "2026-03-02T07:30:00Z", "duration_s": 1800, "load": 40, "type": "cycling"}
		]`),
	}}}

	records, err := testClient(runner, 3).FetchActivities(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, time.Hour, records[0].Duration)
	assert.Equal(t, 85.5, records[0].Load)
	assert.Equal(t, "running", records[0].Type)
	assert.Equal(t, [][]string{{"fetch", "activities"}}, runner.calls)
}

func TestFetchActivities_DeltaPassesSince(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{{out: []byte(`[]`)}}}
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := testClient(runner, 3).FetchActivities(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"fetch", "activities", "--since", "2026-03-01T00:00:00Z"}, runner.calls[0])
}

func TestFetchActivities_RetriesTransientFailures(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("exit status 1")},
		{err: errors.New("exit status 1")},
		{out: []byte(`[]`)},
	}}

	records, err := testClient(runner, 5).FetchActivities(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, runner.calls, 3)
}

func TestFetchActivities_ExhaustedRetriesFailOpen(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{err: errors.New("exit status 1")},
	}}

	_, err := testClient(runner, 5).FetchActivities(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.Len(t, runner.calls, 5, "5 consecutive failures under max_attempts 5")
}

func TestFetchActivities_DecodeFailureNotRetried(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{out: []byte(`this is not json`)},
	}}

	_, err := testClient(runner, 5).FetchActivities(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecodeFailed))
	assert.Len(t, runner.calls, 1, "malformed payload must not be retried")
}

func TestFetchPhysiology_ParsesPayload(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{{
		out: []byte(`[{"timestamp": "2026-03-01T00:00:00Z", "hrv": 62.5, "sleep_hours": 7.2}]`),
	}}}

	records, err := testClient(runner, 3).FetchPhysiology(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 62.5, records[0].HRV)
	assert.Equal(t, 7.2, records[0].SleepHours)
	assert.Equal(t, [][]string{{"fetch", "physiology"}}, runner.calls)
}

func TestRefreshToken(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{{out: nil}}}

	err := testClient(runner, 3).RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"auth", "refresh"}}, runner.calls)
}

func TestClassify_MissingBinaryIsFatal(t *testing.T) {
	assert.Equal(t, retry.Retryable, classify(context.DeadlineExceeded))
	assert.Equal(t, retry.Retryable, classify(errors.New("exit status 1")))
	assert.Equal(t, retry.Fatal, classify(fmt.Errorf("spawn: %w", exec.ErrNotFound)))
}
