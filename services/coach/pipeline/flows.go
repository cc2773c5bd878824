// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates the three scheduled flows: daily sync,
// catch-up sync, and weekly adaptation.
//
// The pipeline itself holds no policy. Thresholds live in config, retry
// behavior in retry, guardrails in revision. What lives here is the
// fail-open contract: once ingestion has succeeded, every downstream
// failure in the weekly flow degrades to "keep the existing plan" with
// one operator alert, never to a broken or partial plan.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
	"github.com/jonaolden/garmin-personal-coach/services/coach/monitoring"
	"github.com/jonaolden/garmin-personal-coach/services/coach/planner"
	"github.com/jonaolden/garmin-personal-coach/services/coach/revision"
)

// Fetcher pulls records from the external provider.
type Fetcher interface {
	FetchActivities(ctx context.Context, since *time.Time) ([]analytics.ActivityRecord, error)
	FetchPhysiology(ctx context.Context, since *time.Time) ([]analytics.PhysiologyRecord, error)
}

// RecordStore is the slice of the storage layer the flows need.
type RecordStore interface {
	AppendActivities(records []analytics.ActivityRecord) error
	AppendPhysiology(records []analytics.PhysiologyRecord) error
	Activities(until time.Time) ([]analytics.ActivityRecord, error)
	Physiology(until time.Time, limit int) ([]analytics.PhysiologyRecord, error)
}

// Proposer asks the model for a plan revision.
type Proposer interface {
	Propose(ctx context.Context, planJSON []byte, flags []analytics.Flag) (*revision.Proposal, error)
}

// Applier applies a validated proposal and pushes the result.
type Applier interface {
	ApplyAndPush(ctx context.Context, planJSON []byte, proposal *revision.Proposal) (*planner.PushReceipt, error)
}

// Clock is injected so tests control "now".
type Clock func() time.Time

// Pipeline wires the flows over their collaborators.
type Pipeline struct {
	settings *config.Settings
	store    RecordStore
	fetcher  Fetcher
	proposer Proposer
	applier  Applier
	planPath string
	metrics  *monitoring.Metrics
	alerter  *monitoring.Alerter
	logger   *slog.Logger
	now      Clock
}

// Options configures optional pipeline collaborators.
type Options struct {
	// Metrics may be nil; recording becomes a no-op.
	Metrics *monitoring.Metrics

	// Alerter may be nil; alerts become no-ops.
	Alerter *monitoring.Alerter

	// Now overrides the wall clock (tests).
	Now Clock
}

// New builds a Pipeline.
func New(settings *config.Settings, store RecordStore, fetcher Fetcher, proposer Proposer, applier Applier, planPath string, logger *slog.Logger, opts Options) *Pipeline {
	p := &Pipeline{
		settings: settings,
		store:    store,
		fetcher:  fetcher,
		proposer: proposer,
		applier:  applier,
		planPath: planPath,
		metrics:  opts.Metrics,
		alerter:  opts.Alerter,
		logger:   logger,
		now:      opts.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// syncWindow is how far back the daily sync reaches. Generous overlap
// with the previous run is harmless because appends are idempotent.
const syncWindow = 48 * time.Hour

// SyncDaily ingests the trailing two days of provider data.
//
// Outputs:
//   - error: Non-nil when fetch or append failed; the store is never
//     left with partial records from a failed append batch. A failed
//     run raises exactly one operator alert; the plan is untouched
//     either way.
func (p *Pipeline) SyncDaily(ctx context.Context) error {
	start := p.now()
	ctx, finish := monitoring.StartSpan(ctx, "pipeline.sync_daily")

	since := start.Add(-syncWindow)
	err := p.ingest(ctx, &since)
	finish(err)
	p.finishSync(monitoring.FlowSyncDaily, err, start)
	return err
}

// SyncCatchup ingests everything newer than the most recent stored
// record. Used after outages or missed scheduled runs.
func (p *Pipeline) SyncCatchup(ctx context.Context) error {
	start := p.now()
	ctx, finish := monitoring.StartSpan(ctx, "pipeline.sync_catchup")

	since, err := p.lastStoredTimestamp()
	if err == nil {
		err = p.ingest(ctx, since)
	}
	finish(err)
	p.finishSync(monitoring.FlowSyncCatchup, err, start)
	return err
}

// finishSync records the run outcome and, on failure, raises the one
// alert a degraded sync run gets.
func (p *Pipeline) finishSync(flow string, err error, start time.Time) {
	p.recordRun(flow, err, start)
	if err != nil {
		p.alerter.Alert(monitoring.AlertWarning, "sync failed, no records ingested",
			"flow", flow, "error", err)
	}
}

// ingest fetches both record kinds and appends them. Physiology is
// fetched even when activities fail partway through decode-free days;
// either failure aborts the run.
func (p *Pipeline) ingest(ctx context.Context, since *time.Time) error {
	activities, err := p.fetcher.FetchActivities(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch activities: %w", err)
	}
	if err := p.store.AppendActivities(activities); err != nil {
		return fmt.Errorf("append activities: %w", err)
	}
	p.metrics.RecordFetch("activity", len(activities))

	physiology, err := p.fetcher.FetchPhysiology(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch physiology: %w", err)
	}
	if err := p.store.AppendPhysiology(physiology); err != nil {
		return fmt.Errorf("append physiology: %w", err)
	}
	p.metrics.RecordFetch("physiology", len(physiology))

	p.logger.Info("sync complete",
		"activities", len(activities),
		"physiology", len(physiology),
		"delta", since != nil,
	)
	return nil
}

// lastStoredTimestamp finds the newest record across both kinds, or nil
// when the store is empty (full fetch).
func (p *Pipeline) lastStoredTimestamp() (*time.Time, error) {
	activities, err := p.store.Activities(p.now())
	if err != nil {
		return nil, fmt.Errorf("read stored activities: %w", err)
	}
	physiology, err := p.store.Physiology(p.now(), 1)
	if err != nil {
		return nil, fmt.Errorf("read stored physiology: %w", err)
	}

	var last time.Time
	if len(activities) > 0 {
		last = activities[len(activities)-1].Timestamp
	}
	if len(physiology) > 0 {
		if ts := physiology[len(physiology)-1].Timestamp; ts.After(last) {
			last = ts
		}
	}
	if last.IsZero() {
		return nil, nil
	}
	return &last, nil
}

// AdaptResult reports what the weekly flow did.
type AdaptResult struct {
	// Flags raised by the evaluator; empty means no adaptation needed.
	Flags []analytics.Flag

	// Proposal is non-nil when the model produced a valid revision.
	Proposal *revision.Proposal

	// Receipt is non-nil when the revision was pushed.
	Receipt *planner.PushReceipt

	// FailedOpen is true when a downstream failure left the existing
	// plan in force.
	FailedOpen bool
}

// AdaptWeekly runs the full adaptation flow: trend computation, flag
// evaluation, and (only when flags are raised) proposal and push.
//
// Outputs:
//   - *AdaptResult: What happened. Never nil when error is nil.
//   - error: Non-nil only for failures before the fail-open boundary
//     (storage reads, trend computation). Failures after it — model,
//     guardrails, push — degrade to FailedOpen with an alert, because
//     the athlete still has a valid plan.
func (p *Pipeline) AdaptWeekly(ctx context.Context) (*AdaptResult, error) {
	start := p.now()
	ctx, finish := monitoring.StartSpan(ctx, "pipeline.adapt_weekly")

	result, err := p.adaptWeekly(ctx, start)
	finish(err)

	switch {
	case err != nil:
		p.recordRun(monitoring.FlowAdaptWeekly, err, start)
	case result.FailedOpen:
		p.metrics.RecordRun(monitoring.FlowAdaptWeekly, monitoring.OutcomeFailOpen, p.now().Sub(start).Seconds())
	default:
		p.recordRun(monitoring.FlowAdaptWeekly, nil, start)
	}
	return result, err
}

func (p *Pipeline) adaptWeekly(ctx context.Context, asOf time.Time) (*AdaptResult, error) {
	activities, err := p.store.Activities(asOf)
	if err != nil {
		return nil, fmt.Errorf("read activities: %w", err)
	}
	physiology, err := p.store.Physiology(asOf, p.settings.Thresholds.HRVBaselineDays+1)
	if err != nil {
		return nil, fmt.Errorf("read physiology: %w", err)
	}

	trends, err := analytics.ComputeLoadTrend(activities, asOf, p.settings.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("compute load trend: %w", err)
	}

	flags := analytics.EvaluateFlags(trends, physiology, p.settings.Thresholds)
	for _, f := range flags {
		p.metrics.RecordFlag(f.Name, f.Severity.String())
	}
	result := &AdaptResult{Flags: flags}

	if len(flags) == 0 {
		p.logger.Info("no flags raised, plan stands")
		return result, nil
	}
	p.logger.Info("flags raised", "count", len(flags))

	planJSON, err := planner.LoadPlan(p.planPath)
	if err != nil {
		p.failOpen(result, "plan unreadable, existing plan stands", err)
		return result, nil
	}

	proposal, err := p.proposer.Propose(ctx, planJSON, flags)
	if err != nil {
		p.metrics.RecordProposal(proposalVerdict(err))
		p.failOpen(result, "no valid proposal, existing plan stands", err)
		return result, nil
	}
	p.metrics.RecordProposal(monitoring.VerdictAccepted)
	result.Proposal = proposal

	receipt, err := p.applier.ApplyAndPush(ctx, planJSON, proposal)
	if err != nil {
		// The real attempt count is not surfaced on failure (and a
		// patch failure never pushed at all), so only the outcome is
		// recorded.
		p.metrics.RecordPush(false, 0)
		p.failOpen(result, "revision not pushed, existing plan stands", err)
		return result, nil
	}
	p.metrics.RecordPush(true, receipt.Attempts)
	result.Receipt = receipt

	p.logger.Info("plan adapted", "dedup_key", receipt.DedupKey, "flags", len(flags))
	return result, nil
}

// failOpen marks the result degraded and raises exactly one alert.
func (p *Pipeline) failOpen(result *AdaptResult, msg string, err error) {
	result.FailedOpen = true
	p.alerter.Alert(monitoring.AlertWarning, msg, "error", err)
}

func (p *Pipeline) recordRun(flow string, err error, start time.Time) {
	outcome := monitoring.OutcomeSuccess
	if err != nil {
		outcome = monitoring.OutcomeError
	}
	p.metrics.RecordRun(flow, outcome, p.now().Sub(start).Seconds())
}

// proposalVerdict maps a proposer error to its metrics verdict.
func proposalVerdict(err error) string {
	switch {
	case errors.Is(err, revision.ErrSchemaInvalid):
		return monitoring.VerdictSchemaInvalid
	case errors.Is(err, revision.ErrGuardrailViolation):
		return monitoring.VerdictGuardrail
	default:
		return monitoring.VerdictUnavailable
	}
}
