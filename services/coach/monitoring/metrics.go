// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitoring provides metrics, tracing, and alerting for the
// coaching pipeline.
//
// Everything in this package is best-effort: a metric or alert that
// cannot be recorded never blocks or fails a pipeline run.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "coach"

// Metrics holds all Prometheus metrics for the coaching pipeline.
//
// Initialize once at startup via InitMetrics(), or with NewMetrics()
// against an isolated registry in tests.
type Metrics struct {
	// RunsTotal counts pipeline runs by flow and outcome.
	// Labels: flow (sync_daily, sync_catchup, adapt_weekly), outcome
	// (success, fail_open, error)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures end-to-end run duration.
	// Labels: flow
	RunDurationSeconds *prometheus.HistogramVec

	// FlagsRaisedTotal counts readiness flags by name and severity.
	// Labels: flag, severity
	FlagsRaisedTotal *prometheus.CounterVec

	// ProposalsTotal counts model proposals by verdict.
	// Labels: verdict (accepted, schema_invalid, guardrail, unavailable)
	ProposalsTotal *prometheus.CounterVec

	// PushesTotal counts plan push outcomes.
	// Labels: outcome (success, failed)
	PushesTotal *prometheus.CounterVec

	// PushAttempts measures attempts needed per push.
	PushAttempts prometheus.Histogram

	// FetchRecordsTotal counts records ingested from the provider.
	// Labels: kind (activity, physiology)
	FetchRecordsTotal *prometheus.CounterVec

	// AlertsTotal counts operator alerts by severity.
	// Labels: severity (warning, critical)
	AlertsTotal *prometheus.CounterVec
}

// Default is the process-wide metrics instance set by InitMetrics.
var Default *Metrics

// InitMetrics registers the pipeline metrics with the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *Metrics {
	Default = NewMetrics(prometheus.DefaultRegisterer)
	return Default
}

// NewMetrics registers the pipeline metrics with reg. Tests pass an
// isolated prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),

		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"flow"},
		),

		FlagsRaisedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "flags_raised_total",
				Help:      "Readiness flags raised by name and severity",
			},
			[]string{"flag", "severity"},
		),

		ProposalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "proposals_total",
				Help:      "Model plan proposals by validation verdict",
			},
			[]string{"verdict"},
		),

		PushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pushes_total",
				Help:      "Plan push outcomes",
			},
			[]string{"outcome"},
		),

		PushAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "push_attempts",
				Help:      "Attempts needed per plan push",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		FetchRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetch_records_total",
				Help:      "Records ingested from the provider by kind",
			},
			[]string{"kind"},
		),

		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alerts_total",
				Help:      "Operator alerts by severity",
			},
			[]string{"severity"},
		),
	}
}

// Flow names for the runs counter.
const (
	FlowSyncDaily   = "sync_daily"
	FlowSyncCatchup = "sync_catchup"
	FlowAdaptWeekly = "adapt_weekly"
)

// Run outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailOpen = "fail_open"
	OutcomeError    = "error"
)

// Proposal verdicts.
const (
	VerdictAccepted      = "accepted"
	VerdictSchemaInvalid = "schema_invalid"
	VerdictGuardrail     = "guardrail"
	VerdictUnavailable   = "unavailable"
)

// RecordRun records one completed pipeline run.
func (m *Metrics) RecordRun(flow, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(flow, outcome).Inc()
	m.RunDurationSeconds.WithLabelValues(flow).Observe(seconds)
}

// RecordFlag records a raised readiness flag.
func (m *Metrics) RecordFlag(name, severity string) {
	if m == nil {
		return
	}
	m.FlagsRaisedTotal.WithLabelValues(name, severity).Inc()
}

// RecordProposal records a model proposal verdict.
func (m *Metrics) RecordProposal(verdict string) {
	if m == nil {
		return
	}
	m.ProposalsTotal.WithLabelValues(verdict).Inc()
}

// RecordPush records a plan push outcome. attempts feeds the attempts
// histogram; pass a non-positive value when the count is unknown or no
// push was attempted, and only the outcome counter moves.
func (m *Metrics) RecordPush(success bool, attempts int) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.PushesTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.PushAttempts.Observe(float64(attempts))
	}
}

// RecordFetch records ingested provider records.
func (m *Metrics) RecordFetch(kind string, count int) {
	if m == nil {
		return
	}
	m.FetchRecordsTotal.WithLabelValues(kind).Add(float64(count))
}
