// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package monitoring

import (
	"log/slog"
)

// AlertSeverity orders operator alerts.
type AlertSeverity string

const (
	// AlertWarning flags a degraded run that still completed, like a
	// fail-open push.
	AlertWarning AlertSeverity = "warning"

	// AlertCritical flags a run that could not protect the athlete's
	// plan at all.
	AlertCritical AlertSeverity = "critical"
)

// Alerter surfaces degraded runs to the operator. Alerting is
// best-effort and never sits on the correctness path.
type Alerter struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewAlerter wires an Alerter. metrics may be nil.
func NewAlerter(logger *slog.Logger, metrics *Metrics) *Alerter {
	return &Alerter{logger: logger, metrics: metrics}
}

// Alert emits one operator alert with structured context.
func (a *Alerter) Alert(severity AlertSeverity, msg string, args ...any) {
	if a == nil || a.logger == nil {
		return
	}
	args = append(args, "alert_severity", string(severity))
	switch severity {
	case AlertCritical:
		a.logger.Error(msg, args...)
	default:
		a.logger.Warn(msg, args...)
	}
	a.metrics.RecordAlert(string(severity))
}

// RecordAlert increments the alert counter.
func (m *Metrics) RecordAlert(severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(severity).Inc()
}
