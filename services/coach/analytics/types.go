// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics converts a raw activity and physiology history into
// smoothed fitness/fatigue trend values and actionable flags.
//
// Everything in this package is a pure function of its inputs: trend
// values are always re-derivable from the stored activity history, and
// flags never persist across runs. That property is what makes replay
// and testing possible.
package analytics

import "time"

// ActivityRecord is one recorded training session. Records are
// immutable once stored and unique per (timestamp, type) so the same
// session synced twice never double-counts.
type ActivityRecord struct {
	// Timestamp is when the activity started.
	Timestamp time.Time `json:"timestamp"`

	// Duration is the elapsed time of the activity.
	Duration time.Duration `json:"duration"`

	// Load is the training load score for the session (TSS-like).
	Load float64 `json:"load"`

	// Type is the activity type ("running", "cycling", ...).
	Type string `json:"type"`
}

// Day returns the UTC calendar day the activity counts toward.
func (a ActivityRecord) Day() time.Time {
	return a.Timestamp.UTC().Truncate(24 * time.Hour)
}

// PhysiologyRecord is one day's physiology summary. At most one record
// exists per day.
type PhysiologyRecord struct {
	// Timestamp is the day the record covers.
	Timestamp time.Time `json:"timestamp"`

	// HRV is the heart-rate-variability value in milliseconds.
	HRV float64 `json:"hrv"`

	// SleepHours is the prior night's sleep duration in hours.
	SleepHours float64 `json:"sleep_hours"`
}

// Day returns the UTC calendar day of the record.
func (p PhysiologyRecord) Day() time.Time {
	return p.Timestamp.UTC().Truncate(24 * time.Hour)
}

// LoadTrend is one day's derived fitness/fatigue state. Trends are
// computed fresh from the activity history each run, never persisted.
type LoadTrend struct {
	// Date is the UTC day the trend describes.
	Date time.Time `json:"date"`

	// DailyLoad is the summed training load of that day (zero on rest
	// days).
	DailyLoad float64 `json:"daily_load"`

	// CTL is the chronic (long-window) exponentially-weighted load, a
	// fitness proxy.
	CTL float64 `json:"ctl"`

	// ATL is the acute (short-window) exponentially-weighted load, a
	// fatigue proxy.
	ATL float64 `json:"atl"`

	// TSB is the training stress balance, CTL - ATL.
	TSB float64 `json:"tsb"`

	// Ratio is ATL/CTL. Only meaningful when RatioValid is true; the
	// ratio is omitted rather than NaN when CTL rounds to zero.
	Ratio float64 `json:"ratio"`

	// RatioValid reports whether Ratio is defined.
	RatioValid bool `json:"ratio_valid"`
}

// Severity tags how urgent a flag is.
type Severity int

const (
	// SeverityWarning flags should adjust the upcoming week.
	SeverityWarning Severity = iota

	// SeverityCritical flags indicate acute overtraining risk.
	SeverityCritical
)

// String returns "warning", "critical", or "unknown".
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Flag is one threshold crossing observed at evaluation time. A flag is
// only emitted when its measured value actually crosses the configured
// threshold; nothing carries over between runs.
type Flag struct {
	// Name identifies the rule ("overtraining_risk", "ramp_rate",
	// "recovery", "sleep").
	Name string `json:"name"`

	// Severity tags the urgency of the flag.
	Severity Severity `json:"severity"`

	// Metric names the measured quantity ("atl_ctl_ratio",
	// "weekly_ramp", "hrv_zscore", "sleep_hours").
	Metric string `json:"metric"`

	// Threshold is the configured limit that was crossed.
	Threshold float64 `json:"threshold"`

	// Measured is the observed value at evaluation time.
	Measured float64 `json:"measured"`
}
