// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"math"

	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
)

// Flag names and their measured metrics.
const (
	FlagOvertrainingRisk = "overtraining_risk"
	FlagRampRate         = "ramp_rate"
	FlagRecovery         = "recovery"
	FlagSleep            = "sleep"
)

// minBaselineStdDev guards the HRV z-score against a near-constant
// baseline; below this no recovery flag can be raised.
const minBaselineStdDev = 1e-9

// EvaluateFlags applies the configured thresholds to the latest trend
// state and the recent physiology window.
//
// Inputs:
//   - trends: The trend series from ComputeLoadTrend, oldest first.
//     The latest entry drives the ratio check; the tail drives the
//     week-over-week ramp check.
//   - physiology: Recent physiology records, oldest first. The latest
//     record is measured; the prior records form the HRV baseline.
//   - thresholds: The loaded threshold configuration.
//
// Outputs:
//   - []Flag: Zero or one flag per check, in fixed evaluation order
//     (ratio, ramp, HRV, sleep) so results are reproducible. An empty
//     result is the common case and a valid terminal outcome.
//
// All four checks run independently; none short-circuits the others.
// The function is stateless and idempotent: identical inputs always
// produce identical flags.
//
// A sleep value of zero is treated as missing data (the provider
// reports no sleep tracking that night), not as zero hours slept; no
// sleep flag is raised for it, matching the undefined-metric policy of
// the ratio and z-score checks.
func EvaluateFlags(trends []LoadTrend, physiology []PhysiologyRecord, thresholds config.Thresholds) []Flag {
	flags := make([]Flag, 0, 4)

	if latest, ok := latestTrend(trends); ok && latest.RatioValid {
		if latest.Ratio > thresholds.CTLATLRatioMax {
			flags = append(flags, Flag{
				Name:      FlagOvertrainingRisk,
				Severity:  SeverityCritical,
				Metric:    "atl_ctl_ratio",
				Threshold: thresholds.CTLATLRatioMax,
				Measured:  latest.Ratio,
			})
		}
	}

	if ramp, ok := weeklyRamp(trends); ok && ramp > thresholds.RampPercentageMax {
		flags = append(flags, Flag{
			Name:      FlagRampRate,
			Severity:  SeverityWarning,
			Metric:    "weekly_ramp",
			Threshold: thresholds.RampPercentageMax,
			Measured:  ramp,
		})
	}

	if z, ok := hrvZScore(physiology, thresholds.HRVBaselineDays); ok && z < thresholds.HRVDropZScore {
		flags = append(flags, Flag{
			Name:      FlagRecovery,
			Severity:  SeverityWarning,
			Metric:    "hrv_zscore",
			Threshold: thresholds.HRVDropZScore,
			Measured:  z,
		})
	}

	if len(physiology) > 0 {
		sleep := physiology[len(physiology)-1].SleepHours
		if sleep > 0 && sleep < thresholds.SleepMinHours {
			flags = append(flags, Flag{
				Name:      FlagSleep,
				Severity:  SeverityWarning,
				Metric:    "sleep_hours",
				Threshold: thresholds.SleepMinHours,
				Measured:  sleep,
			})
		}
	}

	return flags
}

func latestTrend(trends []LoadTrend) (LoadTrend, bool) {
	if len(trends) == 0 {
		return LoadTrend{}, false
	}
	return trends[len(trends)-1], true
}

// weeklyRamp returns the fractional week-over-week load increase.
// Undefined (ok=false) when the prior week carried no load.
func weeklyRamp(trends []LoadTrend) (float64, bool) {
	current, previous := WeeklyLoads(trends)
	if previous <= 0 {
		return 0, false
	}
	return (current - previous) / previous, true
}

// hrvZScore computes the latest HRV value's z-score against a trailing
// baseline of up to baselineDays prior records. Undefined (ok=false)
// when fewer than 2 baseline observations exist or the baseline has
// near-zero variance.
func hrvZScore(physiology []PhysiologyRecord, baselineDays int) (float64, bool) {
	if len(physiology) < 3 {
		// Need a latest value plus at least 2 baseline observations.
		return 0, false
	}

	latest := physiology[len(physiology)-1]
	baseline := physiology[:len(physiology)-1]
	if len(baseline) > baselineDays {
		baseline = baseline[len(baseline)-baselineDays:]
	}

	mean, stddev := meanStdDev(baseline)
	if stddev < minBaselineStdDev {
		return 0, false
	}
	return (latest.HRV - mean) / stddev, true
}

// meanStdDev returns the sample mean and standard deviation of the
// records' HRV values.
func meanStdDev(records []PhysiologyRecord) (mean, stddev float64) {
	n := float64(len(records))
	for _, r := range records {
		mean += r.HRV
	}
	mean /= n

	var variance float64
	for _, r := range records {
		d := r.HRV - mean
		variance += d * d
	}
	variance /= n - 1

	return mean, math.Sqrt(variance)
}
