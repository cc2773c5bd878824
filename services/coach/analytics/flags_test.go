// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"reflect"
	"testing"
)

// physWindow builds a physiology window with a flat HRV baseline and a
// chosen latest value.
func physWindow(baselineLen int, baseHRV, spread, latestHRV, latestSleep float64) []PhysiologyRecord {
	var records []PhysiologyRecord
	for i := 0; i < baselineLen; i++ {
		hrv := baseHRV
		// Alternate around the base so the baseline has variance.
		if i%2 == 0 {
			hrv += spread
		} else {
			hrv -= spread
		}
		records = append(records, PhysiologyRecord{Timestamp: day(i), HRV: hrv, SleepHours: 8})
	}
	records = append(records, PhysiologyRecord{Timestamp: day(baselineLen), HRV: latestHRV, SleepHours: latestSleep})
	return records
}

func flagNames(flags []Flag) []string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, f.Name)
	}
	return names
}

func TestEvaluateFlags_NoFlagsIsTheCommonCase(t *testing.T) {
	trends := []LoadTrend{{DailyLoad: 50, CTL: 50, ATL: 50, Ratio: 1.0, RatioValid: true}}
	physiology := physWindow(10, 60, 3, 60, 8)

	flags := EvaluateFlags(trends, physiology, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none", flagNames(flags))
	}
}

func TestEvaluateFlags_OvertrainingRisk(t *testing.T) {
	trends := []LoadTrend{{CTL: 50, ATL: 80, Ratio: 1.6, RatioValid: true}}

	flags := EvaluateFlags(trends, nil, testThresholds())
	if len(flags) != 1 {
		t.Fatalf("flags = %v, want exactly one", flagNames(flags))
	}
	flag := flags[0]
	if flag.Name != FlagOvertrainingRisk {
		t.Errorf("Name = %q, want %q", flag.Name, FlagOvertrainingRisk)
	}
	if flag.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want critical", flag.Severity)
	}
	if flag.Measured != 1.6 || flag.Threshold != 1.3 {
		t.Errorf("Measured/Threshold = %v/%v, want 1.6/1.3", flag.Measured, flag.Threshold)
	}
}

func TestEvaluateFlags_RatioAtThresholdDoesNotFlag(t *testing.T) {
	trends := []LoadTrend{{Ratio: 1.3, RatioValid: true}}

	flags := EvaluateFlags(trends, nil, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none at exact threshold", flagNames(flags))
	}
}

func TestEvaluateFlags_InvalidRatioSkipsCheck(t *testing.T) {
	trends := []LoadTrend{{Ratio: 0, RatioValid: false}}

	flags := EvaluateFlags(trends, nil, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none for undefined ratio", flagNames(flags))
	}
}

func TestEvaluateFlags_RampRate(t *testing.T) {
	var trends []LoadTrend
	for i := 0; i < 14; i++ {
		load := 100.0
		if i >= 7 {
			load = 150.0 // 50% week-over-week increase
		}
		trends = append(trends, LoadTrend{Date: day(i), DailyLoad: load, Ratio: 1.0, RatioValid: true})
	}

	flags := EvaluateFlags(trends, nil, testThresholds())
	if len(flags) != 1 || flags[0].Name != FlagRampRate {
		t.Fatalf("flags = %v, want exactly [ramp_rate]", flagNames(flags))
	}
	if got, want := flags[0].Measured, 0.5; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("Measured = %v, want 0.5", got)
	}
}

func TestEvaluateFlags_RampUndefinedWithoutPriorWeek(t *testing.T) {
	trends := []LoadTrend{{DailyLoad: 500, Ratio: 1.0, RatioValid: true}}

	flags := EvaluateFlags(trends, nil, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none when prior week carried no load", flagNames(flags))
	}
}

func TestEvaluateFlags_RecoveryOnHRVDrop(t *testing.T) {
	// Baseline ~60 with spread 3 (stddev ~3); latest 40 is far below.
	physiology := physWindow(10, 60, 3, 40, 8)

	flags := EvaluateFlags(nil, physiology, testThresholds())
	if len(flags) != 1 || flags[0].Name != FlagRecovery {
		t.Fatalf("flags = %v, want exactly [recovery]", flagNames(flags))
	}
	if flags[0].Measured >= testThresholds().HRVDropZScore {
		t.Errorf("Measured z-score = %v, want below %v", flags[0].Measured, testThresholds().HRVDropZScore)
	}
}

func TestEvaluateFlags_NoRecoveryFlagOnZeroVarianceBaseline(t *testing.T) {
	// All baseline observations identical: stddev is zero, so no flag
	// can be raised regardless of how low the latest value is.
	physiology := physWindow(10, 60, 0, 10, 8)

	flags := EvaluateFlags(nil, physiology, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none with zero-variance baseline", flagNames(flags))
	}
}

func TestEvaluateFlags_NoRecoveryFlagWithShortBaseline(t *testing.T) {
	// One baseline observation is not enough for a standard deviation.
	physiology := []PhysiologyRecord{
		{Timestamp: day(0), HRV: 60, SleepHours: 8},
		{Timestamp: day(1), HRV: 10, SleepHours: 8},
	}

	flags := EvaluateFlags(nil, physiology, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none with fewer than 2 baseline observations", flagNames(flags))
	}
}

func TestEvaluateFlags_SleepBelowMinimum(t *testing.T) {
	physiology := physWindow(10, 60, 3, 60, 4.5)

	flags := EvaluateFlags(nil, physiology, testThresholds())
	if len(flags) != 1 || flags[0].Name != FlagSleep {
		t.Fatalf("flags = %v, want exactly [sleep]", flagNames(flags))
	}
	if flags[0].Measured != 4.5 || flags[0].Threshold != 6 {
		t.Errorf("Measured/Threshold = %v/%v, want 4.5/6", flags[0].Measured, flags[0].Threshold)
	}
}

func TestEvaluateFlags_ZeroSleepIsMissingData(t *testing.T) {
	// An untracked night arrives as zero hours; that is absence of
	// data, not a catastrophic night, so no sleep flag.
	physiology := physWindow(10, 60, 3, 60, 0)

	flags := EvaluateFlags(nil, physiology, testThresholds())
	if len(flags) != 0 {
		t.Errorf("flags = %v, want none for an untracked night", flagNames(flags))
	}
}

func TestEvaluateFlags_AllChecksRunIndependently(t *testing.T) {
	var trends []LoadTrend
	for i := 0; i < 14; i++ {
		load := 100.0
		if i >= 7 {
			load = 200.0
		}
		trends = append(trends, LoadTrend{Date: day(i), DailyLoad: load, Ratio: 1.6, RatioValid: true})
	}
	physiology := physWindow(10, 60, 3, 40, 4)

	flags := EvaluateFlags(trends, physiology, testThresholds())
	want := []string{FlagOvertrainingRisk, FlagRampRate, FlagRecovery, FlagSleep}
	if !reflect.DeepEqual(flagNames(flags), want) {
		t.Errorf("flags = %v, want %v in evaluation order", flagNames(flags), want)
	}
}

func TestEvaluateFlags_Idempotent(t *testing.T) {
	trends := []LoadTrend{{Ratio: 1.6, RatioValid: true}}
	physiology := physWindow(10, 60, 3, 40, 4)
	thresholds := testThresholds()

	first := EvaluateFlags(trends, physiology, thresholds)
	second := EvaluateFlags(trends, physiology, thresholds)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated evaluation differs: %v vs %v", first, second)
	}
}

func TestEvaluateFlags_SixWeekRampScenario(t *testing.T) {
	// Six weeks of steadily increasing daily load pushes the ATL/CTL
	// ratio past 1.3: exactly one overtraining-risk flag.
	var activities []ActivityRecord
	load := 50.0
	for i := 0; i < 42; i++ {
		activities = append(activities, activity(i, load))
		load *= 1.05
	}

	trends, err := ComputeLoadTrend(activities, day(41), testThresholds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	latest := trends[len(trends)-1]
	if !latest.RatioValid || latest.Ratio <= 1.3 {
		t.Fatalf("scenario setup: ratio = %v (valid=%v), want > 1.3", latest.Ratio, latest.RatioValid)
	}

	flags := EvaluateFlags(trends, nil, testThresholds())
	var overtraining int
	for _, f := range flags {
		if f.Name == FlagOvertrainingRisk {
			overtraining++
		}
	}
	if overtraining != 1 {
		t.Errorf("overtraining-risk flags = %d, want exactly 1 (all: %v)", overtraining, flagNames(flags))
	}
}
