// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"errors"
	"time"

	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
)

// Sentinel errors for trend computation.
var (
	// ErrUnsortedInput indicates activities were not ascending by
	// timestamp. The engine rejects out-of-order input rather than
	// sorting it, so callers notice broken storage ordering.
	ErrUnsortedInput = errors.New("activities must be sorted ascending by timestamp")

	// ErrAsOfBeforeHistory indicates asOf predates the earliest record.
	ErrAsOfBeforeHistory = errors.New("asOf predates earliest activity")
)

// minValidCTL is the CTL below which the ATL/CTL ratio is undefined.
const minValidCTL = 1e-6

// ComputeLoadTrend derives one LoadTrend per day from the earliest
// activity's day through asOf.
//
// Inputs:
//   - activities: Activity history sorted ascending by timestamp.
//     Out-of-order input is rejected with ErrUnsortedInput.
//   - asOf: The last day (inclusive) to compute. Only the date part
//     matters; it is truncated to a UTC day.
//   - thresholds: Supplies the chronic/acute time constants.
//
// Outputs:
//   - []LoadTrend: One entry per calendar day, oldest first. Empty
//     (nil) when activities is empty.
//   - error: ErrUnsortedInput or ErrAsOfBeforeHistory.
//
// Day gaps are iterated explicitly rather than skipped: a rest day
// contributes zero load, which decays both averages toward zero. The
// recurrence per day is
//
//	ctl += (load - ctl) / chronicDays
//	atl += (load - atl) / acuteDays
//
// No side effects; pure function of its inputs.
func ComputeLoadTrend(activities []ActivityRecord, asOf time.Time, thresholds config.Thresholds) ([]LoadTrend, error) {
	if len(activities) == 0 {
		return nil, nil
	}

	dayLoads := make(map[time.Time]float64, len(activities))
	var prev time.Time
	for i, a := range activities {
		if i > 0 && a.Timestamp.Before(prev) {
			return nil, ErrUnsortedInput
		}
		prev = a.Timestamp
		dayLoads[a.Day()] += a.Load
	}

	first := activities[0].Day()
	last := asOf.UTC().Truncate(24 * time.Hour)
	if last.Before(first) {
		return nil, ErrAsOfBeforeHistory
	}

	chronic := float64(thresholds.ChronicDays)
	acute := float64(thresholds.AcuteDays)

	days := int(last.Sub(first).Hours()/24) + 1
	trends := make([]LoadTrend, 0, days)

	var ctl, atl float64
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		load := dayLoads[day]
		ctl += (load - ctl) / chronic
		atl += (load - atl) / acute

		trend := LoadTrend{
			Date:      day,
			DailyLoad: load,
			CTL:       ctl,
			ATL:       atl,
			TSB:       ctl - atl,
		}
		if ctl > minValidCTL {
			trend.Ratio = atl / ctl
			trend.RatioValid = true
		}
		trends = append(trends, trend)
	}

	return trends, nil
}

// WeeklyLoads sums the trailing 7-day and prior 7-day training loads
// from the end of the trend series. Used for the ramp-rate check.
//
// Outputs:
//   - current: Load of the last 7 days (or fewer if history is short).
//   - previous: Load of the 7 days before that.
func WeeklyLoads(trends []LoadTrend) (current, previous float64) {
	for i := len(trends) - 1; i >= 0; i-- {
		offset := len(trends) - 1 - i
		switch {
		case offset < 7:
			current += trends[i].DailyLoad
		case offset < 14:
			previous += trends[i].DailyLoad
		default:
			return current, previous
		}
	}
	return current, previous
}
