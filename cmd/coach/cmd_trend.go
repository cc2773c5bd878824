// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
)

var trendDays int

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Print the recent fitness/fatigue trend",
	Long: `Computes the load trend from stored history and prints the most
recent days: daily load, CTL (fitness), ATL (fatigue), TSB (form), and
the ATL/CTL ratio. Also lists any readiness flags the current state
would raise.`,
	RunE: runTrend,
}

func init() {
	trendCmd.Flags().IntVarP(&trendDays, "days", "d", 14, "Number of days to print")
}

func runTrend(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	activities, err := a.store.Activities(now)
	if err != nil {
		return err
	}
	physiology, err := a.store.Physiology(now, a.settings.Thresholds.HRVBaselineDays+1)
	if err != nil {
		return err
	}

	trends, err := analytics.ComputeLoadTrend(activities, now, a.settings.Thresholds)
	if err != nil {
		return err
	}
	if len(trends) == 0 {
		fmt.Println("no activity history; run a sync first")
		return nil
	}

	if len(trends) > trendDays {
		trends = trends[len(trends)-trendDays:]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tLOAD\tCTL\tATL\tTSB\tRATIO")
	for _, tr := range trends {
		ratio := "-"
		if tr.RatioValid {
			ratio = fmt.Sprintf("%.2f", tr.Ratio)
		}
		fmt.Fprintf(w, "%s\t%.0f\t%.1f\t%.1f\t%.1f\t%s\n",
			tr.Date.Format("2006-01-02"), tr.DailyLoad, tr.CTL, tr.ATL, tr.TSB, ratio)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	flags := analytics.EvaluateFlags(trends, physiology, a.settings.Thresholds)
	if len(flags) == 0 {
		fmt.Println("\nno flags raised")
		return nil
	}
	fmt.Println()
	for _, f := range flags {
		fmt.Printf("flag: %s (%s) %s=%.2f threshold=%.2f\n",
			f.Name, f.Severity, f.Metric, f.Measured, f.Threshold)
	}
	return nil
}
