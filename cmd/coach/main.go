// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// coach is the personal-coach CLI. An external scheduler (cron,
// systemd timers) invokes its subcommands; the binary itself never
// schedules anything.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Persistent flags shared by all subcommands.
var (
	flagConfig      string // Optional config file overriding embedded defaults
	flagDataDir     string // Record store directory
	flagPlan        string // Live plan YAML file
	flagProviderBin string // Provider CLI binary
	flagPushBin     string // Plan-push tool binary
	flagLogLevel    string // debug, info, warn, error
	flagLogDir      string // Optional JSON log file directory
	flagJSON        bool   // JSON logs on stderr
	flagMetricsFile string // Prometheus textfile written after each run
)

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Training-load analytics and safe plan revision",
	Long: `coach ingests activity and physiology data, tracks fitness and
fatigue trends, and revises the training plan when readiness flags are
raised. Revisions are bounded by hard guardrails and pushed atomically;
any failure leaves the existing plan in force.

Subcommands are designed to be driven by an external scheduler:

  coach sync-daily      # ingest the trailing window of provider data
  coach sync-catchup    # ingest everything since the newest stored record
  coach adapt-weekly    # evaluate flags and revise the plan if needed
  coach trend           # print the recent fitness/fatigue trend`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file overriding built-in thresholds")
	pf.StringVar(&flagDataDir, "data-dir", "~/.coach/data", "Record store directory")
	pf.StringVar(&flagPlan, "plan", "~/.coach/plan.yaml", "Live training plan file")
	pf.StringVar(&flagProviderBin, "provider-bin", "garmin-fetch", "Provider CLI binary")
	pf.StringVar(&flagPushBin, "push-bin", "garmin-push", "Plan-push tool binary")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")
	pf.BoolVar(&flagJSON, "json", false, "JSON logs on stderr")
	pf.StringVar(&flagMetricsFile, "metrics-file", "",
		"Prometheus textfile written after each run (for the node_exporter textfile collector)")

	rootCmd.AddCommand(syncDailyCmd, syncCatchupCmd, adaptWeeklyCmd, trendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coach: %v\n", err)
		os.Exit(1)
	}
}
