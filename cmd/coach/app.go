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
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonaolden/garmin-personal-coach/pkg/logging"
	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
	"github.com/jonaolden/garmin-personal-coach/services/coach/monitoring"
	"github.com/jonaolden/garmin-personal-coach/services/coach/pipeline"
	"github.com/jonaolden/garmin-personal-coach/services/coach/planner"
	"github.com/jonaolden/garmin-personal-coach/services/coach/provider"
	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
	"github.com/jonaolden/garmin-personal-coach/services/coach/revision"
	"github.com/jonaolden/garmin-personal-coach/services/coach/storage"
)

// app bundles the wired components behind one Close.
type app struct {
	settings *config.Settings
	logger   *logging.Logger
	store    *storage.Store
	pipeline *pipeline.Pipeline
	planPath string
	registry *prometheus.Registry
}

// newApp wires the components every subcommand needs. withModel
// additionally builds the model client, which requires the API key;
// sync commands never need it, so a missing key only blocks adaptation.
func newApp(withModel bool) (*app, error) {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(flagLogLevel),
		LogDir:  flagLogDir,
		Service: "coach",
		JSON:    flagJSON,
	})
	slogger := logger.Slog()

	store, err := storage.Open(storage.Config{
		Path:       expandHome(flagDataDir),
		SyncWrites: true,
		Logger:     slogger,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}

	retryCfg := retry.FromSettings(settings.Retry)
	fetcher := provider.New(flagProviderBin, retryCfg, slogger)

	planPath := expandHome(flagPlan)
	if err := planner.PlanDir(planPath); err != nil {
		store.Close()
		logger.Close()
		return nil, fmt.Errorf("plan directory: %w", err)
	}

	var proposer pipeline.Proposer
	if withModel {
		completer, err := revision.NewOpenAIClient(settings.LLM, slogger)
		if err != nil {
			store.Close()
			logger.Close()
			return nil, err
		}
		proposer = revision.NewProposer(completer, settings, slogger)
	}

	applier := planner.NewApplier(
		&planner.ExecPusher{Binary: flagPushBin, Logger: slogger},
		planPath, retryCfg, slogger,
	)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)
	p := pipeline.New(settings, store, fetcher, proposer, applier, planPath, slogger,
		pipeline.Options{
			Metrics: metrics,
			Alerter: monitoring.NewAlerter(slogger, metrics),
		})

	return &app{
		settings: settings,
		logger:   logger,
		store:    store,
		pipeline: p,
		planPath: planPath,
		registry: registry,
	}, nil
}

// Close writes the metrics textfile, then releases the store and the
// log file. The textfile is the cron-friendly export path: a
// node_exporter textfile collector picks it up between runs.
func (a *app) Close() {
	if flagMetricsFile != "" {
		if err := prometheus.WriteToTextfile(expandHome(flagMetricsFile), a.registry); err != nil {
			a.logger.Warn("writing metrics textfile", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("closing record store", "error", err)
	}
	a.logger.Close()
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}
