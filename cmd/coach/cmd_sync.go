// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// syncTimeout bounds a whole sync run including retries.
const syncTimeout = 15 * time.Minute

var syncDailyCmd = &cobra.Command{
	Use:   "sync-daily",
	Short: "Ingest the trailing window of provider data",
	Long: `Fetches recent activity and physiology records from the provider
and appends them to the local record store. Appends are idempotent, so
overlap with previous runs never double-counts.

Intended to run once per day from the scheduler:

  15 6 * * *  coach sync-daily`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(func(ctx context.Context, a *app) error {
			return a.pipeline.SyncDaily(ctx)
		})
	},
}

var syncCatchupCmd = &cobra.Command{
	Use:   "sync-catchup",
	Short: "Ingest everything since the newest stored record",
	Long: `Fetches all records newer than the most recent one in the local
store. Use after outages or missed scheduled runs; on an empty store
this performs a full historical fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(func(ctx context.Context, a *app) error {
			return a.pipeline.SyncCatchup(ctx)
		})
	},
}

func runSync(flow func(context.Context, *app) error) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	return flow(ctx, a)
}
