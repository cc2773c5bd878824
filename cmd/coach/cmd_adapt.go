// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// adaptTimeout bounds a whole adaptation run including model calls,
// retries, and the push.
const adaptTimeout = 20 * time.Minute

var adaptWeeklyCmd = &cobra.Command{
	Use:   "adapt-weekly",
	Short: "Evaluate readiness flags and revise the plan if needed",
	Long: `Computes the fitness/fatigue trend from stored history, evaluates
the readiness flags, and, when flags are raised, asks the model for a
bounded plan revision. A validated revision is pushed atomically; any
failure along the way leaves the existing plan in force.

Requires ` + "`GARMIN_COACH_OPENAI_API_KEY`" + ` in the environment.

Intended to run weekly from the scheduler:

  0 7 * * 1  coach adapt-weekly`,
	RunE: runAdaptWeekly,
}

func runAdaptWeekly(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), adaptTimeout)
	defer cancel()

	result, err := a.pipeline.AdaptWeekly(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(result.Flags) == 0:
		fmt.Println("no flags raised; plan unchanged")
	case result.Receipt != nil:
		fmt.Printf("plan revised and pushed (%d flags, %d operations, dedup key %s)\n",
			len(result.Flags), len(result.Proposal.Operations), result.Receipt.DedupKey)
	default:
		fmt.Printf("%d flags raised but plan unchanged (failed open); see logs\n", len(result.Flags))
	}
	return nil
}
