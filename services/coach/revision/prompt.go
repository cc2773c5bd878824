// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package revision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
)

const systemPrompt = "You are a training coach assistant. You revise weekly " +
	"training plans based on fatigue and recovery signals. You respond with a " +
	"single JSON object and nothing else."

// buildPrompt renders the bounded user prompt: the current plan, the
// flag set with measured values, the athlete's goal context, and the
// explicit numeric constraints the response must satisfy.
func buildPrompt(planJSON []byte, flags []analytics.Flag, settings *config.Settings) (string, error) {
	flagsJSON, err := compactJSON(flags)
	if err != nil {
		return "", fmt.Errorf("encode flags: %w", err)
	}

	var b strings.Builder
	b.WriteString("The athlete's current training plan (JSON):\n")
	b.Write(planJSON)
	b.WriteString("\n\nAnalytics flags raised this week (JSON):\n")
	b.WriteString(flagsJSON)
	b.WriteString("\n\n")

	writeGoals(&b, settings.Goals)

	fmt.Fprintf(&b, `Propose a revision of the upcoming week that addresses the flags.

Constraints:
- The total training volume change must stay within %.0f%% of the current plan.
- Only these RFC 6902 operation kinds are allowed: add, remove, replace, move, copy, test.
- Every operation path must target a location that exists in the plan document above.

Respond with exactly this JSON object shape:
{
  "rationale": "<one short paragraph explaining the revision>",
  "operations": [ {"op": "replace", "path": "/weeks/0/days/2/intensity", "value": "easy"} ],
  "volume_change": -0.10
}

"operations" is an ordered list of RFC 6902 JSON Patch operations.
"volume_change" is the signed fractional change in total training volume your revision causes.
Do not include any text outside the JSON object.`, settings.Thresholds.VolumeChangeMax*100)

	return b.String(), nil
}

func writeGoals(b *strings.Builder, goals config.Goals) {
	if goals.GoalDate == "" && goals.GoalType == "" &&
		len(goals.AvailableWeekdays) == 0 && len(goals.BlockedDates) == 0 {
		return
	}
	b.WriteString("Athlete goal context:\n")
	if goals.GoalType != "" {
		fmt.Fprintf(b, "- goal: %s", goals.GoalType)
		if goals.GoalDate != "" {
			fmt.Fprintf(b, " on %s", goals.GoalDate)
		}
		b.WriteString("\n")
	} else if goals.GoalDate != "" {
		fmt.Fprintf(b, "- goal date: %s\n", goals.GoalDate)
	}
	if len(goals.AvailableWeekdays) > 0 {
		fmt.Fprintf(b, "- available weekdays: %s\n", strings.Join(goals.AvailableWeekdays, ", "))
	}
	if len(goals.BlockedDates) > 0 {
		fmt.Fprintf(b, "- blocked dates: %s\n", strings.Join(goals.BlockedDates, ", "))
	}
	b.WriteString("\n")
}

// flagsSummary renders flags for logging.
func flagsSummary(flags []analytics.Flag) string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, f.Name)
	}
	data, _ := json.Marshal(names)
	return string(data)
}
