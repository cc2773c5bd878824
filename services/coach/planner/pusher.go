// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Pusher is the narrow interface over the external plan-push tool, so
// tests can substitute a fake instead of spawning a process.
type Pusher interface {
	// Push delivers the plan file at planPath to the athlete's device.
	// dedupKey identifies the validated revision the plan came from;
	// the tool deduplicates repeated pushes of the same key, which is
	// what makes retrying this call safe.
	Push(ctx context.Context, planPath, dedupKey string) error
}

// ExecPusher invokes the real push binary. Exit status is the sole
// success signal: zero means pushed, anything else is a failure.
type ExecPusher struct {
	// Binary is the push tool executable name or path.
	Binary string

	// Logger records tool output on failure.
	Logger *slog.Logger
}

// Push implements Pusher.
func (p *ExecPusher) Push(ctx context.Context, planPath, dedupKey string) error {
	cmd := exec.CommandContext(ctx, p.Binary, "push", "--plan", planPath, "--dedup-key", dedupKey)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.Logger.Error("plan push tool failed",
			"binary", p.Binary,
			"error", err,
			"stdout", stdout.String(),
			"stderr", stderr.String(),
		)
		return fmt.Errorf("%s push: %w", p.Binary, err)
	}
	p.Logger.Debug("plan push tool succeeded", "dedup_key", dedupKey)
	return nil
}
