// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
	"github.com/jonaolden/garmin-personal-coach/services/coach/revision"
)

// Apply error taxonomy.
var (
	// ErrPatchFailed indicates an operation precondition failed against
	// the current plan (missing path, failed test op). The in-memory
	// copy is discarded; the live plan is untouched.
	ErrPatchFailed = errors.New("patch application failed")

	// ErrPushFailed indicates the external tool did not confirm the
	// push. The local plan is left in force (fail-open).
	ErrPushFailed = errors.New("plan push failed")
)

// DefaultPushTimeout bounds one push tool invocation.
const DefaultPushTimeout = 2 * time.Minute

// PushReceipt records a confirmed push.
type PushReceipt struct {
	// DedupKey identifies the validated revision that was pushed.
	DedupKey string

	// PushedAt is when the tool confirmed success.
	PushedAt time.Time

	// Attempts is how many push attempts were made.
	Attempts int
}

// Applier turns a validated proposal into a patched plan and pushes it.
//
// This is the component with the strongest correctness requirement in
// the system: no partial plan state is ever visible externally. The
// patch either applies in full to an in-memory copy or not at all, and
// the plan file is only replaced after the push tool confirms.
type Applier struct {
	pusher      Pusher
	planPath    string
	retryCfg    retry.Config
	pushTimeout time.Duration
	logger      *slog.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithPushTimeout bounds each push tool invocation.
func WithPushTimeout(d time.Duration) ApplierOption {
	return func(a *Applier) {
		if d > 0 {
			a.pushTimeout = d
		}
	}
}

// NewApplier wires an Applier around the plan file at planPath.
func NewApplier(pusher Pusher, planPath string, retryCfg retry.Config, logger *slog.Logger, opts ...ApplierOption) *Applier {
	a := &Applier{
		pusher:      pusher,
		planPath:    planPath,
		retryCfg:    retryCfg,
		pushTimeout: DefaultPushTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyAndPush applies the proposal's patch to the current plan and
// pushes the result through the external tool.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - planJSON: The current plan document as JSON (from LoadPlan).
//   - proposal: A proposal that already passed revision validation.
//
// Outputs:
//   - *PushReceipt: Confirmation with the revision's dedup key.
//   - error: ErrPatchFailed or ErrPushFailed; in both cases the plan
//     file at planPath is byte-identical to before the call.
//
// The push is retried under the shared policy. Each retry re-pushes
// the same patched document under the same dedup key, which the tool
// uses to stay at-most-once per validated revision.
func (a *Applier) ApplyAndPush(ctx context.Context, planJSON []byte, proposal *revision.Proposal) (*PushReceipt, error) {
	patched, err := applyPatch(planJSON, proposal.Operations)
	if err != nil {
		return nil, err
	}

	// Snapshot the candidate plan next to the live one; the push tool
	// reads this file. The live plan file is not touched yet.
	candidatePath := a.planPath + ".candidate"
	if err := WritePlan(candidatePath, patched); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrPushFailed, err)
	}
	defer func() {
		_ = os.Remove(candidatePath)
	}()

	dedupKey := uuid.NewString()
	result, err := retry.Do(ctx, a.retryCfg, classifyPushErr, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			a.logger.Warn("push retry", "attempt", attempt, "dedup_key", dedupKey)
		}
		pushCtx, cancel := context.WithTimeout(ctx, a.pushTimeout)
		defer cancel()
		return a.pusher.Push(pushCtx, candidatePath, dedupKey)
	})
	if err != nil {
		a.logger.Error("push failed, existing plan stands",
			"attempts", result.Attempts,
			"dedup_key", dedupKey,
			"error", err,
		)
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrPushFailed, result.Attempts, err)
	}

	// Only after a confirmed push does the local cache become the new
	// current plan.
	if err := WritePlan(a.planPath, patched); err != nil {
		a.logger.Error("pushed plan could not be cached locally", "error", err)
		return nil, fmt.Errorf("%w: update local plan: %v", ErrPushFailed, err)
	}

	a.logger.Info("plan revision pushed",
		"dedup_key", dedupKey,
		"operations", len(proposal.Operations),
		"attempts", result.Attempts,
	)
	return &PushReceipt{
		DedupKey: dedupKey,
		PushedAt: time.Now().UTC(),
		Attempts: result.Attempts,
	}, nil
}

// applyPatch applies the operations to a copy of planJSON. All-or-
// nothing: any failed operation returns ErrPatchFailed and no partial
// result escapes.
func applyPatch(planJSON []byte, ops []revision.PatchOperation) ([]byte, error) {
	patchJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("%w: encode operations: %v", ErrPatchFailed, err)
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode patch: %v", ErrPatchFailed, err)
	}

	patched, err := patch.Apply(planJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchFailed, err)
	}
	return patched, nil
}

// classifyPushErr: a missing tool binary never fixes itself; anything
// else (non-zero exit, timeout) is retried because the dedup key keeps
// re-pushes at-most-once.
func classifyPushErr(err error) retry.Class {
	if errors.Is(err, exec.ErrNotFound) {
		return retry.Fatal
	}
	return retry.Retryable
}

// PlanDir returns the directory containing the live plan file,
// creating it if needed.
func PlanDir(planPath string) error {
	return os.MkdirAll(filepath.Dir(planPath), 0750)
}
