// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package revision asks a language model for a bounded training-plan
// revision and validates the response before anyone may act on it.
//
// The proposer never touches the live plan. Its only side effect is
// the outbound model call. A proposal leaves this package only after
// passing strict schema validation and numeric guardrails; anything
// else is discarded whole, never partially accepted.
package revision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/jonaolden/garmin-personal-coach/services/coach/analytics"
	"github.com/jonaolden/garmin-personal-coach/services/coach/config"
	"github.com/jonaolden/garmin-personal-coach/services/coach/retry"
)

// Proposal error taxonomy.
var (
	// ErrNoAPIKey indicates the model client is unconfigured.
	ErrNoAPIKey = errors.New("model API key not configured")

	// ErrPlanTooLarge indicates the plan document exceeds the prompt
	// budget.
	ErrPlanTooLarge = errors.New("plan document exceeds prompt budget")

	// ErrModelUnavailable indicates the model call failed after all
	// retry attempts.
	ErrModelUnavailable = errors.New("model call failed")

	// ErrSchemaInvalid indicates the model response did not parse into
	// the proposal schema. Terminal: retrying a structurally malformed
	// response rarely helps and risks drift.
	ErrSchemaInvalid = errors.New("proposal schema invalid")

	// ErrGuardrailViolation indicates a parsed proposal failed a
	// numeric or path guardrail. The proposal is discarded whole.
	ErrGuardrailViolation = errors.New("proposal guardrail violation")
)

// MaxPlanPromptBytes bounds the plan JSON included in the prompt.
const MaxPlanPromptBytes = 64 * 1024

// allowedOps are the RFC 6902 operation kinds a proposal may use.
var allowedOps = map[string]bool{
	"add":     true,
	"remove":  true,
	"replace": true,
	"move":    true,
	"copy":    true,
	"test":    true,
}

// PatchOperation is one RFC 6902 operation proposed by the model.
type PatchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
}

// Proposal is a validated plan revision: a rationale, an ordered patch,
// and the volume-change ratio the model declares for it.
type Proposal struct {
	Rationale    string           `json:"rationale"`
	Operations   []PatchOperation `json:"operations"`
	VolumeChange float64          `json:"volume_change"`
}

// Proposer builds prompts, calls the model, and validates responses.
type Proposer struct {
	completer Completer
	settings  *config.Settings
	retryCfg  retry.Config
	logger    *slog.Logger
}

// NewProposer wires a Proposer. The Completer is injected so tests can
// run without a network.
func NewProposer(completer Completer, settings *config.Settings, logger *slog.Logger) *Proposer {
	return &Proposer{
		completer: completer,
		settings:  settings,
		retryCfg:  retry.FromSettings(settings.Retry),
		logger:    logger,
	}
}

// Propose asks the model for a plan revision addressing the given
// flags and validates the response.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - planJSON: The current plan document as JSON. Read-only here;
//     used for prompting and for guardrail path checks.
//   - flags: The non-empty flag set from the evaluator.
//
// Outputs:
//   - *Proposal: A schema-valid, guardrail-clean proposal.
//   - error: ErrModelUnavailable after exhausted retries,
//     ErrSchemaInvalid for unparseable responses (never retried), or
//     ErrGuardrailViolation when validation fails.
//
// No side effects beyond the outbound model call; the live plan is
// never touched.
func (p *Proposer) Propose(ctx context.Context, planJSON []byte, flags []analytics.Flag) (*Proposal, error) {
	if len(planJSON) > MaxPlanPromptBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPlanTooLarge, len(planJSON))
	}

	user, err := buildPrompt(planJSON, flags, p.settings)
	if err != nil {
		return nil, err
	}

	var raw string
	result, err := retry.Do(ctx, p.retryCfg, classifyModelErr, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			p.logger.Warn("model retry", "attempt", attempt)
		}
		callCtx, cancel := context.WithTimeout(ctx, p.settings.LLM.Timeout.Std())
		defer cancel()

		response, err := p.completer.Complete(callCtx, systemPrompt, user)
		if err != nil {
			return err
		}
		raw = response
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrModelUnavailable, result.Attempts, err)
	}

	proposal, err := parseProposal(raw)
	if err != nil {
		p.logger.Error("proposal rejected", "reason", "schema", "error", err)
		return nil, err
	}

	if err := p.validateGuardrails(proposal, planJSON); err != nil {
		p.logger.Error("proposal rejected", "reason", "guardrail", "error", err)
		return nil, err
	}

	p.logger.Info("proposal accepted",
		"flags", flagsSummary(flags),
		"operations", len(proposal.Operations),
		"volume_change", proposal.VolumeChange,
	)
	return proposal, nil
}

// parseProposal decodes the raw model response into the strict
// proposal schema. Unknown fields and trailing content are rejected.
func parseProposal(raw string) (*Proposal, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var proposal Proposal
	if err := dec.Decode(&proposal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing content after proposal object", ErrSchemaInvalid)
	}
	if len(proposal.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrSchemaInvalid)
	}
	for i, op := range proposal.Operations {
		if op.Path == "" {
			return nil, fmt.Errorf("%w: operation %d has empty path", ErrSchemaInvalid, i)
		}
	}
	return &proposal, nil
}

// validateGuardrails enforces the numeric bound and path rules. A
// violation discards the proposal whole.
func (p *Proposer) validateGuardrails(proposal *Proposal, planJSON []byte) error {
	max := p.settings.Thresholds.VolumeChangeMax
	if math.Abs(proposal.VolumeChange) > max {
		return fmt.Errorf("%w: volume change %.2f exceeds max %.2f",
			ErrGuardrailViolation, proposal.VolumeChange, max)
	}

	var doc any
	if err := json.Unmarshal(planJSON, &doc); err != nil {
		return fmt.Errorf("current plan is not valid JSON: %w", err)
	}

	for i, op := range proposal.Operations {
		if !allowedOps[op.Op] {
			return fmt.Errorf("%w: operation %d has unknown kind %q", ErrGuardrailViolation, i, op.Op)
		}

		// add targets a location that may not exist yet; its parent
		// must. Everything else must reference an existing location.
		if op.Op == "add" {
			if !addTargetValid(doc, op.Path) {
				return fmt.Errorf("%w: operation %d path %q has no valid parent in plan",
					ErrGuardrailViolation, i, op.Path)
			}
		} else if !pointerExists(doc, op.Path) {
			return fmt.Errorf("%w: operation %d path %q not present in plan",
				ErrGuardrailViolation, i, op.Path)
		}

		if (op.Op == "move" || op.Op == "copy") && !pointerExists(doc, op.From) {
			return fmt.Errorf("%w: operation %d from %q not present in plan",
				ErrGuardrailViolation, i, op.From)
		}
	}
	return nil
}

// pointerExists reports whether an RFC 6901 pointer resolves within doc.
func pointerExists(doc any, pointer string) bool {
	_, ok := resolvePointer(doc, pointer)
	return ok
}

// addTargetValid reports whether an add at pointer is structurally
// possible: the parent must resolve to a container, and an array index
// must be "-" or within [0, len].
func addTargetValid(doc any, pointer string) bool {
	if pointer == "" || !strings.HasPrefix(pointer, "/") {
		return false
	}
	idx := strings.LastIndex(pointer, "/")
	parentPtr, leaf := pointer[:idx], unescapeToken(pointer[idx+1:])

	parent, ok := resolvePointer(doc, parentPtr)
	if !ok {
		return false
	}
	switch container := parent.(type) {
	case map[string]any:
		return true
	case []any:
		if leaf == "-" {
			return true
		}
		n, err := strconv.Atoi(leaf)
		return err == nil && n >= 0 && n <= len(container)
	default:
		return false
	}
}

func resolvePointer(doc any, pointer string) (any, bool) {
	if pointer == "" {
		return doc, true
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false
	}
	current := doc
	for _, token := range strings.Split(pointer[1:], "/") {
		token = unescapeToken(token)
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[token]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			n, err := strconv.Atoi(token)
			if err != nil || n < 0 || n >= len(node) {
				return nil, false
			}
			current = node[n]
		default:
			return nil, false
		}
	}
	return current, true
}

func unescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// compactJSON renders v as compact JSON for prompt embedding.
func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
