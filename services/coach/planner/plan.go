// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package planner applies validated plan revisions and pushes them
// through the external planning tool.
//
// The live plan is an opaque structured document kept as a YAML file.
// The applier patches an in-memory JSON copy; the external copy is
// only replaced after the whole patch applied cleanly and the push
// tool reported success. Any failure anywhere leaves the athlete's
// existing plan exactly as it was (fail-open).
package planner

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPlan reads the current plan YAML file and returns it as
// canonical JSON for patching.
func LoadPlan(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}

	planJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode plan %s: %w", path, err)
	}
	return planJSON, nil
}

// WritePlan persists a JSON plan document back to YAML at path. The
// write goes through a temp file plus rename so a crash mid-write
// never leaves a truncated plan.
func WritePlan(path string, planJSON []byte) error {
	var doc any
	if err := json.Unmarshal(planJSON, &doc); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode plan yaml: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write plan %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace plan %s: %w", path, err)
	}
	return nil
}
