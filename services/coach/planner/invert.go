// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonaolden/garmin-personal-coach/services/coach/revision"
)

// InvertPatch computes the inverse of a patch against the document it
// was applied to. Applying the returned operations to the patched
// document restores the original.
//
// Inputs:
//   - originalJSON: The document the patch was applied to.
//   - ops: The forward operations, in application order.
//
// Outputs:
//   - []revision.PatchOperation: Inverse operations in reverse order.
//   - error: ErrPatchFailed if any forward operation does not apply,
//     which also means the forward patch itself would have failed.
//
// Inverses are computed against the intermediate document state each
// forward operation saw, since earlier operations can move or shadow
// the values later ones touch.
func InvertPatch(originalJSON []byte, ops []revision.PatchOperation) ([]revision.PatchOperation, error) {
	doc := originalJSON
	inverses := make([]revision.PatchOperation, 0, len(ops))

	for i, op := range ops {
		inv, err := invertOne(doc, op)
		if err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", ErrPatchFailed, i, err)
		}
		inverses = append(inverses, inv...)

		next, err := applyPatch(doc, []revision.PatchOperation{op})
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		doc = next
	}

	// Reverse so the last forward operation is undone first.
	for left, right := 0, len(inverses)-1; left < right; left, right = left+1, right-1 {
		inverses[left], inverses[right] = inverses[right], inverses[left]
	}
	return inverses, nil
}

// invertOne computes the inverse of a single operation against the
// document state it is about to run on.
func invertOne(docJSON []byte, op revision.PatchOperation) ([]revision.PatchOperation, error) {
	var doc any
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %v", err)
	}

	switch op.Op {
	case "test":
		// Self-inverse: the value at path is unchanged.
		return []revision.PatchOperation{op}, nil

	case "add":
		path, err := concreteAddPath(doc, op.Path)
		if err != nil {
			return nil, err
		}
		// An add over an existing object member replaces it; an add at
		// an array index inserts. Only the former needs the old value.
		if addReplacesMember(doc, op.Path) {
			old, err := valueAt(doc, op.Path)
			if err != nil {
				return nil, err
			}
			return []revision.PatchOperation{{Op: "replace", Path: op.Path, Value: old}}, nil
		}
		return []revision.PatchOperation{{Op: "remove", Path: path}}, nil

	case "remove":
		old, err := valueAt(doc, op.Path)
		if err != nil {
			return nil, err
		}
		return []revision.PatchOperation{{Op: "add", Path: op.Path, Value: old}}, nil

	case "replace":
		old, err := valueAt(doc, op.Path)
		if err != nil {
			return nil, err
		}
		return []revision.PatchOperation{{Op: "replace", Path: op.Path, Value: old}}, nil

	case "move":
		// A move over an existing object member replaces it, so moving
		// back only restores the source; the clobbered target value
		// needs its own restore op. Inverse ops execute in reverse
		// order of this slice: move back first, then restore.
		if addReplacesMember(doc, op.Path) {
			old, err := valueAt(doc, op.Path)
			if err != nil {
				return nil, err
			}
			return []revision.PatchOperation{
				{Op: "add", Path: op.Path, Value: old},
				{Op: "move", Path: op.From, From: op.Path},
			}, nil
		}
		return []revision.PatchOperation{{Op: "move", Path: op.From, From: op.Path}}, nil

	case "copy":
		// Same replace-vs-insert split as add: a copy over an existing
		// object member replaces it, a copy at an array index inserts.
		if addReplacesMember(doc, op.Path) {
			old, err := valueAt(doc, op.Path)
			if err != nil {
				return nil, err
			}
			return []revision.PatchOperation{{Op: "replace", Path: op.Path, Value: old}}, nil
		}
		path, err := concreteAddPath(doc, op.Path)
		if err != nil {
			return nil, err
		}
		return []revision.PatchOperation{{Op: "remove", Path: path}}, nil

	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Op)
	}
}

// valueAt returns the JSON value at an RFC 6901 pointer.
func valueAt(doc any, pointer string) (json.RawMessage, error) {
	current := doc
	if pointer != "" {
		if !strings.HasPrefix(pointer, "/") {
			return nil, fmt.Errorf("malformed pointer %q", pointer)
		}
		for _, token := range strings.Split(pointer[1:], "/") {
			token = unescapePointerToken(token)
			switch node := current.(type) {
			case map[string]any:
				next, ok := node[token]
				if !ok {
					return nil, fmt.Errorf("pointer %q not present", pointer)
				}
				current = next
			case []any:
				n, err := strconv.Atoi(token)
				if err != nil || n < 0 || n >= len(node) {
					return nil, fmt.Errorf("pointer %q not present", pointer)
				}
				current = node[n]
			default:
				return nil, fmt.Errorf("pointer %q not present", pointer)
			}
		}
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode value at %q: %v", pointer, err)
	}
	return raw, nil
}

// addReplacesMember reports whether an add at pointer targets an
// existing object member (which the add overwrites rather than shifts).
func addReplacesMember(doc any, pointer string) bool {
	idx := strings.LastIndex(pointer, "/")
	if idx < 0 {
		return false
	}
	parentRaw, err := valueAt(doc, pointer[:idx])
	if err != nil {
		return false
	}
	var parent map[string]json.RawMessage
	if err := json.Unmarshal(parentRaw, &parent); err != nil {
		return false
	}
	_, ok := parent[unescapePointerToken(pointer[idx+1:])]
	return ok
}

// concreteAddPath resolves the "-" append index to the concrete index
// the added element will occupy, so the inverse remove targets it.
func concreteAddPath(doc any, pointer string) (string, error) {
	if !strings.HasSuffix(pointer, "/-") {
		return pointer, nil
	}
	parentPtr := strings.TrimSuffix(pointer, "/-")
	parent, err := valueAt(doc, parentPtr)
	if err != nil {
		return "", err
	}
	var arr []any
	if err := json.Unmarshal(parent, &arr); err != nil {
		return "", fmt.Errorf("append target %q is not an array", parentPtr)
	}
	return parentPtr + "/" + strconv.Itoa(len(arr)), nil
}

func unescapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}
