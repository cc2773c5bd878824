// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonaolden/garmin-personal-coach/services/coach/revision"
)

const invertDoc = `{
	"version": 1,
	"weeks": [
		{"number": 1, "volume_km": 40, "sessions": [{"day": "monday", "type": "easy"}]},
		{"number": 2, "volume_km": 44, "sessions": []}
	],
	"notes": {"coach": "build phase"}
}`

// roundTrip applies ops forward, then the computed inverse, and
// asserts the document is restored.
func roundTrip(t *testing.T, ops []revision.PatchOperation) {
	t.Helper()
	original := []byte(invertDoc)

	inverse, err := InvertPatch(original, ops)
	require.NoError(t, err)

	patched, err := applyPatch(original, ops)
	require.NoError(t, err)

	restored, err := applyPatch(patched, inverse)
	require.NoError(t, err)

	assert.JSONEq(t, invertDoc, string(restored))
}

func TestInvertPatch_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ops  []revision.PatchOperation
	}{
		{
			name: "replace",
			ops: []revision.PatchOperation{
				{Op: "replace", Path: "/weeks/0/volume_km", Value: []byte(`36`)},
			},
		},
		{
			name: "remove object member",
			ops: []revision.PatchOperation{
				{Op: "remove", Path: "/notes/coach"},
			},
		},
		{
			name: "remove array element",
			ops: []revision.PatchOperation{
				{Op: "remove", Path: "/weeks/1"},
			},
		},
		{
			name: "add member",
			ops: []revision.PatchOperation{
				{Op: "add", Path: "/notes/athlete", Value: []byte(`"feeling tired"`)},
			},
		},
		{
			name: "add over existing member restores old value",
			ops: []revision.PatchOperation{
				{Op: "add", Path: "/notes/coach", Value: []byte(`"peak phase"`)},
			},
		},
		{
			name: "add at array index",
			ops: []revision.PatchOperation{
				{Op: "add", Path: "/weeks/1", Value: []byte(`{"number": 99}`)},
			},
		},
		{
			name: "add append",
			ops: []revision.PatchOperation{
				{Op: "add", Path: "/weeks/1/sessions/-", Value: []byte(`{"day":"sunday","type":"long"}`)},
			},
		},
		{
			name: "move to fresh member",
			ops: []revision.PatchOperation{
				{Op: "move", Path: "/notes/phase", From: "/notes/coach"},
			},
		},
		{
			name: "move over existing member",
			ops: []revision.PatchOperation{
				{Op: "move", Path: "/version", From: "/notes/coach"},
			},
		},
		{
			name: "copy at array index",
			ops: []revision.PatchOperation{
				{Op: "copy", Path: "/weeks/0", From: "/weeks/1"},
			},
		},
		{
			name: "copy to new member",
			ops: []revision.PatchOperation{
				{Op: "copy", Path: "/notes/backup", From: "/notes/coach"},
			},
		},
		{
			name: "test is self inverse",
			ops: []revision.PatchOperation{
				{Op: "test", Path: "/version", Value: []byte(`1`)},
			},
		},
		{
			name: "multi-op sequence",
			ops: []revision.PatchOperation{
				{Op: "replace", Path: "/weeks/0/volume_km", Value: []byte(`36`)},
				{Op: "add", Path: "/weeks/0/sessions/-", Value: []byte(`{"day":"friday","type":"recovery"}`)},
				{Op: "remove", Path: "/notes/coach"},
			},
		},
		{
			name: "operations that shadow each other",
			ops: []revision.PatchOperation{
				{Op: "add", Path: "/notes/tag", Value: []byte(`"a"`)},
				{Op: "replace", Path: "/notes/tag", Value: []byte(`"b"`)},
				{Op: "remove", Path: "/notes/tag"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.ops)
		})
	}
}

func TestInvertPatch_MoveOverExistingTargetRestoresIt(t *testing.T) {
	doc := []byte(`{"a": 1, "b": 2}`)
	ops := []revision.PatchOperation{
		{Op: "move", Path: "/b", From: "/a"},
	}

	inverse, err := InvertPatch(doc, ops)
	require.NoError(t, err)

	// Moving back alone would lose the clobbered target value; the
	// inverse must both undo the move and restore it.
	require.Len(t, inverse, 2)
	assert.Equal(t, "move", inverse[0].Op)
	assert.Equal(t, "/a", inverse[0].Path)
	assert.Equal(t, "/b", inverse[0].From)
	assert.Equal(t, "add", inverse[1].Op)
	assert.Equal(t, "/b", inverse[1].Path)
	assert.JSONEq(t, `2`, string(inverse[1].Value))

	patched, err := applyPatch(doc, ops)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b": 1}`, string(patched))

	restored, err := applyPatch(patched, inverse)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1, "b": 2}`, string(restored))
}

func TestInvertPatch_ReversesOrder(t *testing.T) {
	ops := []revision.PatchOperation{
		{Op: "replace", Path: "/version", Value: []byte(`2`)},
		{Op: "remove", Path: "/notes/coach"},
	}
	inverse, err := InvertPatch([]byte(invertDoc), ops)
	require.NoError(t, err)
	require.Len(t, inverse, 2)

	// Last forward op undone first.
	assert.Equal(t, "add", inverse[0].Op)
	assert.Equal(t, "/notes/coach", inverse[0].Path)
	assert.Equal(t, "replace", inverse[1].Op)
	assert.Equal(t, "/version", inverse[1].Path)
	assert.JSONEq(t, `1`, string(inverse[1].Value))
}

func TestInvertPatch_FailingOpRejected(t *testing.T) {
	ops := []revision.PatchOperation{
		{Op: "remove", Path: "/weeks/7"},
	}
	_, err := InvertPatch([]byte(invertDoc), ops)
	require.ErrorIs(t, err, ErrPatchFailed)
}

func TestInvertPatch_UnknownOpRejected(t *testing.T) {
	ops := []revision.PatchOperation{
		{Op: "merge", Path: "/notes"},
	}
	_, err := InvertPatch([]byte(invertDoc), ops)
	require.ErrorIs(t, err, ErrPatchFailed)
}
