// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"reflect"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	if !RoleUser.Valid() || !RoleAssistant.Valid() {
		t.Error("user and assistant are the transmissible roles")
	}
	for _, r := range []Role{"system", "tool", "", "User"} {
		if r.Valid() {
			t.Errorf("role %q should not be valid", r)
		}
	}
}

func TestHistory_Sanitized(t *testing.T) {
	var h History
	h.Append(RoleUser, "salut")
	h.Append("system", "intrus")
	h.Append(RoleAssistant, "bonjour")
	h.Append(RoleUser, "")

	got := h.Sanitized()
	want := []Turn{
		{Role: RoleUser, Text: "salut"},
		{Role: RoleAssistant, Text: "bonjour"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sanitized() = %v, want %v", got, want)
	}

	// The stored turns are untouched.
	if h.Len() != 4 {
		t.Errorf("Len() = %d, want 4", h.Len())
	}
}

func TestHistory_Clear(t *testing.T) {
	var h History
	h.Append(RoleUser, "salut")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", h.Len())
	}
}

func TestDefaultGenerationParams(t *testing.T) {
	p := DefaultGenerationParams()
	if p.Creativity != 0.7 || p.ResponseLength != 200 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.Mode != "tutor" || p.SchoolLevel != "lycee" {
		t.Errorf("unexpected defaults: %+v", p)
	}
}
