// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role tags a history turn with its speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the transmissible roles.
// Anything else is filtered out before a request is built.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// HISTORY
// =============================================================================

// Turn is a single role-tagged exchange entry sent with each completion
// request. History stores text only: attachments are deliberately excluded
// so the payload does not grow with every uploaded file.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is the accumulated multi-turn exchange for one assistant chat.
// It is a plain value type; the session manager owns mutation.
type History struct {
	Turns []Turn `json:"turns"`
}

// Append adds a turn to the history.
func (h *History) Append(role Role, text string) {
	h.Turns = append(h.Turns, Turn{Role: role, Text: text})
}

// Sanitized returns the turns safe for transmission: malformed roles and
// empty turns are dropped. The receiver is not modified.
func (h *History) Sanitized() []Turn {
	out := make([]Turn, 0, len(h.Turns))
	for _, t := range h.Turns {
		if !t.Role.Valid() || t.Text == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	return len(h.Turns)
}

// Clear removes all turns, starting a fresh exchange.
func (h *History) Clear() {
	h.Turns = nil
}

// =============================================================================
// GENERATION PARAMETERS
// =============================================================================

// GenerationParams are opaque tuning knobs passed through verbatim to the
// text-completion provider. The engine never interprets them; the server
// maps Creativity to sampling temperature and ResponseLength to a token
// budget.
type GenerationParams struct {
	// Creativity in [0,1]; becomes the provider temperature.
	Creativity float64 `json:"creativity"`

	// ResponseLength is the target length in words.
	ResponseLength int `json:"response_length"`

	// Mode selects the assistant persona (e.g. "tutor", "quiz").
	Mode string `json:"mode"`

	// SchoolLevel adjusts explanations to the student's level.
	SchoolLevel string `json:"school_level"`
}

// DefaultGenerationParams returns the parameters used when the caller
// supplies none.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Creativity:     0.7,
		ResponseLength: 200,
		Mode:           "tutor",
		SchoolLevel:    "lycee",
	}
}
