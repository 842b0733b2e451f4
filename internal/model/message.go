// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yessusuper/alpha-source/internal/util"
)

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status represents the reconciliation state of a message.
type Status string

const (
	// StatusProvisional marks a locally created message that has not yet
	// been confirmed by the authoritative log.
	StatusProvisional Status = "provisional"

	// StatusConfirmed marks a message that carries a server-assigned
	// identifier. Confirmed messages are immutable.
	StatusConfirmed Status = "confirmed"
)

// AuthorAssistant is the reserved author name for assistant replies.
const AuthorAssistant = "assistant"

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single entry in a conversation log.
//
// While provisional, identity is the client-minted TempID and ID is zero.
// Once confirmed, ID holds the server-assigned identifier; TempID is kept so
// a late reconciliation for the same logical message can be recognized.
type Message struct {
	// Identity
	ID     int64  `json:"id,omitempty"`
	TempID string `json:"temp_id,omitempty"`

	Author string `json:"author"`
	Body   string `json:"body"`

	// Attachment is optional; Body may be empty when one is present.
	Attachment *Attachment `json:"attachment,omitempty"`

	// CreatedAt is client-assigned for provisional entries (display only)
	// and server-assigned for confirmed entries (used for ordering).
	CreatedAt time.Time `json:"created_at"`

	Status Status `json:"status"`
}

// NewProvisional creates a provisional message with a freshly minted TempID.
func NewProvisional(author, body string, att *Attachment) *Message {
	return &Message{
		TempID:     MintTempID(),
		Author:     author,
		Body:       body,
		Attachment: att,
		CreatedAt:  time.Now(),
		Status:     StatusProvisional,
	}
}

// IsProvisional reports whether the message still awaits reconciliation.
func (m *Message) IsProvisional() bool {
	return m.Status == StatusProvisional
}

// IsEmpty reports whether the message has neither text nor attachment.
func (m *Message) IsEmpty() bool {
	return m.Body == "" && m.Attachment == nil
}

// EffectiveID returns the identity string used for display and lookup:
// the server identifier once confirmed, the temp identifier before that.
func (m *Message) EffectiveID() string {
	if m.ID != 0 {
		return strconv.FormatInt(m.ID, 10)
	}
	return m.TempID
}

// Clone returns a copy of the message. Attachment data is shared; the
// blob is owned by the sender until upload completes and is never mutated.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Attachment != nil {
		attCp := *m.Attachment
		cp.Attachment = &attCp
	}
	return &cp
}

// Preview returns a truncated, rune-safe preview of the message body.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.Body, maxLen)
}

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// Attachment references binary content carried by a message.
//
// Ownership: the client owns Data until the upload completes; afterwards the
// server owns the persisted file and Path holds its stable reference.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`

	// Data is the in-memory blob on the client side. Never persisted in
	// history and never sent back down from the server.
	Data []byte `json:"-"`

	// Path is the server-side reference (e.g. /images/<file>), set once
	// the upload has been stored.
	Path string `json:"path,omitempty"`
}

// IsImage reports whether the attachment is an image by MIME type.
func (a *Attachment) IsImage() bool {
	return a != nil && len(a.MIMEType) >= 6 && a.MIMEType[:6] == "image/"
}

// =============================================================================
// TEMP ID MINTING
// =============================================================================

var tempSeq atomic.Int64

// MintTempID returns a provisional identifier that is unique for this
// process and monotonically increasing. The millisecond prefix keeps ids
// time-derived like the wire format expects ("temp-<ms>-<n>").
func MintTempID() string {
	n := tempSeq.Add(1)
	return "temp-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatInt(n, 10)
}
