// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yessusuper/alpha-source/internal/client"
	"github.com/yessusuper/alpha-source/internal/model"
	"github.com/yessusuper/alpha-source/internal/retry"
	"github.com/yessusuper/alpha-source/internal/store"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is the per-submission lifecycle of the manager.
type State int

const (
	// StateIdle means no submission is in flight.
	StateIdle State = iota

	// StateSending covers the whole request cycle, retries included.
	StateSending
)

// Guard errors. Both are caller-facing control flow, not failures to
// surface in the conversation.
var (
	// ErrEmptyDraft rejects a submission with no text and no attachment.
	// The caller treats it as a silent no-op.
	ErrEmptyDraft = errors.New("empty draft")

	// ErrBusy rejects a second submission while one is in flight.
	// Interleaved submissions are never permitted.
	ErrBusy = errors.New("a submission is already in flight")
)

// =============================================================================
// COLLABORATOR CONTRACT
// =============================================================================

// Completer is the outbound text-completion call. *client.Client satisfies it.
type Completer interface {
	Chat(ctx context.Context, req *client.ChatRequest) (*client.ChatResponse, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the per-conversation session settings.
type Config struct {
	// Author is the local user's identity string.
	Author string

	// ConversationID names the assistant chat conversation.
	ConversationID string

	// Params are passed through verbatim with every request.
	Params model.GenerationParams

	// Retry bounds each submission's request cycle.
	Retry retry.Policy

	// FailureText is the narrative appended as the assistant's reply when
	// the retry budget is exhausted. "%d" receives the attempt count.
	FailureText string
}

// DefaultFailureText matches the production failure narrative.
const DefaultFailureText = "Impossible de contacter le serveur SOURCE : erreur permanente après %d tentatives. Réessaie dans un instant."

// =============================================================================
// MANAGER
// =============================================================================

// Manager orchestrates submit → optimistic-append → request → reconcile
// for one assistant chat conversation.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	state   State
	store   *store.Store
	history model.History
	pending *model.Attachment

	exec      *retry.Executor
	completer Completer
	logger    zerolog.Logger
}

// Result reports the outcome of one submission cycle.
type Result struct {
	// ProvisionalID identifies the user's optimistic entry.
	ProvisionalID string

	// Reply is the assistant's conversation entry: the authoritative
	// record on success, the failure narrative otherwise.
	Reply model.Message

	// Failed is set when the retry budget was exhausted; the
	// conversation remains usable.
	Failed bool

	// Attempts is how many times the request was sent.
	Attempts int
}

// NewManager creates a session manager bound to its conversation's store.
func NewManager(cfg Config, st *store.Store, completer Completer, logger zerolog.Logger) *Manager {
	if cfg.Author == "" {
		cfg.Author = "anonymous"
	}
	if cfg.Params == (model.GenerationParams{}) {
		cfg.Params = model.DefaultGenerationParams()
	}
	if cfg.FailureText == "" {
		cfg.FailureText = DefaultFailureText
	}

	return &Manager{
		cfg:       cfg,
		store:     st,
		exec:      retry.NewExecutor(cfg.Retry),
		completer: completer,
		logger:    logger,
	}
}

// State returns the current submission state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InFlight reports whether a request cycle is running, across all retries.
func (m *Manager) InFlight() bool {
	return m.exec.InFlight()
}

// Store returns the conversation's message store.
func (m *Manager) Store() *store.Store {
	return m.store
}

// =============================================================================
// ATTACHMENT HANDLING
// =============================================================================

// Attach stages a file for the next submission, replacing any previous one.
func (m *Manager) Attach(att *model.Attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = att
}

// ClearAttachment removes the staged file. A submission already in flight
// captured its attachment at submit time and is unaffected.
func (m *Manager) ClearAttachment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// Attachment returns the currently staged file, or nil.
func (m *Manager) Attachment() *model.Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// =============================================================================
// PARAMETERS AND HISTORY
// =============================================================================

// SetAuthor updates the identity used for future submissions; called
// after a successful login.
func (m *Manager) SetAuthor(author string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if author != "" {
		m.cfg.Author = author
	}
}

// SetParams replaces the generation parameters for future submissions.
func (m *Manager) SetParams(p model.GenerationParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Params = p
}

// Params returns the current generation parameters.
func (m *Manager) Params() model.GenerationParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Params
}

// History returns a copy of the accumulated turns.
func (m *Manager) History() []model.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Turn, len(m.history.Turns))
	copy(out, m.history.Turns)
	return out
}

// Reset clears the accumulated history and staged attachment, starting a
// fresh exchange. The message store is left to the caller: a new
// discussion gets a new store.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Clear()
	m.pending = nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit runs one full cycle for the draft text.
//
// An empty draft (no text, no attachment) returns ErrEmptyDraft without
// touching the store or the network. A submission while another is in
// flight returns ErrBusy. Every other outcome — including a terminal
// request failure — is absorbed into the returned Result; errors never
// propagate past this boundary as conversation failures.
func (m *Manager) Submit(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)

	m.mu.Lock()
	if m.state == StateSending {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if text == "" && m.pending == nil {
		m.mu.Unlock()
		return nil, ErrEmptyDraft
	}

	m.state = StateSending
	// Capture the attachment now: a concurrent ClearAttachment (or the
	// end-of-cycle clear) must not affect this submission.
	attachment := m.pending
	params := m.cfg.Params
	turns := m.history.Sanitized()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state = StateIdle
		m.pending = nil // cleared after the cycle regardless of outcome
		m.mu.Unlock()
	}()

	draft := model.NewProvisional(m.cfg.Author, text, attachment)
	provisionalID := m.store.AppendProvisional(draft)

	req := &client.ChatRequest{
		ConversationID: m.cfg.ConversationID,
		History:        turns,
		Message:        text,
		TempID:         provisionalID,
		Params:         params,
	}
	if attachment != nil && len(attachment.Data) > 0 {
		req.AttachmentData = base64.StdEncoding.EncodeToString(attachment.Data)
		req.AttachmentMIME = attachment.MIMEType
	}

	var resp *client.ChatResponse
	attempts, err := m.exec.Execute(ctx, func(ctx context.Context) error {
		r, err := m.completer.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	if err != nil {
		return m.failCycle(provisionalID, err), nil
	}

	// Reconcile the optimistic user entry with its authoritative record,
	// then merge the reply; both paths are idempotent against a poll
	// cycle racing this response.
	m.store.Reconcile(provisionalID, &resp.UserMessage)
	m.store.MergeAuthoritative([]model.Message{resp.Reply})

	m.mu.Lock()
	m.history.Append(model.RoleUser, text)
	m.history.Append(model.RoleAssistant, resp.Reply.Body)
	m.mu.Unlock()

	return &Result{
		ProvisionalID: provisionalID,
		Reply:         resp.Reply,
		Attempts:      attempts,
	}, nil
}

// failCycle records the terminal failure as a legible assistant entry.
// The failed turn is not added to the history sent with future requests.
func (m *Manager) failCycle(provisionalID string, err error) *Result {
	attempts := m.exec.Policy().MaxAttempts
	if te, ok := retry.IsTerminal(err); ok {
		attempts = te.Attempts
	}

	m.logger.Warn().
		Err(err).
		Int("attempts", attempts).
		Str("conversation", m.cfg.ConversationID).
		Msg("submission failed terminally")

	text := strings.Replace(m.cfg.FailureText, "%d", strconv.Itoa(attempts), 1)
	notice := model.NewProvisional(model.AuthorAssistant, text, nil)
	m.store.AppendProvisional(notice)

	return &Result{
		ProvisionalID: provisionalID,
		Reply:         *notice,
		Failed:        true,
		Attempts:      attempts,
	}
}
