// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/yessusuper/alpha-source/internal/client"
	"github.com/yessusuper/alpha-source/internal/feed"
	"github.com/yessusuper/alpha-source/internal/genai"
	"github.com/yessusuper/alpha-source/internal/metrics"
	"github.com/yessusuper/alpha-source/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ConversationAssistant is the default assistant-chat conversation id.
	ConversationAssistant = "assistant"

	// ConversationCommunity is the shared community feed conversation id.
	ConversationCommunity = "community"

	// NoReplyFallback is substituted when the provider returns an empty
	// completion; an empty result is degraded content, not an error.
	NoReplyFallback = "Désolé, pas de réponse."

	// maxUploadBytes bounds one attachment.
	maxUploadBytes = 8 * 1024 * 1024
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      *feed.Store
	provider   genai.Provider
	logger     zerolog.Logger
	imagesDir  string
	uploadsDir string

	// defaults fill generation parameters the request leaves at zero.
	// Swapped atomically on config reload.
	defaults atomic.Pointer[model.GenerationParams]
}

// NewHandler creates a Handler with the given collaborators.
func NewHandler(store *feed.Store, provider genai.Provider, imagesDir, uploadsDir string, logger zerolog.Logger) *Handler {
	h := &Handler{
		store:      store,
		provider:   provider,
		logger:     logger,
		imagesDir:  imagesDir,
		uploadsDir: uploadsDir,
	}
	p := model.DefaultGenerationParams()
	h.defaults.Store(&p)
	return h
}

// UpdateDefaults swaps the generation parameter defaults; called on
// config reload.
func (h *Handler) UpdateDefaults(p model.GenerationParams) {
	h.defaults.Store(&p)
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports server and storage liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CHAT
// =============================================================================

// Chat runs one assistant exchange: filter the history, call the
// provider, persist both turns to the conversation's authoritative log,
// and return the two full records so the client can reconcile.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req client.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && req.AttachmentData == "" {
		h.Error(w, http.StatusBadRequest, "message or attachment required")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ConversationAssistant
	}

	// Malformed roles are filtered out before the provider sees them.
	turns := make([]model.Turn, 0, len(req.History))
	for _, t := range req.History {
		if t.Role.Valid() && t.Text != "" {
			turns = append(turns, t)
		}
	}

	params := h.fillParams(req.Params)

	var inline []byte
	if req.AttachmentData != "" {
		data, err := base64.StdEncoding.DecodeString(req.AttachmentData)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid attachment encoding")
			return
		}
		inline = data
	}

	start := time.Now()
	reply, err := h.provider.Generate(r.Context(), &genai.Request{
		System:      genai.BuildSystemInstruction(params),
		Turns:       turns,
		Prompt:      req.Message,
		InlineData:  inline,
		MIMEType:    req.AttachmentMIME,
		Temperature: params.Creativity,
		MaxTokens:   genai.MaxTokensFor(params),
	})
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, genai.ErrNotConfigured) {
			h.Error(w, http.StatusInternalServerError, "completion provider is not configured")
			return
		}
		h.logger.Error().Err(err).Msg("completion call failed")
		h.Error(w, http.StatusInternalServerError, "completion failed")
		return
	}

	if reply == "" {
		metrics.CompletionsTotal.WithLabelValues("degraded").Inc()
		reply = NoReplyFallback
	} else {
		metrics.CompletionsTotal.WithLabelValues("ok").Inc()
	}

	userMsg, err := h.store.Append(r.Context(), conversationID, &model.Message{
		TempID: req.TempID,
		Author: authorOrDefault(r),
		Body:   req.Message,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to persist user turn")
		h.Error(w, http.StatusInternalServerError, "failed to persist exchange")
		return
	}

	replyMsg, err := h.store.Append(r.Context(), conversationID, &model.Message{
		Author: model.AuthorAssistant,
		Body:   reply,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to persist assistant turn")
		h.Error(w, http.StatusInternalServerError, "failed to persist exchange")
		return
	}

	h.JSON(w, http.StatusOK, client.ChatResponse{
		UserMessage: *userMsg,
		Reply:       *replyMsg,
	})
}

// authorOrDefault names the user turn's author from the request header
// the client sets after login; anonymous otherwise.
func authorOrDefault(r *http.Request) string {
	if author := strings.TrimSpace(r.Header.Get("X-Source-Author")); author != "" {
		return author
	}
	return "anonymous"
}

// fillParams completes request parameters from the current defaults.
func (h *Handler) fillParams(p model.GenerationParams) model.GenerationParams {
	defaults := *h.defaults.Load()
	if p.Creativity <= 0 {
		p.Creativity = defaults.Creativity
	}
	if p.ResponseLength <= 0 {
		p.ResponseLength = defaults.ResponseLength
	}
	if p.Mode == "" {
		p.Mode = defaults.Mode
	}
	if p.SchoolLevel == "" {
		p.SchoolLevel = defaults.SchoolLevel
	}
	return p
}

// =============================================================================
// COMMUNITY POST
// =============================================================================

// PostMessage accepts a community message (multipart, optional file),
// stores the attachment, appends the authoritative record, and returns it
// with the client's provisional id echoed.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	author := strings.TrimSpace(r.FormValue("author"))
	body := strings.TrimSpace(r.FormValue("body"))
	tempID := r.FormValue("temp_id")

	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		conversationID = ConversationCommunity
	}

	file, header, fileErr := r.FormFile("attachment")
	hasFile := fileErr == nil

	if author == "" || (body == "" && !hasFile) {
		h.Error(w, http.StatusBadRequest, "author and message or attachment required")
		return
	}

	msg := &model.Message{TempID: tempID, Author: author, Body: body}

	if hasFile {
		defer file.Close()
		att, err := h.storeUpload(file, header.Filename, header.Header.Get("Content-Type"))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to store upload")
			h.Error(w, http.StatusInternalServerError, "failed to store attachment")
			return
		}
		msg.Attachment = att
	}

	stored, err := h.store.Append(r.Context(), conversationID, msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to append message")
		h.Error(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	withAtt := "no"
	if stored.Attachment != nil {
		withAtt = "yes"
	}
	metrics.MessagesPosted.WithLabelValues(withAtt).Inc()

	h.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"post":    stored,
		"temp_id": tempID,
	})
}

// storeUpload persists the uploaded blob under a collision-free name and
// returns the attachment with its stable reference path.
func (h *Handler) storeUpload(file io.Reader, name, mimeType string) (*model.Attachment, error) {
	stored := uuid.NewString() + filepath.Ext(name)
	if err := h.saveBlob(h.imagesDir, stored, file); err != nil {
		return nil, err
	}

	return &model.Attachment{
		Name:     name,
		MIMEType: mimeType,
		Path:     "/images/" + stored,
	}, nil
}

// saveBlob writes one uploaded blob to dir under the stored name.
func (h *Handler) saveBlob(dir, stored string, file io.Reader) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	dst, err := os.Create(filepath.Join(dir, stored))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, io.LimitReader(file, maxUploadBytes))
	return err
}

// =============================================================================
// COURSES
// =============================================================================

// Catalogue defaults for blank form fields.
const (
	courseDefaultTitle       = "Titre Inconnu"
	courseDefaultSubject     = "Non spécifié"
	courseDefaultDescription = "Pas de description"
)

// DepositCourse accepts a course file with its catalogue fields, stores
// the file under the uploads dir, and returns the catalogue record.
func (h *Handler) DepositCourse(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("course-file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "course file required")
		return
	}
	defer file.Close()

	course := &model.Course{
		Title:       formOrDefault(r, "title", courseDefaultTitle),
		Subject:     formOrDefault(r, "subject", courseDefaultSubject),
		Description: formOrDefault(r, "description", courseDefaultDescription),
	}

	// Course files keep their original name for download, prefixed to
	// avoid collisions.
	stored := uuid.NewString() + "-" + filepath.Base(header.Filename)
	if err := h.saveBlob(h.uploadsDir, stored, file); err != nil {
		h.logger.Error().Err(err).Msg("failed to store course file")
		h.Error(w, http.StatusInternalServerError, "failed to store course file")
		return
	}
	course.FilePath = "/uploads/" + stored

	saved, err := h.store.AddCourse(r.Context(), course)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to catalogue course")
		h.Error(w, http.StatusInternalServerError, "failed to save course")
		return
	}

	metrics.CoursesDeposited.Inc()
	h.JSON(w, http.StatusOK, map[string]any{
		"message": "Cours déposé avec succès !",
		"course":  saved,
	})
}

// ListCourses serves the full course catalogue.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	catalogue, err := h.store.Courses(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list courses")
		h.Error(w, http.StatusInternalServerError, "failed to read courses")
		return
	}
	h.JSON(w, http.StatusOK, catalogue)
}

func formOrDefault(r *http.Request, field, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(field)); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// POLLING FETCH
// =============================================================================

// ListMessages serves the full current log for a conversation. The client
// deduplicates; there is no cursor.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		conversationID = ConversationCommunity
	}

	batch, err := h.store.List(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conversationID).Msg("failed to list messages")
		h.Error(w, http.StatusInternalServerError, "failed to read messages")
		return
	}

	metrics.PollsServed.Inc()
	h.JSON(w, http.StatusOK, batch)
}

// CommunityMessages is the legacy alias for the community feed log.
func (h *Handler) CommunityMessages(w http.ResponseWriter, r *http.Request) {
	batch, err := h.store.List(r.Context(), ConversationCommunity)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list community messages")
		h.Error(w, http.StatusInternalServerError, "failed to read messages")
		return
	}

	metrics.PollsServed.Inc()
	h.JSON(w, http.StatusOK, batch)
}

// =============================================================================
// LOGIN
// =============================================================================

// Login checks a username/password pair against the stored bcrypt hash.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hash, err := h.store.UserHash(r.Context(), req.Username)
	if errors.Is(err, feed.ErrUserNotFound) {
		h.Error(w, http.StatusUnauthorized, "unknown username")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read user")
		h.Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "incorrect password")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"username": req.Username,
	})
}
