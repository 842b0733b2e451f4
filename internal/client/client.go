// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/yessusuper/alpha-source/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeStatus
	ErrTypeInvalidResponse
)

// ClientError represents an error from the SOURCE API client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for easy checking.
var (
	ErrUnavailable = &ClientError{Type: ErrTypeConnection, Message: "SOURCE server is unreachable"}
	ErrTimeout     = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
)

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable checks if an error indicates the server is unreachable.
func IsUnavailable(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeConnection
	}
	return errors.Is(err, ErrUnavailable)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the API client.
type Config struct {
	// BaseURL of the SOURCE server (default: http://127.0.0.1:3000).
	// Explicit IPv4 avoids IPv6 resolution issues on Windows.
	BaseURL string

	// Timeout for poll and post requests (default: 30s).
	Timeout time.Duration

	// ChatTimeout for completion requests, which can run long while the
	// provider generates (default: 120s).
	ChatTimeout time.Duration

	// Author is the identity sent with chat submissions; the server
	// persists it as the user turn's author. Updated via SetAuthor after
	// login. Empty means anonymous.
	Author string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://127.0.0.1:3000",
		Timeout:     30 * time.Second,
		ChatTimeout: 120 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the SOURCE server. It is safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	chatClient *http.Client

	mu     sync.Mutex
	author string
}

// New creates a client with the given configuration. Zero fields fall back
// to defaults.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:3000"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = 120 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		chatClient: &http.Client{Timeout: config.ChatTimeout},
		author:     config.Author,
	}
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// SetAuthor replaces the identity sent with chat submissions; called
// after a successful login so the authoritative user turns carry the
// logged-in name.
func (c *Client) SetAuthor(author string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.author = author
}

// Author returns the identity currently sent with chat submissions.
func (c *Client) Author() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.author
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatRequest is the outbound text-completion call payload.
type ChatRequest struct {
	ConversationID string                 `json:"conversation_id"`
	History        []model.Turn           `json:"history"`
	Message        string                 `json:"message"`
	TempID         string                 `json:"temp_id,omitempty"`
	Params         model.GenerationParams `json:"params"`

	// AttachmentData is the base64-encoded blob, inlined for the provider.
	AttachmentData string `json:"attachment_data,omitempty"`
	AttachmentMIME string `json:"attachment_mime,omitempty"`
}

// ChatResponse carries the authoritative records for both turns of the
// exchange: the user's message (so the provisional entry can be
// reconciled) and the assistant's reply.
type ChatResponse struct {
	UserMessage model.Message `json:"user_message"`
	Reply       model.Message `json:"reply"`
}

// PostRequest is the community message post payload.
type PostRequest struct {
	ConversationID string
	Author         string
	Body           string
	TempID         string
	Attachment     *model.Attachment
}

type postResponse struct {
	Success bool           `json:"success"`
	Post    *model.Message `json:"post"`
	TempID  string         `json:"temp_id,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// LoginResponse is returned by a successful credential check.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CourseRequest is the course deposit payload: the file plus its
// catalogue fields. Blank fields get server-side defaults.
type CourseRequest struct {
	Title       string
	Subject     string
	Description string
	FileName    string
	Data        []byte
}

type courseResponse struct {
	Message string        `json:"message"`
	Course  *model.Course `json:"course"`
}

// =============================================================================
// CHAT
// =============================================================================

// Chat submits the accumulated history plus the new turn to the completion
// endpoint and returns the authoritative exchange records.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if author := c.Author(); author != "" {
		httpReq.Header.Set("X-Source-Author", author)
	}

	resp, err := c.chatClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("chat request failed", resp)
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode chat response", Cause: err}
	}

	return &result, nil
}

// =============================================================================
// COMMUNITY POST
// =============================================================================

// PostMessage publishes a community message, uploading the attachment
// blob if present, and returns the full authoritative record (including
// the stored attachment path).
func (c *Client) PostMessage(ctx context.Context, req *PostRequest) (*model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"conversation_id": req.ConversationID,
		"author":          req.Author,
		"body":            req.Body,
		"temp_id":         req.TempID,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to build form", Cause: err}
		}
	}

	if att := req.Attachment; att != nil && len(att.Data) > 0 {
		part, err := w.CreateFormFile("attachment", att.Name)
		if err != nil {
			return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to build form file", Cause: err}
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to write form file", Cause: err}
		}
	}

	if err := w.Close(); err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to finalize form", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/community/post", &buf)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, statusError("post request failed", resp)
	}

	var result postResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode post response", Cause: err}
	}
	if result.Post == nil || result.Post.ID == 0 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "post response missing authoritative record"}
	}

	return result.Post, nil
}

// =============================================================================
// POLLING FETCH
// =============================================================================

// FetchMessages retrieves the full current log for a conversation. The
// caller deduplicates; there is no cursor. Implements poll.Fetcher.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/api/conversations/"+conversationID+"/messages", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch request failed", resp)
	}

	var batch []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode message batch", Cause: err}
	}

	return batch, nil
}

// =============================================================================
// LOGIN
// =============================================================================

// Login checks credentials against the server.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal credentials", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode login response", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := result.Error
		if msg == "" {
			msg = "login failed: " + resp.Status
		}
		return nil, &ClientError{Type: ErrTypeStatus, Message: msg}
	}

	return &result, nil
}

// =============================================================================
// COURSES
// =============================================================================

// DepositCourse uploads a course file with its catalogue entry and
// returns the stored record, including its download path.
func (c *Client) DepositCourse(ctx context.Context, req *CourseRequest) (*model.Course, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"title":       req.Title,
		"subject":     req.Subject,
		"description": req.Description,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to build form", Cause: err}
		}
	}

	part, err := w.CreateFormFile("course-file", req.FileName)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to build form file", Cause: err}
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to write form file", Cause: err}
	}
	if err := w.Close(); err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to finalize form", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/deposit-course", &buf)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("course deposit failed", resp)
	}

	var result courseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode course response", Cause: err}
	}
	if result.Course == nil || result.Course.ID == 0 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "course response missing stored record"}
	}

	return result.Course, nil
}

// FetchCourses retrieves the full course catalogue.
func (c *Client) FetchCourses(ctx context.Context) ([]model.Course, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/courses", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("course fetch failed", resp)
	}

	var catalogue []model.Course
	if err := json.NewDecoder(resp.Body).Decode(&catalogue); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode course catalogue", Cause: err}
	}

	return catalogue, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func transportError(err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return &ClientError{Type: ErrTypeConnection, Message: "SOURCE server is unreachable", Cause: err}
}

func statusError(msg string, resp *http.Response) *ClientError {
	// Try to surface the server's error text; fall back to the status.
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	detail := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil {
		if payload.Error != "" {
			detail = payload.Error
		} else if payload.Message != "" {
			detail = payload.Message
		}
	}
	return &ClientError{Type: ErrTypeStatus, Message: msg + ": " + detail}
}
