// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/yessusuper/alpha-source/internal/model"
)

// =============================================================================
// PROVIDER CONTRACT
// =============================================================================

// Request is one completion call: the accumulated exchange, the new turn,
// an optional inlined attachment, and tuning parameters.
type Request struct {
	System      string
	Turns       []model.Turn
	Prompt      string
	InlineData  []byte
	MIMEType    string
	Temperature float64
	MaxTokens   int
}

// Provider generates a text completion. Implementations must treat an
// empty completion as a valid (degraded) result, not an error.
type Provider interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("completion provider is not configured")

// BuildSystemInstruction renders the assistant persona from the opaque
// generation parameters. The knobs are passed through verbatim; only the
// framing text is ours.
func BuildSystemInstruction(p model.GenerationParams) string {
	return "Tu es SOURCE AI, l'assistant scolaire de la plateforme SOURCE.\n" +
		"- Mode IA: " + p.Mode + ".\n" +
		"- Niveau scolaire: " + p.SchoolLevel + ".\n" +
		"- Longueur: " + strconv.Itoa(p.ResponseLength) + " mots.\n" +
		"Réponds en français."
}

// MaxTokensFor converts the word-count target into a provider token
// budget. Four tokens per word is generous on purpose.
func MaxTokensFor(p model.GenerationParams) int {
	if p.ResponseLength <= 0 {
		return 2048
	}
	return p.ResponseLength * 4
}

// =============================================================================
// HTTP PROVIDER
// =============================================================================

// Config holds the HTTP provider settings.
type Config struct {
	// BaseURL of the generative-language REST endpoint.
	BaseURL string

	// APIKey authenticates the call. Empty means not configured.
	APIKey string

	// Model names the generation model (default: gemini-2.5-flash).
	Model string

	// Timeout for one generation call (default: 90s).
	Timeout time.Duration
}

// HTTPProvider calls a generateContent-style REST API.
type HTTPProvider struct {
	config     Config
	httpClient *http.Client
}

// NewHTTPProvider creates a provider with defaults filled in.
func NewHTTPProvider(config Config) *HTTPProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 90 * time.Second
	}

	return &HTTPProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Wire types for the generateContent call.
type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inline_data,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	SystemInstruction *wireContent  `json:"system_instruction,omitempty"`
	Contents          []wireContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Provider against the REST API.
func (p *HTTPProvider) Generate(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", ErrNotConfigured
	}

	wire := wireRequest{}
	if req.System != "" {
		wire.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}
	for _, turn := range req.Turns {
		role := "user"
		if turn.Role == model.RoleAssistant {
			role = "model"
		}
		wire.Contents = append(wire.Contents, wireContent{
			Role:  role,
			Parts: []wirePart{{Text: turn.Text}},
		})
	}

	parts := make([]wirePart, 0, 2)
	if req.Prompt != "" {
		parts = append(parts, wirePart{Text: req.Prompt})
	}
	if len(req.InlineData) > 0 && req.MIMEType != "" {
		parts = append(parts, wirePart{InlineData: &wireInlineData{
			MIMEType: req.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.InlineData),
		}})
	}
	wire.Contents = append(wire.Contents, wireContent{Role: "user", Parts: parts})

	wire.GenerationConfig.Temperature = req.Temperature
	wire.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}

	url := p.config.BaseURL + "/v1beta/models/" + p.config.Model + ":generateContent?key=" + p.config.APIKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.New("malformed provider response")
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil && result.Error.Message != "" {
			return "", errors.New("provider error: " + result.Error.Message)
		}
		return "", errors.New("provider error: " + resp.Status)
	}

	// An empty candidate list is a degraded success; the caller supplies
	// the fallback text.
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
