// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yessusuper/alpha-source/internal/client"
	"github.com/yessusuper/alpha-source/internal/feed"
	"github.com/yessusuper/alpha-source/internal/genai"
	"github.com/yessusuper/alpha-source/internal/model"
)

// fakeProvider scripts the completion outcome and records the request.
type fakeProvider struct {
	reply   string
	err     error
	lastReq *genai.Request
}

func (f *fakeProvider) Generate(ctx context.Context, req *genai.Request) (string, error) {
	f.lastReq = req
	return f.reply, f.err
}

type testEnv struct {
	store      *feed.Store
	provider   *fakeProvider
	handler    *Handler
	router     http.Handler
	imagesDir  string
	uploadsDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := feed.Open(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeProvider{reply: "Bien sûr !"}
	imagesDir := filepath.Join(dir, "images")
	uploadsDir := filepath.Join(dir, "uploads")
	handler := NewHandler(store, provider, imagesDir, uploadsDir, zerolog.Nop())
	router := NewRouter(handler, zerolog.Nop(), RouterConfig{
		ImagesDir:    imagesDir,
		UploadsDir:   uploadsDir,
		RateLimitRPS: 10000, // keep the limiter out of the way
	})

	return &testEnv{
		store:      store,
		provider:   provider,
		handler:    handler,
		router:     router,
		imagesDir:  imagesDir,
		uploadsDir: uploadsDir,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, path string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_PersistsBothTurns(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chat", client.ChatRequest{
		ConversationID: "assistant",
		Message:        "Explique les fractions",
		TempID:         "temp-1-1",
		Params:         model.DefaultGenerationParams(),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp client.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "temp-1-1", resp.UserMessage.TempID)
	assert.NotZero(t, resp.UserMessage.ID)
	assert.Equal(t, "Explique les fractions", resp.UserMessage.Body)
	assert.Equal(t, model.AuthorAssistant, resp.Reply.Author)
	assert.Equal(t, "Bien sûr !", resp.Reply.Body)
	assert.Greater(t, resp.Reply.ID, resp.UserMessage.ID)

	// Both records reach the authoritative log, so a later poll can
	// reconcile a client that lost this response.
	batch, err := env.store.List(context.Background(), "assistant")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "temp-1-1", batch[0].TempID)
}

func TestChat_PersistsAuthorFromHeader(t *testing.T) {
	env := newTestEnv(t)

	req := postJSON(t, "/api/chat", map[string]any{"message": "salut"})
	req.Header.Set("X-Source-Author", "amina")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp client.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "amina", resp.UserMessage.Author)

	batch, err := env.store.List(context.Background(), "assistant")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "amina", batch[0].Author, "authoritative log keeps the logged-in author")

	// Without the header the turn stays anonymous.
	rec = env.do(t, postJSON(t, "/api/chat", map[string]any{"message": "salut"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "anonymous", resp.UserMessage.Author)
}

func TestChat_FiltersMalformedHistoryRoles(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chat", map[string]any{
		"message": "suite",
		"history": []map[string]string{
			{"role": "user", "text": "salut"},
			{"role": "system", "text": "intrus"},
			{"role": "assistant", "text": "bonjour"},
			{"role": "user", "text": ""},
		},
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, env.provider.lastReq)
	turns := env.provider.lastReq.Turns
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestChat_EmptyCompletionGetsFallback(t *testing.T) {
	env := newTestEnv(t)
	env.provider.reply = ""

	rec := env.do(t, postJSON(t, "/api/chat", map[string]any{"message": "salut"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp client.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, NoReplyFallback, resp.Reply.Body)
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, postJSON(t, "/api/chat", map[string]any{"message": "   "}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.err = errors.New("upstream down")

	rec := env.do(t, postJSON(t, "/api/chat", map[string]any{"message": "salut"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Nothing persisted for a failed exchange.
	batch, err := env.store.List(context.Background(), "assistant")
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestChat_FillsDefaultParams(t *testing.T) {
	env := newTestEnv(t)
	env.handler.UpdateDefaults(model.GenerationParams{
		Creativity: 1.1, ResponseLength: 50, Mode: "quiz", SchoolLevel: "college",
	})

	rec := env.do(t, postJSON(t, "/api/chat", map[string]any{"message": "salut"}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, env.provider.lastReq)
	assert.Equal(t, 1.1, env.provider.lastReq.Temperature)
	assert.Equal(t, 200, env.provider.lastReq.MaxTokens)
	assert.Contains(t, env.provider.lastReq.System, "quiz")
}

// =============================================================================
// COMMUNITY POST
// =============================================================================

func multipartPost(t *testing.T, fields map[string]string, fileName string, fileData []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("attachment", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/community/post", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestPostMessage_EchoesTempID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartPost(t, map[string]string{
		"author":  "amina",
		"body":    "regardez",
		"temp_id": "temp-5-5",
	}, "", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Success bool           `json:"success"`
		Post    *model.Message `json:"post"`
		TempID  string         `json:"temp_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "temp-5-5", resp.TempID)
	require.NotNil(t, resp.Post)
	assert.NotZero(t, resp.Post.ID)
	assert.Equal(t, "temp-5-5", resp.Post.TempID)
}

func TestPostMessage_StoresUpload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartPost(t, map[string]string{
		"author": "amina",
	}, "exo.png", []byte{0x89, 0x50, 0x4e, 0x47}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Post *model.Message `json:"post"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Post.Attachment)
	assert.Equal(t, "exo.png", resp.Post.Attachment.Name)
	require.True(t, strings.HasPrefix(resp.Post.Attachment.Path, "/images/"))

	// The blob landed on disk under its stored name.
	stored := strings.TrimPrefix(resp.Post.Attachment.Path, "/images/")
	data, err := os.ReadFile(filepath.Join(env.imagesDir, stored))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, data)

	// And it is served back over the static route.
	getRec := env.do(t, httptest.NewRequest(http.MethodGet, resp.Post.Attachment.Path, nil))
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestPostMessage_RequiresAuthorAndContent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartPost(t, map[string]string{"body": "sans auteur"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, multipartPost(t, map[string]string{"author": "amina"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body with no file is rejected")
}

// =============================================================================
// POLLING FETCH
// =============================================================================

func TestListMessages_FullLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, body := range []string{"un", "deux"} {
		_, err := env.store.Append(ctx, "community", &model.Message{Author: "a", Body: body})
		require.NoError(t, err)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/conversations/community/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var batch []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch, 2)
	assert.Equal(t, "un", batch[0].Body)

	// The legacy alias serves the same log.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/community/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Len(t, batch, 2)
}

// =============================================================================
// COURSES
// =============================================================================

func multipartCourse(t *testing.T, fields map[string]string, fileName string, fileData []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("course-file", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/deposit-course", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestDepositCourse_StoresFileAndCatalogues(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartCourse(t, map[string]string{
		"title":   "Les fractions",
		"subject": "Maths",
	}, "fractions.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Message string        `json:"message"`
		Course  *model.Course `json:"course"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Course)
	assert.NotZero(t, resp.Course.ID)
	assert.Equal(t, "Les fractions", resp.Course.Title)
	assert.Equal(t, "Maths", resp.Course.Subject)
	assert.Equal(t, "Pas de description", resp.Course.Description, "blank field gets the default")
	require.True(t, strings.HasPrefix(resp.Course.FilePath, "/uploads/"))
	assert.True(t, strings.HasSuffix(resp.Course.FilePath, "-fractions.pdf"), "stored name keeps the original for download")

	// The file landed on disk and is served back over the static route.
	stored := strings.TrimPrefix(resp.Course.FilePath, "/uploads/")
	data, err := os.ReadFile(filepath.Join(env.uploadsDir, stored))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	getRec := env.do(t, httptest.NewRequest(http.MethodGet, resp.Course.FilePath, nil))
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestDepositCourse_RequiresFile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, multipartCourse(t, map[string]string{"title": "Sans fichier"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCourses(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/courses", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var catalogue []model.Course
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalogue))
	assert.Empty(t, catalogue)

	env.do(t, multipartCourse(t, map[string]string{"title": "Un"}, "un.pdf", []byte("a")))
	env.do(t, multipartCourse(t, map[string]string{"title": "Deux"}, "deux.pdf", []byte("b")))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/courses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalogue))
	require.Len(t, catalogue, 2)
	assert.Equal(t, "Un", catalogue[0].Title)
	assert.Equal(t, "Deux", catalogue[1].Title)
}

// =============================================================================
// LOGIN AND HEALTH
// =============================================================================

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("bon"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, env.store.UpsertUser(context.Background(), "amina", string(hash)))

	rec := env.do(t, postJSON(t, "/api/login", map[string]string{"username": "amina", "password": "bon"}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, postJSON(t, "/api/login", map[string]string{"username": "amina", "password": "mauvais"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, postJSON(t, "/api/login", map[string]string{"username": "inconnu", "password": "x"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
