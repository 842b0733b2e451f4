// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yessusuper/alpha-source/internal/model"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(&Config{BaseURL: srv.URL, Timeout: 2 * time.Second, ChatTimeout: 2 * time.Second})
}

func TestChat_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "assistant", req.ConversationID)
		assert.Equal(t, "Explique les fractions", req.Message)
		assert.Equal(t, "temp-1-1", req.TempID)
		assert.Equal(t, 0.7, req.Params.Creativity)

		json.NewEncoder(w).Encode(ChatResponse{
			UserMessage: model.Message{ID: 10, TempID: req.TempID, Author: "amina", Body: req.Message, Status: model.StatusConfirmed},
			Reply:       model.Message{ID: 11, Author: model.AuthorAssistant, Body: "Voilà.", Status: model.StatusConfirmed},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.Chat(context.Background(), &ChatRequest{
		ConversationID: "assistant",
		Message:        "Explique les fractions",
		TempID:         "temp-1-1",
		Params:         model.DefaultGenerationParams(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), resp.UserMessage.ID)
	assert.Equal(t, "temp-1-1", resp.UserMessage.TempID)
	assert.Equal(t, "Voilà.", resp.Reply.Body)
}

func TestChat_SendsAuthorHeader(t *testing.T) {
	var gotAuthor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthor = r.Header.Get("X-Source-Author")
		json.NewEncoder(w).Encode(ChatResponse{
			UserMessage: model.Message{ID: 1, Author: gotAuthor, Status: model.StatusConfirmed},
			Reply:       model.Message{ID: 2, Author: model.AuthorAssistant, Status: model.StatusConfirmed},
		})
	}))
	defer srv.Close()

	c := New(&Config{BaseURL: srv.URL, Author: "amina"})
	_, err := c.Chat(context.Background(), &ChatRequest{Message: "salut"})
	require.NoError(t, err)
	assert.Equal(t, "amina", gotAuthor, "the configured identity rides every chat call")

	// Login swaps the identity for subsequent submissions.
	c.SetAuthor("karim")
	_, err = c.Chat(context.Background(), &ChatRequest{Message: "re"})
	require.NoError(t, err)
	assert.Equal(t, "karim", gotAuthor)
}

func TestChat_NonOKStatusSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "completion failed"})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Chat(context.Background(), &ChatRequest{Message: "salut"})
	require.Error(t, err)

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeStatus, ce.Type)
	assert.Contains(t, ce.Message, "completion failed")
}

func TestChat_UnreachableServer(t *testing.T) {
	c := New(&Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, ChatTimeout: time.Second})

	_, err := c.Chat(context.Background(), &ChatRequest{Message: "salut"})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsTimeout(err))
}

func TestPostMessage_MultipartFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/community/post", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "community", r.FormValue("conversation_id"))
		assert.Equal(t, "amina", r.FormValue("author"))
		assert.Equal(t, "regardez mon exo", r.FormValue("body"))
		assert.Equal(t, "temp-9-9", r.FormValue("temp_id"))

		file, header, err := r.FormFile("attachment")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "exo.png", header.Filename)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"temp_id": "temp-9-9",
			"post": model.Message{
				ID: 21, TempID: "temp-9-9", Author: "amina", Body: "regardez mon exo",
				Attachment: &model.Attachment{Name: "exo.png", Path: "/images/abc.png"},
				Status:     model.StatusConfirmed,
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	post, err := c.PostMessage(context.Background(), &PostRequest{
		ConversationID: "community",
		Author:         "amina",
		Body:           "regardez mon exo",
		TempID:         "temp-9-9",
		Attachment:     &model.Attachment{Name: "exo.png", MIMEType: "image/png", Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(21), post.ID)
	assert.Equal(t, "temp-9-9", post.TempID)
	require.NotNil(t, post.Attachment)
	assert.Equal(t, "/images/abc.png", post.Attachment.Path)
}

func TestPostMessage_MissingAuthoritativeRecordRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.PostMessage(context.Background(), &PostRequest{Author: "amina", Body: "x"})
	require.Error(t, err)

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
}

func TestFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations/community/messages", r.URL.Path)
		json.NewEncoder(w).Encode([]model.Message{
			{ID: 1, Author: "a", Body: "un", Status: model.StatusConfirmed},
			{ID: 2, Author: "b", Body: "deux", Status: model.StatusConfirmed},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	batch, err := c.FetchMessages(context.Background(), "community")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].ID)
}

func TestFetchMessages_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.FetchMessages(context.Background(), "community")
	require.Error(t, err)

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))

		if creds["password"] != "bon" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "incorrect password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "username": creds["username"]})
	}))
	defer srv.Close()

	c := newTestClient(srv)

	resp, err := c.Login(context.Background(), "amina", "bon")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "amina", resp.Username)

	_, err = c.Login(context.Background(), "amina", "mauvais")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect password")
}

func TestDepositCourse_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/deposit-course", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "Les fractions", r.FormValue("title"))
		assert.Equal(t, "Maths", r.FormValue("subject"))

		file, header, err := r.FormFile("course-file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "fractions.pdf", header.Filename)

		json.NewEncoder(w).Encode(map[string]any{
			"message": "Cours déposé avec succès !",
			"course": model.Course{
				ID:       7,
				Title:    "Les fractions",
				Subject:  "Maths",
				FilePath: "/uploads/abc-fractions.pdf",
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	course, err := c.DepositCourse(context.Background(), &CourseRequest{
		Title:    "Les fractions",
		Subject:  "Maths",
		FileName: "fractions.pdf",
		Data:     []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), course.ID)
	assert.Equal(t, "/uploads/abc-fractions.pdf", course.FilePath)
}

func TestFetchCourses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/courses", r.URL.Path)
		json.NewEncoder(w).Encode([]model.Course{
			{ID: 1, Title: "Un"},
			{ID: 2, Title: "Deux"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	catalogue, err := c.FetchCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, catalogue, 2)
	assert.Equal(t, "Deux", catalogue[1].Title)
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "http://127.0.0.1:3000", c.BaseURL())

	c = New(&Config{})
	assert.Equal(t, "http://127.0.0.1:3000", c.BaseURL())
}
