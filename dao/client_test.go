package dao

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ckd-chat-gateway/model"
	"ckd-chat-gateway/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithRetryDelay(0))
}

func TestListSessionsSendsIdentity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/sessions", r.URL.Path)
		assert.Equal(t, "王小明_a@b.com", r.URL.Query().Get("user_id"))
		assert.Equal(t, "陳醫師", r.URL.Query().Get("doctor"))
		_, _ = io.WriteString(w, `[{"id":"s1","name":null,"history":[{"role":"user","content":"hi"}],"created_at":"2025-01-02T03:04:05.123456","updated_at":"2025-01-02T03:04:05.123456"}]`)
	}))

	sessions, err := c.ListSessions(context.Background(), "王小明_a@b.com", "陳醫師")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.TextContent("hi"), sessions[0].History[0].Content)
}

func TestListSessionsOmitsEmptyDoctor(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has := r.URL.Query()["doctor"]
		assert.False(t, has)
		_, _ = io.WriteString(w, `null`)
	}))

	sessions, err := c.ListSessions(context.Background(), "anonymous_user", "")
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestReadsRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"id":"s1","history":[]}`)
	}))

	sess, err := c.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadsDoNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such session", http.StatusNotFound)
	}))

	_, err := c.GetSession(context.Background(), "missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "no such session", statusErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadsDoNotRetryMalformedBody(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "<html>gateway page</html>")
	}))

	_, err := c.ListSessions(context.Background(), "u", "d")
	assert.ErrorIs(t, err, ErrDecodeResponse)
	_, err = c.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrDecodeResponse)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWritesAreNeverRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.CreateSession(context.Background(), "u", "d")
	require.Error(t, err)
	require.Error(t, c.UpdateSessionName(context.Background(), "s1", "n"))
	require.Error(t, c.DeleteSession(context.Background(), "s1", "u"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreateRenameDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"session":{"id":"new","name":null,"history":[]}}`)
	})
	mux.HandleFunc("PUT /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "new", r.PathValue("id"))
		assert.Equal(t, "腎功能", body["name"])
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	sess, err := c.CreateSession(context.Background(), "u1", "d")
	require.NoError(t, err)
	assert.Equal(t, "new", sess.ID)
	require.NoError(t, c.UpdateSessionName(context.Background(), "new", "腎功能"))
	require.NoError(t, c.DeleteSession(context.Background(), "new", "u1"))
}

func TestOpenStream(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/message/stream", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body["session_id"])
		assert.Equal(t, "What is CKD?", body["message"])
		_, _ = io.WriteString(w, "data: {\"type\":\"done\",\"outline\":\"o\",\"detail\":\"d\"}\n\n")
	}))

	body, err := c.OpenStream(context.Background(), "s1", "What is CKD?")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"done"`)
}

func TestOpenStreamStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))

	_, err := c.OpenStream(context.Background(), "s1", "q")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestLoginFlows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req request.UserLoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, `{"success":true,"message":"Login successful","user":{"id":"`+req.Name+`_`+req.PatientEmail+`","name":"`+req.Name+`","doctor":"`+req.Doctor+`","patient_email":"`+req.PatientEmail+`"}}`)
	})
	mux.HandleFunc("POST /api/auth/login/anonymous", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"message":"ok","user":{"id":"anonymous_user","name":"匿名","doctor":"anonymous"}}`)
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anonymous_user", r.URL.Query().Get("user_id"))
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	c := newTestClient(t, mux)

	user, err := c.Login(context.Background(), request.UserLoginRequest{Name: "amy", Doctor: "陳醫師", PatientEmail: "amy@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "amy_amy@x.com", user.ID)
	assert.False(t, user.Anonymous)

	anon, err := c.LoginAnonymous(context.Background())
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)
	require.NoError(t, c.Logout(context.Background(), anon.ID))
}

func TestLoginRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"nope"}`)
	}))

	_, err := c.Login(context.Background(), request.UserLoginRequest{Name: "a"})
	assert.ErrorContains(t, err, "nope")
}

func TestCanceledReadIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListSessions(ctx, "u", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), calls.Load())
}
