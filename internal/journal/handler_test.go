package journal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMux(t *testing.T) (*testEnv, *http.ServeMux) {
	t.Helper()
	env := newTestEnv(t)
	mux := http.NewServeMux()
	NewHandler(env.svc, zap.NewNop()).RegisterRoutes(mux)
	return env, mux
}

func call(h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(auth.WithUser(req.Context(), &auth.Claims{UserID: userID}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_SessionFlow(t *testing.T) {
	_, mux := newTestMux(t)

	w := call(mux, "POST", "/api/v1/sessions", "u1", map[string]any{"initial_mood": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c Conversation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&c))
	require.NotEmpty(t, c.ID)

	w = call(mux, "POST", "/api/v1/sessions/"+c.ID+"/messages", "u1", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply Reply
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reply))
	assert.Equal(t, "assistant", reply.Message.Role)
	assert.Positive(t, reply.Cost)

	w = call(mux, "POST", "/api/v1/sessions/"+c.ID+"/end", "u1", map[string]any{"end_mood": 5, "duration": 60})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(mux, "POST", "/api/v1/sessions/"+c.ID+"/messages", "u1", map[string]string{"content": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = call(mux, "GET", "/api/v1/sessions/"+c.ID, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got Conversation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, got.Messages, 3)

	w = call(mux, "GET", "/api/v1/sessions/recent?limit=1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recent []Conversation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&recent))
	assert.Len(t, recent, 1)

	w = call(mux, "DELETE", "/api/v1/sessions/"+c.ID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(mux, "GET", "/api/v1/sessions", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestHandler_Errors(t *testing.T) {
	env, mux := newTestMux(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"no user", "GET", "/api/v1/sessions", "", nil, http.StatusUnauthorized},
		{"bad json", "POST", "/api/v1/sessions", "u1", "nope", http.StatusBadRequest},
		{"bad mood", "POST", "/api/v1/sessions", "u1", map[string]any{"initial_mood": 40}, http.StatusBadRequest},
		{"missing session", "GET", "/api/v1/sessions/nope", "u1", nil, http.StatusNotFound},
		{"bad limit", "GET", "/api/v1/sessions/recent?limit=abc", "u1", nil, http.StatusBadRequest},
		{"limit range", "GET", "/api/v1/sessions/recent?limit=500", "u1", nil, http.StatusBadRequest},
		{"delete missing", "DELETE", "/api/v1/sessions/nope", "u1", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(mux, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}

	t.Run("upstream failure", func(t *testing.T) {
		w := call(mux, "POST", "/api/v1/sessions", "u1", map[string]any{})
		require.Equal(t, http.StatusCreated, w.Code)
		var c Conversation
		require.NoError(t, json.NewDecoder(w.Body).Decode(&c))

		env.provider.failChat = true
		w = call(mux, "POST", "/api/v1/sessions/"+c.ID+"/messages", "u1", map[string]string{"content": "hi"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("other user's session", func(t *testing.T) {
		env.provider.failChat = false
		w := call(mux, "POST", "/api/v1/sessions", "u1", map[string]any{})
		require.Equal(t, http.StatusCreated, w.Code)
		var c Conversation
		require.NoError(t, json.NewDecoder(w.Body).Decode(&c))

		w = call(mux, "GET", "/api/v1/sessions/"+c.ID, "u2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
