package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghosthk/zai2api/internal/config"
	"github.com/ghosthk/zai2api/internal/models"
	"github.com/ghosthk/zai2api/internal/upstream"
)

func newMockUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			events := []upstream.EventData{
				{Phase: upstream.PhaseThinking, DeltaContent: "<details type=\"reasoning\" open>mulling"},
				{Phase: upstream.PhaseAnswer, DeltaContent: "tail</details>Hello!"},
				{Done: true},
			}
			for _, data := range events {
				payload, _ := json.Marshal(upstream.Event{Type: "chat:completion", Data: data})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			}
		case "/api/models":
			fmt.Fprint(w, `{"data":[{"id":"0727-360B-API","name":"GLM-4.5","info":{"created_at":1753228800}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()
	mock := newMockUpstream(t)
	t.Cleanup(mock.Close)

	cfg := config.Default()
	cfg.Upstream.BaseURL = mock.URL
	cfg.Upstream.AnonymousToken = false
	cfg.Upstream.Token = "test-token"
	cfg.Upstream.RetryCount = 1
	cfg.Upstream.RetryBackoff = config.Duration(time.Millisecond)
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	return srv
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleModels(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list models.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.NotEmpty(t, list.Data)
	assert.Equal(t, "glm-4.5", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
}

func TestHandleChatCompletions_NonStreaming(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"model":"glm-4.5","messages":[{"role":"user","content":"hi"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hello!", *resp.Choices[0].Message.Content)
	assert.Equal(t, "mulling", resp.Choices[0].Message.ReasoningContent)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestHandleChatCompletions_Streaming(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"model":"glm-4.5","messages":[{"role":"user","content":"hi"}],"stream":true}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	raw := w.Body.String()
	assert.True(t, strings.HasSuffix(strings.TrimSpace(raw), "data: [DONE]"))

	var sawRole, sawContent, sawFinish bool
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, "[DONE]") {
			continue
		}
		var chunk models.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Role == "assistant" {
			sawRole = true
		}
		if choice.Delta.Content != "" {
			sawContent = true
		}
		if choice.FinishReason != nil {
			assert.Equal(t, "stop", *choice.FinishReason)
			sawFinish = true
		}
	}
	assert.True(t, sawRole, "missing role chunk")
	assert.True(t, sawContent, "missing content chunk")
	assert.True(t, sawFinish, "missing finish chunk")
}

func TestHandleChatCompletions_StreamingErrorOmitsSentinel(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []upstream.EventData{
			{Phase: upstream.PhaseAnswer, DeltaContent: "partial answ"},
			{Error: &upstream.EventError{Code: 429, Detail: "rate limited"}},
		}
		for _, data := range events {
			payload, _ := json.Marshal(upstream.Event{Type: "chat:completion", Data: data})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
	}))
	t.Cleanup(failing.Close)

	srv := newTestServer(t, func(cfg *config.Config) { cfg.Upstream.BaseURL = failing.URL })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"glm-4.5","messages":[{"role":"user","content":"hi"}],"stream":true}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// The delta before the failure went out, but the stream ends without a
	// finish chunk or the terminal sentinel.
	raw := w.Body.String()
	assert.Contains(t, raw, "partial answ")
	assert.NotContains(t, raw, "finish_reason")
	assert.NotContains(t, raw, "[DONE]")
}

func TestHandleChatCompletions_StreamingHeartbeat(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		write := func(data upstream.EventData) {
			payload, _ := json.Marshal(upstream.Event{Type: "chat:completion", Data: data})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		write(upstream.EventData{Phase: upstream.PhaseAnswer, DeltaContent: "first"})
		time.Sleep(120 * time.Millisecond)
		write(upstream.EventData{Phase: upstream.PhaseAnswer, DeltaContent: " second"})
		write(upstream.EventData{Done: true})
	}))
	t.Cleanup(slow.Close)

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.BaseURL = slow.URL
		cfg.HeartbeatInterval = config.Duration(30 * time.Millisecond)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"glm-4.5","messages":[{"role":"user","content":"hi"}],"stream":true}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	raw := w.Body.String()
	require.Contains(t, raw, ": heartbeat")
	assert.Greater(t, strings.Index(raw, ": heartbeat"), strings.Index(raw, "first"),
		"heartbeat should appear after the first data frame")
	assert.Contains(t, raw, " second")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(raw), "data: [DONE]"))
}

func TestHandleChatCompletions_BadRequest(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_request_error", errResp.Error.Type)
}

func TestHandleChatCompletions_EmptyMessages(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"glm-4.5","messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) { cfg.APIKey = "secret" })

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open
	w = httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleChatCompletions_UpstreamFailure(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	srv := newTestServer(t, func(cfg *config.Config) { cfg.Upstream.BaseURL = bad.URL })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"glm-4.5","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
