package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"keygate/internal/config"
	"keygate/internal/db"
	"keygate/internal/logger"
	"keygate/internal/ratelimit"
	"keygate/internal/upstream"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

// fakeUpstream answers every completion call with the given content.
func fakeUpstream(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "cmpl-test",
			"object": "chat.completion",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": %q}}]
		}`, content)
	}))
}

type testEnv struct {
	server   *Server
	database db.Service
	cfg      *config.Config
}

func setupTestServer(t *testing.T, reply string, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := fakeUpstream(reply)
	t.Cleanup(ts.Close)

	cfg := &config.Config{
		Database:  config.DatabaseConfig{Type: "sqlite", DSN: fmt.Sprintf("file:srvtest%d?mode=memory&cache=shared", dbSeq.Add(1))},
		Quota:     config.QuotaConfig{DailyLimit: 50},
		RateLimit: config.RateLimitConfig{WindowSeconds: 60, MaxRequests: 1000},
		Upstream: config.UpstreamConfig{
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
			BaseURL: ts.URL + "/v1",
		},
		Chat: config.ChatConfig{Persona: config.DefaultPersona},
	}
	if mutate != nil {
		mutate(cfg)
	}

	database, err := db.NewService(cfg.Database)
	require.NoError(t, err)

	log := logger.New(false)
	client := upstream.NewClient(cfg.Upstream, log)
	limiter := ratelimit.New(time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.MaxRequests)

	return &testEnv{
		server:   New(cfg, database, client, limiter, log),
		database: database,
		cfg:      cfg,
	}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp := httptest.NewRecorder()
	e.server.Router().ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) register(t *testing.T, name, email string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/register", "", gin.H{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var out struct {
		APIKey string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.APIKey
}

func TestRegister(t *testing.T) {
	env := setupTestServer(t, "hello", nil)

	key := env.register(t, "Ann", "a@x.com")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{48}$`), key)

	// Missing fields.
	resp := env.do(t, http.MethodPost, "/api/register", "", gin.H{"name": "NoEmail"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Duplicate email.
	resp = env.do(t, http.MethodPost, "/api/register", "", gin.H{"name": "Ann Again", "email": "a@x.com"})
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "User exists")
}

func TestChat(t *testing.T) {
	env := setupTestServer(t, "The answer is 4.", nil)
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "2+2?"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out struct {
		Reply string `json:"reply"`
		Usage struct {
			UsedToday int `json:"usedToday"`
			Limit     int `json:"limit"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "The answer is 4.", out.Reply)
	assert.Equal(t, 1, out.Usage.UsedToday)
	assert.Equal(t, 50, out.Usage.Limit)

	// Usage accumulates per request.
	resp = env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "again"})
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Usage.UsedToday)
}

func TestChat_MessagesList(t *testing.T) {
	env := setupTestServer(t, "ok", nil)
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{
		"messages": []gin.H{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "user", "content": "how are you?"},
		},
	})
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestChat_AuthFailures(t *testing.T) {
	env := setupTestServer(t, "ok", nil)

	resp := env.do(t, http.MethodPost, "/api/ai/chat", "", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, resp.Body.String(), "Missing API key")

	resp = env.do(t, http.MethodPost, "/api/ai/chat", "not-a-key", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, resp.Body.String(), "Invalid API key")
}

func TestChat_EmptyInput(t *testing.T) {
	env := setupTestServer(t, "ok", nil)
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "Message is required")
}

func TestChat_QuotaExhaustion(t *testing.T) {
	env := setupTestServer(t, "ok", func(cfg *config.Config) {
		cfg.Quota.DailyLimit = 3
	})
	key := env.register(t, "Ann", "a@x.com")

	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "hi"})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), "Daily limit reached")
	assert.Contains(t, resp.Body.String(), `"usedToday":3`)

	// The rejected attempt did not consume quota.
	user, err := env.database.FindUserByKey(key)
	require.NoError(t, err)
	assert.Equal(t, 3, user.UsageCount)
}

func TestChat_RateLimited(t *testing.T) {
	env := setupTestServer(t, "ok", func(cfg *config.Config) {
		cfg.RateLimit.MaxRequests = 2
	})

	// The limiter fires before key auth, so even an invalid key sees 429.
	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/api/ai/chat", "whatever", gin.H{"message": "hi"})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	}
	resp := env.do(t, http.MethodPost, "/api/ai/chat", "whatever", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), "Too many requests")
}

func TestChat_CredentialMissing(t *testing.T) {
	env := setupTestServer(t, "ok", func(cfg *config.Config) {
		cfg.Upstream.APIKey = ""
	})
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "Upstream credential not configured")
}

func TestChat_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "model overloaded", "type": "server_error"}}`)
	}))
	defer ts.Close()

	env := setupTestServer(t, "unused", func(cfg *config.Config) {
		cfg.Upstream.BaseURL = ts.URL + "/v1"
	})
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/chat", key, gin.H{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "model overloaded")
	assert.NotContains(t, resp.Body.String(), "sk-test")
}

func TestQuiz(t *testing.T) {
	env := setupTestServer(t, `{"questions": [{"question": "2+2?", "answer": "4"}]}`, nil)
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/quiz", key, gin.H{"topic": "arithmetic"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), "questions")

	resp = env.do(t, http.MethodPost, "/api/ai/quiz", key, gin.H{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestFlashcards(t *testing.T) {
	env := setupTestServer(t, `{"cards": [{"front": "q", "back": "a"}]}`, nil)
	key := env.register(t, "Ann", "a@x.com")

	resp := env.do(t, http.MethodPost, "/api/ai/flashcards", key, gin.H{"notes": "mitochondria are the powerhouse"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), "cards")

	resp = env.do(t, http.MethodPost, "/api/ai/flashcards", key, gin.H{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatusAndHealth(t *testing.T) {
	env := setupTestServer(t, "ok", nil)

	resp := env.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"service":"keygate"`)

	resp = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)
}

func TestNoRoute(t *testing.T) {
	env := setupTestServer(t, "ok", nil)

	resp := env.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "Endpoint not found")
}
