package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/ollama-relay/internal/config"
	"github.com/nulzo/ollama-relay/internal/gateway"
	"github.com/nulzo/ollama-relay/internal/httpclient"
	"github.com/nulzo/ollama-relay/internal/registry"
	"github.com/nulzo/ollama-relay/internal/server/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// newRelay starts the relay in front of the given backends (service -> base URL).
func newRelay(t *testing.T, backends map[string]string) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	raw := make(map[string]string, len(backends))
	for name, u := range backends {
		raw[config.ServicePrefix+name] = u
	}
	reg := registry.Build(raw, logger)

	client := httpclient.NewClient(httpclient.TransportConfig{ConnectTimeout: time.Second})
	handler := ollama.NewHandler(
		reg,
		gateway.NewLister(reg, client, 200*time.Millisecond, logger),
		gateway.NewProxy(client, logger),
		logger,
	)

	cfg := &config.Config{Server: config.ServerConfig{Env: "test"}}
	srv := httptest.NewServer(New(cfg, logger, handler).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func TestGenerate_ForwardsToBackend(t *testing.T) {
	var gotPath, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"response\":\"Hel\",\"done\":false}\n"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("{\"response\":\"lo\",\"done\":true}\n"))
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"Ollama": backend.URL})
	resp := post(t, relay.URL+"/api/generate", `{"model": "Ollama/llama3", "prompt": "hi"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "{\"response\":\"Hel\",\"done\":false}\n{\"response\":\"lo\",\"done\":true}\n", string(out))

	assert.Equal(t, "/api/generate", gotPath)
	assert.Equal(t, `{"model": "llama3", "prompt": "hi"}`, gotBody)
}

func TestProxyRoutes_UseMatchingBackendEndpoint(t *testing.T) {
	paths := make(chan string, 3)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"svc": backend.URL})
	for _, route := range []string{"chat", "show", "generate"} {
		resp := post(t, relay.URL+"/api/"+route, `{"model":"svc/m"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "/api/"+route, <-paths)
	}
}

func TestShow_LegacyNameField(t *testing.T) {
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"modelfile":"FROM llama3"}`))
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"Ollama": backend.URL})
	resp := post(t, relay.URL+"/api/show", `{"name":"Ollama/llama3"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"name":"llama3"}`, gotBody)
}

func TestProxy_RequestErrors(t *testing.T) {
	relay := newRelay(t, map[string]string{"Ollama": "http://127.0.0.1:1"})

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"unknown service", `{"model":"unknownsvc/x"}`, http.StatusNotFound, "unknownsvc"},
		{"missing model", `{"prompt":"hi"}`, http.StatusBadRequest, "model"},
		{"no prefix", `{"model":"llama3"}`, http.StatusBadRequest, "ServiceName/modelName"},
		{"not json", `model=Ollama/llama3`, http.StatusBadRequest, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, relay.URL+"/api/generate", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
			assert.Contains(t, errorMessage(t, resp), tt.message)
		})
	}
}

func TestProxy_UnreachableBackend(t *testing.T) {
	relay := newRelay(t, map[string]string{"Dead": closedAddr(t)})

	resp := post(t, relay.URL+"/api/chat", `{"model":"Dead/llama3","messages":[]}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(out, &body))
	assert.Len(t, body, 1)
	assert.Contains(t, body["error"], "Dead")
}

func TestProxy_BackendErrorRelayed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"Ollama": backend.URL})
	resp := post(t, relay.URL+"/api/generate", `{"model":"Ollama/nope"}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"error":"model \"nope\" not found, try pulling it first"}`, string(out))
}

func TestProxy_BackendTextErrorIsWrapped(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"Ollama": backend.URL})
	resp := post(t, relay.URL+"/api/generate", `{"model":"Ollama/llama3"}`)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "backend responded with status 503", errorMessage(t, resp))
}

func TestProxy_MidStreamFailureTruncatesResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"response\":\"partial\",\"done\":false}\n"))
		w.(http.Flusher).Flush()

		conn, _, err := http.NewResponseController(w).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"Ollama": backend.URL})
	resp := post(t, relay.URL+"/api/generate", `{"model":"Ollama/llama3"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out, err := io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "{\"response\":\"partial\",\"done\":false}\n", string(out))
}

func TestListTags_AggregatesBackends(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"a","size":1}]}`))
	}))
	defer ok.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	relay := newRelay(t, map[string]string{
		"Svc1": ok.URL,
		"Svc2": slow.URL,
		"Svc3": closedAddr(t),
	})

	resp, err := http.Get(relay.URL + "/api/tags")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":[{"name":"Svc1/a","size":1}]}`, string(out))
}

func TestListTags_NoBackends(t *testing.T) {
	relay := newRelay(t, nil)

	resp, err := http.Get(relay.URL + "/api/tags")
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":[]}`, string(out))
}

func TestLivenessRoutes(t *testing.T) {
	relay := newRelay(t, map[string]string{"a": "http://a:1", "b": "http://b:1"})

	resp, err := http.Get(relay.URL + "/")
	require.NoError(t, err)
	out, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ollama is running", string(out))

	resp, err = http.Head(relay.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(relay.URL + "/health")
	require.NoError(t, err)
	out, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","backends":2}`, string(out))

	resp, err = http.Get(relay.URL + "/api/version")
	require.NoError(t, err)
	var v struct {
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	_ = resp.Body.Close()
	assert.NotEmpty(t, v.Version)
	assert.False(t, strings.HasPrefix(v.Version, "v"))
}

func TestUnknownRoutes(t *testing.T) {
	relay := newRelay(t, nil)

	resp, err := http.Get(relay.URL + "/api/pull")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, "no such endpoint: /api/pull", errorMessage(t, resp))
	_ = resp.Body.Close()

	resp, err = http.Get(relay.URL + "/api/generate")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method not allowed", errorMessage(t, resp))
	_ = resp.Body.Close()
}

func TestRequestID(t *testing.T) {
	gotID := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID <- r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	relay := newRelay(t, map[string]string{"svc": backend.URL})

	req, err := http.NewRequest(http.MethodPost, relay.URL+"/api/chat", strings.NewReader(`{"model":"svc/m"}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "abc-123", <-gotID)

	resp, err = http.Get(relay.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
