package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/garbage":
			_, _ = w.Write([]byte(`<html>`))
		case "/large":
			_, _ = w.Write([]byte(`"` + strings.Repeat("x", 64) + `"`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading"}`))
		}
	}))
	defer srv.Close()

	client := NewClient(TransportConfig{ConnectTimeout: time.Second})
	ctx := context.Background()

	body, err := FetchJSON(ctx, client, srv.URL+"/ok", 1024)
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":[]}`, string(body))

	_, err = FetchJSON(ctx, client, srv.URL+"/garbage", 1024)
	assert.ErrorContains(t, err, "malformed JSON")

	_, err = FetchJSON(ctx, client, srv.URL+"/large", 16)
	assert.ErrorContains(t, err, "exceeds 16 bytes")

	_, err = FetchJSON(ctx, client, srv.URL+"/down", 1024)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	assert.JSONEq(t, `{"error":"loading"}`, string(upstream.Body))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(errors.New("connection refused")))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := FetchJSON(ctx, NewClient(TransportConfig{ConnectTimeout: time.Second}), srv.URL, 1024)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestNewClient_DoesNotFollowRedirects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/api/tags" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	client := NewClient(TransportConfig{ConnectTimeout: time.Second})
	_, err := FetchJSON(context.Background(), client, srv.URL+"/api/tags", 1024)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusFound, upstream.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}
