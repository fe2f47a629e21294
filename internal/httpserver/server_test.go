// ABOUTME: Tests for the HTTP server lifecycle and response helpers

package httpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_RunServesUntilCanceled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HandleHealth)

	srv := New("127.0.0.1:0", mux, discardLogger())
	require.NoError(t, srv.Listen())
	require.NotNil(t, srv.Addr())

	var order []string
	srv.OnShutdown("first", func() error { order = append(order, "first"); return nil })
	srv.OnShutdown("second", func() error { order = append(order, "second"); return errors.New("boom") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second: boom")
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestServer_ListenFailure(t *testing.T) {
	srv := New("256.0.0.1:bad", http.NewServeMux(), discardLogger())
	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
	assert.Nil(t, srv.Addr())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "topic not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"topic not found"}`, rec.Body.String())
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/topic/deploy?x=1", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{"client=10.0.0.7:5555", "method=GET", "path=/topic/deploy", "query=x=1", "status=418"} {
		assert.True(t, strings.Contains(line, want), "missing %q in %q", want, line)
	}
}
