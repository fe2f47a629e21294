//go:build unix

// ABOUTME: Tests for the agent HTTP surface
// ABOUTME: Serves real sh handlers from a temp topics root behind real token verification

package agentapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/logging"
	"github.com/2389/nightlife/internal/metrics"
	"github.com/2389/nightlife/internal/respond"
)

var tokenSpec = auth.TokenSpec{
	Issuer:    auth.DefaultIssuer,
	Audience:  auth.DefaultAudience,
	Tolerance: auth.DefaultTolerance,
}

type testAgent struct {
	root   string
	url    string
	token  func() string
	engine *respond.Engine
}

func newTestAgent(t *testing.T, maxPayload int64) *testAgent {
	t.Helper()

	privatePEM, publicPEM, err := auth.GenerateKeyPair(nil)
	require.NoError(t, err)
	private, err := auth.ParsePrivateKey(privatePEM, nil)
	require.NoError(t, err)

	cell := auth.NewKeyCell()
	require.NoError(t, cell.Store(publicPEM))
	verifier := auth.NewVerifier(tokenSpec, cell)

	root := t.TempDir()
	engine := respond.New(respond.Options{Root: root, Timeout: 5 * time.Second, OutputLimit: 1024}, logging.Discard())

	api := New(engine, Options{
		Authenticate: auth.HTTPAuthMiddleware(verifier, logging.Discard()),
		Metrics:      metrics.New().Handler(),
		MetricsPath:  "/metrics",
		MaxPayload:   maxPayload,
	}, logging.Discard())

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	issuer := auth.NewIssuer(tokenSpec)
	return &testAgent{
		root:   root,
		url:    srv.URL,
		engine: engine,
		token: func() string {
			tok, err := issuer.Issue(private)
			require.NoError(t, err)
			return tok
		},
	}
}

func (a *testAgent) handler(t *testing.T, topic, name, body string) {
	t.Helper()
	dir := filepath.Join(a.root, topic)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func (a *testAgent) do(t *testing.T, method, path, body string, authed bool) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, a.url+path, strings.NewReader(body))
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "bearer "+a.token())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	a := newTestAgent(t, 0)

	resp, body := a.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, body = a.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestTopicRoutesRequireToken(t *testing.T) {
	a := newTestAgent(t, 0)
	a.handler(t, "deploy", "10-notify", "exit 0")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/topics"},
		{http.MethodGet, "/topic/deploy"},
		{http.MethodPost, "/topic/deploy"},
	} {
		resp, _ := a.do(t, tc.method, tc.path, "x", false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestListTopics(t *testing.T) {
	a := newTestAgent(t, 0)
	a.handler(t, "deploy", "20-restart", "exit 0")
	a.handler(t, "deploy", "10-notify", "exit 0")
	a.handler(t, "build", "run", "exit 0")

	resp, body := a.do(t, http.MethodGet, "/topics", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"topics":[
		{"name":"build","handlers":["run"]},
		{"name":"deploy","handlers":["10-notify","20-restart"]}
	]}`, string(body))
}

func TestListTopics_MissingRootIsMisconfiguration(t *testing.T) {
	a := newTestAgent(t, 0)
	require.NoError(t, os.RemoveAll(a.root))

	resp, body := a.do(t, http.MethodGet, "/topics", "", true)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"server misconfiguration"}`, string(body))
}

func TestGetTopic(t *testing.T) {
	a := newTestAgent(t, 0)
	a.handler(t, "deploy", "10-notify", "exit 0")

	resp, body := a.do(t, http.MethodGet, "/topic/deploy", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"deploy","handlers":["10-notify"]}`, string(body))

	resp, _ = a.do(t, http.MethodGet, "/topic/missing", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvokeTopic_RunsHandlersInOrder(t *testing.T) {
	a := newTestAgent(t, 0)
	a.handler(t, "deploy", "10-notify", `echo "notify $(cat)"`)
	a.handler(t, "deploy", "20-restart", `echo restarting >&2; exit 3`)

	resp, body := a.do(t, http.MethodPost, "/topic/deploy", "v1.2.3", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results respond.TopicResults
	require.NoError(t, json.Unmarshal(body, &results))
	assert.Equal(t, "deploy", results.Name)
	require.Len(t, results.Handlers, 2)

	first := results.Handlers[0]
	assert.Equal(t, "10-notify", first.Name)
	assert.True(t, first.Status.Success)
	require.NotNil(t, first.Status.ExitStatus)
	assert.Equal(t, 0, *first.Status.ExitStatus)
	assert.Equal(t, "notify v1.2.3\n", first.Stdout.Output)

	second := results.Handlers[1]
	assert.Equal(t, "20-restart", second.Name)
	assert.False(t, second.Status.Success)
	assert.False(t, second.Status.TimedOut)
	require.NotNil(t, second.Status.ExitStatus)
	assert.Equal(t, 3, *second.Status.ExitStatus)
	assert.Equal(t, "restarting\n", second.Stderr.Output)
}

func TestInvokeTopic_UnknownTopic(t *testing.T) {
	a := newTestAgent(t, 0)

	resp, body := a.do(t, http.MethodPost, "/topic/missing", "x", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"topic not found"}`, string(body))
}

func TestInvokeTopic_PayloadTooLarge(t *testing.T) {
	a := newTestAgent(t, 4)
	a.handler(t, "deploy", "10-notify", "cat")

	resp, _ := a.do(t, http.MethodPost, "/topic/deploy", "123456789", true)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/topic/deploy", "1234", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
