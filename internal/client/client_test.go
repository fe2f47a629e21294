// ABOUTME: Tests for the HTTP client against the real principal and agent routers
// ABOUTME: Service internals are replaced by small fakes so no processes are spawned

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/nightlife/internal/agentapi"
	"github.com/2389/nightlife/internal/logging"
	"github.com/2389/nightlife/internal/principalapi"
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/respond"
	"github.com/2389/nightlife/internal/store"
)

type scriptedDispatcher struct {
	log  *store.MockStore
	fail atomic.Bool
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, event string) (*store.DispatchRecord, error) {
	rec := &store.DispatchRecord{Event: event, Status: store.StatusCompleted}
	var err error
	if d.fail.Load() {
		rec.Status, rec.Stage = store.StatusFailed, store.StageTrigger
		err = errors.New("trigger failed")
	}
	_ = d.log.RecordDispatch(ctx, rec)
	return rec, err
}

func requireBearer(seen *atomic.Int32) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "bearer t0k" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			seen.Add(1)
			next.ServeHTTP(w, r)
		})
	}
}

func newPrincipal(t *testing.T, d *scriptedDispatcher) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var seen atomic.Int32
	api := principalapi.New(registry.New(logging.Discard()), d, principalapi.Options{
		Protect: requireBearer(&seen),
		Log:     d.log,
	}, logging.Discard())
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return srv, &seen
}

func staticToken() (string, error) { return "t0k", nil }

func TestClient_AgentLifecycle(t *testing.T) {
	srv, seen := newPrincipal(t, &scriptedDispatcher{log: store.NewMockStore()})
	c := New(srv.URL+"/", WithTokenSource(staticToken))
	ctx := context.Background()

	require.NoError(t, c.PutAgent(ctx, "ci", principalapi.PutAgentRequest{
		Host:    "http://h:9",
		KeyPath: "/keys/ci",
		Events:  []string{"deploy"},
	}))

	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, principalapi.AgentDescriptor{Name: "ci", Host: "http://h:9", KeyPath: "/keys/ci", Events: []string{"deploy"}}, agents[0])

	agent, err := c.GetAgent(ctx, "ci")
	require.NoError(t, err)
	assert.Equal(t, "http://h:9", agent.Host)

	require.NoError(t, c.DeleteAgent(ctx, "ci"))

	_, err = c.GetAgent(ctx, "ci")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "agent not found", apiErr.Message)

	assert.Equal(t, int32(5), seen.Load())
}

func TestClient_MissingTokenIsUnauthorized(t *testing.T) {
	srv, _ := newPrincipal(t, &scriptedDispatcher{log: store.NewMockStore()})

	_, err := New(srv.URL).ListAgents(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, IsNotFound(err))
}

func TestClient_TokenSourceErrorStopsRequest(t *testing.T) {
	srv, seen := newPrincipal(t, &scriptedDispatcher{log: store.NewMockStore()})
	c := New(srv.URL, WithTokenSource(func() (string, error) { return "", errors.New("no key") }))

	_, err := c.ListAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minting token: no key")
	assert.Zero(t, seen.Load())
}

func TestClient_DispatchAndLog(t *testing.T) {
	d := &scriptedDispatcher{log: store.NewMockStore()}
	srv, _ := newPrincipal(t, d)
	c := New(srv.URL, WithTokenSource(staticToken))
	ctx := context.Background()

	id, err := c.Dispatch(ctx, "deploy")
	require.NoError(t, err)
	assert.Empty(t, id)

	d.fail.Store(true)
	id, err = c.Dispatch(ctx, "build")
	require.Error(t, err)
	require.NotEmpty(t, id)

	records, err := c.ListDispatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, err := c.GetDispatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "build", rec.Event)
	assert.Equal(t, store.StatusFailed, rec.Status)

	all, err := c.ListDispatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

type fakeTopics struct {
	payload atomic.Value // []byte
}

func (f *fakeTopics) Registry() (*respond.TopicRegistry, error) {
	return &respond.TopicRegistry{Topics: []respond.TopicHandlers{{Name: "deploy", Handlers: []string{"10-notify"}}}}, nil
}

func (f *fakeTopics) Topic(name string) (*respond.TopicHandlers, error) {
	if name != "deploy" {
		return nil, respond.ErrNotFound
	}
	return &respond.TopicHandlers{Name: name, Handlers: []string{"10-notify"}}, nil
}

func (f *fakeTopics) InvokeTopic(_ context.Context, topic string, payload []byte) (*respond.TopicResults, error) {
	f.payload.Store(payload)
	exit := 0
	return &respond.TopicResults{Name: topic, Handlers: []respond.HandlerResult{{
		Name:   "10-notify",
		Status: respond.Status{Success: true, ExitStatus: &exit},
		Stdout: respond.Output{Length: int64(len(payload)), Output: string(payload)},
	}}}, nil
}

func TestClient_AgentTopics(t *testing.T) {
	topics := &fakeTopics{}
	var seen atomic.Int32
	api := agentapi.New(topics, agentapi.Options{Authenticate: requireBearer(&seen)}, logging.Discard())
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	c := New(srv.URL, WithTokenSource(staticToken))
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	reg, err := c.Topics(ctx)
	require.NoError(t, err)
	require.Len(t, reg.Topics, 1)

	topic, err := c.Topic(ctx, "deploy")
	require.NoError(t, err)
	assert.Equal(t, []string{"10-notify"}, topic.Handlers)

	_, err = c.Topic(ctx, "nope")
	assert.True(t, IsNotFound(err))

	results, err := c.PostTopic(ctx, "deploy", []byte("v1.2.3"))
	require.NoError(t, err)
	require.Len(t, results.Handlers, 1)
	assert.Equal(t, "v1.2.3", results.Handlers[0].Stdout.Output)
	assert.Equal(t, []byte("v1.2.3"), topics.payload.Load())
}
