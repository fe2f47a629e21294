// ABOUTME: Principal-side dispatch: trigger an event, respond locally, then broadcast to subscribers
// ABOUTME: Broadcasts fan out concurrently with a bound; every agent is attempted before reporting

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/respond"
	"github.com/2389/nightlife/internal/store"
	"github.com/2389/nightlife/internal/subprocess"
)

const (
	// triggerStderrLimit caps how much trigger stderr is kept for the log.
	triggerStderrLimit = 4096
	// maxReplyBody caps how much of an agent's reply is read.
	maxReplyBody = 1 << 20
	// maxErrorSnippet caps the reply text quoted in a StatusError.
	maxErrorSnippet = 256
)

// Responder runs local handlers for a topic.
type Responder interface {
	InvokeTopic(ctx context.Context, topic string, payload []byte) (*respond.TopicResults, error)
}

// AgentResolver returns the agents subscribed to a topic.
type AgentResolver interface {
	Resolve(topic string) []registry.Agent
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	RecordDispatch(ctx context.Context, r *store.DispatchRecord) error
}

// Observer is told about dispatch and broadcast outcomes.
type Observer interface {
	DispatchFinished(status, stage string)
	BroadcastFinished(ok bool)
}

// Options configures an Orchestrator.
type Options struct {
	EventsDir      string
	TriggerTimeout time.Duration
	PayloadLimit   int64

	// Token describes the claims minted for each broadcast.
	Token auth.TokenSpec

	Concurrency    int
	RequestTimeout time.Duration

	// Client sends broadcasts. Defaults to a plain http.Client.
	Client *http.Client
}

// Orchestrator runs dispatches.
type Orchestrator struct {
	opts      Options
	issuer    *auth.Issuer
	client    *http.Client
	responder Responder
	agents    AgentResolver
	recorder  Recorder
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(opts Options, responder Responder, agents AgentResolver, logger *slog.Logger) *Orchestrator {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		opts:      opts,
		issuer:    auth.NewIssuer(opts.Token),
		client:    client,
		responder: responder,
		agents:    agents,
		logger:    logger.With("component", "dispatch"),
		now:       time.Now,
	}
}

// SetRecorder enables the dispatch log.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

// SetObserver registers an observer for outcomes.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Dispatch triggers event, runs local handlers, and broadcasts the payload to
// every subscribed agent. The returned record is always non-nil. The error
// wraps ErrTrigger or ErrBroadcast.
func (o *Orchestrator) Dispatch(ctx context.Context, event string) (*store.DispatchRecord, error) {
	start := o.now()
	rec := &store.DispatchRecord{
		Event:      event,
		StartedAt:  start.UTC(),
		Deliveries: []store.Delivery{},
	}

	err := o.run(ctx, event, rec)

	rec.DurationMS = o.now().Sub(start).Milliseconds()
	rec.Status = store.StatusCompleted
	switch {
	case errors.Is(err, ErrTrigger):
		rec.Status, rec.Stage = store.StatusFailed, store.StageTrigger
	case err != nil:
		rec.Status, rec.Stage = store.StatusFailed, store.StageBroadcast
	}

	if o.observer != nil {
		o.observer.DispatchFinished(string(rec.Status), rec.Stage)
	}
	if o.recorder != nil {
		if rerr := o.recorder.RecordDispatch(context.WithoutCancel(ctx), rec); rerr != nil {
			o.logger.Error("failed to record dispatch", "event", event, "error", rerr)
		}
	}

	if err != nil {
		o.logger.Error("dispatch failed", "event", event, "stage", rec.Stage, "error", err)
	} else {
		o.logger.Info("dispatch completed", "event", event, "agents", len(rec.Deliveries), "duration_ms", rec.DurationMS)
	}
	return rec, err
}

func (o *Orchestrator) run(ctx context.Context, event string, rec *store.DispatchRecord) error {
	payload, err := o.Trigger(ctx, event)
	if err != nil {
		return err
	}

	o.respondLocally(ctx, event, payload)

	agents := o.agents.Resolve(event)
	if len(agents) == 0 {
		o.logger.Info("no agents subscribed", "event", event)
		return nil
	}

	deliveries, err := o.broadcastAll(ctx, agents, event, payload)
	rec.Deliveries = deliveries
	return err
}

// Trigger runs the event's trigger script and returns its stdout. A missing
// script, non-zero exit, timeout, or oversized output wraps ErrTrigger.
func (o *Orchestrator) Trigger(ctx context.Context, event string) ([]byte, error) {
	if err := respond.ValidateName(event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrigger, err)
	}

	path := filepath.Join(o.opts.EventsDir, event)
	o.logger.Info("triggering event", "event", event, "script", path)

	res, err := subprocess.Run(ctx, path, nil, subprocess.Options{
		Timeout:     o.opts.TriggerTimeout,
		StdoutLimit: o.opts.PayloadLimit,
		StderrLimit: triggerStderrLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrigger, err)
	}

	if len(res.Stderr.Data) > 0 {
		o.logger.Warn("trigger stderr", "event", event, "stderr", string(res.Stderr.Data), "length", res.Stderr.Length)
	}

	switch {
	case res.TimedOut:
		return nil, fmt.Errorf("%w: %s timed out after %s", ErrTrigger, path, o.opts.TriggerTimeout)
	case !res.Success():
		return nil, fmt.Errorf("%w: %s exited with status %d", ErrTrigger, path, *res.ExitCode)
	case res.Stdout.Truncated():
		return nil, fmt.Errorf("%w: %s produced %d bytes, limit is %d", ErrTrigger, path, res.Stdout.Length, o.opts.PayloadLimit)
	}

	return res.Stdout.Data, nil
}

// respondLocally runs this host's handlers. A topic with no local handlers
// is normal; other failures are logged and do not stop the broadcast.
func (o *Orchestrator) respondLocally(ctx context.Context, event string, payload []byte) {
	results, err := o.responder.InvokeTopic(ctx, event, payload)
	switch {
	case errors.Is(err, respond.ErrNotFound):
		o.logger.Debug("no local handlers", "event", event)
	case err != nil:
		o.logger.Error("local response failed", "event", event, "error", err)
	default:
		for _, h := range results.Handlers {
			if !h.Status.Success {
				o.logger.Warn("local handler failed", "event", event, "handler", h.Name, "timed_out", h.Status.TimedOut)
			}
		}
	}
}

// broadcastAll notifies every agent, waiting for all attempts. Deliveries are
// returned in agents order.
func (o *Orchestrator) broadcastAll(ctx context.Context, agents []registry.Agent, event string, payload []byte) ([]store.Delivery, error) {
	deliveries := make([]store.Delivery, len(agents))
	errs := make([]error, len(agents))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, agent := range agents {
		g.Go(func() error {
			err := o.Broadcast(ctx, agent, event, payload)
			deliveries[i] = store.Delivery{Agent: agent.Name, OK: err == nil}
			if err != nil {
				deliveries[i].Error = err.Error()
				errs[i] = &DeliveryError{Agent: agent.Name, Err: err}
				o.logger.Error("broadcast failed", "event", event, "agent", agent.Name, "host", agent.Host, "error", err)
			}
			if o.observer != nil {
				o.observer.BroadcastFinished(err == nil)
			}
			// Failures are collected, not propagated, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	if joined := errors.Join(errs...); joined != nil {
		return deliveries, fmt.Errorf("%w: %w", ErrBroadcast, joined)
	}
	return deliveries, nil
}

// Broadcast mints a fresh token from the agent's private key and POSTs
// payload to {host}/topic/{event}.
func (o *Orchestrator) Broadcast(ctx context.Context, agent registry.Agent, event string, payload []byte) error {
	token, err := o.issuer.IssueFromFile(agent.KeyPath, agent.KeyPassword)
	if err != nil {
		return err
	}

	target, err := topicURL(agent.Host, event)
	if err != nil {
		return err
	}

	if o.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	o.logger.Info("posting topic", "event", event, "agent", agent.Name, "url", target)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return fmt.Errorf("reading reply from %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	o.logger.Debug("agent replied", "event", event, "agent", agent.Name, "bytes", len(body))
	return nil
}

func topicURL(host, event string) (string, error) {
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing agent host %q: %w", host, err)
	}
	return base.JoinPath("topic", event).String(), nil
}
