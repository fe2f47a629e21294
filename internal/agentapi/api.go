// ABOUTME: Agent HTTP surface: topic listing and authenticated topic invocation
// ABOUTME: Routes are served by chi; every /topic route sits behind the bearer-token middleware

package agentapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/httpserver"
	"github.com/2389/nightlife/internal/respond"
)

// Topics is the subset of the handler engine the API serves.
type Topics interface {
	Registry() (*respond.TopicRegistry, error)
	Topic(name string) (*respond.TopicHandlers, error)
	InvokeTopic(ctx context.Context, topic string, payload []byte) (*respond.TopicResults, error)
}

// Options configures the router.
type Options struct {
	// Authenticate wraps every topic route. Required.
	Authenticate func(http.Handler) http.Handler

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	// MaxPayload caps request bodies on POST /topic/{name}. Zero means no cap.
	MaxPayload int64
}

// API serves the agent endpoints.
type API struct {
	topics Topics
	opts   Options
	logger *slog.Logger
}

// New creates the agent API.
func New(topics Topics, opts Options, logger *slog.Logger) *API {
	return &API{
		topics: topics,
		opts:   opts,
		logger: logger.With("component", "agentapi"),
	}
}

// Router builds the HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.RequestLogger(a.logger))
	r.Get("/health", httpserver.HandleHealth)
	if a.opts.Metrics != nil {
		r.Method(http.MethodGet, a.opts.MetricsPath, a.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.opts.Authenticate)
		r.Get("/topics", a.handleListTopics)
		r.Get("/topic/{name}", a.handleGetTopic)
		r.Post("/topic/{name}", a.handleInvokeTopic)
	})
	return r
}

func (a *API) handleListTopics(w http.ResponseWriter, r *http.Request) {
	reg, err := a.topics.Registry()
	if err != nil {
		// Without a topics root there is nothing this agent can serve.
		a.logger.Error("listing topics failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "server misconfiguration")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, reg)
}

func (a *API) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	topic, err := a.topics.Topic(name)
	if err != nil {
		a.writeTopicError(w, name, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, topic)
}

func (a *API) handleInvokeTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body := r.Body
	if a.opts.MaxPayload > 0 {
		body = http.MaxBytesReader(w, r.Body, a.opts.MaxPayload)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httpserver.WriteError(w, http.StatusBadRequest, "reading payload failed")
		return
	}

	if ac := auth.FromContext(r.Context()); ac != nil {
		a.logger.Info("topic posted", "topic", name, "bytes", len(payload), "jti", ac.TokenID, "issuer", ac.Issuer)
	}

	// Handler runs end on their own timeout, not when the caller goes away.
	results, err := a.topics.InvokeTopic(context.WithoutCancel(r.Context()), name, payload)
	if err != nil {
		a.writeTopicError(w, name, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, results)
}

func (a *API) writeTopicError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, respond.ErrNotFound), errors.Is(err, respond.ErrInvalidName):
		httpserver.WriteError(w, http.StatusNotFound, "topic not found")
	default:
		a.logger.Error("topic request failed", "topic", name, "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "handler invocation failed")
	}
}
