// ABOUTME: Principal HTTP control plane: agent registration, dispatch, and the dispatch log
// ABOUTME: All routes except /health and /metrics sit behind the configured protection middleware

package principalapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/2389/nightlife/internal/httpserver"
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/store"
)

const maxAgentBody = 1 << 20

// Agents is the registry as seen by the API.
type Agents interface {
	Upsert(a registry.Agent) error
	Remove(name string) error
	Get(name string) (registry.Agent, error)
	List() []registry.Agent
}

// Dispatcher runs a dispatch for an event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string) (*store.DispatchRecord, error)
}

// DispatchLog reads recorded dispatches.
type DispatchLog interface {
	GetDispatch(ctx context.Context, id string) (*store.DispatchRecord, error)
	ListDispatches(ctx context.Context, limit int) ([]store.DispatchRecord, error)
}

// Options configures the router.
type Options struct {
	// Protect wraps every control-plane route: bearer auth or loopback only.
	Protect func(http.Handler) http.Handler

	// Log serves /dispatches when non-nil.
	Log DispatchLog

	Metrics     http.Handler
	MetricsPath string
}

// API serves the principal endpoints.
type API struct {
	agents     Agents
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
}

// New creates the principal API.
func New(agents Agents, dispatcher Dispatcher, opts Options, logger *slog.Logger) *API {
	return &API{
		agents:     agents,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With("component", "principalapi"),
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
		r.Use(a.opts.Protect)

		r.Get("/agents", a.handleListAgents)
		r.Get("/agent/{name}", a.handleGetAgent)
		r.Put("/agent/{name}", a.handlePutAgent)
		r.Delete("/agent/{name}", a.handleDeleteAgent)

		r.Post("/dispatch/{event}", a.handleDispatch)
		if a.opts.Log != nil {
			r.Get("/dispatches", a.handleListDispatches)
			r.Get("/dispatches/{id}", a.handleGetDispatch)
		}
	})
	return r
}

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := a.agents.List()
	resp := AgentList{Agents: make([]AgentDescriptor, 0, len(agents))}
	for _, agent := range agents {
		resp.Agents = append(resp.Agents, describe(agent))
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.agents.Get(chi.URLParam(r, "name"))
	if err != nil {
		a.writeAgentError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, describe(agent))
}

func (a *API) handlePutAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req PutAgentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAgentBody)).Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var password []byte
	if req.KeyPasswordB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.KeyPasswordB64)
		if err != nil {
			httpserver.WriteError(w, http.StatusBadRequest, "key_password_b64 is not valid base64")
			return
		}
		password = decoded
	}

	err := a.agents.Upsert(registry.Agent{
		Name:        name,
		Host:        req.Host,
		KeyPath:     req.KeyPath,
		KeyPassword: password,
		Topics:      req.Events,
	})
	if err != nil {
		a.writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := a.agents.Remove(chi.URLParam(r, "name")); err != nil {
		a.writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		httpserver.WriteError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, registry.ErrInvalidAgent):
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("agent request failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")

	// A dispatch runs to completion even if the caller hangs up.
	rec, err := a.dispatcher.Dispatch(context.WithoutCancel(r.Context()), event)
	if err != nil {
		resp := DispatchFailure{Error: "dispatch failed"}
		if rec != nil {
			resp.DispatchID = rec.ID
		}
		httpserver.WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpserver.WriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := a.opts.Log.ListDispatches(r.Context(), limit)
	if err != nil {
		a.logger.Error("listing dispatches failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []store.DispatchRecord{}
	}
	httpserver.WriteJSON(w, http.StatusOK, DispatchList{Dispatches: records})
}

func (a *API) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	rec, err := a.opts.Log.GetDispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpserver.WriteError(w, http.StatusNotFound, "dispatch not found")
			return
		}
		a.logger.Error("reading dispatch failed", "error", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rec)
}
