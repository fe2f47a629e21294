// ABOUTME: Principal control-plane calls: agents, dispatch, and the dispatch log

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/2389/nightlife/internal/principalapi"
	"github.com/2389/nightlife/internal/store"
)

// ListAgents returns every registered agent.
func (c *Client) ListAgents(ctx context.Context) ([]principalapi.AgentDescriptor, error) {
	var resp principalapi.AgentList
	if err := c.doJSON(ctx, http.MethodGet, []string{"agents"}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent returns one agent.
func (c *Client) GetAgent(ctx context.Context, name string) (*principalapi.AgentDescriptor, error) {
	var resp principalapi.AgentDescriptor
	if err := c.doJSON(ctx, http.MethodGet, []string{"agent", name}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutAgent registers or replaces an agent.
func (c *Client) PutAgent(ctx context.Context, name string, req principalapi.PutAgentRequest) error {
	return c.doJSON(ctx, http.MethodPut, []string{"agent", name}, req, nil)
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, []string{"agent", name}, nil, nil)
}

// Dispatch runs a dispatch for event. On failure the returned error is an
// *APIError and the dispatch ID, when the server recorded one, is returned
// alongside it.
func (c *Client) Dispatch(ctx context.Context, event string) (string, error) {
	err := c.doJSON(ctx, http.MethodPost, []string{"dispatch", event}, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return dispatchIDFrom(apiErr), err
	}
	return "", err
}

// ListDispatches returns recent dispatches, newest first. limit <= 0 uses
// the server default.
func (c *Client) ListDispatches(ctx context.Context, limit int) ([]store.DispatchRecord, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var resp principalapi.DispatchList
	if err := c.do(ctx, http.MethodGet, []string{"dispatches"}, query, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Dispatches, nil
}

// GetDispatch returns one recorded dispatch.
func (c *Client) GetDispatch(ctx context.Context, id string) (*store.DispatchRecord, error) {
	var resp store.DispatchRecord
	if err := c.doJSON(ctx, http.MethodGet, []string{"dispatches", id}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func dispatchIDFrom(apiErr *APIError) string {
	var failure principalapi.DispatchFailure
	if json.Unmarshal(apiErr.body, &failure) != nil {
		return ""
	}
	return failure.DispatchID
}
