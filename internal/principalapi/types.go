// ABOUTME: Request and response bodies of the principal control plane
// ABOUTME: Shared with the nightlife CLI so both sides agree on field names

package principalapi

import (
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/store"
)

// AgentDescriptor is the public view of a registered agent. The key
// password is never returned.
type AgentDescriptor struct {
	Name    string   `json:"name"`
	Host    string   `json:"host"`
	KeyPath string   `json:"key_path"`
	Events  []string `json:"events"`
}

func describe(a registry.Agent) AgentDescriptor {
	events := a.Topics
	if events == nil {
		events = []string{}
	}
	return AgentDescriptor{Name: a.Name, Host: a.Host, KeyPath: a.KeyPath, Events: events}
}

// AgentList is the body of GET /agents.
type AgentList struct {
	Agents []AgentDescriptor `json:"agents"`
}

// PutAgentRequest is the body of PUT /agent/{name}.
type PutAgentRequest struct {
	Host           string   `json:"host"`
	KeyPath        string   `json:"key_path"`
	KeyPasswordB64 string   `json:"key_password_b64,omitempty"`
	Events         []string `json:"events"`
}

// DispatchList is the body of GET /dispatches.
type DispatchList struct {
	Dispatches []store.DispatchRecord `json:"dispatches"`
}

// DispatchFailure is the body of a failed POST /dispatch/{event}. The
// failing stage stays in the server log and the dispatch log.
type DispatchFailure struct {
	Error      string `json:"error"`
	DispatchID string `json:"dispatch_id,omitempty"`
}
