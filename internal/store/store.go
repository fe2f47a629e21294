// ABOUTME: Dispatch log interface and record types for the principal
// ABOUTME: Records dispatch outcomes and per-agent deliveries, never payload bytes

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DispatchStatus is the terminal state of a dispatch.
type DispatchStatus string

const (
	StatusCompleted DispatchStatus = "completed"
	StatusFailed    DispatchStatus = "failed"
)

// Stage names the step a failed dispatch stopped at.
const (
	StageTrigger   = "trigger"
	StageBroadcast = "broadcast"
)

// Delivery is the outcome of broadcasting to one agent.
type Delivery struct {
	Agent string `json:"agent"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// DispatchRecord summarizes one dispatch.
type DispatchRecord struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Status     DispatchStatus `json:"status"`
	Stage      string         `json:"stage,omitempty"` // set when Status is failed
	Deliveries []Delivery     `json:"deliveries"`
}

// DispatchStore persists dispatch records.
type DispatchStore interface {
	// RecordDispatch saves r, assigning an ID if it has none.
	RecordDispatch(ctx context.Context, r *DispatchRecord) error

	// GetDispatch returns one record or ErrNotFound.
	GetDispatch(ctx context.Context, id string) (*DispatchRecord, error)

	// ListDispatches returns records newest first. limit defaults to 100 and
	// is capped at 1000.
	ListDispatches(ctx context.Context, limit int) ([]DispatchRecord, error)

	Close() error
}

// NormalizeLimit applies default (100) and cap (1000) to a list limit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
