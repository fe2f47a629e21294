// ABOUTME: Dispatch failure sentinels and the per-agent delivery error

package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTrigger means the event's trigger script could not produce a payload.
	ErrTrigger = errors.New("trigger failed")

	// ErrBroadcast means at least one subscribed agent was not notified.
	ErrBroadcast = errors.New("broadcast failed")
)

// DeliveryError records why one agent's broadcast failed.
type DeliveryError struct {
	Agent string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StatusError is a non-2xx reply from an agent.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
