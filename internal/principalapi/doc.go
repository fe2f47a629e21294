// Package principalapi is the principal's HTTP control plane.
//
// Agents are registered with PUT /agent/{name}, listed, fetched and
// removed. POST /dispatch/{event} runs a full dispatch and answers 204 only
// when the trigger ran and every subscribed agent accepted the broadcast.
// When a dispatch log is configured, /dispatches lists recent outcomes.
package principalapi
