// Package client talks to the nightlife services over HTTP.
//
// # Overview
//
// A Client wraps one base URL, either a principal's control plane or an
// agent's topic surface, and decodes the JSON bodies both services return.
// It is what the nightlife CLI uses; it is also handy in tests.
//
// # Authentication
//
// When a TokenSource is set, every request except Health carries
//
//	Authorization: bearer <token>
//
// with a freshly minted token, so tokens never outlive one request.
//
// # Usage
//
//	c := client.New(url, client.WithTokenSource(src))
//	agents, err := c.ListAgents(ctx)
//
// Non-2xx replies come back as *APIError carrying the status and the
// server's error message.
package client
