// Package agentapi exposes an agent's topics over HTTP.
//
// GET /topics and GET /topic/{name} describe the handlers on disk.
// POST /topic/{name} runs them in order with the request body as the
// payload and returns one result per handler. A handler that fails or
// times out is reported in the body, never as an HTTP error.
package agentapi
