// Package httpserver runs the HTTP listeners of the nightlife services.
//
// A Server binds its address in Listen so callers can learn the real port
// before serving (the lockfile records it), then Run serves until the
// context is canceled. Shutdown gives in-flight requests up to
// ShutdownTimeout and then runs the registered closers in order.
package httpserver
