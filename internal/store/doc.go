// Package store keeps the principal's dispatch log.
//
// Each dispatch is recorded with its event name, timing, terminal status,
// the stage a failure stopped at, and one delivery entry per agent attempted.
// Payloads are never stored.
//
// SQLiteStore is the durable implementation; MockStore is an in-memory
// stand-in with the same ordering rules.
package store
