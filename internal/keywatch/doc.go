// Package keywatch keeps an agent's verification key in step with the key
// file on disk.
//
// A [Watcher] loads the file once at startup, then watches the file's
// parent directory. Create, write and remove events on the key path (and
// renames onto it, which arrive as creates) mark the key dirty through a
// one-slot channel. A single reload goroutine drains that slot and re-reads
// the file, so a burst of events collapses into one reload of whatever the
// file holds at that moment.
//
// Request handlers never touch the file: they read the [auth.KeyCell] the
// watcher writes. A failed read or parse empties the cell, which rejects
// every token until a later event brings a readable key back.
package keywatch
