// Package respond is the topic handler execution engine.
//
// A topic is a directory below the topics root; its handlers are the
// executable regular files inside it, run in lexicographic order. Handlers
// are discovered on every request, so adding or removing a script takes
// effect immediately. Each handler receives the event payload on stdin and
// is killed if it exceeds the configured timeout.
package respond
