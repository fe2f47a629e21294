// ABOUTME: Topic handler execution engine shared by agent and principal
// ABOUTME: Discovers handlers on disk per request and runs them in order against a payload

package respond

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/nightlife/internal/subprocess"
)

var (
	// ErrNotFound is returned when the topics root or a topic is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned for names that could escape the topics root.
	ErrInvalidName = errors.New("invalid name")
)

// Options configures an Engine.
type Options struct {
	Root        string
	Timeout     time.Duration
	OutputLimit int
}

// InvocationObserver is told the outcome of every handler run:
// "success", "failure", "timeout" or "error".
type InvocationObserver interface {
	HandlerInvoked(topic, outcome string)
}

// Engine lists and runs topic handlers below a root directory.
type Engine struct {
	root     string
	timeout  time.Duration
	limit    int
	logger   *slog.Logger
	observer InvocationObserver
}

// New creates an engine. Nothing on disk is touched until a request.
func New(opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		root:    opts.Root,
		timeout: opts.Timeout,
		limit:   opts.OutputLimit,
		logger:  logger.With("component", "respond"),
	}
}

// SetObserver registers an observer for handler outcomes.
func (e *Engine) SetObserver(o InvocationObserver) {
	e.observer = o
}

// Root returns the topics root directory.
func (e *Engine) Root() string {
	return e.root
}

// ValidateName rejects names that are empty, dot entries, or contain a path
// separator.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`+"\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ListTopics returns the directories directly under the root, sorted.
func (e *Engine) ListTopics() ([]string, error) {
	e.logger.Debug("scanning for topics", "dir", e.root)
	return listEntries(e.root, func(info fs.FileInfo) bool {
		return info.IsDir()
	})
}

// ListHandlers returns the executable regular files of a topic, sorted.
func (e *Engine) ListHandlers(topic string) ([]string, error) {
	if err := ValidateName(topic); err != nil {
		return nil, err
	}
	dir := filepath.Join(e.root, topic)
	e.logger.Debug("scanning for topic handlers", "dir", dir)
	return listEntries(dir, func(info fs.FileInfo) bool {
		return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
	})
}

// listEntries lists dir, following symlinks, keeping entries accepted by keep.
// A missing dir, or a path that is not a directory, is ErrNotFound.
func listEntries(dir string, keep func(fs.FileInfo) bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	// ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // dangling symlink or raced removal
		}
		if keep(info) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Topic returns a topic with its handler names.
func (e *Engine) Topic(name string) (*TopicHandlers, error) {
	handlers, err := e.ListHandlers(name)
	if err != nil {
		return nil, err
	}
	return &TopicHandlers{Name: name, Handlers: handlers}, nil
}

// Registry returns every topic with its handler names.
func (e *Engine) Registry() (*TopicRegistry, error) {
	names, err := e.ListTopics()
	if err != nil {
		return nil, err
	}
	reg := &TopicRegistry{Topics: make([]TopicHandlers, 0, len(names))}
	for _, name := range names {
		topic, err := e.Topic(name)
		if err != nil {
			// Removed between listing and scanning.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		reg.Topics = append(reg.Topics, *topic)
	}
	return reg, nil
}

// Invoke runs a single handler with payload on its stdin.
func (e *Engine) Invoke(ctx context.Context, topic, handler string, payload []byte) (*HandlerResult, error) {
	if err := ValidateName(topic); err != nil {
		return nil, err
	}
	if err := ValidateName(handler); err != nil {
		return nil, err
	}

	path := filepath.Join(e.root, topic, handler)
	e.logger.Info("invoking topic handler", "topic", topic, "handler", handler)

	res, err := subprocess.Run(ctx, path, payload, subprocess.Options{
		Timeout:     e.timeout,
		StdoutLimit: int64(e.limit),
		StderrLimit: int64(e.limit),
	})
	if err != nil {
		e.observe(topic, "error")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("invoking %s/%s: %w", topic, handler, err)
		}
		e.logger.Warn("topic handler could not start", "topic", topic, "handler", handler, "error", err)
		return startFailure(handler, err, e.limit), nil
	}

	result := &HandlerResult{
		Name: handler,
		Status: Status{
			Success:    res.Success(),
			TimedOut:   res.TimedOut,
			ExitStatus: res.ExitCode,
			RuntimeMS:  res.Runtime.Milliseconds(),
		},
		Stdout: newOutput(res.Stdout),
		Stderr: newOutput(res.Stderr),
	}

	outcome := "success"
	switch {
	case res.TimedOut:
		// Reported runtime is the configured limit, not the time until the kill landed.
		result.Status.RuntimeMS = e.timeout.Milliseconds()
		outcome = "timeout"
		e.logger.Warn("topic handler timed out", "topic", topic, "handler", handler, "timeout", e.timeout)
	case !res.Success():
		outcome = "failure"
		e.logger.Warn("topic handler failed", "topic", topic, "handler", handler, "exit_status", *res.ExitCode)
	}
	e.observe(topic, outcome)

	return result, nil
}

// InvokeTopic runs every handler of topic in listing order. A missing topic
// fails before anything runs; a handler that fails, even to start, is
// recorded and the rest still run.
func (e *Engine) InvokeTopic(ctx context.Context, topic string, payload []byte) (*TopicResults, error) {
	handlers, err := e.ListHandlers(topic)
	if err != nil {
		return nil, err
	}

	e.logger.Info("invoking handlers for topic", "topic", topic, "handlers", len(handlers))

	results := &TopicResults{Name: topic, Handlers: make([]HandlerResult, 0, len(handlers))}
	for _, handler := range handlers {
		res, err := e.Invoke(ctx, topic, handler, payload)
		if err != nil {
			return nil, err
		}
		results.Handlers = append(results.Handlers, *res)
	}
	return results, nil
}

// startFailure reports a handler that never ran the way a shell would:
// 127 when the file or its interpreter is missing, 126 otherwise.
func startFailure(handler string, err error, limit int) *HandlerResult {
	code := 126
	if errors.Is(err, fs.ErrNotExist) {
		code = 127
	}
	msg := []byte(err.Error() + "\n")
	stderr := subprocess.Capture{Data: msg, Length: int64(len(msg))}
	if len(msg) > limit {
		stderr.Data = msg[:max(limit, 0)]
	}
	return &HandlerResult{
		Name:   handler,
		Status: Status{ExitStatus: &code},
		Stderr: newOutput(stderr),
	}
}

func (e *Engine) observe(topic, outcome string) {
	if e.observer != nil {
		e.observer.HandlerInvoked(topic, outcome)
	}
}
