// ABOUTME: Runs a single executable with a byte payload on stdin under a wall-clock timeout
// ABOUTME: Captures stdout/stderr up to a limit while recording their true lengths

package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait lingers for output pipes after the process
// group has been killed.
const waitDelay = 2 * time.Second

// Options controls a single run.
type Options struct {
	// Timeout is the wall-clock limit. Zero means no limit beyond ctx.
	Timeout time.Duration
	// StdoutLimit and StderrLimit cap the retained bytes per stream. Zero
	// or negative retains nothing; lengths are still counted.
	StdoutLimit int64
	StderrLimit int64
}

// Result describes how a run ended.
type Result struct {
	// ExitCode is nil when the process was killed for exceeding the timeout.
	// A process terminated by a signal reports the negated signal number.
	ExitCode *int
	TimedOut bool
	Runtime  time.Duration
	Stdout   Capture
	Stderr   Capture
}

// Success reports a normal exit with status zero.
func (r *Result) Success() bool {
	return r.ExitCode != nil && *r.ExitCode == 0
}

// Capture is the retained prefix of a stream plus its full length.
type Capture struct {
	Data   []byte
	Length int64
}

// Truncated reports whether bytes were dropped.
func (c Capture) Truncated() bool {
	return int64(len(c.Data)) < c.Length
}

// Run executes path with no arguments, feeding stdin to it. It returns an
// error only when the process could not be started or ctx itself ended;
// non-zero exits and timeouts are reported in the Result.
func Run(ctx context.Context, path string, stdin []byte, opts Options) (*Result, error) {
	runCtx := ctx
	cancel := func() {}
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	stdout := &limitedBuffer{limit: opts.StdoutLimit}
	stderr := &limitedBuffer{limit: opts.StderrLimit}

	cmd := exec.CommandContext(runCtx, path)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Runtime: time.Since(start),
		Stdout:  stdout.capture(),
		Stderr:  stderr.capture(),
	}

	if err != nil && ctx.Err() != nil {
		return result, fmt.Errorf("running %s: %w", path, ctx.Err())
	}

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		result.ExitCode = &code
	case errors.As(err, &exitErr):
		code := exitCode(exitErr)
		result.ExitCode = &code
	default:
		return result, fmt.Errorf("running %s: %w", path, err)
	}

	return result, nil
}

// limitedBuffer keeps the first limit bytes written and counts the rest.
// exec serializes writes per stream, so no locking is needed.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int64
	total int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.total += int64(len(p))
	if room := b.limit - int64(b.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) capture() Capture {
	return Capture{Data: b.buf.Bytes(), Length: b.total}
}
