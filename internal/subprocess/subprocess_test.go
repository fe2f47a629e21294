//go:build unix

// ABOUTME: Tests for bounded subprocess execution
// ABOUTME: Uses small sh scripts to exercise exits, timeouts, truncation, and stdin delivery

package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestRun_Success(t *testing.T) {
	path := writeScript(t, `cat; echo oops >&2`)

	res, err := Run(context.Background(), path, []byte("payload"), Options{
		Timeout:     5 * time.Second,
		StdoutLimit: 1024,
		StderrLimit: 1024,
	})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.True(t, res.Success())
	assert.False(t, res.TimedOut)
	assert.Equal(t, "payload", string(res.Stdout.Data))
	assert.Equal(t, "oops\n", string(res.Stderr.Data))
	assert.False(t, res.Stdout.Truncated())
}

func TestRun_NonZeroExit(t *testing.T) {
	path := writeScript(t, `exit 3`)

	res, err := Run(context.Background(), path, nil, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.False(t, res.Success())
	assert.False(t, res.TimedOut)
}

func TestRun_KilledBySignal(t *testing.T) {
	path := writeScript(t, `kill -TERM $$`)

	res, err := Run(context.Background(), path, nil, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, -15, *res.ExitCode)
	assert.False(t, res.Success())
}

func TestRun_Timeout(t *testing.T) {
	path := writeScript(t, `echo partial; sleep 30`)

	start := time.Now()
	res, err := Run(context.Background(), path, nil, Options{
		Timeout:     200 * time.Millisecond,
		StdoutLimit: 1024,
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	assert.False(t, res.Success())
	assert.Equal(t, "partial\n", string(res.Stdout.Data))
	// The sleeping child is killed with its shell rather than waited for.
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_Truncation(t *testing.T) {
	path := writeScript(t, `printf '%s' 0123456789`)

	res, err := Run(context.Background(), path, nil, Options{
		Timeout:     5 * time.Second,
		StdoutLimit: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "0123", string(res.Stdout.Data))
	assert.Equal(t, int64(10), res.Stdout.Length)
	assert.True(t, res.Stdout.Truncated())
}

func TestRun_LargeStdinIgnored(t *testing.T) {
	path := writeScript(t, `exit 0`)

	payload := []byte(strings.Repeat("x", 1<<20))
	res, err := Run(context.Background(), path, payload, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestRun_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	_, err := Run(context.Background(), path, nil, Options{Timeout: time.Second})
	require.Error(t, err)
}

func TestRun_ParentCancelled(t *testing.T) {
	path := writeScript(t, `sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := Run(ctx, path, nil, Options{Timeout: 10 * time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, _ = b.Write([]byte("defg"))
	_, _ = b.Write([]byte("hij"))

	c := b.capture()
	assert.Equal(t, "abcde", string(c.Data))
	assert.Equal(t, int64(10), c.Length)
}
