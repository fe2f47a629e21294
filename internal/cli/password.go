// ABOUTME: Password input for key generation and signing
// ABOUTME: Reads from a file, a piped stdin, or an interactive terminal prompt with echo off

package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readSecretFile reads a secret, stripping trailing newlines. An empty file
// means no password.
func readSecretFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// readNewPassword reads the password for a new key. With a terminal on
// stdin it prompts twice; otherwise it reads one line. Empty means none.
func readNewPassword(cmd *cobra.Command, passwordFile string) ([]byte, error) {
	if passwordFile != "" {
		return readSecretFile(passwordFile)
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return promptNewPassword(int(f.Fd()), cmd.ErrOrStderr())
	}

	// A closed stdin (keygen PUB 0<&-) reads as no password.
	line, err := bufio.NewReader(in).ReadBytes('\n')
	if errors.Is(err, syscall.EBADF) || errors.Is(err, os.ErrClosed) {
		return nil, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading password from stdin: %w", err)
	}
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, nil
	}
	return line, nil
}

func promptNewPassword(fd int, prompt io.Writer) ([]byte, error) {
	fmt.Fprint(prompt, "Password (empty for none): ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		return nil, nil
	}

	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password confirmation: %w", err)
	}
	if !bytes.Equal(first, second) {
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}
