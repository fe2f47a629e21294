//go:build !unix

package subprocess

import "os/exec"

func killProcessGroup(*exec.Cmd) {}

func exitCode(err *exec.ExitError) int {
	return err.ExitCode()
}
