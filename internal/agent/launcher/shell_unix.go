//go:build !windows

package launcher

import (
	"os"
	"syscall"
)

// platformCommand returns the program and argument list to execute. Unix
// runs the configured command directly.
func platformCommand(command string, args []string) (string, []string) {
	return command, args
}

// Terminate asks the process to exit with SIGTERM.
func Terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
