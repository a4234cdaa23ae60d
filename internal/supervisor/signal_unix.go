//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// terminateProcess asks the process to exit with SIGTERM.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// pidAlive reports whether a process with the given pid exists. Signal 0
// performs the existence check without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
