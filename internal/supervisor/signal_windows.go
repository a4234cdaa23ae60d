//go:build windows

package supervisor

import "os"

// terminateProcess kills the process. Windows has no SIGTERM equivalent the
// target could handle, so termination is immediate.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

// pidAlive reports whether a process with the given pid exists. On Windows
// FindProcess only succeeds for live processes.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
