//go:build windows

package launcher

import (
	"os"
	"path/filepath"
	"strings"
)

// platformCommand wraps script launchers in cmd /c so .cmd and .bat files
// run the way a shell would run them.
func platformCommand(command string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(command)) {
	case ".cmd", ".bat":
		return "cmd", append([]string{"/c", command}, args...)
	}
	return command, args
}

// Terminate kills the process; Windows has no polite signal.
func Terminate(p *os.Process) error {
	return p.Kill()
}
