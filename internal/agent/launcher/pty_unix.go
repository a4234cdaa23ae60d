//go:build !windows

package launcher

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startPty starts cmd under a pseudo-terminal and returns the master side.
// The size is fixed; interactive CLIs behave better with a generous width.
func startPty(cmd *exec.Cmd) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
}
