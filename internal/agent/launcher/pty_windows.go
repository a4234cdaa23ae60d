//go:build windows

package launcher

import (
	"errors"
	"os"
	"os/exec"
)

// startPty always fails on Windows; Launch falls back to pipes.
func startPty(cmd *exec.Cmd) (*os.File, error) {
	return nil, errors.New("pty mode is not supported on windows")
}
