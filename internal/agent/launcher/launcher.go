// Package launcher builds the AI CLI subprocess for agent sessions:
// command resolution from the provider settings, working directory, pipe
// or pty wiring, and platform shims for script launchers.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/settings"
)

// Request describes one CLI launch.
type Request struct {
	Provider  settings.Provider
	Command   string            // overrides Provider.Command when set
	Dir       string            // working directory, usually the project dir
	ExtraArgs []string          // appended after the provider args
	Env       map[string]string // layered over the provider env
}

// Proc is a launched CLI with its wired streams. In pty mode Stdout
// carries the combined terminal stream and Stderr is nil.
type Proc struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Pty    bool
}

type Launcher struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Launcher {
	return &Launcher{logger: log.WithFields(zap.String("component", "launcher"))}
}

// Launch starts the provider CLI. The process is not tied to any context;
// the session decides when it dies.
func (l *Launcher) Launch(req Request) (*Proc, error) {
	prog, argv, err := resolve(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(prog, argv...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.Provider.Env, req.Env)

	if req.Provider.UsePty {
		f, ptyErr := startPty(cmd)
		if ptyErr == nil {
			l.logger.Info("agent cli started",
				zap.String("command", prog),
				zap.Int("pid", cmd.Process.Pid),
				zap.Bool("pty", true))
			return &Proc{Cmd: cmd, Stdin: f, Stdout: f, Pty: true}, nil
		}
		l.logger.Warn("pty start failed, falling back to pipes", zap.Error(ptyErr))
		// The failed pty attempt may have touched the cmd; rebuild it.
		cmd = exec.Command(prog, argv...)
		cmd.Dir = req.Dir
		cmd.Env = buildEnv(req.Provider.Env, req.Env)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent cli %s: %w", prog, err)
	}

	l.logger.Info("agent cli started",
		zap.String("command", prog),
		zap.Int("pid", cmd.Process.Pid))
	return &Proc{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

// RunOneShot executes the CLI once and returns its combined output. Unlike
// Launch the process dies with ctx.
func (l *Launcher) RunOneShot(ctx context.Context, req Request) ([]byte, error) {
	prog, argv, err := resolve(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, prog, argv...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.Provider.Env, req.Env)

	l.logger.Debug("one-shot run", zap.String("command", prog))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("one-shot run of %s failed: %w", prog, err)
	}
	return out, nil
}

func resolve(req Request) (string, []string, error) {
	command := req.Command
	if command == "" {
		command = req.Provider.Command
	}
	if command == "" {
		return "", nil, fmt.Errorf("provider has no command configured")
	}

	args := append(append([]string{}, req.Provider.Args...), req.ExtraArgs...)
	prog, argv := platformCommand(command, args)
	return prog, argv, nil
}

// buildEnv loads the parent environment and layers the given maps over it,
// later layers winning. With no overlay at all it returns nil so exec
// inherits the parent environment directly.
func buildEnv(layers ...map[string]string) []string {
	overlay := false
	for _, layer := range layers {
		if len(layer) > 0 {
			overlay = true
			break
		}
	}
	if !overlay {
		return nil
	}

	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}
