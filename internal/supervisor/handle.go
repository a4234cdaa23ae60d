package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

// Handle supervises a single launch of one managed process. A handle is
// one-shot: restarting a process creates a fresh handle.
type Handle struct {
	spec   Spec
	logger *logger.Logger

	// Set before Start; both are optional.
	onLine func(stream, line string)
	onExit func(code int)

	cmd    *exec.Cmd
	stdout *ring
	stderr *ring

	running       atomic.Bool
	exited        atomic.Bool
	returnCode    atomic.Int32
	pid           atomic.Int32
	startedAtNano atomic.Int64

	stopMu  sync.Mutex
	readers sync.WaitGroup
	done    chan struct{}
}

func newHandle(spec Spec, log *logger.Logger) *Handle {
	return &Handle{
		spec:   spec,
		logger: log.WithProcess(spec.Name),
		stdout: newRing(DefaultRingSize),
		stderr: newRing(DefaultRingSize),
		done:   make(chan struct{}),
	}
}

// Start spawns the process and begins draining its pipes. The command is
// deliberately not tied to any request context; the process outlives the
// call that started it.
func (h *Handle) Start() error {
	cmd := exec.Command(h.spec.Command, h.spec.Args...)
	cmd.Dir = h.spec.Dir
	cmd.Env = overlayEnv(h.spec.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", h.spec.Name, err)
	}

	h.cmd = cmd
	h.pid.Store(int32(cmd.Process.Pid))
	h.startedAtNano.Store(time.Now().UnixNano())
	h.running.Store(true)

	h.readers.Add(2)
	go h.readLines(stdout, "stdout", h.stdout)
	go h.readLines(stderr, "stderr", h.stderr)
	go h.waitForExit()

	h.logger.Info("process started", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop terminates the process, waiting up to grace before killing it, then
// waits briefly for the kill to land. Safe to call on a handle that has
// already exited.
func (h *Handle) Stop(grace time.Duration) {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()

	if !h.running.Load() {
		return
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	h.logger.Info("stopping process", zap.Duration("grace", grace))
	_ = terminateProcess(h.cmd.Process)

	select {
	case <-h.done:
		return
	case <-time.After(grace):
	}

	h.logger.Warn("grace period expired, killing process")
	_ = h.cmd.Process.Kill()

	select {
	case <-h.done:
	case <-time.After(killWait):
		h.logger.Error("process did not exit after kill")
	}
}

// Status snapshots the process state. The tails are the newest captured
// bytes of each stream, bounded by the ring size.
func (h *Handle) Status() Status {
	st := Status{
		Name:           h.spec.Name,
		Running:        h.running.Load(),
		PID:            int(h.pid.Load()),
		LastOutputTail: h.stdout.String(),
		LastErrorTail:  h.stderr.String(),
	}
	if nano := h.startedAtNano.Load(); nano > 0 {
		st.StartedAt = time.Unix(0, nano).UTC()
	}
	if h.exited.Load() {
		code := int(h.returnCode.Load())
		st.ReturnCode = &code
	}
	return st
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// readLines drains one pipe line by line into the ring. Invalid UTF-8 is
// replaced rather than dropped, so binary noise cannot poison the tail.
func (h *Handle) readLines(pipe io.ReadCloser, stream string, buf *ring) {
	defer h.readers.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.ToValidUTF8(scanner.Text(), "�")
		_, _ = buf.Write(append([]byte(line), '\n'))
		h.logger.Debug("process output", zap.String("stream", stream), zap.String("line", line))
		if h.onLine != nil {
			h.onLine(stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("output reader closed", zap.String("stream", stream), zap.Error(err))
	}
}

// waitForExit reaps the process after both readers hit EOF and records the
// final status.
func (h *Handle) waitForExit() {
	h.readers.Wait()

	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	h.returnCode.Store(int32(code))
	h.exited.Store(true)
	h.running.Store(false)
	close(h.done)

	h.logger.Info("process exited", zap.Int("code", code))
	if h.onExit != nil {
		h.onExit(code)
	}
}

// overlayEnv merges overlay variables over the parent environment. An empty
// overlay returns nil so exec inherits the parent environment untouched.
func overlayEnv(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return nil
	}
	base := make(map[string]string, len(overlay)+64)
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, k+"="+v)
	}
	return merged
}
