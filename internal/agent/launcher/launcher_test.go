package launcher

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/settings"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestResolveCommandOverride(t *testing.T) {
	prog, argv, err := resolve(Request{
		Provider:  settings.Provider{Command: "gemini", Args: []string{"--output-format", "stream-json"}},
		Command:   "/opt/custom/gemini",
		ExtraArgs: []string{"-p", "hello"},
	})
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if prog != "/opt/custom/gemini" {
		t.Errorf("prog = %q, want the override", prog)
	}
	want := []string{"--output-format", "stream-json", "-p", "hello"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestResolveMissingCommand(t *testing.T) {
	if _, _, err := resolve(Request{}); err == nil {
		t.Fatal("resolve() should fail without a command")
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("AGP_LAUNCHER_PARENT", "from-parent")

	env := buildEnv(map[string]string{"A": "1"}, map[string]string{"A": "2", "B": "3"})
	got := map[string]string{}
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			got[kv[:i]] = kv[i+1:]
		}
	}
	if got["A"] != "2" {
		t.Errorf("A = %q, later layers should win", got["A"])
	}
	if got["B"] != "3" {
		t.Errorf("B = %q", got["B"])
	}
	if got["AGP_LAUNCHER_PARENT"] != "from-parent" {
		t.Error("parent environment should stay visible beneath the overlay")
	}

	if buildEnv(nil, map[string]string{}) != nil {
		t.Error("no overlay should inherit the parent environment as nil")
	}
}

func TestLaunchPipesRoundTrip(t *testing.T) {
	l := New(newTestLogger(t))
	proc, err := l.Launch(Request{
		Provider: settings.Provider{Command: "cat"},
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer func() {
		proc.Stdin.Close()
		proc.Cmd.Wait()
	}()

	if _, err := proc.Stdin.Write([]byte("ping\n")); err != nil {
		t.Fatalf("stdin write error = %v", err)
	}
	line, err := bufio.NewReader(proc.Stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("stdout read error = %v", err)
	}
	if line != "ping\n" {
		t.Errorf("line = %q, want ping", line)
	}
}

func TestLaunchPtyMode(t *testing.T) {
	l := New(newTestLogger(t))
	proc, err := l.Launch(Request{
		Provider: settings.Provider{Command: "echo", Args: []string{"pty-line"}, UsePty: true},
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if !proc.Pty {
		t.Fatal("expected pty mode")
	}
	if proc.Stderr != nil {
		t.Error("pty mode folds stderr into stdout")
	}

	// Read until the master side errors out at child exit.
	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := proc.Stdout.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	proc.Cmd.Wait()

	if !strings.Contains(out.String(), "pty-line") {
		t.Errorf("pty output = %q, want it to contain pty-line", out.String())
	}
}

func TestRunOneShot(t *testing.T) {
	l := New(newTestLogger(t))
	out, err := l.RunOneShot(context.Background(), Request{
		Provider:  settings.Provider{Command: "echo"},
		ExtraArgs: []string{"one-shot output"},
	})
	if err != nil {
		t.Fatalf("RunOneShot() error = %v", err)
	}
	if !strings.Contains(string(out), "one-shot output") {
		t.Errorf("output = %q", out)
	}
}

func TestRunOneShotHonorsContext(t *testing.T) {
	l := New(newTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.RunOneShot(ctx, Request{
		Provider: settings.Provider{Command: "sleep", Args: []string{"30"}},
	})
	if err == nil {
		t.Fatal("expected the deadline to kill the run")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("run outlived its context by too much")
	}
}
