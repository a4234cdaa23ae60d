package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/settings"
)

type fakePrefix struct {
	mu     sync.Mutex
	inputs *PrefixInputs
}

func (f *fakePrefix) PrefixInputs(context.Context, string) (*PrefixInputs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputs == nil {
		return nil, nil
	}
	in := *f.inputs
	return &in, nil
}

func (f *fakePrefix) set(in *PrefixInputs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = in
}

type failingPrefix struct{}

func (failingPrefix) PrefixInputs(context.Context, string) (*PrefixInputs, error) {
	return nil, errors.New("context store offline")
}

// echoPromptProvider runs a shell snippet that prints the prompt it was
// handed, making the assembled one-shot input observable.
func echoPromptProvider() settings.Provider {
	return settings.Provider{
		Command:     "sh",
		Args:        []string{"-c", `printf '%s' "$1"`},
		OneShotFlag: "-p",
	}
}

func TestAskOneShotBuildsPromptAndRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers["probe"] = echoPromptProvider()
	prefix := &fakePrefix{inputs: &PrefixInputs{
		GlobalContext: "Cube at origin",
		TaskMeta:      "T-001 polish lighting",
		TaskContext:   "Use soft shadows",
	}}
	fix := newTestManager(t, cfg, true, prefix)

	out, err := fix.m.AskOneShot(context.Background(), "proj-1", t.TempDir(), "probe", "make it red")
	if err != nil {
		t.Fatalf("AskOneShot() error = %v", err)
	}

	for _, section := range []string{
		"## Project context\nCube at origin",
		"## Current task\nT-001 polish lighting",
		"## Task context\nUse soft shadows",
	} {
		if !strings.Contains(out, section) {
			t.Errorf("prompt missing section %q:\n%s", section, out)
		}
	}
	if !strings.HasSuffix(out, "make it red") {
		t.Errorf("prompt does not end with the question:\n%s", out)
	}
	if strings.Index(out, "## Project context") > strings.Index(out, "## Current task") {
		t.Error("project context should precede the task sections")
	}

	rows := fix.repo.sessionRows()
	if len(rows) != 1 {
		t.Fatalf("session rows = %d, want 1", len(rows))
	}
	summary, ok := fix.repo.endedSummary(rows[0].ID)
	if !ok || summary != "one-shot" {
		t.Errorf("summary = %q (%v), want one-shot", summary, ok)
	}

	transcript := fix.repo.transcriptRows()
	if len(transcript) != 2 {
		t.Fatalf("transcript rows = %d, want prompt and output", len(transcript))
	}
	if transcript[0].Role != models.AgentMessageRoleUser || transcript[0].Content != "make it red" {
		t.Errorf("prompt row = %+v", transcript[0])
	}
	if transcript[1].Role != models.AgentMessageRoleAssistant || transcript[1].Content != out {
		t.Errorf("output row = %+v", transcript[1])
	}
}

func TestAskOneShotWithoutPrefixSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers["probe"] = echoPromptProvider()
	fix := newTestManager(t, cfg, true, nil)

	out, err := fix.m.AskOneShot(context.Background(), "proj-1", t.TempDir(), "probe", "make it red")
	if err != nil {
		t.Fatalf("AskOneShot() error = %v", err)
	}
	if out != "make it red" {
		t.Errorf("output = %q, want the bare prompt", out)
	}
}

func TestAskOneShotPrefixFailureDegrades(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers["probe"] = echoPromptProvider()
	fix := newTestManager(t, cfg, true, failingPrefix{})

	out, err := fix.m.AskOneShot(context.Background(), "proj-1", t.TempDir(), "probe", "make it red")
	if err != nil {
		t.Fatalf("AskOneShot() error = %v", err)
	}
	if out != "make it red" {
		t.Errorf("output = %q, want the bare prompt", out)
	}
}

func TestAskOneShotRequiresOneShotFlag(t *testing.T) {
	fix := newTestManager(t, testConfig(t), true, nil)

	_, err := fix.m.AskOneShot(context.Background(), "proj-1", t.TempDir(), "mock", "anything")
	if !apperr.IsKind(err, apperr.KindConfigInvalid) {
		t.Fatalf("AskOneShot() error = %v, want config_invalid", err)
	}
}

func TestAskOneShotUnknownProvider(t *testing.T) {
	fix := newTestManager(t, testConfig(t), true, nil)

	_, err := fix.m.AskOneShot(context.Background(), "proj-1", t.TempDir(), "no-such-cli", "anything")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("AskOneShot() error = %v, want not_found", err)
	}
}

func TestAskOneShotTimesOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers["slow"] = settings.Provider{
		Command:     "sh",
		Args:        []string{"-c", "exec sleep 30"},
		OneShotFlag: "-p",
	}
	fix := newTestManager(t, cfg, true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := fix.m.AskOneShot(ctx, "proj-1", t.TempDir(), "slow", "anything")
	if !apperr.IsKind(err, apperr.KindTimeout) {
		t.Fatalf("AskOneShot() error = %v, want timeout", err)
	}
}

func TestPromptPrefixCachesUntilInputsChange(t *testing.T) {
	src := &fakePrefix{inputs: &PrefixInputs{GlobalContext: "version one"}}
	fix := newTestManager(t, testConfig(t), true, src)
	ctx := context.Background()

	first, err := fix.m.promptPrefix(ctx, "proj-1")
	if err != nil {
		t.Fatalf("promptPrefix() error = %v", err)
	}
	if !strings.Contains(first, "version one") {
		t.Fatalf("prefix = %q, want the global context", first)
	}

	second, err := fix.m.promptPrefix(ctx, "proj-1")
	if err != nil {
		t.Fatalf("promptPrefix() error = %v", err)
	}
	if second != first {
		t.Errorf("unchanged inputs rebuilt the prefix: %q vs %q", second, first)
	}

	src.set(&PrefixInputs{GlobalContext: "version two"})
	third, err := fix.m.promptPrefix(ctx, "proj-1")
	if err != nil {
		t.Fatalf("promptPrefix() error = %v", err)
	}
	if !strings.Contains(third, "version two") || third == first {
		t.Errorf("prefix = %q, want a rebuild for the new inputs", third)
	}

	src.set(nil)
	empty, err := fix.m.promptPrefix(ctx, "proj-1")
	if err != nil {
		t.Fatalf("promptPrefix() error = %v", err)
	}
	if empty != "" {
		t.Errorf("prefix without inputs = %q, want empty", empty)
	}
}
