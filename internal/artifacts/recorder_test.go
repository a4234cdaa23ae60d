package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/project/models"
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

type memStore struct {
	mu        sync.Mutex
	artifacts []*models.Artifact
	updates   map[string]models.ValidationStatus
	sizes     map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		updates: map[string]models.ValidationStatus{},
		sizes:   map[string]int64{},
	}
}

func (s *memStore) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if artifact.ID == "" {
		artifact.ID = "art-1"
	}
	if artifact.ValidationStatus == "" {
		artifact.ValidationStatus = models.ValidationStatusPending
	}
	s.artifacts = append(s.artifacts, artifact)
	return nil
}

func (s *memStore) SetArtifactValidation(ctx context.Context, id string, status models.ValidationStatus, sizeBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = status
	s.sizes[id] = sizeBytes
	return nil
}

func (s *memStore) all() []*models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

type fixedDirs struct {
	project *models.Project
	dir     string
}

func (d *fixedDirs) Get(ctx context.Context, id string) (*models.Project, error) {
	return d.project, nil
}

func (d *fixedDirs) ProjectDir(project *models.Project) string { return d.dir }

type capturedEvents struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (c *capturedEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newRecorderFixture(t *testing.T, dir string) (*Recorder, *memStore, *capturedEvents, *capturedEvents) {
	t.Helper()
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	created := &capturedEvents{}
	validated := &capturedEvents{}
	capture := func(dst *capturedEvents) bus.EventHandler {
		return func(ctx context.Context, ev *bus.Event) error {
			dst.mu.Lock()
			dst.events = append(dst.events, ev)
			dst.mu.Unlock()
			return nil
		}
	}
	if _, err := eventBus.Subscribe(events.ArtifactCreated, capture(created)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := eventBus.Subscribe(events.ArtifactValidated, capture(validated)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	taskID := "task-9"
	store := newMemStore()
	dirs := &fixedDirs{
		project: &models.Project{ID: "proj-1", CurrentTaskID: &taskID},
		dir:     dir,
	}
	return NewRecorder(store, dirs, eventBus, log), store, created, validated
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRecordExportWithFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	rel := filepath.Join("artifacts", "T-001", "model.fbx")
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("fbx-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, store, created, validated := newRecorderFixture(t, dir)
	rec.Record(context.Background(), ToolOutput{
		ProjectID:     "proj-1",
		SessionID:     "sess-1",
		CorrelationID: "corr-1",
		Tool:          mcp.ToolBlenderCall,
		Args: map[string]any{
			"function": "export_fbx",
			"params":   map[string]any{"path": rel},
		},
		Result: map[string]any{"path": rel, "objects": float64(2)},
	})

	rows := store.all()
	if len(rows) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(rows))
	}
	art := rows[0]
	if art.Path != rel || art.Type != "fbx" || art.Category != models.ArtifactCategoryAsset {
		t.Fatalf("unexpected artifact: %+v", art)
	}
	if art.TaskID != "task-9" {
		t.Fatalf("artifact not attributed to the active task: %q", art.TaskID)
	}
	if art.ValidationStatus != models.ValidationStatusValid {
		t.Fatalf("validation status = %s, want valid", art.ValidationStatus)
	}
	if art.SizeBytes != int64(len("fbx-bytes")) {
		t.Fatalf("size = %d", art.SizeBytes)
	}

	waitFor(t, "created event", func() bool { return created.count() == 1 })
	waitFor(t, "validated event", func() bool { return validated.count() == 1 })
}

func TestRecordScreenshotMissingFileStaysPending(t *testing.T) {
	rec, store, created, validated := newRecorderFixture(t, t.TempDir())
	rec.Record(context.Background(), ToolOutput{
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Tool:      mcp.ToolCaptureScreenshot,
		Result:    map[string]any{"path": "artifacts/screenshots/shot_001.png"},
	})

	rows := store.all()
	if len(rows) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(rows))
	}
	if rows[0].Category != models.ArtifactCategoryScreenshot {
		t.Fatalf("category = %s, want screenshot", rows[0].Category)
	}
	if rows[0].ValidationStatus != models.ValidationStatusPending {
		t.Fatalf("validation status = %s, want pending", rows[0].ValidationStatus)
	}

	waitFor(t, "created event", func() bool { return created.count() == 1 })
	if validated.count() != 0 {
		t.Fatalf("no validation event expected for a missing file")
	}
}

func TestRecordEmptyFileIsInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.fbx"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	rec, store, _, _ := newRecorderFixture(t, dir)
	rec.Record(context.Background(), ToolOutput{
		ProjectID: "proj-1",
		Tool:      mcp.ToolExportFBX,
		Args:      map[string]any{"path": "empty.fbx"},
		Result:    map[string]any{},
	})

	rows := store.all()
	if len(rows) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(rows))
	}
	if rows[0].ValidationStatus != models.ValidationStatusInvalid {
		t.Fatalf("validation status = %s, want invalid", rows[0].ValidationStatus)
	}
}

func TestRecordIgnoresNonProducingCalls(t *testing.T) {
	rec, store, _, _ := newRecorderFixture(t, t.TempDir())

	rec.Record(context.Background(), ToolOutput{
		ProjectID: "proj-1",
		Tool:      mcp.ToolSceneHierarchy,
		Result:    map[string]any{"scene": "Main"},
	})
	rec.Record(context.Background(), ToolOutput{
		ProjectID: "proj-1",
		Tool:      mcp.ToolBlenderCall,
		Args:      map[string]any{"function": "create_primitive"},
		Result:    map[string]any{"object": "Cube"},
	})

	if got := len(store.all()); got != 0 {
		t.Fatalf("expected no artifacts, got %d", got)
	}
}

func TestProducedPath(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		args   map[string]any
		result map[string]any
		want   string
		ok     bool
	}{
		{
			name:   "screenshot result path",
			tool:   mcp.ToolCaptureScreenshot,
			result: map[string]any{"path": "shots/a.png"},
			want:   "shots/a.png",
			ok:     true,
		},
		{
			name: "export falls back to args",
			tool: mcp.ToolExportFBX,
			args: map[string]any{"path": "out.fbx"},
			ok:   true,
			want: "out.fbx",
		},
		{
			name: "blender_call export params",
			tool: mcp.ToolBlenderCall,
			args: map[string]any{
				"function": "export_fbx",
				"params":   map[string]any{"path": "out.fbx"},
			},
			want: "out.fbx",
			ok:   true,
		},
		{
			name: "blender_call other function ignored",
			tool: mcp.ToolBlenderCall,
			args: map[string]any{"function": "carve", "params": map[string]any{"path": "x"}},
		},
		{
			name:   "hierarchy never produces",
			tool:   mcp.ToolSceneHierarchy,
			result: map[string]any{"path": "weird.bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := producedPath(tt.tool, tt.args, tt.result)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("producedPath = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
