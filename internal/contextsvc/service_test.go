package contextsvc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/db"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/project/models"
	"github.com/agpstudio/agp/internal/storage"
)

// MockEventBus records every published event.
type MockEventBus struct {
	mu        sync.Mutex
	published []*bus.Event
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{}
}

func (m *MockEventBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, event)
	return nil
}

func (m *MockEventBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (m *MockEventBus) QueueSubscribe(subject, queue string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (m *MockEventBus) Request(ctx context.Context, subject string, event *bus.Event, timeout time.Duration) (*bus.Event, error) {
	return nil, nil
}

func (m *MockEventBus) Close() {}

func (m *MockEventBus) IsConnected() bool { return true }

func (m *MockEventBus) countOfType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.published {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeAsker struct {
	mu         sync.Mutex
	out        string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeAsker) Ask(ctx context.Context, projectID, projectDir, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPrompt = prompt
	return f.out, f.err
}

func newTestService(t *testing.T) (*Service, *MockEventBus, *storage.Repository, string) {
	t.Helper()
	pool, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "agp.db"), "")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := storage.NewWithPool(pool)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	eventBus := NewMockEventBus()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	rootDir := t.TempDir()
	return NewService(repo, eventBus, log, rootDir), eventBus, repo, rootDir
}

func seedProjectWithTasks(t *testing.T, repo *storage.Repository) {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateProject(ctx, &models.Project{ID: "p1", Name: "Game", Path: "p1"}); err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	first := &models.Task{ID: "t1", ProjectID: "p1", Code: "T-001", Title: "First",
		Status: models.TaskStatusDone, Idx: 0}
	if err := repo.CreateTask(ctx, first); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	second := &models.Task{ID: "t2", ProjectID: "p1", Code: "T-002", Title: "Second", Idx: 1}
	if err := repo.CreateTask(ctx, second); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
}

func readJSONFile(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	var content map[string]interface{}
	if err := json.Unmarshal(raw, &content); err != nil {
		t.Fatalf("%s is not JSON: %v", path, err)
	}
	return content
}

func TestService_GenerateAfterTask_Heuristic(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	if err := svc.GenerateAfterTask(ctx, "p1", "t1"); err != nil {
		t.Fatalf("GenerateAfterTask failed: %v", err)
	}

	active, err := repo.GetActiveContext(ctx, "p1", models.ContextScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetActiveContext failed: %v", err)
	}
	if active.Version != 1 {
		t.Errorf("expected version 1, got %d", active.Version)
	}
	if active.Source != "heuristic" {
		t.Errorf("expected heuristic source, got %s", active.Source)
	}

	content := active.Content
	if content["current_task"] != "" {
		t.Errorf("expected empty current_task, got %v", content["current_task"])
	}
	done, _ := content["done_tasks"].([]interface{})
	if len(done) != 1 || done[0] != "T-001" {
		t.Errorf("done_tasks = %v", content["done_tasks"])
	}
	pending, _ := content["pending_tasks"].([]interface{})
	if len(pending) != 1 || pending[0] != "T-002" {
		t.Errorf("pending_tasks = %v", content["pending_tasks"])
	}
	summary, _ := content["summary"].(string)
	if !strings.Contains(summary, "1 of 2 tasks done") || !strings.Contains(summary, "T-001") {
		t.Errorf("summary = %q", summary)
	}
	for _, key := range []string{"decisions", "open_questions", "risks", "version", "last_update"} {
		if _, ok := content[key]; !ok {
			t.Errorf("missing key %s in content", key)
		}
	}

	snapshot := readJSONFile(t, filepath.Join(rootDir, "p1", "context", "active_context.json"))
	if snapshot["version"] != float64(1) {
		t.Errorf("snapshot version = %v", snapshot["version"])
	}
	if _, err := os.Stat(filepath.Join(rootDir, "p1", "context", "history", "context_v1.json")); err != nil {
		t.Errorf("history snapshot missing: %v", err)
	}

	if got := eventBus.countOfType(events.ContextGenerated); got != 1 {
		t.Errorf("expected 1 context.generated event, got %d", got)
	}
}

func TestService_GenerateAfterTask_CarriesListsForward(t *testing.T) {
	svc, _, repo, rootDir := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	_, err := svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Content: map[string]interface{}{
			"summary":   "hand written",
			"decisions": []interface{}{"use URP"},
		},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := svc.GenerateAfterTask(ctx, "p1", "t1"); err != nil {
		t.Fatalf("GenerateAfterTask failed: %v", err)
	}

	active, err := repo.GetActiveContext(ctx, "p1", models.ContextScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetActiveContext failed: %v", err)
	}
	if active.Version != 2 {
		t.Errorf("expected version 2, got %d", active.Version)
	}
	decisions, _ := active.Content["decisions"].([]interface{})
	if len(decisions) != 1 || decisions[0] != "use URP" {
		t.Errorf("expected decisions carried forward, got %v", active.Content["decisions"])
	}

	if _, err := os.Stat(filepath.Join(rootDir, "p1", "context", "history", "context_v2.json")); err != nil {
		t.Errorf("v2 history snapshot missing: %v", err)
	}
}

func TestService_GenerateAfterTask_AgentPath(t *testing.T) {
	svc, _, repo, _ := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	asker := &fakeAsker{out: "Here is the context:\n```json\n" +
		`{"summary": "agent wrote this", "version": 99, "done_tasks": ["T-001"]}` + "\n```"}
	svc.SetAsker(asker)

	if err := svc.GenerateAfterTask(ctx, "p1", "t1"); err != nil {
		t.Fatalf("GenerateAfterTask failed: %v", err)
	}
	if asker.calls != 1 {
		t.Fatalf("expected 1 agent call, got %d", asker.calls)
	}
	if !strings.Contains(asker.lastPrompt, "T-001") || !strings.Contains(asker.lastPrompt, "single JSON object") {
		t.Errorf("unexpected prompt: %q", asker.lastPrompt)
	}

	active, err := repo.GetActiveContext(ctx, "p1", models.ContextScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetActiveContext failed: %v", err)
	}
	if active.Source != "ai" {
		t.Errorf("expected ai source, got %s", active.Source)
	}
	if active.Content["summary"] != "agent wrote this" {
		t.Errorf("summary = %v", active.Content["summary"])
	}
	// The stored version wins over whatever the agent claimed.
	if active.Content["version"] != float64(1) {
		t.Errorf("version = %v, want 1", active.Content["version"])
	}
}

func TestService_GenerateAfterTask_MalformedAgentOutputFallsBack(t *testing.T) {
	svc, _, repo, _ := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	svc.SetAsker(&fakeAsker{out: "I could not produce the document, sorry."})

	if err := svc.GenerateAfterTask(ctx, "p1", "t1"); err != nil {
		t.Fatalf("GenerateAfterTask failed: %v", err)
	}

	active, err := repo.GetActiveContext(ctx, "p1", models.ContextScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetActiveContext failed: %v", err)
	}
	if active.Source != "heuristic" {
		t.Errorf("expected heuristic fallback, got %s", active.Source)
	}
}

func TestService_SaveAndRollback_VersionsKeepClimbing(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	v1, err := svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Content:   map[string]interface{}{"summary": "one"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	v2, err := svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Content:   map[string]interface{}{"summary": "two"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("expected versions 1 and 2, got %d and %d", v1.Version, v2.Version)
	}

	rolled, err := svc.Rollback(ctx, v1.ID)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rolled.Version != 1 {
		t.Errorf("expected version 1 active, got %d", rolled.Version)
	}
	active, err := repo.GetActiveContext(ctx, "p1", models.ContextScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetActiveContext failed: %v", err)
	}
	if active.ID != v1.ID {
		t.Errorf("expected v1 active after rollback, got %s", active.ID)
	}

	snapshot := readJSONFile(t, filepath.Join(rootDir, "p1", "context", "active_context.json"))
	if snapshot["summary"] != "one" {
		t.Errorf("expected snapshot refreshed from v1, got %v", snapshot["summary"])
	}

	// A save after a rollback continues above the historical maximum.
	v3, err := svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Content:   map[string]interface{}{"summary": "three"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if v3.Version != 3 {
		t.Errorf("expected version 3, got %d", v3.Version)
	}

	if got := eventBus.countOfType(events.ContextUpdated); got != 4 {
		t.Errorf("expected 4 context.updated events, got %d", got)
	}
}

func TestService_Save_Validation(t *testing.T) {
	svc, _, repo, _ := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	_, err := svc.Save(ctx, &SaveContextRequest{ProjectID: "p1"})
	if !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Errorf("expected schema violation for empty content, got %v", err)
	}

	_, err = svc.Save(ctx, &SaveContextRequest{
		ProjectID: "ghost",
		Content:   map[string]interface{}{"summary": "x"},
	})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not found for unknown project, got %v", err)
	}
}

func TestService_PrefixInputs(t *testing.T) {
	svc, _, repo, _ := newTestService(t)
	ctx := context.Background()
	seedProjectWithTasks(t, repo)

	inputs, err := svc.PrefixInputs(ctx, "p1")
	if err != nil {
		t.Fatalf("PrefixInputs failed: %v", err)
	}
	if inputs != nil {
		t.Fatalf("expected nil inputs without context or current task, got %+v", inputs)
	}

	_, err = svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Content:   map[string]interface{}{"summary": "global doc"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	taskID := "t2"
	if err := repo.SetCurrentTask(ctx, "p1", &taskID); err != nil {
		t.Fatalf("SetCurrentTask failed: %v", err)
	}
	_, err = svc.Save(ctx, &SaveContextRequest{
		ProjectID: "p1",
		Scope:     models.ContextScopeTask,
		TaskID:    "t2",
		Content:   map[string]interface{}{"notes": "watch the scale"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	inputs, err = svc.PrefixInputs(ctx, "p1")
	if err != nil {
		t.Fatalf("PrefixInputs failed: %v", err)
	}
	if inputs == nil {
		t.Fatal("expected inputs")
	}
	if !strings.Contains(inputs.GlobalContext, "global doc") {
		t.Errorf("GlobalContext = %q", inputs.GlobalContext)
	}
	if !strings.Contains(inputs.TaskMeta, "T-002 Second") {
		t.Errorf("TaskMeta = %q", inputs.TaskMeta)
	}
	if !strings.Contains(inputs.TaskContext, "watch the scale") {
		t.Errorf("TaskContext = %q", inputs.TaskContext)
	}
}
