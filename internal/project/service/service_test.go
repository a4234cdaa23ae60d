package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
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
	"github.com/agpstudio/agp/internal/supervisor"
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

func (m *MockEventBus) eventsOfType(eventType string) []*bus.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*bus.Event
	for _, e := range m.published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type seqCall struct {
	projectID  string
	projectDir string
}

type fakeSequencer struct {
	mu     sync.Mutex
	calls  []seqCall
	report *supervisor.SequenceReport
	err    error
}

func (f *fakeSequencer) StartSequence(ctx context.Context, projectID, projectDir string) (*supervisor.SequenceReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, seqCall{projectID: projectID, projectDir: projectDir})
	if f.report != nil {
		return f.report, f.err
	}
	return &supervisor.SequenceReport{ProjectID: projectID}, f.err
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

func TestService_CreateProject(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Space Shooter!"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.ID != "space-shooter" {
		t.Errorf("expected slug space-shooter, got %s", project.ID)
	}
	if project.Path != "space-shooter" {
		t.Errorf("expected path space-shooter, got %s", project.Path)
	}

	for _, sub := range []string{".agp", "context", "logs", "artifacts"} {
		if _, err := os.Stat(filepath.Join(rootDir, "space-shooter", sub)); err != nil {
			t.Errorf("skeleton dir %s missing: %v", sub, err)
		}
	}
	raw, err := os.ReadFile(filepath.Join(rootDir, "space-shooter", ".agp", "project.json"))
	if err != nil {
		t.Fatalf("project marker missing: %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("project marker is not JSON: %v", err)
	}
	if meta["id"] != "space-shooter" || meta["name"] != "Space Shooter!" {
		t.Errorf("unexpected marker contents: %v", meta)
	}

	stored, err := repo.GetProject(ctx, "space-shooter")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if stored.Name != "Space Shooter!" {
		t.Errorf("expected stored name, got %s", stored.Name)
	}

	created := eventBus.eventsOfType(events.ProjectCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 project.created event, got %d", len(created))
	}
	data, _ := created[0].Data.(map[string]interface{})
	if data["projectId"] != "space-shooter" {
		t.Errorf("event missing projectId: %v", data)
	}
}

func TestService_CreateProject_SlugCollisions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	want := []string{"robot-game", "robot-game-1", "robot-game-2"}
	for _, expected := range want {
		project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Robot Game"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if project.ID != expected {
			t.Errorf("expected slug %s, got %s", expected, project.ID)
		}
	}
}

func TestService_CreateProject_ReservedSlug(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	// "active" is claimed by the HTTP surface, so the first project
	// named Active starts at the -1 suffix.
	project, err := svc.Create(context.Background(), &CreateProjectRequest{Name: "Active"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.ID != "active-1" {
		t.Errorf("expected slug active-1, got %s", project.ID)
	}
}

func TestService_CreateProject_EmptyName(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), &CreateProjectRequest{Name: "   "})
	if !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

// failingRepo delegates to a real repository but fails the row insert, to
// exercise the directory rollback.
type failingRepo struct {
	Repo
	createErr error
}

func (f *failingRepo) CreateProject(ctx context.Context, project *models.Project) error {
	return f.createErr
}

func TestService_CreateProject_RollsBackDirectory(t *testing.T) {
	_, eventBus, repo, rootDir := newTestService(t)
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	svc := NewService(&failingRepo{Repo: repo, createErr: errors.New("disk full")}, eventBus, log, rootDir)

	_, err := svc.Create(context.Background(), &CreateProjectRequest{Name: "Doomed"})
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected insert error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(rootDir, "doomed")); !os.IsNotExist(statErr) {
		t.Errorf("expected project directory rolled back, stat err: %v", statErr)
	}
	if got := eventBus.eventsOfType(events.ProjectCreated); len(got) != 0 {
		t.Errorf("expected no project.created event, got %d", len(got))
	}
}

func TestService_Activate(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()
	seq := &fakeSequencer{}
	svc.SetSequencer(seq)

	first, err := svc.Create(ctx, &CreateProjectRequest{Name: "First"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, &CreateProjectRequest{Name: "Second"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.Activate(ctx, first.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	result, err := svc.Activate(ctx, second.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if result.Sequence == nil {
		t.Fatal("expected a sequence report")
	}

	active, err := repo.GetActiveProject(ctx)
	if err != nil {
		t.Fatalf("GetActiveProject failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("expected active project %s, got %s", second.ID, active.ID)
	}
	stale, err := repo.GetProject(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if stale.Active {
		t.Error("expected first project deactivated")
	}

	if len(seq.calls) != 2 {
		t.Fatalf("expected 2 sequencer calls, got %d", len(seq.calls))
	}
	wantDir := filepath.Join(rootDir, second.Path)
	if seq.calls[1].projectDir != wantDir {
		t.Errorf("expected sequence dir %s, got %s", wantDir, seq.calls[1].projectDir)
	}

	if got := eventBus.eventsOfType(events.ProjectActivated); len(got) != 2 {
		t.Errorf("expected 2 activation events, got %d", len(got))
	}
}

func TestService_Activate_SequenceFailureKeepsActivation(t *testing.T) {
	svc, _, repo, _ := newTestService(t)
	ctx := context.Background()
	seq := &fakeSequencer{
		report: &supervisor.SequenceReport{Steps: []supervisor.StepResult{{Name: "engine", Error: "port busy"}}},
		err:    errors.New("engine failed to start"),
	}
	svc.SetSequencer(seq)

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Flaky"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := svc.Activate(ctx, project.ID)
	if err != nil {
		t.Fatalf("expected activation to survive a failed sequence, got %v", err)
	}
	if len(result.Sequence.Steps) != 1 || result.Sequence.Steps[0].Error != "port busy" {
		t.Errorf("expected failing step in report, got %+v", result.Sequence)
	}

	active, err := repo.GetActiveProject(ctx)
	if err != nil {
		t.Fatalf("GetActiveProject failed: %v", err)
	}
	if active.ID != project.ID {
		t.Errorf("expected project still active, got %s", active.ID)
	}
}

func TestService_Activate_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Activate(context.Background(), "ghost")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_Rename(t *testing.T) {
	svc, eventBus, _, _ := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Old Name"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	renamed, err := svc.Rename(ctx, project.ID, "New Name")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if renamed.Name != "New Name" {
		t.Errorf("expected new name, got %s", renamed.Name)
	}
	if renamed.ID != "old-name" {
		t.Errorf("expected slug unchanged, got %s", renamed.ID)
	}

	if _, err := svc.Rename(ctx, project.ID, ""); !apperr.IsKind(err, apperr.KindSchemaViolation) {
		t.Errorf("expected schema violation for empty name, got %v", err)
	}
	if got := eventBus.eventsOfType(events.ProjectUpdated); len(got) != 1 {
		t.Errorf("expected 1 update event, got %d", len(got))
	}
}

func TestService_Delete_Purge(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Short Lived"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, project.ID, true); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := repo.GetProject(ctx, project.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected row gone, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(rootDir, project.Path)); !os.IsNotExist(statErr) {
		t.Errorf("expected directory purged, stat err: %v", statErr)
	}

	deleted := eventBus.eventsOfType(events.ProjectDeleted)
	if len(deleted) != 1 {
		t.Fatalf("expected 1 delete event, got %d", len(deleted))
	}
	data, _ := deleted[0].Data.(map[string]interface{})
	if data["purged"] != true {
		t.Errorf("expected purged=true in event, got %v", data)
	}
}

func TestService_Delete_KeepsDiskWithoutPurge(t *testing.T) {
	svc, _, _, rootDir := newTestService(t)
	ctx := context.Background()

	project, err := svc.Create(ctx, &CreateProjectRequest{Name: "Keep Me"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, project.ID, false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(rootDir, project.Path)); statErr != nil {
		t.Errorf("expected directory kept: %v", statErr)
	}
}

func TestService_Delete_RefusesEscapingPath(t *testing.T) {
	svc, eventBus, repo, rootDir := newTestService(t)
	ctx := context.Background()

	outside := filepath.Dir(rootDir)
	project := &models.Project{ID: "escapee", Name: "Escapee", Path: ".."}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := svc.Delete(ctx, "escapee", true); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, statErr := os.Stat(outside); statErr != nil {
		t.Errorf("parent of the projects root must survive a purge: %v", statErr)
	}

	deleted := eventBus.eventsOfType(events.ProjectDeleted)
	if len(deleted) != 1 {
		t.Fatalf("expected 1 delete event, got %d", len(deleted))
	}
	data, _ := deleted[0].Data.(map[string]interface{})
	if data["purged"] != false {
		t.Errorf("expected purged=false for escaping path, got %v", data)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Space Shooter", "space-shooter"},
		{"  My   Game!! ", "my-game"},
		{"ALL-CAPS-42", "all-caps-42"},
		{"déjà vu", "d-j-vu"},
		{"***", "project"},
		{"", "project"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
