package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

func seedTask(t *testing.T, repo *Repository, task *models.Task) *models.Task {
	t.Helper()
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestRepository_NextAvailableTaskOrdering(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-001", Title: "A", Priority: 2, Idx: 0,
		Estimates: map[string]interface{}{"storyPoints": 3}})
	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-002", Title: "B", Priority: 1, Idx: 1,
		Estimates: map[string]interface{}{"storyPoints": 2}})
	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-003", Title: "C", Priority: 1, Idx: 2,
		Estimates: map[string]interface{}{"storyPoints": 5}})

	// Priority 1 beats priority 2; within priority 1 the larger estimate
	// goes first.
	next, err := repo.NextAvailableTask(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "T-003", next.Code)

	require.NoError(t, repo.SetTaskStatus(ctx, next.ID, models.TaskStatusDone))
	next, err = repo.NextAvailableTask(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "T-002", next.Code)
}

func TestRepository_NextAvailableTaskHonorsDeps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	base := seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-001", Title: "base", Priority: 3})
	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-002", Title: "mid", Priority: 2, Deps: []string{"T-001"}})
	// Highest priority but blocked on T-002.
	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-003", Title: "top", Priority: 1, Deps: []string{"T-002"}})

	next, err := repo.NextAvailableTask(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "T-001", next.Code)

	require.NoError(t, repo.SetTaskStatus(ctx, base.ID, models.TaskStatusDone))
	next, err = repo.NextAvailableTask(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "T-002", next.Code)
}

func TestRepository_NextAvailableTaskNoneRunnable(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	task := seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-001", Title: "only"})
	require.NoError(t, repo.SetTaskStatus(ctx, task.ID, models.TaskStatusDone))

	_, err := repo.NextAvailableTask(ctx, "p")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRepository_SetTaskStatusStamps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")
	task := seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-001", Title: "work"})

	require.NoError(t, repo.SetTaskStatus(ctx, task.ID, models.TaskStatusInProgress))
	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	started := *got.StartedAt
	assert.Nil(t, got.CompletedAt)

	// Re-entering in_progress must not move the original start stamp.
	require.NoError(t, repo.SetTaskStatus(ctx, task.ID, models.TaskStatusBlocked))
	require.NoError(t, repo.SetTaskStatus(ctx, task.ID, models.TaskStatusInProgress))
	got, err = repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, started, *got.StartedAt)

	require.NoError(t, repo.SetTaskStatus(ctx, task.ID, models.TaskStatusDone))
	got, err = repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, models.TaskStatusDone, got.Status)
}

func TestRepository_TaskRoundTripPreservesLists(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	seedTask(t, repo, &models.Task{
		ProjectID:    "p",
		Code:         "T-001",
		Title:        "model the ship",
		Deps:         []string{"T-000"},
		MCPTools:     []string{"blender.create_mesh", "blender.export_fbx"},
		Deliverables: []string{"ship.fbx"},
		Estimates:    map[string]interface{}{"storyPoints": 2.5},
	})

	got, err := repo.GetTaskByCode(ctx, "p", "T-001")
	require.NoError(t, err)
	assert.Equal(t, []string{"T-000"}, got.Deps)
	assert.Equal(t, []string{"blender.create_mesh", "blender.export_fbx"}, got.MCPTools)
	assert.Equal(t, []string{"ship.fbx"}, got.Deliverables)
	assert.Equal(t, 2.5, got.StoryPoints())
}

func TestRepository_CountTasks(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	a := seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-001", Title: "a"})
	seedTask(t, repo, &models.Task{ProjectID: "p", Code: "T-002", Title: "b"})
	require.NoError(t, repo.SetTaskStatus(ctx, a.ID, models.TaskStatusDone))

	total, done, err := repo.CountTasks(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, done)
}
