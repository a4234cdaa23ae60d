package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

func TestRepository_CreatePlanAssignsVersionAndPositions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	first := &models.TaskPlan{ProjectID: "p", Summary: "first pass"}
	tasks := []*models.Task{
		{Code: "T-001", Title: "model"},
		{Code: "T-002", Title: "texture"},
	}
	require.NoError(t, repo.CreatePlan(ctx, first, tasks))
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, models.PlanStatusProposed, first.Status)

	second := &models.TaskPlan{ProjectID: "p", Summary: "revised"}
	require.NoError(t, repo.CreatePlan(ctx, second, nil))
	assert.Equal(t, 2, second.Version)

	planTasks, err := repo.ListTasksByPlan(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, planTasks, 2)
	assert.Equal(t, 0, planTasks[0].Idx)
	assert.Equal(t, 1, planTasks[1].Idx)
	assert.Equal(t, "p", planTasks[0].ProjectID)
	assert.Equal(t, first.ID, planTasks[0].PlanID)
}

func TestRepository_AcceptPlanSupersedesPrevious(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "p")

	v1 := &models.TaskPlan{ProjectID: "p"}
	require.NoError(t, repo.CreatePlan(ctx, v1, nil))
	require.NoError(t, repo.AcceptPlan(ctx, "p", v1.ID))

	v2 := &models.TaskPlan{ProjectID: "p"}
	require.NoError(t, repo.CreatePlan(ctx, v2, nil))
	require.NoError(t, repo.AcceptPlan(ctx, "p", v2.ID))

	plans, err := repo.ListPlans(ctx, "p")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, models.PlanStatusAccepted, plans[0].Status)
	assert.Equal(t, models.PlanStatusSuperseded, plans[1].Status)

	accepted, err := repo.GetAcceptedPlan(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, accepted.ID)

	project, err := repo.GetProject(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, project.ActivePlanID)
	assert.Equal(t, v2.ID, *project.ActivePlanID)
}

func TestRepository_AcceptPlanMissing(t *testing.T) {
	repo := newTestRepository(t)
	seedProject(t, repo, "p")

	err := repo.AcceptPlan(context.Background(), "p", "ghost")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
