package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonsqlite "github.com/agpstudio/agp/internal/common/sqlite"
	"github.com/agpstudio/agp/internal/db"
	"github.com/agpstudio/agp/internal/project/models"
)

func TestSchemaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agp.db")

	repo, err := New("sqlite3", path, "")
	require.NoError(t, err)
	seedProject(t, repo, "p")
	require.NoError(t, repo.Close())

	// Reopening runs initSchema and the migrations a second time; both
	// must be harmless and the data must still be there.
	repo, err = New("sqlite3", path, "")
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	project, err := repo.GetProject(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "p", project.Name)
}

func TestSchemaMigratedColumnsExist(t *testing.T) {
	pool, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "agp.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	_, err = NewWithPool(pool)
	require.NoError(t, err)

	for _, col := range []struct{ table, column string }{
		{"projects", "current_task_id"},
		{"chat_messages", "task_id"},
		{"agent_sessions", "summary_text"},
		{"artifacts", "size_bytes"},
	} {
		exists, err := commonsqlite.ColumnExists(pool.Writer(), col.table, col.column)
		require.NoError(t, err)
		assert.True(t, exists, "%s.%s", col.table, col.column)
	}
}

func TestTaskCodeUniquePerProject(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedProject(t, repo, "a")
	seedProject(t, repo, "b")

	require.NoError(t, repo.CreateTask(ctx, &models.Task{ProjectID: "a", Code: "T-001", Title: "x"}))
	// Same code in another project is fine.
	require.NoError(t, repo.CreateTask(ctx, &models.Task{ProjectID: "b", Code: "T-001", Title: "y"}))
	// Same code in the same project is not.
	err := repo.CreateTask(ctx, &models.Task{ProjectID: "a", Code: "T-001", Title: "dup"})
	require.Error(t, err)
}
