package tasks

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aistack/plugin-registry/pkg/lifecycle"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func testSources(names ...string) []lifecycle.Source {
	sources := make([]lifecycle.Source, 0, len(names))
	for _, n := range names {
		sources = append(sources, lifecycle.Source{Path: "/packages/" + n + ".tgz"})
	}
	return sources
}

func TestCreateTask(t *testing.T) {
	store := setupTestStore(t)

	task, err := store.Create("t1", testSources("p1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, task.State)
	assert.Equal(t, 2, task.TotalPlugins)
	assert.Zero(t, task.CompletedPlugins)
	assert.False(t, task.IsTerminal())

	sources, err := task.SourceList()
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "/packages/p1.tgz", sources[0].Path)
}

func TestCreateEmptyBatchRejected(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Create("t1", nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestClaimNextOldestFirst(t *testing.T) {
	store := setupTestStore(t)

	first, err := store.Create("t1", testSources("p1"))
	require.NoError(t, err)
	require.NoError(t, store.db.Model(&InstallTask{}).
		Where("id = ?", first.ID).
		Update("created_at", time.Now().Add(-time.Minute)).Error)
	_, err = store.Create("t1", testSources("p2"))
	require.NoError(t, err)

	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, TaskStateInProgress, claimed.State)
}

func TestClaimNextEmptyQueue(t *testing.T) {
	store := setupTestStore(t)
	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestProgressAndComplete(t *testing.T) {
	store := setupTestStore(t)
	task, err := store.Create("t1", testSources("p1", "p2"))
	require.NoError(t, err)

	require.NoError(t, store.IncrementCompleted(task.ID))
	require.NoError(t, store.IncrementCompleted(task.ID))
	require.NoError(t, store.Complete(task.ID))

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, got.State)
	assert.Equal(t, 2, got.CompletedPlugins)
	assert.True(t, got.IsTerminal())
	require.NotNil(t, got.FinishedAt)
}

func TestFailRecordsMessage(t *testing.T) {
	store := setupTestStore(t)
	task, err := store.Create("t1", testSources("p1"))
	require.NoError(t, err)

	require.NoError(t, store.Fail(task.ID, "package p1: malformed"))
	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "p1")
}

func TestGetUnknownTask(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResetStuck(t *testing.T) {
	store := setupTestStore(t)
	task, err := store.Create("t1", testSources("p1", "p2"))
	require.NoError(t, err)

	claimed, err := store.ClaimNext()
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
	require.NoError(t, store.IncrementCompleted(task.ID))
	require.NoError(t, store.db.Model(&InstallTask{}).
		Where("id = ?", task.ID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	recovered, err := store.ResetStuck(10 * time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, recovered)

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, got.State)
	// Progress survives recovery.
	assert.Equal(t, 1, got.CompletedPlugins)
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestStore(t)
	task, err := store.Create("t1", testSources("p1"))
	require.NoError(t, err)
	require.NoError(t, store.Complete(task.ID))
	require.NoError(t, store.db.Model(&InstallTask{}).
		Where("id = ?", task.ID).
		Update("finished_at", time.Now().Add(-48*time.Hour)).Error)

	deleted, err := store.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListForTenant(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Create("t1", testSources("p1"))
	require.NoError(t, err)
	_, err = store.Create("t2", testSources("p2"))
	require.NoError(t, err)

	records, err := store.ListForTenant("t1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].TenantID)
}
