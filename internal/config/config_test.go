package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := New(Options{
		CurrentPath: filepath.Join(dir, "current.json"),
		HistoryDir:  filepath.Join(dir, "history"),
		MaxHistory:  3,
	})
	require.NoError(t, m.Load())
	return m
}

func TestLoadMissingFallsBackToDefaults(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, 5, m.Get("sessionStart.slots.maxTotal", nil))
}

func TestSetValidatesRange(t *testing.T) {
	m := newTestManager(t)
	err := m.Set("sessionStart.slots.maxTotal", 100, "test")
	assert.Error(t, err)

	require.NoError(t, m.Set("sessionStart.slots.maxTotal", 10, "test"))
	assert.Equal(t, 10, m.Get("sessionStart.slots.maxTotal", nil))
}

func TestSetSnapshotsHistory(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Set("sessionStart.slots.maxTotal", 8, "bump"))
	require.NoError(t, m.Set("sessionStart.slots.maxTotal", 9, "bump again"))

	hist, err := m.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "bump again", hist[0].Reason)
}

func TestHistoryPruning(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set("sessionStart.slots.maxTotal", 2+i, "step"))
	}
	hist, err := m.GetHistory(100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hist), 3)
}

func TestRollback(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Set("sessionStart.slots.maxTotal", 7, "first"))

	hist, err := m.GetHistory(10)
	require.NoError(t, err)
	require.NotEmpty(t, hist)

	require.NoError(t, m.Set("sessionStart.slots.maxTotal", 12, "second"))
	require.NoError(t, m.Rollback(hist[0].ID))

	assert.NotEqual(t, 12, m.Get("sessionStart.slots.maxTotal", nil))
}

func TestUpdateDeepMerges(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Update(map[string]any{
		"vectorSearch": map[string]any{"minScore": 0.2},
	}, "tune"))

	assert.Equal(t, 0.2, m.Get("vectorSearch.minScore", nil))
	assert.Equal(t, 0.6, m.Get("vectorSearch.vectorWeight", nil))
}

func TestResetRestoresDefaults(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Set("storage.maxSizeMB", 500, "grow"))
	require.NoError(t, m.Reset("undo"))
	assert.Equal(t, 200, m.Get("storage.maxSizeMB", nil))
}
