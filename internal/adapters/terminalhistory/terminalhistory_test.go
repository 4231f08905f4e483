package terminalhistory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/cerrors"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE queries (id INTEGER PRIMARY KEY, text TEXT, working_dir TEXT, created_at TIMESTAMP)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE conversations (id INTEGER PRIMARY KEY, payload TEXT, created_at TIMESTAMP)`)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = db.Exec(`INSERT INTO queries (id, text, working_dir, created_at) VALUES (?, ?, ?, ?)`,
		1, "how do I rebase onto main", "/home/u/proj", now)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO conversations (id, payload, created_at) VALUES (?, ?, ?)`,
		10, `{"query": "explain git bisect"}`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO conversations (id, payload, created_at) VALUES (?, ?, ?)`,
		11, `[{"type":"Query","text":"list failing tests"},{"type":"ActionResult","command":"go test ./...","output":"FAIL pkg/x"}]`, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO conversations (id, payload, created_at) VALUES (?, ?, ?)`,
		12, `{"unrelated": true}`, now)
	require.NoError(t, err)

	return path
}

func TestQueryNormalizesBothPayloadShapes(t *testing.T) {
	path := seedStore(t)
	a := New([]string{path})

	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.True(t, stats.Available)
	assert.Zero(t, stats.ErrorCount)

	// One flat query row, two parseable conversation payloads; the
	// unrecognized payload shape is dropped silently.
	require.Len(t, recs, 3)

	byContent := make(map[string]bool)
	for _, r := range recs {
		byContent[r.Content] = true
		assert.Equal(t, "terminal-history", r.Source)
		assert.InDelta(t, 0.75, r.SourcePriority, 1e-9)
		assert.NotEmpty(t, r.Summary)
		assert.Contains(t, r.ID, "warp-sqlite:")
	}
	assert.True(t, byContent["how do I rebase onto main"])
	assert.True(t, byContent["explain git bisect"])
	assert.True(t, byContent["list failing tests\n\n$ go test ./...\nFAIL pkg/x"])
}

func TestQueryAggregatesAcrossStorePaths(t *testing.T) {
	a := New([]string{seedStore(t), seedStore(t)})

	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.True(t, stats.Available)
	assert.Len(t, recs, 6)
	assert.Equal(t, len(recs), stats.TotalRecords)
}

func TestQueryLimitTruncates(t *testing.T) {
	a := New([]string{seedStore(t)})

	recs, _ := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{Limit: 2})
	assert.Len(t, recs, 2)
}

func TestMissingStoreStillServesOthers(t *testing.T) {
	good := seedStore(t)
	a := New([]string{filepath.Join(t.TempDir(), "absent", "nope.sqlite"), good})

	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.True(t, stats.Available)
	assert.Len(t, recs, 3)
}

func TestWriteIsRejected(t *testing.T) {
	a := New(nil)
	err := a.Write(context.Background(), adapters.WriteOp{Kind: "create"})
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindAdapterError))
}
