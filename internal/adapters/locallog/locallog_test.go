package locallog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/logstore"
	"github.com/cortex-memory/cortex/internal/record"
)

func newStoreWith(t *testing.T, recs ...*record.MemoryRecord) *logstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tier.jsonl")
	s := logstore.New(path, nil)
	require.NoError(t, s.Load())
	for _, r := range recs {
		require.NoError(t, s.Append(r))
	}
	return s
}

func TestQueryFiltersByProjectAndNormalizes(t *testing.T) {
	proj := "abc123def456"
	other := "zzz999zzz999"
	now := time.Now()

	global := &record.MemoryRecord{ID: "g1", Content: "global", Status: record.StatusActive, CreatedAt: now, UpdatedAt: now, SourceTimestamp: now}
	mine := &record.MemoryRecord{ID: "p1", Content: "mine", ProjectHash: &proj, Status: record.StatusActive, CreatedAt: now, UpdatedAt: now, SourceTimestamp: now}
	theirs := &record.MemoryRecord{ID: "p2", Content: "theirs", ProjectHash: &other, Status: record.StatusActive, CreatedAt: now, UpdatedAt: now, SourceTimestamp: now}

	store := newStoreWith(t, global, mine, theirs)
	a := New([]TierSource{{Name: "working", Store: store}})

	recs, stats := a.Query(context.Background(), adapters.QueryContext{ProjectHash: proj}, adapters.QueryOptions{})
	assert.True(t, stats.Available)
	ids := map[string]bool{}
	for _, r := range recs {
		ids[r.ID] = true
		assert.Equal(t, "local-log", r.Source)
		assert.Equal(t, 1.0, r.SourcePriority)
	}
	assert.True(t, ids["g1"])
	assert.True(t, ids["p1"])
	assert.False(t, ids["p2"])
}

func TestQueryRespectsMaxAge(t *testing.T) {
	old := &record.MemoryRecord{ID: "old", Content: "old", Status: record.StatusActive, SourceTimestamp: time.Now().Add(-48 * time.Hour), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	fresh := &record.MemoryRecord{ID: "fresh", Content: "fresh", Status: record.StatusActive, SourceTimestamp: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}

	store := newStoreWith(t, old, fresh)
	a := New([]TierSource{{Name: "working", Store: store, MaxAge: 24 * time.Hour}})

	recs, _ := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].ID)
}

func TestQueryRespectsLimit(t *testing.T) {
	now := time.Now()
	var recs []*record.MemoryRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, &record.MemoryRecord{ID: string(rune('a' + i)), Content: "x", Status: record.StatusActive, CreatedAt: now, UpdatedAt: now, SourceTimestamp: now})
	}
	store := newStoreWith(t, recs...)
	a := New([]TierSource{{Name: "working", Store: store}})

	got, _ := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{Limit: 2})
	assert.Len(t, got, 2)
}

func TestIsAvailableAlwaysTrue(t *testing.T) {
	a := New(nil)
	assert.True(t, a.IsAvailable(context.Background()))
}
