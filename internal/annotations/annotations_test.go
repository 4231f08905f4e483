package annotations

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndListByTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodic.jsonl")
	s := New(path, nil)
	require.NoError(t, s.Load())

	now := time.Now()
	a1, err := s.Create(CreateInput{TargetID: "conv-1", TargetType: TargetConversation, Kind: KindNote, Content: "good context", Now: now})
	require.NoError(t, err)
	_, err = s.Create(CreateInput{TargetID: "conv-2", TargetType: TargetConversation, Kind: KindTag, Content: "unrelated", Now: now})
	require.NoError(t, err)

	got := s.ListByTarget("conv-1")
	require.Len(t, got, 1)
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, "good context", got[0].Content)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodic.jsonl")
	s := New(path, nil)
	require.NoError(t, s.Load())

	_, err := s.Get("ann:does-not-exist")
	assert.Error(t, err)
}

func TestSoftDeleteExcludesFromListByTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodic.jsonl")
	s := New(path, nil)
	require.NoError(t, s.Load())

	now := time.Now()
	a, err := s.Create(CreateInput{TargetID: "msg-1", TargetType: TargetMessage, Kind: KindHighlight, Content: "important", Now: now})
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(a.ID, now.Add(time.Minute)))
	assert.Empty(t, s.ListByTarget("msg-1"))
}

func TestLoadRoundTripsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodic.jsonl")
	s := New(path, nil)
	require.NoError(t, s.Load())
	now := time.Now()
	_, err := s.Create(CreateInput{TargetID: "conv-1", TargetType: TargetConversation, Kind: KindCorrection, Content: "actually use X", Now: now})
	require.NoError(t, err)

	reloaded := New(path, nil)
	require.NoError(t, reloaded.Load())
	got := reloaded.ListByTarget("conv-1")
	require.Len(t, got, 1)
	assert.Equal(t, "actually use X", got[0].Content)
}
