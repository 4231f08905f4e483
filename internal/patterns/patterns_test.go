package patterns

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "decisions.jsonl"), filepath.Join(dir, "outcomes.jsonl"), nil)
}

func TestRecordDecisionIsPendingUntilOutcome(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.Load())

	now := time.Now()
	d, err := tr.RecordDecision(RecordDecisionInput{
		SessionID: "s1", DecisionType: "library-choice", Context: "needed a retry policy",
		Choice: "cenkalti/backoff", Alternatives: []string{"hand-rolled loop"}, Confidence: 0.8, Now: now,
	})
	require.NoError(t, err)

	pending := tr.PendingDecisions()
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].ID)

	useful := true
	require.NoError(t, tr.RecordOutcome(d.ID, &useful, map[string]any{"retries_saved": 3}, now.Add(time.Hour)))
	assert.Empty(t, tr.PendingDecisions())

	got, err := tr.Get(d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.True(t, *got.Outcome.Useful)
}

func TestOutcomeJoinSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	dpath := filepath.Join(dir, "decisions.jsonl")
	opath := filepath.Join(dir, "outcomes.jsonl")

	tr := New(dpath, opath, nil)
	require.NoError(t, tr.Load())

	now := time.Now()
	d, err := tr.RecordDecision(RecordDecisionInput{SessionID: "s1", Choice: "a", Now: now})
	require.NoError(t, err)
	useful := false
	require.NoError(t, tr.RecordOutcome(d.ID, &useful, nil, now.Add(time.Minute)))

	reloaded := New(dpath, opath, nil)
	require.NoError(t, reloaded.Load())
	got, err := reloaded.Get(d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.False(t, *got.Outcome.Useful)
	assert.Empty(t, reloaded.PendingDecisions())
}

func TestRecordOutcomeUnknownDecisionErrors(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.Load())

	err := tr.RecordOutcome("decision:nope", nil, nil, time.Now())
	assert.Error(t, err)
}

func TestBySessionFiltersCorrectly(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.Load())

	now := time.Now()
	_, err := tr.RecordDecision(RecordDecisionInput{SessionID: "s1", Choice: "a", Now: now})
	require.NoError(t, err)
	_, err = tr.RecordDecision(RecordDecisionInput{SessionID: "s2", Choice: "b", Now: now})
	require.NoError(t, err)

	got := tr.BySession("s1")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Choice)
}
