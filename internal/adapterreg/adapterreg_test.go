package adapterreg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/record"
)

// fakeAdapter is a minimal adapters.Adapter for registry tests.
type fakeAdapter struct {
	name     string
	priority float64
	timeout  time.Duration
	enabled  bool
	delay    time.Duration
	fail     bool
	recs     []*record.MemoryRecord
}

func (f *fakeAdapter) Name() string           { return f.name }
func (f *fakeAdapter) Priority() float64      { return f.priority }
func (f *fakeAdapter) Timeout() time.Duration { return f.timeout }
func (f *fakeAdapter) Enabled() bool          { return f.enabled }
func (f *fakeAdapter) SetEnabled(v bool)      { f.enabled = v }
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool { return !f.fail }

func (f *fakeAdapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.fail {
		return nil, adapters.Stats{Name: f.name, Available: false, ErrorCount: 1, Error: "boom"}
	}
	return f.recs, adapters.Stats{Name: f.name, Available: true, TotalRecords: len(f.recs)}
}

func TestGetEnabledSortsByPriority(t *testing.T) {
	r := New(nil)
	r.Register(&fakeAdapter{name: "low", priority: 0.2, enabled: true, timeout: time.Second})
	r.Register(&fakeAdapter{name: "high", priority: 0.9, enabled: true, timeout: time.Second})
	r.Register(&fakeAdapter{name: "off", priority: 0.99, enabled: false, timeout: time.Second})

	got := r.GetEnabled()
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Name())
	assert.Equal(t, "low", got[1].Name())
}

func TestQueryAllIsolatesFailure(t *testing.T) {
	r := New(nil)
	okRec := &record.MemoryRecord{ID: "a:1"}
	r.Register(&fakeAdapter{name: "ok", priority: 1, enabled: true, timeout: time.Second, recs: []*record.MemoryRecord{okRec}})
	r.Register(&fakeAdapter{name: "bad", priority: 1, enabled: true, timeout: time.Second, fail: true})

	result := r.QueryAll(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.Len(t, result.Results, 1)
	assert.Equal(t, "a:1", result.Results[0].ID)

	require.Contains(t, result.Stats, "ok")
	require.Contains(t, result.Stats, "bad")
	assert.True(t, result.Stats["ok"].Available)
	assert.False(t, result.Stats["bad"].Available)
	assert.Equal(t, 1, result.Stats["bad"].ErrorCount)
}

func TestQueryAllTimesOutSlowAdapter(t *testing.T) {
	r := New(nil)
	r.Register(&fakeAdapter{name: "slow", priority: 1, enabled: true, timeout: 10 * time.Millisecond, delay: 200 * time.Millisecond})
	r.Register(&fakeAdapter{name: "fast", priority: 1, enabled: true, timeout: time.Second, recs: []*record.MemoryRecord{{ID: "f:1"}}})

	start := time.Now()
	result := r.QueryAll(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond, "slow adapter's timeout must not block the batch")
	require.Len(t, result.Results, 1)
	assert.Equal(t, "f:1", result.Results[0].ID)
	assert.False(t, result.Stats["slow"].Available)
}
