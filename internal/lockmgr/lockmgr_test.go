package lockmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/cerrors"
)

func TestTryAcquireThenBusy(t *testing.T) {
	dir := t.TempDir()
	m1 := New(dir, nil)
	m2 := New(dir, nil)

	require.NoError(t, m1.TryAcquire("working", "owner-1", time.Minute))
	err := m2.TryAcquire("working", "owner-2", time.Minute)
	assert.True(t, cerrors.IsKind(err, cerrors.KindLockTimeout))
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	m1 := New(dir, nil)
	m2 := New(dir, nil)

	require.NoError(t, m1.TryAcquire("working", "owner-1", time.Minute))
	require.NoError(t, m1.Release("working"))
	require.NoError(t, m2.TryAcquire("working", "owner-2", time.Minute))
}

func TestStaleLockReclaimedAfterTTLExpiry(t *testing.T) {
	dir := t.TempDir()
	m1 := New(dir, nil)
	m2 := New(dir, nil)

	require.NoError(t, m1.TryAcquire("working", "owner-1", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, m2.TryAcquire("working", "owner-2", time.Minute))
}

func TestWithLockReleasesAfterReturn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	m := New(dir, nil)

	err := m.WithLock("working", "owner-1", time.Minute, time.Second, 5*time.Millisecond, func() error {
		return nil
	})
	require.NoError(t, err)

	// Lock must be released after WithLock returns.
	require.NoError(t, m.TryAcquire("working", "owner-2", time.Minute))
}

func TestLockFileWireFormat(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)

	require.NoError(t, m.TryAcquire("write:working", "owner-1", 90*time.Second))

	data, err := os.ReadFile(filepath.Join(dir, "write-working.lock"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"resource", "owner", "pid", "hostname", "acquiredAt", "expiresAt", "ttlMs"} {
		assert.Contains(t, raw, field)
	}
	assert.Equal(t, float64(90_000), raw["ttlMs"])
	assert.Equal(t, "write:working", raw["resource"])
}
