// Package lockmgr implements the JSON-file lock manager: one lock
// file per resource, containing owner/pid/host/acquiredAt/expiresAt,
// written via temp+rename. Staleness detection combines TTL expiry
// with a PID-liveness probe on the local host.
package lockmgr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cortex-memory/cortex/internal/cerrors"
)

// lockInfo is the on-disk JSON shape of a lock file; external readers
// depend on these exact field names.
type lockInfo struct {
	Resource   string    `json:"resource"`
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Host       string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TTLMs      int64     `json:"ttlMs"`
}

// Manager mediates exclusive access to named resources backed by lock
// files under dir.
type Manager struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	owned map[string]*lockInfo // resources held by this process
}

// New constructs a Manager rooted at dir, created if missing.
func New(dir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{dir: dir, log: log, owned: make(map[string]*lockInfo)}
}

func (m *Manager) pathFor(resource string) string {
	return filepath.Join(m.dir, sanitize(resource)+".lock")
}

// sanitize maps a resource name to a safe file stem: anything outside
// [A-Za-z0-9._-] becomes '-'.
func sanitize(resource string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, resource)
}

// SweepStale scans the lock directory once and unlinks every lock
// whose holder is stale (expired TTL or dead local pid). Run at
// startup so locks orphaned by a crashed process don't force every
// later Acquire to wait out a poll cycle.
func (m *Manager) SweepStale() int {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		info, err := readLockFile(path)
		if err != nil {
			continue
		}
		if !isStale(info) {
			continue
		}
		if os.Remove(path) == nil {
			removed++
			m.log.Warn("lockmgr: removed stale lock",
				"resource", info.Resource, "owner", info.Owner, "pid", info.PID)
		}
	}
	return removed
}

// TryAcquire attempts to take resource's lock without blocking,
// returning cerrors.ErrLockBusy if another live owner holds it.
func (m *Manager) TryAcquire(resource, owner string, ttl time.Duration) error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	path := m.pathFor(resource)

	existing, err := readLockFile(path)
	if err == nil {
		if !isStale(existing) {
			return cerrors.New(cerrors.KindLockTimeout, cerrors.ErrLockBusy)
		}
		m.log.Warn("lockmgr: reclaiming stale lock",
			"resource", resource, "owner", existing.Owner, "pid", existing.PID)
	} else if !os.IsNotExist(err) {
		return cerrors.New(cerrors.KindStorageReadFailed, err)
	}

	now := time.Now()
	info := &lockInfo{
		Resource:   resource,
		Owner:      owner,
		PID:        os.Getpid(),
		Host:       hostname(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		TTLMs:      ttl.Milliseconds(),
	}
	if err := writeLockFile(path, info); err != nil {
		return err
	}

	m.mu.Lock()
	m.owned[resource] = info
	m.mu.Unlock()
	return nil
}

// Acquire blocks until resource's lock is obtained or ctx-less timeout
// elapses, polling at pollInterval.
func (m *Manager) Acquire(resource, owner string, ttl, timeout, pollInterval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := m.TryAcquire(resource, owner, ttl)
		if err == nil {
			return nil
		}
		if !cerrors.IsKind(err, cerrors.KindLockTimeout) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(pollInterval)
	}
}

// Release drops the lock for resource if this Manager owns it.
func (m *Manager) Release(resource string) error {
	m.mu.Lock()
	_, owned := m.owned[resource]
	delete(m.owned, resource)
	m.mu.Unlock()

	if !owned {
		return nil
	}
	path := m.pathFor(resource)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	return nil
}

// Renew extends the TTL of a lock this Manager currently owns.
func (m *Manager) Renew(resource string, ttl time.Duration) error {
	m.mu.Lock()
	info, owned := m.owned[resource]
	m.mu.Unlock()
	if !owned {
		return fmt.Errorf("lockmgr: resource %s not held by this process", resource)
	}
	info.ExpiresAt = time.Now().Add(ttl)
	info.TTLMs = ttl.Milliseconds()
	return writeLockFile(m.pathFor(resource), info)
}

// WithLock acquires resource, runs fn, and releases it afterward
// regardless of fn's outcome.
func (m *Manager) WithLock(resource, owner string, ttl, timeout, pollInterval time.Duration, fn func() error) error {
	if err := m.Acquire(resource, owner, ttl, timeout, pollInterval); err != nil {
		return err
	}
	defer m.Release(resource)
	return fn()
}

// isStale reports whether info's lock should be treated as abandoned:
// either its TTL has expired, or its owning PID is not alive on this
// host (a different-host lock is never considered stale by PID check,
// only by TTL, since there is no way to probe a remote PID).
func isStale(info *lockInfo) bool {
	if time.Now().After(info.ExpiresAt) {
		return true
	}
	if info.Host != hostname() {
		return false
	}
	return !isProcessRunning(info.PID)
}

// isProcessRunning sends signal 0, which fails with ESRCH only if
// the process does not exist.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func readLockFile(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("lockmgr: parse %s: %w", path, err)
	}
	return &info, nil
}

// writeLockFile persists info via temp+rename with 0600 permissions,
// matching the store's atomic-write convention.
func writeLockFile(path string, info *lockInfo) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lock-*.tmp")
	if err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	b, err := json.Marshal(info)
	if err != nil {
		tmp.Close()
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	return nil
}
