// Package config implements versioned configuration: a nested
// document loaded via viper, mutated through dot-path get/set, with a
// history directory snapshotted before every write and rollback to any
// snapshot. Bounded numeric-range validation lives in schema.go's
// Keys registry.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cortex-memory/cortex/internal/cerrors"
)

// ChangeFunc is invoked after every successful mutation.
type ChangeFunc func(doc map[string]any)

// HistoryEntry describes one saved snapshot.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Path      string    `json:"-"`
}

// Manager owns the current config document plus its history directory.
// It is an explicit instance, not a package-level singleton, so
// multiple Cortex processes under test don't share global state.
type Manager struct {
	currentPath string
	historyDir  string
	maxHistory  int
	log         *slog.Logger

	mu        sync.RWMutex
	doc       map[string]any
	listeners []ChangeFunc
}

// Options configures a Manager.
type Options struct {
	CurrentPath string
	HistoryDir  string
	MaxHistory  int
	Log         *slog.Logger
}

// New constructs a Manager. Load must be called before use.
func New(opts Options) *Manager {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 20
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Manager{
		currentPath: opts.CurrentPath,
		historyDir:  opts.HistoryDir,
		maxHistory:  opts.MaxHistory,
		log:         opts.Log,
		doc:         Defaults(),
	}
}

// Load reads the current config document, falling back to the most
// recent history snapshot and then to built-in defaults on
// corruption.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := readDoc(m.currentPath)
	if err == nil {
		m.doc = mergeDefaults(doc)
		return nil
	}
	if !os.IsNotExist(err) {
		m.log.Warn("config: current document unreadable, trying history", "error", err)
		if recovered, rerr := m.latestHistoryLocked(); rerr == nil {
			m.doc = mergeDefaults(recovered)
			m.log.Warn("config: recovered from history after corruption")
			return nil
		}
		m.log.Error("config: history recovery failed, falling back to defaults")
	}
	m.doc = Defaults()
	return nil
}

// mergeDefaults layers doc over a fresh defaults document so newly
// added keys always have a value even for an old document on disk.
func mergeDefaults(doc map[string]any) map[string]any {
	base := Defaults()
	mergeInto(base, doc)
	return base
}

func readDoc(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return normalizeKeys(v.AllSettings()), nil
}

// normalizeKeys recursively converts map[interface{}]any nodes (which
// viper/yaml can produce) into map[string]any, the shape the rest of
// this package assumes.
func normalizeKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeKeys(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[fmt.Sprintf("%v", k)] = normalizeValue(vv)
		}
		return m
	default:
		return v
	}
}

// Get returns the value at dot-path, or def if absent.
func (m *Manager) Get(path string, def any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := getDotPath(m.doc, path); ok {
		return v
	}
	return def
}

// GetAll returns a deep copy of the full document.
func (m *Manager) GetAll() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMap(m.doc)
}

// Set assigns value at dot-path, snapshotting history first, and
// validates against schema.go's registered range/type for that key.
func (m *Manager) Set(path string, value any, reason string) error {
	if err := ValidateKey(path, value); err != nil {
		return cerrors.New(cerrors.KindConfigInvalid, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.snapshotLocked(reason); err != nil {
		return err
	}
	next := cloneMap(m.doc)
	setDotPath(next, path, value)
	if err := m.saveLocked(next); err != nil {
		return err
	}
	m.doc = next
	m.notifyLocked()
	return nil
}

// Update deep-merges partial into the document in one history-snapshotted
// write.
func (m *Manager) Update(partial map[string]any, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.snapshotLocked(reason); err != nil {
		return err
	}
	next := cloneMap(m.doc)
	mergeInto(next, partial)
	if err := m.saveLocked(next); err != nil {
		return err
	}
	m.doc = next
	m.notifyLocked()
	return nil
}

// Reset restores the document to built-in defaults, snapshotting the
// prior document first.
func (m *Manager) Reset(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.snapshotLocked(reason); err != nil {
		return err
	}
	next := Defaults()
	if err := m.saveLocked(next); err != nil {
		return err
	}
	m.doc = next
	m.notifyLocked()
	return nil
}

// OnChange registers fn to run after every successful mutation.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notifyLocked() {
	doc := cloneMap(m.doc)
	for _, fn := range m.listeners {
		fn(doc)
	}
}

func (m *Manager) saveLocked(doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(m.currentPath), 0o700); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	return writeJSONAtomic(m.currentPath, doc)
}

// snapshotLocked writes the current in-memory document (before any
// pending mutation) into the history directory, then prunes to
// maxHistory entries, matching "every mutation snapshots the current
// config before writing the new current; history is pruned to the
// maxHistory most recent entries.
func (m *Manager) snapshotLocked(reason string) error {
	if m.historyDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.historyDir, 0o700); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	now := time.Now()
	id := uuid.NewString()[:8]
	name := fmt.Sprintf("%d_%s.json", now.UnixNano(), id)
	path := filepath.Join(m.historyDir, name)

	snapshot := struct {
		Meta HistoryEntry   `json:"_meta"`
		Doc  map[string]any `json:"doc"`
	}{
		Meta: HistoryEntry{ID: id, Timestamp: now, Reason: reason},
		Doc:  m.doc,
	}
	if err := writeJSONAtomic(path, snapshot); err != nil {
		return err
	}
	return m.pruneHistoryLocked()
}

func (m *Manager) pruneHistoryLocked() error {
	entries, err := m.listHistoryLocked()
	if err != nil {
		return err
	}
	if len(entries) <= m.maxHistory {
		return nil
	}
	toRemove := entries[m.maxHistory:]
	for _, e := range toRemove {
		os.Remove(e.Path)
	}
	return nil
}

// listHistoryLocked returns history entries newest-first.
func (m *Manager) listHistoryLocked() ([]HistoryEntry, error) {
	ents, err := os.ReadDir(m.historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.New(cerrors.KindStorageReadFailed, err)
	}
	out := make([]HistoryEntry, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.historyDir, e.Name())
		meta, err := readHistoryMeta(path)
		if err != nil {
			continue
		}
		meta.Path = path
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func readHistoryMeta(path string) (HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HistoryEntry{}, err
	}
	var wrapper struct {
		Meta HistoryEntry `json:"_meta"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return HistoryEntry{}, err
	}
	return wrapper.Meta, nil
}

// GetHistory returns up to limit history entries, newest first.
func (m *Manager) GetHistory(limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, err := m.listHistoryLocked()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// latestHistoryLocked loads the most recent snapshot's document.
func (m *Manager) latestHistoryLocked() (map[string]any, error) {
	entries, err := m.listHistoryLocked()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, cerrors.ErrNotFound
	}
	data, err := os.ReadFile(entries[0].Path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Doc map[string]any `json:"doc"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Doc, nil
}

// Rollback restores the document from the history entry matching id
// and writes it as the new current (itself snapshotted first, so a
// rollback is reversible).
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.listHistoryLocked()
	if err != nil {
		return err
	}
	var target *HistoryEntry
	for i := range entries {
		if entries[i].ID == id {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("config: no history entry with id %q", id)
	}
	data, err := os.ReadFile(target.Path)
	if err != nil {
		return cerrors.New(cerrors.KindStorageReadFailed, err)
	}
	var wrapper struct {
		Doc map[string]any `json:"doc"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return cerrors.New(cerrors.KindConfigInvalid, err)
	}

	if err := m.snapshotLocked(fmt.Sprintf("pre-rollback to %s", id)); err != nil {
		return err
	}
	if err := m.saveLocked(wrapper.Doc); err != nil {
		return err
	}
	m.doc = wrapper.Doc
	m.notifyLocked()
	return nil
}

// writeJSONAtomic marshals v and writes it via temp+rename, matching
// the store and lock manager's atomic-write convention.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
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
