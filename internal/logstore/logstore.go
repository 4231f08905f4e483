// Package logstore implements the append-only JSONL tier store that
// backs every tier file (working, short-term, long-term, global,
// per-project); internal/genericlog repeats the same pattern for the
// annotation/decision logs. Scanning style is
// grounded on internal/jsonl's ReadIssuesFromFile; unlike that reader,
// Load skips and counts corrupted lines rather than failing the whole
// file; the store is always read defensively.
package logstore

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cortex-memory/cortex/internal/cerrors"
	"github.com/cortex-memory/cortex/internal/cryptutil"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	readBufStart = 1024 * 1024
	readBufMax   = 64 * 1024 * 1024
)

// Predicate filters records during Query.
type Predicate func(*record.MemoryRecord) bool

// Store is a single JSONL-backed collection of MemoryRecords with
// in-memory secondary indexes. One Store instance corresponds to one
// tier file; the annotation/decision logs use internal/genericlog
// instead.
type Store struct {
	path string
	log  *slog.Logger

	mu        sync.RWMutex
	byID      map[string]*record.MemoryRecord
	order     []string // insertion order, for stable iteration
	corrupt   int      // count of skipped corrupted lines from last Load
	encSecret string   // CORTEX_ENCRYPTION_SECRET, empty means store Content as plaintext
}

// SetEncryptionSecret enables at-rest encryption of each record's
// Content field as a base64 blob; framing and the
// AES-256-GCM/PBKDF2-SHA512 algorithm are internal/cryptutil's. An
// empty secret disables encryption (the default); records already on
// disk in the other mode are handled transparently since
// cryptutil.IsFramed distinguishes an encrypted blob from plaintext.
func (s *Store) SetEncryptionSecret(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encSecret = secret
}

// New constructs a Store bound to path. The file is not read until Load
// is called.
func New(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		path: path,
		log:  log,
		byID: make(map[string]*record.MemoryRecord),
	}
}

// Load reads path from disk into memory, skipping corrupted lines. A
// missing file is treated as an empty store, not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]*record.MemoryRecord)
	s.order = nil
	s.corrupt = 0

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerrors.New(cerrors.KindStorageReadFailed, fmt.Errorf("open %s: %w", s.path, err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, readBufStart), readBufMax)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record.MemoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.corrupt++
			s.log.Warn("logstore: skipping corrupted line",
				"path", s.path, "line", lineNum, "error", err)
			continue
		}
		if plain, err := decryptContent(rec.Content, s.encSecret); err != nil {
			s.corrupt++
			s.log.Warn("logstore: skipping record with undecryptable content",
				"path", s.path, "line", lineNum, "id", rec.ID, "error", err)
			continue
		} else {
			rec.Content = plain
		}
		s.applyLocked(&rec)
	}
	if err := scanner.Err(); err != nil {
		return cerrors.New(cerrors.KindStorageReadFailed, fmt.Errorf("scan %s: %w", s.path, err))
	}
	return nil
}

// applyLocked inserts or overwrites rec, keeping last-write-wins
// semantics by line order.
func (s *Store) applyLocked(rec *record.MemoryRecord) {
	if _, exists := s.byID[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.byID[rec.ID] = rec
}

// CorruptedLines returns the count of skipped lines from the last Load.
func (s *Store) CorruptedLines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

// Get returns the record with id, or cerrors.ErrNotFound.
func (s *Store) Get(id string) (*record.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, cerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetAll returns every active record in insertion order.
func (s *Store) GetAll() []*record.MemoryRecord {
	return s.Query(func(r *record.MemoryRecord) bool {
		return r.Status != record.StatusDeleted
	})
}

// Query returns a copy of every record (including deleted/archived, it
// is up to pred to filter) matching pred, in insertion order.
func (s *Store) Query(pred Predicate) []*record.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.MemoryRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := s.byID[id]
		if pred == nil || pred(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Append adds a new record and persists the full store, assigning an
// id and timestamps when the caller left them zero. Returns an error
// if rec.ID already exists; use Update to modify an existing one.
func (s *Store) Append(rec *record.MemoryRecord) error {
	now := time.Now()
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("jsonl:%s", record.ContentHash(rec.Content+now.Format(time.RFC3339Nano)))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	s.mu.Lock()
	if _, exists := s.byID[rec.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("logstore: record %s already exists", rec.ID)
	}
	s.applyLocked(rec)
	s.mu.Unlock()
	return s.flush()
}

// Update overwrites an existing record (matched by ID) and persists.
func (s *Store) Update(rec *record.MemoryRecord) error {
	s.mu.Lock()
	if _, exists := s.byID[rec.ID]; !exists {
		s.mu.Unlock()
		return cerrors.ErrNotFound
	}
	s.applyLocked(rec)
	s.mu.Unlock()
	return s.flush()
}

// SoftDelete marks id as deleted (DeletedAt set, Status=deleted) without
// removing it from the file; Compact later reclaims the space.
func (s *Store) SoftDelete(id string, now time.Time) error {
	s.mu.Lock()
	rec, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return cerrors.ErrNotFound
	}
	rec.Status = record.StatusDeleted
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	s.mu.Unlock()
	return s.flush()
}

// CompactOptions controls Compact behavior.
type CompactOptions struct {
	RemoveDeleted bool
}

// Compact rewrites the backing file from the in-memory index, dropping
// soft-deleted records when RemoveDeleted is set. Returns the number of
// records removed.
func (s *Store) Compact(opts CompactOptions) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if opts.RemoveDeleted {
		newOrder := make([]string, 0, len(s.order))
		for _, id := range s.order {
			rec := s.byID[id]
			if rec.Status == record.StatusDeleted {
				delete(s.byID, id)
				removed++
				continue
			}
			newOrder = append(newOrder, id)
		}
		s.order = newOrder
	}
	if err := s.flushLocked(); err != nil {
		return removed, err
	}
	s.log.Info("logstore: compacted", "path", s.path, "removed", removed, "remaining", len(s.order))
	return removed, nil
}

// flush acquires the lock and delegates to flushLocked.
func (s *Store) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked rewrites the backing file atomically via temp+rename,
// matching the lock manager's write style so a crash mid-write never
// corrupts the live file.
func (s *Store) flushLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, ".logstore-*.tmp")
	if err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, id := range s.order {
		rec := s.byID[id]
		stored := rec.ForStorage()
		framed, err := encryptContent(stored.Content, s.encSecret)
		if err != nil {
			tmp.Close()
			return cerrors.New(cerrors.KindEncryptionError, err)
		}
		stored.Content = framed
		b, err := json.Marshal(&stored)
		if err != nil {
			tmp.Close()
			return cerrors.New(cerrors.KindStorageWriteFailed, err)
		}
		if _, err := w.Write(b); err != nil {
			tmp.Close()
			return cerrors.New(cerrors.KindStorageWriteFailed, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			return cerrors.New(cerrors.KindStorageWriteFailed, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return cerrors.New(cerrors.KindStorageWriteFailed, fmt.Errorf("rename into place: %w", err))
	}
	return nil
}

// Len returns the number of records currently held, including deleted.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ByProjectHash indexes active records by project hash, nil meaning
// global (no project affinity).
func (s *Store) ByProjectHash(hash *string) []*record.MemoryRecord {
	return s.Query(func(r *record.MemoryRecord) bool {
		if r.Status == record.StatusDeleted {
			return false
		}
		if hash == nil {
			return r.ProjectHash == nil
		}
		return r.ProjectHash != nil && *r.ProjectHash == *hash
	})
}

// SortByUpdatedAtDesc returns recs sorted newest-first, a common need
// for recency-based selection (e.g. promotion sweeps).
func SortByUpdatedAtDesc(recs []*record.MemoryRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
}

// encryptContent frames content through cryptutil.Encrypt and
// base64-encodes the result so it survives as a JSON string, or
// returns content unchanged when secret is empty (encryption
// disabled, the default).
func encryptContent(content, secret string) (string, error) {
	if secret == "" {
		return content, nil
	}
	framed, err := cryptutil.Encrypt(secret, []byte(content))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(framed), nil
}

// decryptContent reverses encryptContent. Plaintext content (not
// base64, or base64 that doesn't decode to a CRX1-framed blob) is
// returned unchanged, so a store can load files written before
// encryption was enabled. A framed blob with no secret configured, or
// the wrong secret, is a decrypt failure surfaced to the caller.
func decryptContent(content, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil || !cryptutil.IsFramed(raw) {
		return content, nil
	}
	if secret == "" {
		return "", fmt.Errorf("logstore: encrypted content but no encryption secret configured")
	}
	plain, err := cryptutil.Decrypt(secret, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
