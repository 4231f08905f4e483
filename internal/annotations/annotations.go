// Package annotations implements the episodic annotation log: a
// dedicated
// append-only store letting a user or the assistant attach a note,
// correction, tag, or highlight to a conversation, message, or snippet
// without mutating the read-only source it's about. The
// conversation-archive adapter does not read this log; annotations are
// looked up here by id or by target. Built on internal/genericlog,
// which repeats internal/logstore's JSONL append/flush pattern for
// entry types other than record.MemoryRecord; ids use
// idgen's base36 content hash (ids take the form `ann:<hash>`),
// since this is exactly the "title/description/creator
// -> stable short id" shape idgen.GenerateHashID was built for.
package annotations

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cortex-memory/cortex/internal/cerrors"
	"github.com/cortex-memory/cortex/internal/genericlog"
	"github.com/cortex-memory/cortex/internal/idgen"
)

// TargetType enumerates what an annotation attaches to.
type TargetType string

const (
	TargetConversation TargetType = "conversation"
	TargetMessage      TargetType = "message"
	TargetSnippet      TargetType = "snippet"
)

// Kind enumerates the annotation's own type.
type Kind string

const (
	KindTag         Kind = "tag"
	KindNote        Kind = "note"
	KindCorrection  Kind = "correction"
	KindHighlight   Kind = "highlight"
	KindLink        Kind = "link"
)

// Status is the annotation's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Annotation is one entry in the episodic log.
type Annotation struct {
	ID         string         `json:"id"`
	TargetID   string         `json:"targetId"`
	TargetType TargetType     `json:"targetType"`
	Kind       Kind           `json:"annotationType"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Store is an append-only episodic annotation log backed by a single
// JSONL file, implemented on genericlog rather than logstore.Store
// since Annotation isn't a record.MemoryRecord.
type Store struct {
	log *genericlog.Log[Annotation]
}

// New constructs a Store bound to path. Call Load before use.
func New(path string, slogger *slog.Logger) *Store {
	return &Store{log: genericlog.New[Annotation](path, slogger, func(a *Annotation) string { return a.ID })}
}

// Load reads the backing file into memory.
func (s *Store) Load() error { return s.log.Load() }

// CreateInput is what the caller supplies; ID/timestamps are derived.
type CreateInput struct {
	TargetID   string
	TargetType TargetType
	Kind       Kind
	Content    string
	Metadata   map[string]any
	Now        time.Time
}

// Create appends a new annotation, generating an `ann:<hash>` id from
// its target, content, kind and creation time. Identical annotations
// created at different instants get distinct ids; two created with the
// same Now get the same id, and the second Create returns an error.
func (s *Store) Create(in CreateInput) (*Annotation, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	id := fmt.Sprintf("ann:%s", idgen.GenerateHashID("ann", in.TargetID, in.Content, string(in.Kind), now, 8, 0))
	a := &Annotation{
		ID: id, TargetID: in.TargetID, TargetType: in.TargetType, Kind: in.Kind,
		Content: in.Content, Metadata: in.Metadata, Status: StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.log.Append(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the annotation with id, or cerrors.ErrNotFound.
func (s *Store) Get(id string) (*Annotation, error) {
	a := s.log.Get(id)
	if a == nil {
		return nil, cerrors.ErrNotFound
	}
	return a, nil
}

// ListByTarget returns every active annotation for targetID, oldest
// first.
func (s *Store) ListByTarget(targetID string) []*Annotation {
	out := s.log.Query(func(a *Annotation) bool {
		return a.TargetID == targetID && a.Status == StatusActive
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SoftDelete marks id deleted without removing it from the file.
func (s *Store) SoftDelete(id string, now time.Time) error {
	return s.log.Update(id, func(a *Annotation) {
		a.Status = StatusDeleted
		a.UpdatedAt = now
	})
}
