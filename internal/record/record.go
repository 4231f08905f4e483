// Package record defines MemoryRecord, the normalized currency every
// adapter, store, and ranking stage in Cortex passes around.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Type enumerates the kinds of memory a record can hold.
type Type string

const (
	TypeLearning   Type = "learning"
	TypePattern    Type = "pattern"
	TypeSkill      Type = "skill"
	TypeCorrection Type = "correction"
	TypePreference Type = "preference"
)

// Status is the soft-delete lifecycle state of a record.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Intent mirrors the context analyzer's classification vocabulary.
type Intent string

const (
	IntentDebugging      Intent = "debugging"
	IntentImplementation Intent = "implementation"
	IntentTesting        Intent = "testing"
	IntentConfiguration  Intent = "configuration"
	IntentWorkflow       Intent = "workflow"
	IntentSolution       Intent = "solution"
	IntentGeneral        Intent = "general"
)

// decayWindow is the e-folding window for decayScore: max(0.1, exp(-age/30d)).
const decayWindow = 30 * 24 * time.Hour

// summaryMaxLen is the hard cap on Summary.
const summaryMaxLen = 100

// MemoryRecord is the universal record type every adapter normalizes
// into. JSON tags follow the lowerCamelCase wire convention; provenance
// sidecar fields (_source, _sourcePriority, _relevanceScore) keep their
// leading-underscore names so they stay distinguishable from canonical
// fields in the JSONL files without a second parallel struct.
type MemoryRecord struct {
	ID                  string     `json:"id"`
	Version             int        `json:"version"`
	Type                Type       `json:"type"`
	Content             string     `json:"content"`
	Summary             string     `json:"summary"`
	ProjectHash         *string    `json:"projectHash,omitempty"`
	Tags                []string   `json:"tags"`
	Intent              Intent     `json:"intent"`
	SourceSessionID     string     `json:"sourceSessionId"`
	SourceTimestamp     time.Time  `json:"sourceTimestamp"`
	ExtractionConfidence float64   `json:"extractionConfidence"`
	UsageCount          int        `json:"usageCount"`
	UsageSuccessRate    float64    `json:"usageSuccessRate"`
	LastUsed            *time.Time `json:"lastUsed,omitempty"`
	DecayScore          float64    `json:"decayScore"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`

	// Promotion/consolidation provenance, surfaced as plain fields since
	// they are part of the durable record, not query-time scoring.
	PromotedFrom string   `json:"promotedFrom,omitempty"`
	PromotedAt   *time.Time `json:"promotedAt,omitempty"`
	MergedFrom   []string `json:"mergedFrom,omitempty"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`

	// Sidecar provenance fields. Source and SourcePriority are persisted;
	// RelevanceScore is query-scoped and never written to a log line
	// (see ForStorage).
	Source          string  `json:"_source,omitempty"`
	SourcePriority  float64 `json:"_sourcePriority,omitempty"`
	RelevanceScore  float64 `json:"_relevanceScore,omitempty"`
}

// Key returns the index key for this record: its ID.
func (r *MemoryRecord) Key() string { return r.ID }

// IsGlobal reports whether the record has no project affinity.
func (r *MemoryRecord) IsGlobal() bool { return r.ProjectHash == nil }

// ForStorage returns a shallow copy with query-scoped fields cleared;
// _relevanceScore is computed per query and never persisted.
func (r *MemoryRecord) ForStorage() MemoryRecord {
	cp := *r
	cp.RelevanceScore = 0
	return cp
}

// ApplyDecay recomputes DecayScore from SourceTimestamp as of now.
func (r *MemoryRecord) ApplyDecay(now time.Time) {
	r.DecayScore = DecayScore(r.SourceTimestamp, now)
}

// DecayScore computes max(0.1, exp(-age/30d)) for a record's age.
func DecayScore(sourceTimestamp, now time.Time) float64 {
	age := now.Sub(sourceTimestamp)
	if age < 0 {
		age = 0
	}
	score := math.Exp(-float64(age) / float64(decayWindow))
	if score < 0.1 {
		return 0.1
	}
	return score
}

// DeriveSummary truncates content to at most summaryMaxLen runes.
// Adapters may override the result with their own summary.
func DeriveSummary(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= summaryMaxLen {
		return content
	}
	return string(runes[:summaryMaxLen])
}

// NormalizeTags lowercases, trims and deduplicates a tag set, returning
// it sorted for deterministic output.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ContentHash returns a stable hex digest of content, used for dedup
// keys and adapter-generated ids (see idgen.GenerateHashID for the
// title/description-driven variant this mirrors).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// DuplicateKey is the consolidation grouping key:
// "type : lowercased(summary[:100])", falling back to content when the
// summary is empty.
func (r *MemoryRecord) DuplicateKey() string {
	basis := r.Summary
	if basis == "" {
		basis = r.Content
	}
	runes := []rune(basis)
	if len(runes) > summaryMaxLen {
		runes = runes[:summaryMaxLen]
	}
	return fmt.Sprintf("%s:%s", r.Type, strings.ToLower(string(runes)))
}

// Usefulness is the value tier-promotion rules compare against their
// threshold: usageSuccessRate when the record has usage history,
// extractionConfidence otherwise.
func (r *MemoryRecord) Usefulness() float64 {
	if r.UsageCount > 0 {
		return r.UsageSuccessRate
	}
	return r.ExtractionConfidence
}

// Clamp01 restricts a score to [0, 1], the range every scoring
// function in Cortex returns.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
