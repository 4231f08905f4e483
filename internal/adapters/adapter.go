// Package adapters defines the uniform capability interface every
// memory source implements: query, isAvailable, normalize, getStats,
// with optional write/update/delete. Query never even returns an
// error: a failure is isolated into Stats.Error so one source's
// outage can't abort or contaminate the fan-out for the others.
package adapters

import (
	"context"
	"time"

	"github.com/cortex-memory/cortex/internal/record"
)

// QueryContext is what the orchestrator hands every adapter: the
// analyzer's output plus git metadata it doesn't otherwise use.
type QueryContext struct {
	ProjectHash      string
	ProjectName      string
	Intent           record.Intent
	IntentConfidence float64
	Tags             []string
	Domains          []string
	GitBranch        string
}

// QueryOptions narrows what an adapter returns.
type QueryOptions struct {
	Limit         int
	Type          record.Type
	ProjectHash   string
	MinConfidence float64
}

// Stats is captured for every adapter task regardless of outcome.
type Stats struct {
	Name          string
	Available     bool
	TotalRecords  int
	LastQueryTime time.Duration
	CacheHitRate  float64
	ErrorCount    int
	Error         string
}

// WriteOp is one mutation a write-capable adapter can apply.
type WriteOp struct {
	Kind   string // adapter-specific operation, e.g. "create_entity" for knowledge-graph
	Target string // entity name, observation id, etc — adapter-specific
	Data   map[string]any
}

// Adapter is the capability set every memory source implements.
type Adapter interface {
	Name() string
	Priority() float64
	Timeout() time.Duration
	Enabled() bool
	SetEnabled(bool)

	IsAvailable(ctx context.Context) bool

	// Query must never return an error; failures are folded into the
	// returned Stats.Error so one adapter's outage never aborts
	// queryAll for the others.
	Query(ctx context.Context, qctx QueryContext, opts QueryOptions) ([]*record.MemoryRecord, Stats)
}

// Writable is implemented by adapters that accept mutations
// (knowledge-graph today; terminal-history explicitly refuses it).
type Writable interface {
	Write(ctx context.Context, op WriteOp) error
}

// Normalize stamps source provenance onto rec; every adapter applies
// it to each record before returning from Query.
func Normalize(rec *record.MemoryRecord, source string, priority float64) *record.MemoryRecord {
	rec.Source = source
	rec.SourcePriority = priority
	if rec.Summary == "" {
		rec.Summary = record.DeriveSummary(rec.Content)
	}
	rec.Tags = record.NormalizeTags(rec.Tags)
	return rec
}
