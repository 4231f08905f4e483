// Package locallog implements the local-log adapter: the
// highest-priority source, wrapping the on-disk tier stores directly
// behind one facade rather than going through any external caller.
package locallog

import (
	"context"
	"time"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/logstore"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	defaultPriority = 1.0
	defaultTimeout  = 100 * time.Millisecond
)

// TierSource names one wrapped store so results can report where a
// record is currently living.
type TierSource struct {
	Name  string
	Store *logstore.Store
	// MaxAge, if positive, excludes records whose SourceTimestamp is
	// older than now-MaxAge from this tier's contribution.
	MaxAge time.Duration
}

// Adapter wraps one or more tier stores as a single adapters.Adapter.
type Adapter struct {
	tiers    []TierSource
	priority float64
	timeout  time.Duration
	enabled  bool
}

// New constructs the local-log adapter over tiers.
func New(tiers []TierSource) *Adapter {
	return &Adapter{tiers: tiers, priority: defaultPriority, timeout: defaultTimeout, enabled: true}
}

func (a *Adapter) Name() string           { return "local-log" }
func (a *Adapter) Priority() float64      { return a.priority }
func (a *Adapter) Timeout() time.Duration { return a.timeout }
func (a *Adapter) Enabled() bool          { return a.enabled }
func (a *Adapter) SetEnabled(v bool)      { a.enabled = v }

// IsAvailable is always true: local tier stores are plain files on the
// same host, there is no remote dependency to probe.
func (a *Adapter) IsAvailable(ctx context.Context) bool { return true }

// Query applies a per-tier maxAge cutoff and a project filter (global
// records plus ones matching qctx.ProjectHash), then normalizes and
// sorts by source priority.
func (a *Adapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	start := time.Now()
	stats := adapters.Stats{Name: a.Name(), Available: true}

	now := time.Now()
	var out []*record.MemoryRecord
	for _, tier := range a.tiers {
		for _, rec := range tier.Store.GetAll() {
			if tier.MaxAge > 0 && now.Sub(rec.SourceTimestamp) > tier.MaxAge {
				continue
			}
			if !matchesProject(rec, qctx.ProjectHash) {
				continue
			}
			if opts.Type != "" && rec.Type != opts.Type {
				continue
			}
			if opts.ProjectHash != "" && (rec.ProjectHash == nil || *rec.ProjectHash != opts.ProjectHash) {
				continue
			}
			if opts.MinConfidence > 0 && rec.ExtractionConfidence < opts.MinConfidence {
				continue
			}
			out = append(out, adapters.Normalize(rec, a.Name(), a.priority))
		}
	}

	sortByPriorityThenRecency(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	stats.TotalRecords = len(out)
	stats.LastQueryTime = time.Since(start)
	return out, stats
}

func matchesProject(rec *record.MemoryRecord, projectHash string) bool {
	if rec.IsGlobal() {
		return true
	}
	if projectHash == "" {
		return true
	}
	return *rec.ProjectHash == projectHash
}

func sortByPriorityThenRecency(recs []*record.MemoryRecord) {
	// Stable insertion sort is adequate here: tiers already contribute
	// records in append order and the set is small per query.
	for i := 1; i < len(recs); i++ {
		j := i
		for j > 0 && less(recs[j], recs[j-1]) {
			recs[j], recs[j-1] = recs[j-1], recs[j]
			j--
		}
	}
}

func less(a, b *record.MemoryRecord) bool {
	if a.SourcePriority != b.SourcePriority {
		return a.SourcePriority > b.SourcePriority
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}
