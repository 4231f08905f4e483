// Package adapterreg implements the adapter registry: an ordered
// collection of adapters keyed by name, with parallel QueryAll
// fan-out racing each adapter's Query against
// its own timeout and collecting per-adapter stats regardless of
// outcome. The semaphore half of that pattern is supplied here by
// golang.org/x/sync/errgroup's SetLimit rather than a hand-rolled
// channel, since QueryAll never needs to propagate a Go error (adapter
// failures are folded into Stats, never bubbled up) and errgroup is
// already part of the example pack's dependency surface.
package adapterreg

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/record"
)

// maxConcurrentAdapters bounds how many adapter queries run at
// once.
const maxConcurrentAdapters = 8

// McpAware is implemented by adapters that accept a late-injected
// mcpcaller.Caller (conversation-archive, knowledge-graph). Adapters
// that don't need one simply don't implement this.
type McpAware interface {
	SetCaller(mcpcaller.Caller)
}

// Registry holds the enabled/disabled set of adapters and fans queries
// out to all enabled ones concurrently.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	byName   map[string]adapters.Adapter
	order    []string // registration order, for deterministic GetAll
}

// New constructs an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, byName: make(map[string]adapters.Adapter)}
}

// Register adds or replaces an adapter under its own Name().
func (r *Registry) Register(a adapters.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = a
}

// Unregister removes the adapter named name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the adapter named name, or nil if not registered.
func (r *Registry) Get(name string) adapters.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// GetAll returns every registered adapter in registration order.
func (r *Registry) GetAll() []adapters.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapters.Adapter, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// GetEnabled returns enabled adapters sorted by descending priority,
// ties broken by registration order for determinism.
func (r *Registry) GetEnabled() []adapters.Adapter {
	r.mu.RLock()
	all := make([]adapters.Adapter, 0, len(r.order))
	for _, n := range r.order {
		if a := r.byName[n]; a.Enabled() {
			all = append(all, a)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Priority() > all[j].Priority() })
	return all
}

// SetEnabled toggles the enabled state of the adapter named name.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.RLock()
	a := r.byName[name]
	r.mu.RUnlock()
	if a != nil {
		a.SetEnabled(enabled)
	}
}

// SetMcpCaller propagates caller to every registered adapter that
// implements McpAware.
func (r *Registry) SetMcpCaller(caller mcpcaller.Caller) {
	for _, a := range r.GetAll() {
		if aware, ok := a.(McpAware); ok {
			aware.SetCaller(caller)
		}
	}
}

// Result is what queryAll returns: the flattened, not-yet-ranked
// record list plus per-adapter stats keyed by adapter name.
type Result struct {
	Results []*record.MemoryRecord
	Stats   map[string]adapters.Stats
}

// taskOutcome is one adapter's completed (or timed-out) query.
type taskOutcome struct {
	name    string
	records []*record.MemoryRecord
	stats   adapters.Stats
}

// QueryAll launches one goroutine per enabled adapter, each racing its
// adapter's Query against a timer for that adapter's own Timeout().
// Failure or timeout of one adapter never
// cancels or delays the others; ordering within one adapter's results
// is preserved, ordering across adapters is not guaranteed (the
// orchestrator re-ranks).
func (r *Registry) QueryAll(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) Result {
	enabled := r.GetEnabled()

	var mu sync.Mutex
	var all []*record.MemoryRecord
	statsByName := make(map[string]adapters.Stats, len(enabled))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentAdapters)
	for _, a := range enabled {
		a := a
		g.Go(func() error {
			oc := r.runOne(ctx, a, qctx, opts)
			mu.Lock()
			all = append(all, oc.records...)
			statsByName[oc.name] = oc.stats
			mu.Unlock()
			// runOne never reports failure as a Go error: one adapter's
			// outage must never cancel the group's context and abort
			// the others, so this always returns nil.
			return nil
		})
	}
	_ = g.Wait()

	return Result{Results: all, Stats: statsByName}
}

// runOne races a.Query against a.Timeout(), reporting a timeout as
// adapters.Stats with Available=false rather than propagating an
// error — adapters must never cause queryAll itself to fail.
func (r *Registry) runOne(ctx context.Context, a adapters.Adapter, qctx adapters.QueryContext, opts adapters.QueryOptions) taskOutcome {
	name := a.Name()
	timeout := a.Timeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	qctxDeadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type queryResult struct {
		recs  []*record.MemoryRecord
		stats adapters.Stats
	}
	done := make(chan queryResult, 1)
	go func() {
		recs, stats := a.Query(qctxDeadline, qctx, opts)
		done <- queryResult{recs: recs, stats: stats}
	}()

	select {
	case res := <-done:
		return taskOutcome{name: name, records: res.recs, stats: res.stats}
	case <-qctxDeadline.Done():
		r.log.Warn("adapterreg: adapter timed out", "adapter", name, "timeout", timeout)
		return taskOutcome{
			name: name,
			stats: adapters.Stats{
				Name:      name,
				Available: false,
				ErrorCount: 1,
				Error:      "timeout after " + timeout.String(),
			},
		}
	}
}
