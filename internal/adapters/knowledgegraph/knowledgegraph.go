// Package knowledgegraph implements the knowledge-graph adapter:
// entities and observations from an injected caller, joined into
// record content, with a fixed entity-type to memory-type mapping.
// The only write-capable adapter; writes invalidate its cache.
package knowledgegraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/cerrors"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	priority = 0.8
	timeout  = 2000 * time.Millisecond
	cacheTTL = 10 * time.Minute
)

// entityTypeToMemoryType is the fixed mapping from the glossary:
// "pattern→pattern, solution/learning/bug/fix→learning,
// preference/config/setting→preference, skill/technique→skill,
// correction/warning→correction, workflow→pattern; unknown→learning".
var entityTypeToMemoryType = map[string]record.Type{
	"pattern":    record.TypePattern,
	"solution":   record.TypeLearning,
	"learning":   record.TypeLearning,
	"bug":        record.TypeLearning,
	"fix":        record.TypeLearning,
	"preference": record.TypePreference,
	"config":     record.TypePreference,
	"setting":    record.TypePreference,
	"skill":      record.TypeSkill,
	"technique":  record.TypeSkill,
	"correction": record.TypeCorrection,
	"warning":    record.TypeCorrection,
	"workflow":   record.TypePattern,
}

func mapEntityType(entityType string) record.Type {
	if t, ok := entityTypeToMemoryType[strings.ToLower(entityType)]; ok {
		return t
	}
	return record.TypeLearning
}

// Adapter queries an external knowledge-graph tool.
type Adapter struct {
	caller  mcpcaller.Caller
	cache   *adapters.TTLCache[[]*record.MemoryRecord]
	enabled bool
}

// New constructs the knowledge-graph adapter over caller.
func New(caller mcpcaller.Caller) *Adapter {
	if caller == nil {
		caller = mcpcaller.Unavailable
	}
	return &Adapter{caller: caller, cache: adapters.NewTTLCache[[]*record.MemoryRecord](cacheTTL), enabled: true}
}

// SetCaller implements adapterreg.McpAware, letting the registry
// propagate a caller wired up after adapter construction.
func (a *Adapter) SetCaller(caller mcpcaller.Caller) {
	if caller == nil {
		caller = mcpcaller.Unavailable
	}
	a.caller = caller
	a.cache.Invalidate()
}

func (a *Adapter) Name() string           { return "knowledge-graph" }
func (a *Adapter) Priority() float64      { return priority }
func (a *Adapter) Timeout() time.Duration { return timeout }
func (a *Adapter) Enabled() bool          { return a.enabled }
func (a *Adapter) SetEnabled(v bool)      { a.enabled = v }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.caller.Call(ctx, "knowledge_graph.ping", nil)
	return err == nil
}

func (a *Adapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	start := time.Now()
	stats := adapters.Stats{Name: a.Name()}

	key := fmt.Sprintf("%v|%s", qctx.Tags, opts.Type)
	if cached, ok := a.cache.Get(key); ok {
		stats.Available = true
		stats.TotalRecords = len(cached)
		stats.CacheHitRate = 1.0
		stats.LastQueryTime = time.Since(start)
		return cached, stats
	}

	resp, err := a.caller.Call(ctx, "knowledge_graph.search_nodes", map[string]any{
		"query": strings.Join(qctx.Tags, " "),
	})
	if err != nil {
		stats.Available = false
		stats.ErrorCount = 1
		stats.Error = err.Error()
		stats.LastQueryTime = time.Since(start)
		return nil, stats
	}

	entities, _ := resp["entities"].([]any)
	out := make([]*record.MemoryRecord, 0, len(entities))
	for _, e := range entities {
		ent, ok := e.(map[string]any)
		if !ok {
			continue
		}
		rec := mapEntity(ent)
		if rec == nil {
			continue
		}
		if opts.Type != "" && rec.Type != opts.Type {
			continue
		}
		out = append(out, adapters.Normalize(rec, a.Name(), priority))
	}

	a.cache.Set(key, out)
	stats.Available = true
	stats.TotalRecords = len(out)
	stats.LastQueryTime = time.Since(start)
	return out, stats
}

func mapEntity(ent map[string]any) *record.MemoryRecord {
	name, _ := ent["name"].(string)
	entityType, _ := ent["entityType"].(string)
	if name == "" {
		return nil
	}
	observations, _ := ent["observations"].([]any)
	lines := make([]string, 0, len(observations))
	for _, o := range observations {
		if s, ok := o.(string); ok {
			lines = append(lines, s)
		}
	}
	content := strings.Join(lines, "\n")
	now := time.Now()
	return &record.MemoryRecord{
		ID:              fmt.Sprintf("kg:%s", name),
		Content:         content,
		Summary:         record.DeriveSummary(content),
		Type:            mapEntityType(entityType),
		SourceTimestamp: now,
		DecayScore:      1.0,
		Status:          record.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Write applies a create/delete mutation to an entity, observation, or
// relation, then invalidates the cache since the graph's content may
// have changed underneath it.
func (a *Adapter) Write(ctx context.Context, op adapters.WriteOp) error {
	tool, err := toolForOp(op)
	if err != nil {
		return cerrors.New(cerrors.KindAdapterError, err)
	}
	if _, err := a.caller.Call(ctx, tool, op.Data); err != nil {
		return cerrors.New(cerrors.KindAdapterError, fmt.Errorf("knowledgegraph: %s: %w", tool, err))
	}
	a.cache.Invalidate()
	return nil
}

func toolForOp(op adapters.WriteOp) (string, error) {
	switch op.Kind {
	case "create_entity":
		return "knowledge_graph.create_entities", nil
	case "delete_entity":
		return "knowledge_graph.delete_entities", nil
	case "add_observation":
		return "knowledge_graph.add_observations", nil
	case "delete_observation":
		return "knowledge_graph.delete_observations", nil
	case "create_relation":
		return "knowledge_graph.create_relations", nil
	case "delete_relation":
		return "knowledge_graph.delete_relations", nil
	default:
		return "", fmt.Errorf("unknown write op kind %q", op.Kind)
	}
}
