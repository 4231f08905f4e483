// Package convarchive implements the conversation-archive adapter: a
// remote source reached through an injected mcpcaller.Caller, treated
// as an opaque call-and-parse boundary.
package convarchive

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	priority   = 0.9
	timeout    = 3000 * time.Millisecond
	cacheTTL   = 5 * time.Minute
	topNTags   = 3
	topNDomain = 2
)

// Adapter queries an external conversation search tool.
type Adapter struct {
	caller  mcpcaller.Caller
	cache   *adapters.TTLCache[[]*record.MemoryRecord]
	enabled bool
}

// New constructs the conversation-archive adapter over caller.
func New(caller mcpcaller.Caller) *Adapter {
	if caller == nil {
		caller = mcpcaller.Unavailable
	}
	return &Adapter{caller: caller, cache: adapters.NewTTLCache[[]*record.MemoryRecord](cacheTTL), enabled: true}
}

// SetCaller implements adapterreg.McpAware.
func (a *Adapter) SetCaller(caller mcpcaller.Caller) {
	if caller == nil {
		caller = mcpcaller.Unavailable
	}
	a.caller = caller
	a.cache.Invalidate()
}

func (a *Adapter) Name() string           { return "conversation-archive" }
func (a *Adapter) Priority() float64      { return priority }
func (a *Adapter) Timeout() time.Duration { return timeout }
func (a *Adapter) Enabled() bool          { return a.enabled }
func (a *Adapter) SetEnabled(v bool)      { a.enabled = v }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.caller.Call(ctx, "conversation_search.ping", nil)
	return err == nil
}

// buildQuery concatenates confident intent, top tags, project name, and
// top domains, falling back to "recent" when all of those are
// empty.
func buildQuery(qctx adapters.QueryContext) string {
	var parts []string
	if qctx.IntentConfidence >= 0.5 && qctx.Intent != "" {
		parts = append(parts, string(qctx.Intent))
	}
	tags := qctx.Tags
	if len(tags) > topNTags {
		tags = tags[:topNTags]
	}
	parts = append(parts, tags...)
	if qctx.ProjectName != "" {
		parts = append(parts, qctx.ProjectName)
	}
	domains := qctx.Domains
	if len(domains) > topNDomain {
		domains = domains[:topNDomain]
	}
	parts = append(parts, domains...)

	if len(parts) == 0 {
		return "recent"
	}
	return strings.Join(parts, " ")
}

func cacheKey(query string, opts adapters.QueryOptions) string {
	return fmt.Sprintf("%s|%s|%s|%d|%.2f", query, opts.Type, opts.ProjectHash, opts.Limit, opts.MinConfidence)
}

var projectPathPattern = regexp.MustCompile(`/projects/([a-f0-9]{12})/`)

// lexicalTypeSignals map content substrings to inferred record types
// when the search hit carries no explicit type.
var lexicalTypeSignals = []struct {
	pattern *regexp.Regexp
	typ     record.Type
}{
	{regexp.MustCompile(`(?i)\b(fixed|workaround|solved|resolved)\b`), record.TypeCorrection},
	{regexp.MustCompile(`(?i)\b(pattern|recurring|always|every time)\b`), record.TypePattern},
	{regexp.MustCompile(`(?i)\b(prefer|should use|convention|style)\b`), record.TypePreference},
	{regexp.MustCompile(`(?i)\b(how to|technique|approach)\b`), record.TypeSkill},
}

func inferType(content string) record.Type {
	for _, sig := range lexicalTypeSignals {
		if sig.pattern.MatchString(content) {
			return sig.typ
		}
	}
	return record.TypeLearning
}

func extractProjectHash(path string) *string {
	m := projectPathPattern.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	return &m[1]
}

// Query builds a search query from context, consults the TTL cache,
// and otherwise calls the injected caller, mapping each hit into a
// MemoryRecord.
func (a *Adapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	start := time.Now()
	stats := adapters.Stats{Name: a.Name()}

	query := buildQuery(qctx)
	key := cacheKey(query, opts)
	if cached, ok := a.cache.Get(key); ok {
		stats.Available = true
		stats.TotalRecords = len(cached)
		stats.CacheHitRate = 1.0
		stats.LastQueryTime = time.Since(start)
		return cached, stats
	}

	resp, err := a.caller.Call(ctx, "conversation_search.query", map[string]any{
		"query": query,
		"limit": opts.Limit,
	})
	if err != nil {
		stats.Available = false
		stats.ErrorCount = 1
		stats.Error = err.Error()
		stats.LastQueryTime = time.Since(start)
		return nil, stats
	}

	hits, _ := resp["hits"].([]any)
	out := make([]*record.MemoryRecord, 0, len(hits))
	for _, h := range hits {
		hit, ok := h.(map[string]any)
		if !ok {
			continue
		}
		rec := mapHit(hit)
		if rec == nil {
			continue
		}
		out = append(out, adapters.Normalize(rec, a.Name(), priority))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecayScore > out[j].DecayScore })

	a.cache.Set(key, out)
	stats.Available = true
	stats.TotalRecords = len(out)
	stats.LastQueryTime = time.Since(start)
	return out, stats
}

func mapHit(hit map[string]any) *record.MemoryRecord {
	path, _ := hit["path"].(string)
	content, _ := hit["content"].(string)
	if content == "" {
		return nil
	}
	tsStr, _ := hit["timestamp"].(string)
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		ts = time.Now()
	}

	id := path
	if id == "" {
		id = fmt.Sprintf("conversation-archive:%s", record.ContentHash(content))
	}

	return &record.MemoryRecord{
		ID:              fmt.Sprintf("conversation-archive:%s", record.ContentHash(id)),
		Content:         content,
		Summary:         record.DeriveSummary(content),
		ProjectHash:     extractProjectHash(path),
		Type:            inferType(content),
		SourceTimestamp: ts,
		DecayScore:      record.DecayScore(ts, time.Now()),
		Status:          record.StatusActive,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

// ReadConversation returns the full body of the conversation at path,
// optionally restricted to [startLine, endLine] (1-indexed, inclusive;
// endLine <= 0 means "to the end").
func (a *Adapter) ReadConversation(ctx context.Context, path string, startLine, endLine int) (string, error) {
	resp, err := a.caller.Call(ctx, "conversation_search.read", map[string]any{
		"path": filepath.Clean(path),
	})
	if err != nil {
		return "", fmt.Errorf("convarchive: read %s: %w", path, err)
	}
	body, _ := resp["content"].(string)
	if startLine <= 0 && endLine <= 0 {
		return body, nil
	}
	lines := strings.Split(body, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine <= 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return "", nil
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}
