// Package terminalhistory implements the read-only terminal-history
// adapter: it reads a SQLite-backed local store of user queries and
// agent conversations through database/sql with the pure-Go
// modernc.org/sqlite driver (no cgo).
package terminalhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/cerrors"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	priority = 0.75
	timeout  = 500 * time.Millisecond
)

// Adapter aggregates terminal-history records across multiple sqlite
// store paths.
type Adapter struct {
	paths   []string
	enabled bool
}

// New constructs the terminal-history adapter over one or more sqlite
// database paths.
func New(paths []string) *Adapter {
	return &Adapter{paths: paths, enabled: true}
}

func (a *Adapter) Name() string           { return "terminal-history" }
func (a *Adapter) Priority() float64      { return priority }
func (a *Adapter) Timeout() time.Duration { return timeout }
func (a *Adapter) Enabled() bool          { return a.enabled }
func (a *Adapter) SetEnabled(v bool)      { a.enabled = v }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	for _, p := range a.paths {
		db, err := sql.Open("sqlite", p)
		if err != nil {
			continue
		}
		err = db.PingContext(ctx)
		db.Close()
		if err == nil {
			return true
		}
	}
	return false
}

// Query aggregates rows from every configured store path,
// normalizing both known payload shapes: a flat query table, and a
// serialized event-array table.
func (a *Adapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	start := time.Now()
	stats := adapters.Stats{Name: a.Name()}

	var out []*record.MemoryRecord
	available := false
	for _, p := range a.paths {
		recs, err := a.queryOne(ctx, p, opts)
		if err != nil {
			stats.ErrorCount++
			continue
		}
		available = true
		out = append(out, recs...)
	}
	for _, r := range out {
		adapters.Normalize(r, a.Name(), priority)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	stats.Available = available
	stats.TotalRecords = len(out)
	stats.LastQueryTime = time.Since(start)
	return out, stats
}

func (a *Adapter) queryOne(ctx context.Context, path string, opts adapters.QueryOptions) ([]*record.MemoryRecord, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("terminalhistory: open %s: %w", path, err)
	}
	defer db.Close()

	var out []*record.MemoryRecord

	queryRows, err := db.QueryContext(ctx, `SELECT id, text, working_dir, created_at FROM queries ORDER BY created_at DESC LIMIT 200`)
	if err == nil {
		defer queryRows.Close()
		for queryRows.Next() {
			var id int64
			var text, workingDir string
			var createdAt time.Time
			if err := queryRows.Scan(&id, &text, &workingDir, &createdAt); err != nil {
				continue
			}
			out = append(out, makeQueryRecord(path, id, text, createdAt))
		}
	}

	convRows, err := db.QueryContext(ctx, `SELECT id, payload, created_at FROM conversations ORDER BY created_at DESC LIMIT 200`)
	if err == nil {
		defer convRows.Close()
		for convRows.Next() {
			var id int64
			var payload string
			var createdAt time.Time
			if err := convRows.Scan(&id, &payload, &createdAt); err != nil {
				continue
			}
			if rec := parsePayload(path, id, payload, createdAt); rec != nil {
				out = append(out, rec)
			}
		}
	}

	return out, nil
}

func makeQueryRecord(path string, id int64, text string, ts time.Time) *record.MemoryRecord {
	return &record.MemoryRecord{
		ID:              fmt.Sprintf("warp-sqlite:%s:%d", path, id),
		Content:         text,
		Summary:         record.DeriveSummary(text),
		Type:            record.TypeLearning,
		SourceTimestamp: ts,
		DecayScore:      record.DecayScore(ts, time.Now()),
		Status:          record.StatusActive,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

// parsePayload handles the two known shapes: an object with a "query"
// field, or an array of events where a Query event carries text and
// ActionResult events carry command+output.
func parsePayload(path string, id int64, payload string, ts time.Time) *record.MemoryRecord {
	var asObject struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(payload), &asObject); err == nil && asObject.Query != "" {
		return makeQueryRecord(path, id, asObject.Query, ts)
	}

	var events []map[string]any
	if err := json.Unmarshal([]byte(payload), &events); err != nil {
		return nil
	}
	var parts []string
	for _, ev := range events {
		switch ev["type"] {
		case "Query":
			if text, ok := ev["text"].(string); ok {
				parts = append(parts, text)
			}
		case "ActionResult":
			cmd, _ := ev["command"].(string)
			output, _ := ev["output"].(string)
			if cmd != "" {
				parts = append(parts, fmt.Sprintf("$ %s\n%s", cmd, output))
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	content := joinLines(parts)
	return &record.MemoryRecord{
		ID:              fmt.Sprintf("warp-sqlite:%s:%d", path, id),
		Content:         content,
		Summary:         record.DeriveSummary(content),
		Type:            record.TypeLearning,
		SourceTimestamp: ts,
		DecayScore:      record.DecayScore(ts, time.Now()),
		Status:          record.StatusActive,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// Write always fails: this adapter is read-only.
func (a *Adapter) Write(ctx context.Context, op adapters.WriteOp) error {
	return cerrors.New(cerrors.KindAdapterError, cerrors.ErrReadOnly)
}
