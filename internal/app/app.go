package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cortex-memory/cortex/internal/adapterreg"
	"github.com/cortex-memory/cortex/internal/adapters/convarchive"
	"github.com/cortex-memory/cortex/internal/adapters/knowledgegraph"
	"github.com/cortex-memory/cortex/internal/adapters/locallog"
	"github.com/cortex-memory/cortex/internal/adapters/markdown"
	"github.com/cortex-memory/cortex/internal/adapters/terminalhistory"
	"github.com/cortex-memory/cortex/internal/annotations"
	"github.com/cortex-memory/cortex/internal/config"
	"github.com/cortex-memory/cortex/internal/lockmgr"
	"github.com/cortex-memory/cortex/internal/logstore"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/orchestrator"
	"github.com/cortex-memory/cortex/internal/patterns"
	"github.com/cortex-memory/cortex/internal/record"
	"github.com/cortex-memory/cortex/internal/resilience"
	"github.com/cortex-memory/cortex/internal/search"
	"github.com/cortex-memory/cortex/internal/telemetry"
	"github.com/cortex-memory/cortex/internal/tiering"
	"github.com/cortex-memory/cortex/internal/writequeue"
)

const embeddingDims = 384

// Options configures Open.
type Options struct {
	Base            string
	MarkdownPaths   []string
	TerminalDBPaths []string
	Caller          mcpcaller.Caller
	Embedder        search.Embedder
	Telemetry       bool
	Log             *slog.Logger
}

// App holds every live component for one process.
type App struct {
	Layout      Layout
	Log         *slog.Logger
	Config      *config.Manager
	Locks       *lockmgr.Manager
	Tiers       map[string]*logstore.Store
	Registry    *adapterreg.Registry
	Degradation *resilience.DegradationManager
	Hybrid      *search.Hybrid
	Orch        *orchestrator.Orchestrator
	Telemetry   *telemetry.Provider
	Patterns    *patterns.Tracker
	Annotations *annotations.Store
	Writes      *writequeue.Queue
	Errors      *resilience.ErrorLog

	vector   *search.VectorIndex
	markdown *markdown.Adapter
}

// NewLogger builds the process logger; CORTEX_DEBUG=1 drops the level
// to Debug.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("CORTEX_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Open loads the config, opens every tier store, and wires the
// adapters, registry, hybrid search, and orchestrator together.
func Open(opts Options) (*App, error) {
	if opts.Base == "" {
		opts.Base = DefaultBase()
	}
	log := opts.Log
	if log == nil {
		log = NewLogger()
	}
	layout := Layout{Base: opts.Base}

	cfg := config.New(config.Options{
		CurrentPath: layout.ConfigPath(),
		HistoryDir:  layout.ConfigHistoryDir(),
		Log:         log,
	})
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	secret := os.Getenv("CORTEX_ENCRYPTION_SECRET")

	tiers := map[string]*logstore.Store{
		"working":    logstore.New(layout.WorkingPath(), log),
		"short-term": logstore.New(layout.ShortTermPath(), log),
		"long-term":  logstore.New(layout.LongTermPath(), log),
		"global":     logstore.New(layout.GlobalPath(), log),
		"skills":     logstore.New(layout.SkillsPath(), log),
	}
	for name, s := range tiers {
		if secret != "" {
			s.SetEncryptionSecret(secret)
		}
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("app: load tier %s: %w", name, err)
		}
	}

	deg := resilience.NewDegradationManager()
	deg.RegisterComponent("local-log", resilience.CriticalityHigh)
	deg.RegisterComponent("conversation-archive", resilience.CriticalityLow)
	deg.RegisterComponent("knowledge-graph", resilience.CriticalityLow)
	deg.RegisterComponent("curated-markdown", resilience.CriticalityMedium)
	deg.RegisterComponent("terminal-history", resilience.CriticalityLow)
	deg.RegisterComponent("vector-index", resilience.CriticalityMedium)

	local := locallog.New([]locallog.TierSource{
		{Name: "working", Store: tiers["working"], MaxAge: 24 * time.Hour},
		{Name: "short-term", Store: tiers["short-term"], MaxAge: 7 * 24 * time.Hour},
		{Name: "long-term", Store: tiers["long-term"]},
		{Name: "global", Store: tiers["global"]},
		{Name: "skills", Store: tiers["skills"]},
	})

	md := markdown.New(opts.MarkdownPaths, log)

	errlog := resilience.NewErrorLog(128)
	caller := opts.Caller
	if caller != nil {
		caller = &guardedCaller{
			inner:    caller,
			breakers: resilience.NewRegistry(3, 30*time.Second),
			errors:   errlog,
		}
	}

	reg := adapterreg.New(log)
	reg.Register(local)
	reg.Register(convarchive.New(caller))
	reg.Register(knowledgegraph.New(caller))
	reg.Register(md)
	reg.Register(terminalhistory.New(opts.TerminalDBPaths))

	vec, err := search.LoadVectorIndex(layout.VectorBlobPath(), layout.VectorMappingPath(), embeddingDims)
	if err != nil {
		// A damaged vector index degrades hybrid search, it does not
		// take the whole session down.
		log.Warn("app: vector index unreadable, starting empty", "error", err)
		deg.SetHealthy("vector-index", false)
		vec = search.NewVectorIndex(embeddingDims, 64)
	}
	lex := search.NewBM25Index()
	for _, s := range tiers {
		for _, r := range s.GetAll() {
			if r.Status != record.StatusActive {
				continue
			}
			lex.Index(r.ID, r.Content+" "+r.Summary+" "+strings.Join(r.Tags, " "))
		}
	}
	hybrid := search.NewHybrid(vec, lex, search.NewCachedEmbedder(opts.Embedder, 512))

	tel, err := telemetry.New(telemetry.Options{Enabled: opts.Telemetry, Log: log})
	if err != nil {
		return nil, fmt.Errorf("app: telemetry: %w", err)
	}

	pt := patterns.New(layout.DecisionsPath(), layout.OutcomesPath(), log)
	ann := annotations.New(layout.AnnotationsPath(), log)

	locks := lockmgr.New(layout.LocksDir(), log)
	if n := locks.SweepStale(); n > 0 {
		log.Info("app: reclaimed stale locks", "count", n)
	}
	wq := writequeue.New(func(resource string, entries []any) []error {
		errs := make([]error, len(entries))
		fail := func(err error) []error {
			for i := range errs {
				if errs[i] == nil {
					errs[i] = err
				}
			}
			return errs
		}
		store, ok := tiers[resource]
		if !ok {
			return fail(fmt.Errorf("app: write to unknown tier %q", resource))
		}
		lockErr := locks.WithLock("write:"+resource, "write-queue",
			30*time.Second, 10*time.Second, 50*time.Millisecond, func() error {
				// One bad entry must not take down its batch
				// siblings: record its error and keep appending.
				for i, e := range entries {
					rec, ok := e.(*record.MemoryRecord)
					if !ok {
						errs[i] = fmt.Errorf("app: write queue payload for %q is not a record", resource)
						continue
					}
					errs[i] = store.Append(rec)
				}
				return nil
			})
		if lockErr != nil {
			return fail(lockErr)
		}
		return errs
	}, writequeue.Options{Log: log})

	a := &App{
		Layout:      layout,
		Log:         log,
		Errors:      errlog,
		Config:      cfg,
		Locks:       locks,
		Tiers:       tiers,
		Registry:    reg,
		Degradation: deg,
		Hybrid:      hybrid,
		Orch:        orchestrator.New(reg, hybrid, deg, log),
		Telemetry:   tel,
		Patterns:    pt,
		Annotations: ann,
		Writes:      wq,
		vector:      vec,
		markdown:    md,
	}
	return a, nil
}

// LoadAuxStores loads the pattern tracker and annotation log; tier
// stores are always loaded by Open, these two only when a command
// needs them.
func (a *App) LoadAuxStores() error {
	if err := a.Patterns.Load(); err != nil {
		return err
	}
	return a.Annotations.Load()
}

// EnqueueRecord routes one record through the write queue into the
// named tier; it returns once the batch containing the record is
// durable.
func (a *App) EnqueueRecord(ctx context.Context, tier string, rec *record.MemoryRecord) error {
	return a.Writes.Enqueue(ctx, tier, rec)
}

// Close drains the write queue, saves the vector index, and flushes
// telemetry.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	a.Writes.Close()
	if err := a.vector.Save(a.Layout.VectorBlobPath(), a.Layout.VectorMappingPath()); err != nil {
		firstErr = err
	}
	if a.markdown != nil {
		if err := a.markdown.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// TierCounts reports active (non-deleted) record counts per tier.
func (a *App) TierCounts() map[string]int {
	counts := make(map[string]int, len(a.Tiers))
	for name, s := range a.Tiers {
		n := 0
		for _, r := range s.GetAll() {
			if r.Status != record.StatusDeleted {
				n++
			}
		}
		counts[name] = n
	}
	return counts
}

// PromotionTiers bundles the three aging tiers for a sweep.
func (a *App) PromotionTiers() tiering.Tiers {
	return tiering.Tiers{
		Working:   a.Tiers["working"],
		ShortTerm: a.Tiers["short-term"],
		LongTerm:  a.Tiers["long-term"],
	}
}

// ApplyTomlOverride merges <base>/cortex.toml into the live config if
// the file exists. Called by bootstrap so a hand-written TOML override
// survives into the JSON current document.
func (a *App) ApplyTomlOverride() error {
	data, err := os.ReadFile(a.Layout.TomlOverridePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("app: read toml override: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("app: parse toml override: %w", err)
	}
	return a.Config.Update(doc, "bootstrap: cortex.toml override")
}

// SeedFromMarkdown parses the configured curated markdown files and
// appends every extracted record to the working tier. Used by
// `bootstrap --seed` so a fresh installation starts with the user's
// curated knowledge instead of an empty store.
func (a *App) SeedFromMarkdown() (int, error) {
	seeded := 0
	for _, path := range a.markdownPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return seeded, fmt.Errorf("app: seed from %s: %w", path, err)
		}
		for _, rec := range markdown.Parse(path, string(data)) {
			// Parse ids are content-stable, so re-running seed skips
			// anything already present instead of failing the append.
			if _, err := a.Tiers["working"].Get(rec.ID); err == nil {
				continue
			}
			if err := a.EnqueueRecord(context.Background(), "working", rec); err != nil {
				return seeded, err
			}
			seeded++
		}
	}
	return seeded, nil
}

func (a *App) markdownPaths() []string {
	if a.markdown == nil {
		return nil
	}
	return a.markdown.Paths()
}

// guardedCaller wraps the host-injected Caller with a per-tool circuit
// breaker, a bounded retry, and error logging, so a flapping external
// service is cut off before it can eat every adapter's timeout budget.
type guardedCaller struct {
	inner    mcpcaller.Caller
	breakers *resilience.Registry
	errors   *resilience.ErrorLog
}

func (g *guardedCaller) Call(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
	var resp map[string]any
	err := resilience.Retry(ctx, resilience.RetryOptions{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
		Breaker:         g.breakers.Get(tool),
	}, func() error {
		var cerr error
		resp, cerr = g.inner.Call(ctx, tool, params)
		return cerr
	})
	if err != nil {
		g.errors.Record(tool, err)
		return nil, err
	}
	return resp, nil
}
