// Package app is the composition root: it owns the on-disk layout
// under the base directory, opens the tier stores, and assembles the
// adapters, registry, search engine, and orchestrator into one
// runnable instance for the CLI and the session hooks to drive.
package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every path Cortex touches relative to one base
// directory (default ~/.claude/memory).
type Layout struct {
	Base string
}

// DefaultBase returns the conventional base directory under the user's
// home, or the relative path .claude/memory when the home directory
// cannot be determined.
func DefaultBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude/memory"
	}
	return filepath.Join(home, ".claude", "memory")
}

func (l Layout) MemoriesDir() string     { return filepath.Join(l.Base, "data", "memories") }
func (l Layout) ProjectsDir() string     { return filepath.Join(l.MemoriesDir(), "projects") }
func (l Layout) WorkingPath() string     { return filepath.Join(l.MemoriesDir(), "working.jsonl") }
func (l Layout) ShortTermPath() string   { return filepath.Join(l.MemoriesDir(), "short-term.jsonl") }
func (l Layout) LongTermPath() string    { return filepath.Join(l.MemoriesDir(), "long-term.jsonl") }
func (l Layout) GlobalPath() string      { return filepath.Join(l.MemoriesDir(), "global.jsonl") }
func (l Layout) SkillsPath() string      { return filepath.Join(l.Base, "data", "skills", "index.jsonl") }
func (l Layout) DecisionsPath() string   { return filepath.Join(l.Base, "data", "patterns", "decisions.jsonl") }
func (l Layout) OutcomesPath() string    { return filepath.Join(l.Base, "data", "patterns", "outcomes.jsonl") }
func (l Layout) ConfigPath() string      { return filepath.Join(l.Base, "data", "configs", "current.json") }
func (l Layout) ConfigHistoryDir() string { return filepath.Join(l.Base, "data", "configs", "history") }
func (l Layout) VectorBlobPath() string  { return filepath.Join(l.Base, "data", "vector", "index.bin") }
func (l Layout) VectorMappingPath() string { return filepath.Join(l.Base, "data", "vector", "mapping.json") }
func (l Layout) QueryCachePath() string  { return filepath.Join(l.Base, "data", "cache", "query-cache.json") }
func (l Layout) AnnotationsPath() string { return filepath.Join(l.Base, "annotations", "episodic.jsonl") }
func (l Layout) LocksDir() string        { return filepath.Join(l.Base, ".locks") }
func (l Layout) LogPath() string         { return filepath.Join(l.Base, "logs", "cmo.log") }
func (l Layout) TomlOverridePath() string { return filepath.Join(l.Base, "cortex.toml") }

// ProjectPath returns the per-project tier file for hash.
func (l Layout) ProjectPath(hash string) string {
	return filepath.Join(l.ProjectsDir(), hash+".jsonl")
}

// tierFiles lists every JSONL file Bootstrap creates empty.
func (l Layout) tierFiles() []string {
	return []string{
		l.WorkingPath(),
		l.ShortTermPath(),
		l.LongTermPath(),
		l.GlobalPath(),
		l.SkillsPath(),
		l.DecisionsPath(),
		l.OutcomesPath(),
		l.AnnotationsPath(),
	}
}

// Bootstrap creates the directory layout and empty tier files. With
// force, existing tier files are truncated; without it they are left
// alone.
func (l Layout) Bootstrap(force bool) error {
	dirs := []string{
		l.MemoriesDir(),
		l.ProjectsDir(),
		filepath.Dir(l.SkillsPath()),
		filepath.Dir(l.DecisionsPath()),
		filepath.Dir(l.ConfigPath()),
		l.ConfigHistoryDir(),
		filepath.Dir(l.VectorBlobPath()),
		filepath.Dir(l.QueryCachePath()),
		filepath.Dir(l.AnnotationsPath()),
		filepath.Dir(l.LogPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("bootstrap: mkdir %s: %w", d, err)
		}
	}
	if err := os.MkdirAll(l.LocksDir(), 0o700); err != nil {
		return fmt.Errorf("bootstrap: mkdir %s: %w", l.LocksDir(), err)
	}
	for _, f := range l.tierFiles() {
		if !force {
			if _, err := os.Stat(f); err == nil {
				continue
			}
		}
		if err := os.WriteFile(f, nil, 0o644); err != nil {
			return fmt.Errorf("bootstrap: create %s: %w", f, err)
		}
	}
	return nil
}
