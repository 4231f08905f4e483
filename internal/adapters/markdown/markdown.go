// Package markdown implements the curated-markdown adapter: it
// parses heading-demarcated sections out of configured files,
// extracting bullets, fenced code blocks, pipe-table rows, and
// learning-like paragraphs. Per-file cache is keyed by mtime (each
// query still stats the file) and entries live at most one minute; an
// fsnotify watcher also drops an entry the moment a watched file
// changes.
package markdown

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	priority = 0.85
	timeout  = 100 * time.Millisecond
	cacheTTL = time.Minute

	minBulletLen = 10
	minCodeLen   = 20
	codeContext  = 3
)

var learningLikePattern = regexp.MustCompile(`(?i)\b(fixed|solved|problem was|root cause|turns out|learned that)\b`)

var techKeywordPattern = regexp.MustCompile(`(?i)\b(go|golang|python|javascript|typescript|react|docker|kubernetes|postgres|redis|graphql|grpc|sql|terraform|aws|gcp|azure|git)\b`)

type cachedFile struct {
	mtime    time.Time
	cachedAt time.Time
	records  []*record.MemoryRecord
}

// Adapter parses curated markdown files into records.
type Adapter struct {
	paths   []string
	log     *slog.Logger
	enabled bool

	mu    sync.Mutex
	cache map[string]cachedFile

	watcher *fsnotify.Watcher
}

// New constructs the curated-markdown adapter over paths. The returned
// Adapter starts an fsnotify watcher best-effort; failure to start one
// (e.g. too many open watches) degrades to mtime-polling only, never a
// fatal error.
func New(paths []string, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{paths: paths, log: log, enabled: true, cache: make(map[string]cachedFile)}
	a.startWatching()
	return a
}

func (a *Adapter) startWatching() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		a.log.Warn("markdown: fsnotify unavailable, falling back to mtime polling", "error", err)
		return
	}
	for _, p := range a.paths {
		if err := w.Add(p); err != nil {
			a.log.Warn("markdown: could not watch file", "path", p, "error", err)
		}
	}
	a.watcher = w
	go a.watchLoop(w)
}

func (a *Adapter) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				a.mu.Lock()
				delete(a.cache, ev.Name)
				a.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.log.Warn("markdown: watcher error", "error", err)
		}
	}
}

// Close stops the fsnotify watcher, if one is running.
func (a *Adapter) Close() error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Close()
}

// Paths returns the configured curated file paths.
func (a *Adapter) Paths() []string { return a.paths }

func (a *Adapter) Name() string           { return "curated-markdown" }
func (a *Adapter) Priority() float64      { return priority }
func (a *Adapter) Timeout() time.Duration { return timeout }
func (a *Adapter) Enabled() bool          { return a.enabled }
func (a *Adapter) SetEnabled(v bool)      { a.enabled = v }

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	for _, p := range a.paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return len(a.paths) == 0
}

func (a *Adapter) Query(ctx context.Context, qctx adapters.QueryContext, opts adapters.QueryOptions) ([]*record.MemoryRecord, adapters.Stats) {
	start := time.Now()
	stats := adapters.Stats{Name: a.Name(), Available: true}

	var out []*record.MemoryRecord
	hits, total := 0, 0
	for _, p := range a.paths {
		total++
		recs, fromCache, err := a.recordsFor(p)
		if err != nil {
			stats.ErrorCount++
			continue
		}
		if fromCache {
			hits++
		}
		out = append(out, recs...)
	}
	for _, r := range out {
		adapters.Normalize(r, a.Name(), priority)
	}
	if opts.Type != "" {
		filtered := out[:0]
		for _, r := range out {
			if r.Type == opts.Type {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	stats.TotalRecords = len(out)
	if total > 0 {
		stats.CacheHitRate = float64(hits) / float64(total)
	}
	stats.LastQueryTime = time.Since(start)
	return out, stats
}

func (a *Adapter) recordsFor(path string) ([]*record.MemoryRecord, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	mtime := info.ModTime()

	a.mu.Lock()
	cached, ok := a.cache[path]
	a.mu.Unlock()
	if ok && !mtime.After(cached.mtime) && time.Since(cached.cachedAt) < cacheTTL {
		return cloneRecords(cached.records), true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	recs := Parse(path, string(data))

	a.mu.Lock()
	a.cache[path] = cachedFile{mtime: mtime, cachedAt: time.Now(), records: recs}
	a.mu.Unlock()
	return cloneRecords(recs), false, nil
}

func cloneRecords(recs []*record.MemoryRecord) []*record.MemoryRecord {
	out := make([]*record.MemoryRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out
}

// section is one ##/### heading block being accumulated during Parse.
type section struct {
	heading string
	level   int
	lines   []string
}

// frontMatter carries the optional YAML header a curated file may
// open with; its tags and project hash apply to every record parsed
// from that file.
type frontMatter struct {
	Tags    []string `yaml:"tags"`
	Project string   `yaml:"project"`
}

// splitFrontMatter strips a leading `---` YAML block and parses it;
// malformed front matter is ignored rather than failing the file.
func splitFrontMatter(content string) (frontMatter, string) {
	var fm frontMatter
	if !strings.HasPrefix(content, "---\n") {
		return fm, content
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, content
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontMatter{}, content
	}
	body := rest[end+4:]
	return fm, strings.TrimPrefix(body, "\n")
}

// Parse extracts records from one markdown file's content. An optional
// YAML front-matter block contributes file-wide tags and a project
// hash; heading words drive type inference and tags; within a section,
// bullets (len > minBulletLen), fenced code blocks (len > minCodeLen,
// with up to codeContext preceding lines as context), pipe-table rows,
// and learning-like paragraphs each become one record.
func Parse(path, content string) []*record.MemoryRecord {
	fm, body := splitFrontMatter(content)
	sections := splitSections(body)
	var out []*record.MemoryRecord
	for _, sec := range sections {
		out = append(out, extractFromSection(path, sec)...)
	}
	if len(fm.Tags) > 0 || fm.Project != "" {
		for _, r := range out {
			r.Tags = record.NormalizeTags(append(r.Tags, fm.Tags...))
			if fm.Project != "" && r.ProjectHash == nil {
				proj := fm.Project
				r.ProjectHash = &proj
			}
		}
	}
	return out
}

func splitSections(content string) []section {
	var sections []section
	var cur *section
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if level, heading, ok := parseHeading(line); ok {
			if cur != nil {
				sections = append(sections, *cur)
			}
			cur = &section{heading: heading, level: level}
			continue
		}
		if cur == nil {
			cur = &section{heading: ""}
		}
		cur.lines = append(cur.lines, line)
	}
	if cur != nil {
		sections = append(sections, *cur)
	}
	return sections
}

func parseHeading(line string) (level int, heading string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "### ") {
		return 3, strings.TrimSpace(trimmed[4:]), true
	}
	if strings.HasPrefix(trimmed, "## ") {
		return 2, strings.TrimSpace(trimmed[3:]), true
	}
	return 0, "", false
}

func extractFromSection(path string, sec section) []*record.MemoryRecord {
	typ := inferTypeFromHeading(sec.heading)
	tags := tagsFromHeading(sec.heading)
	now := time.Now()

	var out []*record.MemoryRecord
	var paragraph []string
	var inCode bool
	var codeLines []string
	var preContext []string

	flushParagraph := func() {
		text := strings.TrimSpace(strings.Join(paragraph, " "))
		paragraph = nil
		if text == "" || !learningLikePattern.MatchString(text) {
			return
		}
		out = append(out, makeRecord(path, sec.heading, typ, tags, text, now))
	}

	for _, line := range sec.lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				code := strings.Join(codeLines, "\n")
				if len(code) > minCodeLen {
					body := code
					if len(preContext) > 0 {
						body = strings.Join(preContext, "\n") + "\n" + code
					}
					out = append(out, makeRecord(path, sec.heading, typ, tags, body, now))
				}
				codeLines = nil
				inCode = false
			} else {
				flushParagraph()
				inCode = true
				if len(preContext) > codeContext {
					preContext = preContext[len(preContext)-codeContext:]
				}
			}
			continue
		}
		if inCode {
			codeLines = append(codeLines, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushParagraph()
			item := strings.TrimSpace(trimmed[2:])
			if len(item) > minBulletLen {
				out = append(out, makeRecord(path, sec.heading, typ, tags, item, now))
			}
		case strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2 && !isTableSeparator(trimmed):
			flushParagraph()
			if kv := parseTableRow(trimmed); kv != "" {
				out = append(out, makeRecord(path, sec.heading, typ, tags, kv, now))
			}
		case trimmed == "":
			flushParagraph()
		default:
			paragraph = append(paragraph, trimmed)
		}
		preContext = append(preContext, line)
	}
	flushParagraph()
	return out
}

func isTableSeparator(line string) bool {
	body := strings.Trim(line, "| ")
	if body == "" {
		return true
	}
	for _, c := range body {
		if c != '-' && c != ':' && c != ' ' && c != '|' {
			return false
		}
	}
	return true
}

func parseTableRow(line string) string {
	cells := strings.Split(strings.Trim(line, "|"), "|")
	if len(cells) < 2 {
		return ""
	}
	key := strings.TrimSpace(cells[0])
	value := strings.TrimSpace(strings.Join(cells[1:], " "))
	if key == "" || value == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", key, value)
}

func inferTypeFromHeading(heading string) record.Type {
	lower := strings.ToLower(heading)
	switch {
	case strings.Contains(lower, "pattern"):
		return record.TypePattern
	case strings.Contains(lower, "preference") || strings.Contains(lower, "convention"):
		return record.TypePreference
	case strings.Contains(lower, "skill") || strings.Contains(lower, "technique"):
		return record.TypeSkill
	case strings.Contains(lower, "correction") || strings.Contains(lower, "gotcha"):
		return record.TypeCorrection
	default:
		return record.TypeLearning
	}
}

func tagsFromHeading(heading string) []string {
	words := strings.Fields(strings.ToLower(heading))
	return record.NormalizeTags(words)
}

func makeRecord(path, heading string, typ record.Type, headingTags []string, content string, now time.Time) *record.MemoryRecord {
	tags := append([]string{}, headingTags...)
	for _, m := range techKeywordPattern.FindAllString(content, -1) {
		tags = append(tags, strings.ToLower(m))
	}
	id := fmt.Sprintf("claudemd:%s", record.ContentHash(path+"|"+heading+"|"+content))
	return &record.MemoryRecord{
		ID:              id,
		Content:         content,
		Summary:         record.DeriveSummary(content),
		Type:            typ,
		Tags:            record.NormalizeTags(tags),
		SourceTimestamp: now,
		DecayScore:      1.0,
		Status:          record.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
