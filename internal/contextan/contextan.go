// Package contextan implements the context analyzer: classifying intent
// and domains from a prompt and file list, extracting tags, hashing
// project paths, and scoring/ranking memories against the resulting
// context. It is a pure-function library with no I/O: every function
// is deterministic in its inputs, so ranking stays reproducible under
// churn.
package contextan

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cortex-memory/cortex/internal/record"
)

// Context is the normalized query context the orchestrator builds once
// per session-start or search invocation.
type Context struct {
	Prompt      string
	WorkingDir  string
	Paths       []string
	Intent      IntentResult
	Domains     []string
	Tags        []string
	ProjectHash string
}

// IntentResult is classifyIntent's output.
type IntentResult struct {
	Primary      record.Intent
	Confidence   float64
	Alternatives map[record.Intent]float64
}

// intentPattern is one regex family contributing to an intent's score.
type intentPattern struct {
	intent  record.Intent
	pattern *regexp.Regexp
	weight  float64
}

// intentPatterns is the fixed registry classifyIntent scores a prompt
// against. Patterns are intentionally simple keyword/phrase families;
// scoring sums weights of every match, not just the first.
var intentPatterns = []intentPattern{
	{record.IntentDebugging, regexp.MustCompile(`(?i)\b(bug|error|fail(ing|ure)?|crash|stack ?trace|exception|panic|broken|wrong)\b`), 1.0},
	{record.IntentDebugging, regexp.MustCompile(`(?i)\bwhy (is|does|isn't|doesn't)\b`), 0.6},
	{record.IntentImplementation, regexp.MustCompile(`(?i)\b(implement|add|build|create|write)\b`), 1.0},
	{record.IntentImplementation, regexp.MustCompile(`(?i)\bnew (feature|endpoint|function|component)\b`), 0.6},
	{record.IntentTesting, regexp.MustCompile(`(?i)\b(test(s|ing|ed)?|spec|assert|mock|fixture|coverage)\b`), 1.0},
	{record.IntentConfiguration, regexp.MustCompile(`(?i)\b(config(ure|uration)?|settings|env(ironment)? var|\.ya?ml|\.toml|\.env)\b`), 1.0},
	{record.IntentWorkflow, regexp.MustCompile(`(?i)\b(deploy|release|ci|pipeline|workflow|merge|pull request|pr\b)\b`), 1.0},
	{record.IntentSolution, regexp.MustCompile(`(?i)\b(fix(ed)?|resolve(d)?|solution|workaround|patch)\b`), 1.0},
}

// ClassifyIntent scores prompt against intentPatterns and returns the
// top intent, its normalized confidence, and the full score map.
func ClassifyIntent(prompt string) IntentResult {
	scores := make(map[record.Intent]float64)
	for _, ip := range intentPatterns {
		if ip.pattern.MatchString(prompt) {
			scores[ip.intent] += ip.weight
		}
	}
	if len(scores) == 0 {
		return IntentResult{Primary: record.IntentGeneral, Confidence: 0, Alternatives: scores}
	}

	var total float64
	var best record.Intent
	var bestScore float64
	// Deterministic iteration: sort intents for a stable "best" pick on
	// tied scores.
	intents := make([]record.Intent, 0, len(scores))
	for i := range scores {
		intents = append(intents, i)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })
	for _, i := range intents {
		s := scores[i]
		total += s
		if s > bestScore {
			bestScore = s
			best = i
		}
	}
	confidence := 0.0
	if total > 0 {
		confidence = bestScore / total
	}
	return IntentResult{Primary: best, Confidence: record.Clamp01(confidence), Alternatives: scores}
}

// extensionDomains maps a file extension to a domain name.
var extensionDomains = map[string]string{
	".ts": "frontend", ".tsx": "frontend", ".jsx": "frontend", ".vue": "frontend", ".css": "frontend", ".scss": "frontend", ".html": "frontend",
	".go": "backend", ".java": "backend", ".rb": "backend", ".py": "backend", ".rs": "backend", ".cs": "backend",
	".sql": "data", ".csv": "data", ".parquet": "data",
	".tf": "infra", ".yaml": "infra", ".yml": "infra", "dockerfile": "infra", ".dockerfile": "infra",
	".md": "documentation", ".mdx": "documentation", ".rst": "documentation", ".txt": "documentation",
}

// DetectDomains maps each path's extension (or base filename for
// extension-less markers like Dockerfile) to a domain using a fixed
// table, returning the deduplicated set matched.
func DetectDomains(paths []string) []string {
	seen := make(map[string]bool)
	for _, p := range paths {
		base := strings.ToLower(filepath.Base(p))
		ext := strings.ToLower(filepath.Ext(p))
		if d, ok := extensionDomains[base]; ok {
			seen[d] = true
			continue
		}
		if d, ok := extensionDomains[ext]; ok {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// techKeywords are technology terms extractTags pulls out of free text.
var techKeywords = []string{
	"go", "golang", "python", "javascript", "typescript", "react", "vue",
	"docker", "kubernetes", "postgres", "mysql", "redis", "graphql", "grpc",
	"rest", "sql", "terraform", "aws", "gcp", "azure", "git", "ci", "cd",
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// ExtractTagsInput bundles extractTags's inputs.
type ExtractTagsInput struct {
	Prompt string
	Paths  []string
	Intent record.Intent
}

// ExtractTags unions technology keywords found in the prompt, filename
// stems from paths, and the classified intent, lowercased and
// deduplicated.
func ExtractTags(in ExtractTagsInput) []string {
	tags := make([]string, 0, 8)
	lowerPrompt := strings.ToLower(in.Prompt)
	for _, kw := range techKeywords {
		if strings.Contains(lowerPrompt, kw) {
			tags = append(tags, kw)
		}
	}
	for _, p := range in.Paths {
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
		stem = nonWord.ReplaceAllString(stem, "-")
		stem = strings.Trim(stem, "-")
		if stem != "" {
			tags = append(tags, stem)
		}
	}
	if in.Intent != "" {
		tags = append(tags, string(in.Intent))
	}
	return record.NormalizeTags(tags)
}

// ProjectHash returns a stable 12-hex-char hash of dir, used to scope
// records to a project without leaking the path itself into the id.
func ProjectHash(dir string) string {
	clean := filepath.Clean(dir)
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:])[:12]
}

// Build assembles a Context from raw inputs, running every analyzer
// step once so downstream scoring reuses the same classification.
func Build(prompt, workingDir string, paths []string) Context {
	intent := ClassifyIntent(prompt)
	domains := DetectDomains(paths)
	tags := ExtractTags(ExtractTagsInput{Prompt: prompt, Paths: paths, Intent: intent.Primary})
	return Context{
		Prompt:      prompt,
		WorkingDir:  workingDir,
		Paths:       paths,
		Intent:      intent,
		Domains:     domains,
		Tags:        tags,
		ProjectHash: ProjectHash(workingDir),
	}
}

// Relative weights of the scoring indicators.
const (
	weightProject = 0.3
	weightIntent  = 0.4
	weightTags    = 0.3
	weightRecency = 0.1
	weightSource  = 0.1
)

// ScoreMemory sums weighted indicators in [0,1] and clamps the result.
func ScoreMemory(mem *record.MemoryRecord, ctx Context) float64 {
	var score float64

	score += weightProject * projectMatchScore(mem, ctx)
	score += weightIntent * intentMatchScore(mem, ctx)
	score += weightTags * tagJaccard(mem.Tags, ctx.Tags)
	score += weightRecency * mem.DecayScore
	score += weightSource * mem.SourcePriority

	return record.Clamp01(score)
}

func projectMatchScore(mem *record.MemoryRecord, ctx Context) float64 {
	if mem.IsGlobal() {
		return 0.3 // small base credit for global applicability
	}
	if *mem.ProjectHash == ctx.ProjectHash {
		return 1.0
	}
	return 0
}

func intentMatchScore(mem *record.MemoryRecord, ctx Context) float64 {
	if mem.Intent == ctx.Intent.Primary {
		return 1.0
	}
	if _, ok := ctx.Intent.Alternatives[mem.Intent]; ok {
		return 0.4
	}
	return 0
}

// tagJaccard is |intersection| / |union| over lowercased tag sets.
func tagJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		union[t] = true
	}
	for _, t := range b {
		if set[t] {
			intersection++
		}
		union[t] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// RankMemories stable-sorts memories by ScoreMemory descending,
// attaching the score to each record's RelevanceScore field.
func RankMemories(memories []*record.MemoryRecord, ctx Context) []*record.MemoryRecord {
	for _, m := range memories {
		m.RelevanceScore = ScoreMemory(m, ctx)
	}
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].RelevanceScore > memories[j].RelevanceScore
	})
	return memories
}
