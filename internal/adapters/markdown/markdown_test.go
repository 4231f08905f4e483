package markdown

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/record"
)

const sample = `# Notes

## Patterns

- Always retry with jittered backoff, never fixed delay schedules
- short

### Gotchas

Turns out the root cause was a missing index on the join column.

` + "```go\nfunc retry() error { return nil }\n```" + `

| key | value |
|-----|-------|
| timeout | 30s |
`

func TestParseExtractsBulletsCodeAndTableRows(t *testing.T) {
	recs := Parse("NOTES.md", sample)
	require.NotEmpty(t, recs)

	var sawBullet, sawCode, sawTable, sawParagraph bool
	for _, r := range recs {
		switch {
		case strings.Contains(r.Content, "jittered backoff"):
			sawBullet = true
			assert.Equal(t, record.TypePattern, r.Type)
		case strings.Contains(r.Content, "func retry"):
			sawCode = true
		case strings.Contains(r.Content, "timeout: 30s"):
			sawTable = true
		case strings.Contains(r.Content, "root cause"):
			sawParagraph = true
		}
	}
	assert.True(t, sawBullet, "expected a bullet-derived record")
	assert.True(t, sawCode, "expected a code-block-derived record")
	assert.True(t, sawTable, "expected a table-row-derived record")
	assert.True(t, sawParagraph, "expected a learning-like paragraph record")
}

func TestParseSkipsShortBullets(t *testing.T) {
	recs := Parse("NOTES.md", sample)
	for _, r := range recs {
		assert.NotEqual(t, "short", r.Content)
	}
}

func TestQueryCachesByMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NOTES.md")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	a := New([]string{path}, nil)
	defer a.Close()

	recs1, stats1 := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.NotEmpty(t, recs1)
	assert.Equal(t, 0.0, stats1.CacheHitRate)

	_, stats2 := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.Equal(t, 1.0, stats2.CacheHitRate)
}

func TestIsAvailableFalseWhenNoFilesExist(t *testing.T) {
	a := New([]string{"/nonexistent/path/NOTES.md"}, nil)
	defer a.Close()
	assert.False(t, a.IsAvailable(context.Background()))
}

func TestParseAppliesFrontMatter(t *testing.T) {
	content := "---\ntags: [infra, ci]\nproject: abc123def456\n---\n\n## Patterns\n\n- Pin tool versions in CI so builds stay reproducible\n"
	recs := Parse("NOTES.md", content)
	require.NotEmpty(t, recs)

	for _, r := range recs {
		assert.Contains(t, r.Tags, "infra")
		assert.Contains(t, r.Tags, "ci")
		require.NotNil(t, r.ProjectHash)
		assert.Equal(t, "abc123def456", *r.ProjectHash)
	}
}

func TestParseIgnoresMalformedFrontMatter(t *testing.T) {
	content := "---\n: not yaml [\n---\n\n## Patterns\n\n- Keep configuration flat until nesting pays for itself\n"
	recs := Parse("NOTES.md", content)
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.Nil(t, r.ProjectHash)
	}
}
