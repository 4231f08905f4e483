package orchestrator

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/cortex-memory/cortex/internal/record"
)

// NormalizeFormat maps f to a known Format, defaulting to
// FormatMarkdown when unset or unrecognized.
func NormalizeFormat(f Format) Format {
	switch f {
	case FormatXML, FormatPlain:
		return f
	default:
		return FormatMarkdown
	}
}

// Render formats recs (already ordered, filtered, and budgeted) plus
// a trailing stats summary.
func (f Format) Render(recs []*record.MemoryRecord, stats Stats) string {
	switch f {
	case FormatXML:
		return renderXML(recs, stats)
	case FormatPlain:
		return renderPlain(recs, stats)
	default:
		return renderMarkdown(recs, stats)
	}
}

type xmlMemory struct {
	XMLName    xml.Name `xml:"memory"`
	ID         string   `xml:"id,attr"`
	Type       string   `xml:"type,attr"`
	Relevance  string   `xml:"relevance,attr"`
	Summary    string   `xml:"summary"`
	Content    string   `xml:"content"`
	Tags       string   `xml:"tags,omitempty"`
}

type xmlMemories struct {
	XMLName xml.Name    `xml:"memories"`
	Items   []xmlMemory `xml:"memory"`
}

func renderXML(recs []*record.MemoryRecord, stats Stats) string {
	doc := xmlMemories{Items: make([]xmlMemory, 0, len(recs))}
	for _, r := range recs {
		doc.Items = append(doc.Items, xmlMemory{
			ID:        r.ID,
			Type:      string(r.Type),
			Relevance: fmt.Sprintf("%.2f", r.RelevanceScore),
			Summary:   r.Summary,
			Content:   r.Content,
			Tags:      strings.Join(r.Tags, ","),
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ""
	}
	return xml.Header + string(out) + fmt.Sprintf("\n<!-- %d memories, ~%d tokens -->\n", stats.Selected, stats.EstimatedTokens)
}

// renderMarkdown groups memories by type under "## Relevant
// Memories".
func renderMarkdown(recs []*record.MemoryRecord, stats Stats) string {
	if len(recs) == 0 {
		return "## Relevant Memories\n\n(none)\n"
	}
	byType := make(map[record.Type][]*record.MemoryRecord)
	var types []record.Type
	for _, r := range recs {
		if _, ok := byType[r.Type]; !ok {
			types = append(types, r.Type)
		}
		byType[r.Type] = append(byType[r.Type], r)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var b strings.Builder
	b.WriteString("## Relevant Memories\n\n")
	for _, t := range types {
		b.WriteString(fmt.Sprintf("### %s\n\n", titleCase(string(t))))
		for _, r := range byType[t] {
			b.WriteString(fmt.Sprintf("- **%s** (relevance %.2f): %s\n", r.Summary, r.RelevanceScore, r.Content))
			if len(r.Tags) > 0 {
				b.WriteString(fmt.Sprintf("  tags: %s\n", strings.Join(r.Tags, ", ")))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("_%d memories, ~%d tokens", stats.Selected, stats.EstimatedTokens))
	if stats.Truncated {
		b.WriteString(", truncated to fit budget")
	}
	b.WriteString("_\n")
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func renderPlain(recs []*record.MemoryRecord, stats Stats) string {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(fmt.Sprintf("[%s] %s\n", r.Type, r.Summary))
	}
	b.WriteString(fmt.Sprintf("(%d memories, ~%d tokens)\n", stats.Selected, stats.EstimatedTokens))
	return b.String()
}
