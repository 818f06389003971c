// Package output formats command results for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/corpusindex/internal/store"
)

// Writer prints status lines and search results.
type Writer struct {
	out    io.Writer
	styles styles
}

type styles struct {
	ok, warn, fail, dim, score lipgloss.Style
}

// New creates a Writer. Color is applied only when color is true.
func New(out io.Writer, color bool) *Writer {
	plain := lipgloss.NewStyle()
	s := styles{ok: plain, warn: plain, fail: plain, dim: plain, score: plain}
	if color {
		s = styles{
			ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
			fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			score: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		}
	}
	return &Writer{out: out, styles: s}
}

// Status prints msg after icon, or indented when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Status(w.styles.ok.Render("✓"), fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status(w.styles.warn.Render("!"), fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status(w.styles.fail.Render("✗"), fmt.Sprintf(format, args...))
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchHit is the JSON shape of one search result.
type SearchHit struct {
	Rank           int            `json:"rank"`
	Score          float64        `json:"score"`
	SourceLocation string         `json:"source_location"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Hits converts scored documents to their JSON shape.
func Hits(results []store.ScoredDocument) []SearchHit {
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			Rank:           i + 1,
			Score:          r.Score,
			SourceLocation: r.Document.SourceLocation,
			Content:        r.Document.PageContent,
			Metadata:       r.Document.Metadata,
		}
	}
	return hits
}

// SearchResults prints ranked results with a content preview of at most
// preview runes.
func (w *Writer) SearchResults(results []store.ScoredDocument, preview int) {
	if len(results) == 0 {
		w.Warningf("No results")
		return
	}
	for _, h := range Hits(results) {
		_, _ = fmt.Fprintf(w.out, "%2d. %s  %s\n", h.Rank,
			w.styles.score.Render(fmt.Sprintf("%.4f", h.Score)), h.SourceLocation)
		_, _ = fmt.Fprintf(w.out, "    %s\n", truncate(oneLine(h.Content), preview))
		if meta := formatMetadata(h.Metadata); meta != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.dim.Render(meta))
		}
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// formatMetadata renders metadata as sorted key=value pairs, omitting the
// source location already shown on the result line.
func formatMetadata(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k == store.MetadataSourceLocation {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, meta[k])
	}
	return strings.Join(parts, " ")
}
