package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// TextWriter prints one "origin -> destination" line per recorded link.
// Origins are sorted; destinations keep page order and repeat as they did
// on the page.
type TextWriter struct {
	baseWriter

	// showSummary prints a short header before the links.
	showSummary bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithSummary prints seed, page and link counts before the links.
func WithSummary(show bool) TextWriterOption {
	return func(w *TextWriter) {
		w.showSummary = show
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report as text.
func (w *TextWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	if w.showSummary {
		w.writeSummary(&sb, report)
	}
	for _, origin := range report.Graph.Origins() {
		for _, dest := range report.Graph[origin] {
			fmt.Fprintf(&sb, "%s -> %s\n", origin, dest)
		}
	}

	return io.WriteString(w.output, sb.String())
}

func (w *TextWriter) writeSummary(sb *strings.Builder, report *Report) {
	fmt.Fprintf(sb, "Seed:  %s\n", report.Seed)
	if report.CrawlID != "" {
		fmt.Fprintf(sb, "Crawl: %s\n", report.CrawlID)
	}
	fmt.Fprintf(sb, "Pages: %d\n", report.PageCount())
	fmt.Fprintf(sb, "Links: %d\n", report.Graph.EdgeCount())
	if report.Stats != nil {
		fmt.Fprintf(sb, "Time:  %s\n", report.Stats.Duration.Round(time.Millisecond))
	}
	sb.WriteString("\n")
}
