package report

import (
	"io"
	"time"

	"github.com/nao1215/linkgraph/internal/crawler"
)

// Report is what the writers render: a crawl's link graph plus whatever
// is known about how it was produced.
//
// Design decision: The report is built from a crawler.Result for fresh
// crawls and from the archive for history, so it carries only plain data
// and does not depend on either source.
type Report struct {
	// CrawlID is the archive ID, empty when the crawl was not archived.
	CrawlID string `json:"id,omitempty"`

	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// Graph is the link graph.
	Graph crawler.Graph `json:"graph"`

	// Visited is the visit order. May be nil.
	Visited []string `json:"visited,omitempty"`

	// Config holds the crawl bounds, when known.
	Config *crawler.Config `json:"config,omitempty"`

	// Stats holds crawl statistics, when known.
	Stats *crawler.Stats `json:"stats,omitempty"`

	// GeneratedAt is when the report was built.
	GeneratedAt time.Time `json:"generated_at"`
}

// NewReport builds a report from a finished crawl.
func NewReport(result *crawler.Result, cfg crawler.Config) *Report {
	stats := result.Stats
	return &Report{
		Seed:        result.Seed,
		Graph:       result.Graph,
		Visited:     result.Visited,
		Config:      &cfg,
		Stats:       &stats,
		GeneratedAt: time.Now(),
	}
}

// PageCount returns the number of visited pages, falling back to the
// number of origins when the visit order is unknown.
func (r *Report) PageCount() int {
	if r.Stats != nil {
		return r.Stats.PagesVisited
	}
	if r.Visited != nil {
		return len(r.Visited)
	}
	return len(r.Graph)
}

// Writer defines the interface for report output.
//
// Design decision: We use an interface so the CLI picks a format once and
// the rest of the code writes reports without caring which one it is.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *Report) (int, error)
}

// MultiWriter writes to multiple Writers in order.
//
// Design decision: This is separate from io.MultiWriter because each
// destination may want a different format.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to every Writer and stops at the first error.
func (m *MultiWriter) Write(report *Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
