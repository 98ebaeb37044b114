package report

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/nao1215/linkgraph/internal/crawler"
)

// JSONWriter outputs reports as JSON, one document per Write.
//
// Design decision: We use standard encoding/json rather than a third-party
// JSON library because the output is a map of string slices plus a few
// flat structs, which the standard encoder handles fully. HTML escaping is
// turned off so query strings keep their literal '&'.
type JSONWriter struct {
	baseWriter

	// pretty indents nested values by two spaces.
	pretty bool

	// graphOnly writes the bare graph object instead of the full report.
	graphOnly bool
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint indents the output for reading in a terminal.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.pretty = true
	}
}

// WithGraphOnly writes only the graph: an object mapping each origin to
// its destinations. This is the body the HTTP API answers with.
func WithGraphOnly() JSONWriterOption {
	return func(w *JSONWriter) {
		w.graphOnly = true
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report. A nil graph is written as {}, never null.
func (w *JSONWriter) Write(report *Report) (int, error) {
	graph := report.Graph
	if graph == nil {
		graph = crawler.Graph{}
	}

	var v any = graph
	if !w.graphOnly {
		out := *report
		out.Graph = graph
		v = &out
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if w.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}
