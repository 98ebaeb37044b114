package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/linkgraph/internal/crawler"
)

// createTestReport creates a report over a small cyclic site.
func createTestReport() *Report {
	result := &crawler.Result{
		Seed: "http://example.com/a",
		Graph: crawler.Graph{
			"http://example.com/b": {"http://example.com/a", "http://example.com/c"},
			"http://example.com/a": {"http://example.com/b", "http://example.com/c", "http://example.com/b"},
			"http://example.com/c": {"http://example.com/a"},
		},
		Visited: []string{"http://example.com/a", "http://example.com/b", "http://example.com/c"},
		Stats: crawler.Stats{
			PagesVisited: 3,
			Edges:        6,
			StartedAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
			Duration:     1234 * time.Millisecond,
		},
	}
	return NewReport(result, crawler.Config{MaxDepth: 2, MaxPages: 10, PoolSize: 2})
}

func TestTextWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes one line per link with sorted origins", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewTextWriter(&buf).Write(createTestReport())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := strings.Join([]string{
			"http://example.com/a -> http://example.com/b",
			"http://example.com/a -> http://example.com/c",
			"http://example.com/a -> http://example.com/b",
			"http://example.com/b -> http://example.com/a",
			"http://example.com/b -> http://example.com/c",
			"http://example.com/c -> http://example.com/a",
		}, "\n") + "\n"
		if buf.String() != want {
			t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
		}
		if n != len(want) {
			t.Errorf("n = %d, want %d", n, len(want))
		}
	})

	t.Run("summary header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		report := createTestReport()
		report.CrawlID = "abc-123"
		if _, err := NewTextWriter(&buf, WithSummary(true)).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"Seed:  http://example.com/a", "Crawl: abc-123", "Pages: 3", "Links: 6", "Time:  1.234s"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output:\n%s", want, output)
			}
		}
	})

	t.Run("empty graph writes nothing", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewTextWriter(&buf).Write(&Report{Seed: "http://example.com/"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.Len() != 0 {
			t.Errorf("expected no output, got %q", buf.String())
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes full report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got struct {
			Seed    string              `json:"seed"`
			Graph   map[string][]string `json:"graph"`
			Visited []string            `json:"visited"`
			Config  crawler.Config      `json:"config"`
			Stats   crawler.Stats       `json:"stats"`
		}
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.Seed != "http://example.com/a" {
			t.Errorf("seed = %q", got.Seed)
		}
		if len(got.Graph) != 3 || len(got.Graph["http://example.com/a"]) != 3 {
			t.Errorf("graph = %v", got.Graph)
		}
		if got.Config.MaxDepth != 2 || got.Stats.PagesVisited != 3 {
			t.Errorf("config = %+v, stats = %+v", got.Config, got.Stats)
		}
		if !strings.HasSuffix(buf.String(), "\n") {
			t.Error("expected trailing newline")
		}
	})

	t.Run("graph only", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		report := createTestReport()
		if _, err := NewJSONWriter(&buf, WithGraphOnly()).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got map[string][]string
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if !reflect.DeepEqual(crawler.Graph(got), report.Graph) {
			t.Errorf("graph = %v, want %v", got, report.Graph)
		}
	})

	t.Run("nil graph is an empty object", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithGraphOnly()).Write(&Report{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.String() != "{}\n" {
			t.Errorf("got %q, want {}", buf.String())
		}
	})

	t.Run("pretty print", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"seed\"") {
			t.Errorf("expected two-space indentation:\n%s", buf.String())
		}
	})

	t.Run("query strings are not HTML escaped", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		report := &Report{Graph: crawler.Graph{
			"http://example.com/": {"http://example.com/list?page=2&sort=asc"},
		}}
		if _, err := NewJSONWriter(&buf, WithGraphOnly()).Write(report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "page=2&sort=asc") {
			t.Errorf("expected a literal '&', got %s", buf.String())
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	report := createTestReport()
	report.CrawlID = "crawl-1"
	n, err := NewMarkdownWriter(&buf).Write(report)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()
	if n == 0 {
		t.Error("expected a positive byte count")
	}

	t.Run("header table", func(t *testing.T) {
		t.Parallel()

		for _, want := range []string{"# Link Graph Report", "`http://example.com/a`", "`crawl-1`", "Pages Visited", "Max Depth"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output", want)
			}
		}
	})

	t.Run("flowchart", func(t *testing.T) {
		t.Parallel()

		for _, want := range []string{
			"```mermaid",
			"flowchart LR",
			`n0["http://example.com/a"]`,
			"n0 -->|2| n1",
			"n0 --> n2",
			"n2 --> n0",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output:\n%s", want, output)
			}
		}
	})

	t.Run("out-degree chart", func(t *testing.T) {
		t.Parallel()

		if !strings.Contains(output, "## Outgoing Links") {
			t.Error("expected out-degree section")
		}
		if !strings.Contains(output, "Outgoing Links per Page") {
			t.Error("expected pie chart title")
		}
	})

	t.Run("per-page tables in sorted order", func(t *testing.T) {
		t.Parallel()

		a := strings.Index(output, "### http://example.com/a")
		b := strings.Index(output, "### http://example.com/b")
		c := strings.Index(output, "### http://example.com/c")
		if a < 0 || b < 0 || c < 0 || a >= b || b >= c {
			t.Errorf("page sections missing or out of order: a=%d b=%d c=%d", a, b, c)
		}
	})
}

func TestMarkdownWriterEmptyGraph(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewMarkdownWriter(&buf).Write(&Report{Seed: "http://example.com/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "No same-origin links were recorded.") {
		t.Errorf("expected note about empty graph:\n%s", output)
	}
	if strings.Contains(output, "flowchart") {
		t.Error("empty graph must not render a flowchart")
	}
}

func TestMarkdownWriterTruncatesLargeGraphs(t *testing.T) {
	t.Parallel()

	graph := crawler.Graph{}
	for i := range maxFlowchartEdges + 10 {
		graph["http://example.com/"] = append(graph["http://example.com/"], fmt.Sprintf("http://example.com/p%d", i))
	}

	var buf bytes.Buffer
	if _, err := NewMarkdownWriter(&buf).Write(&Report{Seed: "http://example.com/", Graph: graph}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), fmt.Sprintf("first %d distinct links", maxFlowchartEdges)) {
		t.Error("expected truncation warning")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type recordingWriter struct{ calls *int }

func (r recordingWriter) Write(*Report) (int, error) {
	*r.calls++
	return 1, nil
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var text, js bytes.Buffer
		mw := NewMultiWriter(NewTextWriter(&text), NewJSONWriter(&js))
		n, err := mw.Write(createTestReport())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text.Len() == 0 || js.Len() == 0 {
			t.Error("expected both writers to produce output")
		}
		if n != text.Len()+js.Len() {
			t.Errorf("n = %d, want %d", n, text.Len()+js.Len())
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		calls := 0
		mw := NewMultiWriter(NewTextWriter(failingWriter{}), recordingWriter{calls: &calls})
		if _, err := mw.Write(createTestReport()); err == nil {
			t.Fatal("expected error")
		}
		if calls != 0 {
			t.Errorf("second writer called %d times after failure", calls)
		}
	})
}

func TestReportPageCount(t *testing.T) {
	t.Parallel()

	graph := crawler.Graph{"a": {"b"}, "b": {"a"}}
	tests := []struct {
		name   string
		report Report
		want   int
	}{
		{name: "stats", report: Report{Graph: graph, Stats: &crawler.Stats{PagesVisited: 7}}, want: 7},
		{name: "visited", report: Report{Graph: graph, Visited: []string{"a", "b", "c"}}, want: 3},
		{name: "graph", report: Report{Graph: graph}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.report.PageCount(); got != tt.want {
				t.Errorf("PageCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMermaidLabel(t *testing.T) {
	t.Parallel()

	if got := mermaidLabel(`http://example.com/?q="x"`); got != "http://example.com/?q=#quot;x#quot;" {
		t.Errorf("mermaidLabel() = %q", got)
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a longer string", 10, "this is..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := truncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}
