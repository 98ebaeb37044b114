package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

const (
	// maxFlowchartEdges caps the mermaid diagram; larger graphs are cut
	// and the report says so.
	maxFlowchartEdges = 200

	// maxPieSlices is the number of origins shown in the out-degree chart.
	maxPieSlices = 8
)

// MarkdownWriter outputs reports in GitHub-flavored Markdown: a summary
// table, a mermaid flowchart of the graph, an out-degree pie chart and one
// link table per page.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	if report.Graph.EdgeCount() == 0 {
		md.Note("No same-origin links were recorded.")
		md.PlainText("")
	} else {
		w.writeFlowchart(md, report)
		w.writeOutDegree(md, report)
		w.writePages(md, report)
	}
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	md.H1("Link Graph Report")
	md.PlainText("")

	rows := [][]string{
		{"Seed", "`" + report.Seed + "`"},
	}
	if report.CrawlID != "" {
		rows = append(rows, []string{"Crawl ID", "`" + report.CrawlID + "`"})
	}
	rows = append(rows,
		[]string{"Pages Visited", strconv.Itoa(report.PageCount())},
		[]string{"Pages With Links", strconv.Itoa(len(report.Graph))},
		[]string{"Links", strconv.Itoa(report.Graph.EdgeCount())},
	)
	if report.Config != nil {
		rows = append(rows,
			[]string{"Max Depth", strconv.Itoa(report.Config.MaxDepth)},
			[]string{"Max Pages", strconv.Itoa(report.Config.MaxPages)},
		)
	}
	if report.Stats != nil {
		rows = append(rows,
			[]string{"Started", report.Stats.StartedAt.Format("2006-01-02 15:04:05 MST")},
			[]string{"Duration", report.Stats.Duration.Round(time.Millisecond).String()},
		)
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFlowchart writes the graph as a mermaid flowchart. Repeated links
// between the same pair are drawn once, labelled with their count.
func (w *MarkdownWriter) writeFlowchart(md *markdown.Markdown, report *Report) {
	md.H2("Link Graph")
	md.PlainText("")

	ids := nodeIDs(report.Graph)
	var (
		sb    strings.Builder
		drawn int
	)
	sb.WriteString("flowchart LR\n")

	urls := make([]string, 0, len(ids))
	for u := range ids {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", ids[u], mermaidLabel(u))
	}

	truncated := false
outer:
	for _, origin := range report.Graph.Origins() {
		dests, counts := countLinks(report.Graph[origin])
		for _, dest := range dests {
			if drawn == maxFlowchartEdges {
				truncated = true
				break outer
			}
			if counts[dest] > 1 {
				fmt.Fprintf(&sb, "    %s -->|%d| %s\n", ids[origin], counts[dest], ids[dest])
			} else {
				fmt.Fprintf(&sb, "    %s --> %s\n", ids[origin], ids[dest])
			}
			drawn++
		}
	}

	if truncated {
		md.Warningf("The diagram shows the first %d distinct links only.", maxFlowchartEdges)
		md.PlainText("")
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, strings.TrimRight(sb.String(), "\n"))
	md.PlainText("")
}

// writeOutDegree writes a pie chart of the pages with the most links.
func (w *MarkdownWriter) writeOutDegree(md *markdown.Markdown, report *Report) {
	type degree struct {
		origin string
		links  int
	}
	degrees := make([]degree, 0, len(report.Graph))
	for origin, dests := range report.Graph {
		if len(dests) > 0 {
			degrees = append(degrees, degree{origin, len(dests)})
		}
	}
	sort.Slice(degrees, func(i, j int) bool {
		if degrees[i].links != degrees[j].links {
			return degrees[i].links > degrees[j].links
		}
		return degrees[i].origin < degrees[j].origin
	})
	if len(degrees) > maxPieSlices {
		degrees = degrees[:maxPieSlices]
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Outgoing Links per Page"),
		piechart.WithShowData(true),
	)
	for _, d := range degrees {
		chart.LabelAndIntValue(d.origin, uint64(d.links)) //nolint:gosec // len is non-negative
	}

	md.H2("Outgoing Links")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writePages writes one table per origin listing its links in page order.
func (w *MarkdownWriter) writePages(md *markdown.Markdown, report *Report) {
	md.H2("Pages")
	md.PlainText("")

	for _, origin := range report.Graph.Origins() {
		dests := report.Graph[origin]
		if len(dests) == 0 {
			continue
		}
		md.H3(origin)
		md.PlainText("")

		rows := make([][]string, len(dests))
		for i, dest := range dests {
			rows[i] = []string{strconv.Itoa(i + 1), truncateString(dest, 120)}
		}
		md.Table(markdown.TableSet{
			Header: []string{"#", "Destination"},
			Rows:   rows,
		})
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [linkgraph](https://github.com/nao1215/linkgraph)*")
}

// nodeIDs assigns a short mermaid node ID to every URL in the graph, in
// sorted URL order so output is stable.
func nodeIDs(graph map[string][]string) map[string]string {
	seen := make(map[string]struct{})
	for origin, dests := range graph {
		seen[origin] = struct{}{}
		for _, d := range dests {
			seen[d] = struct{}{}
		}
	}
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	ids := make(map[string]string, len(urls))
	for i, u := range urls {
		ids[u] = "n" + strconv.Itoa(i)
	}
	return ids
}

// countLinks returns the distinct destinations in first-seen order with
// their multiplicity.
func countLinks(dests []string) ([]string, map[string]int) {
	counts := make(map[string]int, len(dests))
	distinct := make([]string, 0, len(dests))
	for _, d := range dests {
		if counts[d] == 0 {
			distinct = append(distinct, d)
		}
		counts[d]++
	}
	return distinct, counts
}

// mermaidLabel escapes characters that end a quoted mermaid label.
func mermaidLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
