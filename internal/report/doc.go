// Package report renders crawl link graphs.
//
// Writers for three formats implement the Writer interface:
//   - TextWriter: "origin -> destination" lines for the terminal
//   - JSONWriter: the report, or the bare graph, as JSON
//   - MarkdownWriter: tables and mermaid diagrams for sharing
//
// Every writer emits origins in sorted order so that two runs over the same
// site produce the same output.
package report
