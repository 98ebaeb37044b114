package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/config"
	"github.com/nao1215/linkgraph/internal/database"
)

// errNotEnoughCrawls is returned when a seed has fewer than two completed
// crawls to compare.
var errNotEnoughCrawls = errors.New("at least two completed crawls are needed to compare")

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <seed-url>",
		Short: "Compare the link graph of a site with an earlier crawl",
		Long: `Compare shows how a site's link graph changed between two archived crawls
of the same seed:
- Pages that appeared or disappeared
- Links that were added or removed

By default the latest two completed crawls are compared. Use
'linkgraph history --seed <url>' to see the available crawls.

Examples:
  # Compare latest two crawls of a site
  linkgraph compare https://example.com/

  # Compare the latest crawl with a specific one
  linkgraph compare --with-crawl-id 0b6f2c9e-... https://example.com/

  # Output comparison in Markdown format
  linkgraph compare -m https://example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: runCompareCmd,
	}

	cmd.Flags().StringP("with-crawl-id", "i", "",
		"Compare the latest crawl with this crawl instead of the one before it")
	cmd.Flags().BoolP("json", "j", false, "Output comparison result in JSON format")
	cmd.Flags().BoolP("markdown", "m", false, "Output comparison result in Markdown format")
	addDBDirFlag(cmd)

	return cmd
}

func runCompareCmd(cmd *cobra.Command, args []string) error {
	withID, err := cmd.Flags().GetString("with-crawl-id")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}

	db, err := database.Open(dbDir(cmd), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	result, err := runComparison(cmd.Context(), db, args[0], withID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	case markdownOutput:
		return outputComparisonMarkdown(out, result)
	default:
		return outputComparisonText(out, result)
	}
}

// CrawlMetadata describes one side of a comparison.
type CrawlMetadata struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	PageCount int       `json:"page_count"`
	EdgeCount int       `json:"edge_count"`
}

// Link is a directed link between two pages.
type Link struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ComparisonResult is the difference between two crawls of a seed.
type ComparisonResult struct {
	Seed          string        `json:"seed"`
	PreviousCrawl CrawlMetadata `json:"previous_crawl"`
	CurrentCrawl  CrawlMetadata `json:"current_crawl"`
	NewPages      []string      `json:"new_pages"`
	RemovedPages  []string      `json:"removed_pages"`
	NewLinks      []Link        `json:"new_links"`
	RemovedLinks  []Link        `json:"removed_links"`

	// UnchangedLinks counts distinct links present in both crawls.
	UnchangedLinks int `json:"unchanged_links"`
}

// runComparison loads the crawls to compare and compares them. The current
// crawl is the latest completed one; the previous is withID when given,
// else the completed crawl before the current one.
func runComparison(ctx context.Context, db *database.CrawlDB, seed, withID string) (*ComparisonResult, error) {
	history, err := db.ListCrawlsForSeed(ctx, seed, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl history: %w", err)
	}

	var completed []string
	for _, s := range history {
		if s.Status == database.StatusCompleted {
			completed = append(completed, s.ID)
		}
	}
	if len(completed) == 0 {
		return nil, fmt.Errorf("no completed crawls of %s in the archive", seed)
	}

	currentID := completed[0]
	previousID := withID
	if previousID == "" {
		if len(completed) < 2 {
			return nil, fmt.Errorf("%w: %s has %d", errNotEnoughCrawls, seed, len(completed))
		}
		previousID = completed[1]
	}
	if previousID == currentID {
		return nil, fmt.Errorf("crawl %s is the latest crawl; choose an earlier one", previousID)
	}

	current, err := db.GetCrawl(ctx, currentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrCrawlNotFound, currentID)
	}
	previous, err := db.GetCrawl(ctx, previousID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrCrawlNotFound, previousID)
	}
	if previous.Seed != seed {
		return nil, fmt.Errorf("crawl %s is a crawl of %s, not %s", previousID, previous.Seed, seed)
	}

	return compareCrawls(previous, current), nil
}

// compareCrawls computes the difference between two crawls. Repeated links
// count once.
func compareCrawls(previous, current *database.CrawlRecord) *ComparisonResult {
	result := &ComparisonResult{
		Seed:          current.Seed,
		PreviousCrawl: metadataOf(previous),
		CurrentCrawl:  metadataOf(current),
		NewPages:      []string{},
		RemovedPages:  []string{},
		NewLinks:      []Link{},
		RemovedLinks:  []Link{},
	}

	previousPages, currentPages := pagesOf(previous), pagesOf(current)
	for page := range currentPages {
		if _, ok := previousPages[page]; !ok {
			result.NewPages = append(result.NewPages, page)
		}
	}
	for page := range previousPages {
		if _, ok := currentPages[page]; !ok {
			result.RemovedPages = append(result.RemovedPages, page)
		}
	}

	previousLinks, currentLinks := linksOf(previous), linksOf(current)
	for link := range currentLinks {
		if _, ok := previousLinks[link]; !ok {
			result.NewLinks = append(result.NewLinks, link)
		}
	}
	for link := range previousLinks {
		if _, ok := currentLinks[link]; ok {
			result.UnchangedLinks++
		} else {
			result.RemovedLinks = append(result.RemovedLinks, link)
		}
	}

	slices.Sort(result.NewPages)
	slices.Sort(result.RemovedPages)
	slices.SortFunc(result.NewLinks, compareLinks)
	slices.SortFunc(result.RemovedLinks, compareLinks)
	return result
}

func metadataOf(rec *database.CrawlRecord) CrawlMetadata {
	return CrawlMetadata{
		ID:        rec.ID,
		StartedAt: rec.StartedAt,
		PageCount: rec.PageCount,
		EdgeCount: rec.EdgeCount,
	}
}

// pagesOf returns the visited pages of rec together with every page that
// has recorded links.
func pagesOf(rec *database.CrawlRecord) map[string]struct{} {
	pages := make(map[string]struct{}, len(rec.Visited))
	for _, page := range rec.Visited {
		pages[page] = struct{}{}
	}
	for origin := range rec.Graph {
		pages[origin] = struct{}{}
	}
	return pages
}

func linksOf(rec *database.CrawlRecord) map[Link]struct{} {
	links := make(map[Link]struct{})
	for origin, dests := range rec.Graph {
		for _, dest := range dests {
			links[Link{From: origin, To: dest}] = struct{}{}
		}
	}
	return links
}

func compareLinks(a, b Link) int {
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	return strings.Compare(a.To, b.To)
}

// outputComparisonMarkdown writes the comparison as Markdown.
func outputComparisonMarkdown(w io.Writer, result *ComparisonResult) error {
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Comparison: " + result.Seed)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Previous", "Current", "Change"},
		Rows: [][]string{
			{"Crawl ID", "`" + result.PreviousCrawl.ID + "`", "`" + result.CurrentCrawl.ID + "`", "-"},
			{"Date",
				result.PreviousCrawl.StartedAt.Local().Format("2006-01-02 15:04"),
				result.CurrentCrawl.StartedAt.Local().Format("2006-01-02 15:04"),
				"-"},
			{"Pages",
				strconv.Itoa(result.PreviousCrawl.PageCount),
				strconv.Itoa(result.CurrentCrawl.PageCount),
				formatDelta(result.CurrentCrawl.PageCount - result.PreviousCrawl.PageCount)},
			{"Links",
				strconv.Itoa(result.PreviousCrawl.EdgeCount),
				strconv.Itoa(result.CurrentCrawl.EdgeCount),
				formatDelta(result.CurrentCrawl.EdgeCount - result.PreviousCrawl.EdgeCount)},
		},
	})
	md.PlainText("")

	if len(result.NewPages) > 0 {
		md.H2(fmt.Sprintf("New Pages (%d)", len(result.NewPages)))
		md.PlainText("")
		md.BulletList(codeSpans(result.NewPages)...)
		md.PlainText("")
	}
	if len(result.RemovedPages) > 0 {
		md.H2(fmt.Sprintf("Removed Pages (%d)", len(result.RemovedPages)))
		md.PlainText("")
		md.BulletList(codeSpans(result.RemovedPages)...)
		md.PlainText("")
	}
	if len(result.NewLinks) > 0 {
		md.H2(fmt.Sprintf("New Links (%d)", len(result.NewLinks)))
		md.PlainText("")
		md.Table(linkTable(result.NewLinks))
		md.PlainText("")
	}
	if len(result.RemovedLinks) > 0 {
		md.H2(fmt.Sprintf("Removed Links (%d)", len(result.RemovedLinks)))
		md.PlainText("")
		md.Table(linkTable(result.RemovedLinks))
		md.PlainText("")
	}

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*%d links unchanged*", result.UnchangedLinks)

	return md.Build()
}

func codeSpans(items []string) []string {
	spans := make([]string, len(items))
	for i, item := range items {
		spans[i] = "`" + item + "`"
	}
	return spans
}

func linkTable(links []Link) markdown.TableSet {
	rows := make([][]string, len(links))
	for i, l := range links {
		rows[i] = []string{l.From, l.To}
	}
	return markdown.TableSet{Header: []string{"From", "To"}, Rows: rows}
}

// outputComparisonText writes the comparison in human-readable text format.
func outputComparisonText(w io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(w, "Crawl Comparison: %s\n", result.Seed)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintf(w, "\nPrevious crawl: %s (%s)\n", result.PreviousCrawl.ID,
		result.PreviousCrawl.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Current crawl:  %s (%s)\n", result.CurrentCrawl.ID,
		result.CurrentCrawl.StartedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Fprintf(w, "\n  %-8s  %-10s  %-10s  %-10s\n", "", "Previous", "Current", "Change")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 44))
	fmt.Fprintf(w, "  %-8s  %-10d  %-10d  %-10s\n", "Pages",
		result.PreviousCrawl.PageCount, result.CurrentCrawl.PageCount,
		formatDelta(result.CurrentCrawl.PageCount-result.PreviousCrawl.PageCount))
	fmt.Fprintf(w, "  %-8s  %-10d  %-10d  %-10s\n", "Links",
		result.PreviousCrawl.EdgeCount, result.CurrentCrawl.EdgeCount,
		formatDelta(result.CurrentCrawl.EdgeCount-result.PreviousCrawl.EdgeCount))

	if len(result.NewPages) > 0 {
		fmt.Fprintf(w, "\nNew Pages (%d):\n", len(result.NewPages))
		for _, page := range result.NewPages {
			fmt.Fprintf(w, "  [+] %s\n", page)
		}
	}
	if len(result.RemovedPages) > 0 {
		fmt.Fprintf(w, "\nRemoved Pages (%d):\n", len(result.RemovedPages))
		for _, page := range result.RemovedPages {
			fmt.Fprintf(w, "  [-] %s\n", page)
		}
	}
	if len(result.NewLinks) > 0 {
		fmt.Fprintf(w, "\nNew Links (%d):\n", len(result.NewLinks))
		for _, l := range result.NewLinks {
			fmt.Fprintf(w, "  [+] %s -> %s\n", l.From, l.To)
		}
	}
	if len(result.RemovedLinks) > 0 {
		fmt.Fprintf(w, "\nRemoved Links (%d):\n", len(result.RemovedLinks))
		for _, l := range result.RemovedLinks {
			fmt.Fprintf(w, "  [-] %s -> %s\n", l.From, l.To)
		}
	}

	fmt.Fprintf(w, "\nUnchanged: %d links\n", result.UnchangedLinks)
	return nil
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}
