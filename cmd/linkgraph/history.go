package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/config"
	"github.com/nao1215/linkgraph/internal/crawler"
	"github.com/nao1215/linkgraph/internal/database"
	"github.com/nao1215/linkgraph/internal/report"
)

// defaultHistoryLimit is the number of crawls listed by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [crawl-id]",
		Short: "List archived crawls or show one of them",
		Long: `History reads the crawl archive.

Without arguments it lists archived crawls, newest first. With a crawl ID it
prints that crawl's report in the same formats as 'linkgraph crawl'.

Examples:
  # List the latest crawls
  linkgraph history

  # List crawls of one seed
  linkgraph history --seed https://example.com/

  # Show the latest crawl of a seed as Markdown
  linkgraph history --latest --seed https://example.com/ -m

  # Show a crawl by ID
  linkgraph history 0b6f2c9e-...

  # Delete a crawl
  linkgraph history --delete 0b6f2c9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().StringP("seed", "s", "", "Only crawls of this seed URL")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Maximum number of crawls listed (0 for all)")
	cmd.Flags().BoolP("latest", "l", false, "Show the latest crawl (of --seed, when given)")
	cmd.Flags().Bool("delete", false, "Delete the crawl with the given ID")
	cmd.Flags().BoolP("json", "j", false, "Output JSON")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown report")
	addDBDirFlag(cmd)

	return cmd
}

// historyOptions holds the parsed history flags.
type historyOptions struct {
	id       string
	seed     string
	limit    int
	latest   bool
	delete   bool
	json     bool
	markdown bool
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseHistoryFlags(cmd, args)
	if err != nil {
		return err
	}

	db, err := database.Open(dbDir(cmd), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runHistory(cmd.Context(), db, opts, cmd.OutOrStdout())
}

// parseHistoryFlags reads and checks the flags before the database is
// opened.
func parseHistoryFlags(cmd *cobra.Command, args []string) (historyOptions, error) {
	var opts historyOptions
	if len(args) == 1 {
		opts.id = args[0]
	}

	flags := cmd.Flags()
	var err error
	if opts.seed, err = flags.GetString("seed"); err != nil {
		return opts, err
	}
	if opts.limit, err = flags.GetInt("limit"); err != nil {
		return opts, err
	}
	if opts.latest, err = flags.GetBool("latest"); err != nil {
		return opts, err
	}
	if opts.delete, err = flags.GetBool("delete"); err != nil {
		return opts, err
	}
	if opts.json, err = flags.GetBool("json"); err != nil {
		return opts, err
	}
	if opts.markdown, err = flags.GetBool("markdown"); err != nil {
		return opts, err
	}

	switch {
	case opts.json && opts.markdown:
		return opts, config.ErrConflictingReportFormats
	case opts.delete && opts.id == "":
		return opts, errors.New("--delete requires a crawl ID")
	case opts.latest && opts.id != "":
		return opts, errors.New("--latest cannot be combined with a crawl ID")
	}
	return opts, nil
}

// runHistory lists, shows or deletes archived crawls.
func runHistory(ctx context.Context, db *database.CrawlDB, opts historyOptions, out io.Writer) error {
	switch {
	case opts.delete:
		if err := db.DeleteCrawl(ctx, opts.id); err != nil {
			if errors.Is(err, database.ErrCrawlNotFound) {
				return fmt.Errorf("%w: %s", err, opts.id)
			}
			return err
		}
		fmt.Fprintf(out, "Deleted crawl %s\n", opts.id)
		return nil

	case opts.id != "":
		rec, err := db.GetCrawl(ctx, opts.id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s", database.ErrCrawlNotFound, opts.id)
		}
		return showCrawl(rec, opts, out)

	case opts.latest:
		rec, err := latestCrawl(ctx, db, opts.seed)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintln(out, "No crawls found in the archive.")
			return nil
		}
		return showCrawl(rec, opts, out)
	}

	return listCrawls(ctx, db, opts, out)
}

// latestCrawl returns the newest crawl of seed, or of any seed when seed is
// empty.
func latestCrawl(ctx context.Context, db *database.CrawlDB, seed string) (*database.CrawlRecord, error) {
	if seed != "" {
		return db.LatestCrawl(ctx, seed)
	}
	summaries, err := db.ListCrawls(ctx, 1)
	if err != nil || len(summaries) == 0 {
		return nil, err
	}
	return db.GetCrawl(ctx, summaries[0].ID)
}

func listCrawls(ctx context.Context, db *database.CrawlDB, opts historyOptions, out io.Writer) error {
	var (
		summaries []database.CrawlSummary
		err       error
	)
	if opts.seed != "" {
		summaries, err = db.ListCrawlsForSeed(ctx, opts.seed, opts.limit)
	} else {
		summaries, err = db.ListCrawls(ctx, opts.limit)
	}
	if err != nil {
		return err
	}

	if opts.json {
		if summaries == nil {
			summaries = []database.CrawlSummary{}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No crawls found in the archive.")
		fmt.Fprintln(out, "\nUse 'linkgraph crawl <url>' to crawl a site.")
		return nil
	}

	fmt.Fprintf(out, "Archived crawls (%d):\n\n", len(summaries))
	fmt.Fprintf(out, "  %-36s  %-19s  %-9s  %6s  %6s  %s\n", "ID", "Started", "Status", "Pages", "Links", "Seed")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 100))
	for _, s := range summaries {
		fmt.Fprintf(out, "  %-36s  %-19s  %-9s  %6d  %6d  %s\n",
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Status,
			s.PageCount,
			s.EdgeCount,
			s.Seed,
		)
	}
	fmt.Fprintln(out, "\nUse 'linkgraph history <id>' to show a crawl.")
	return nil
}

// showCrawl prints the report of an archived crawl. A failed crawl has no
// graph, so only its error is shown.
func showCrawl(rec *database.CrawlRecord, opts historyOptions, out io.Writer) error {
	if rec.Status == database.StatusFailed && !opts.json {
		fmt.Fprintf(out, "Crawl %s of %s failed at %s: %s\n",
			rec.ID, rec.Seed, rec.FinishedAt.Local().Format("2006-01-02 15:04:05"), rec.Error)
		return nil
	}

	cfg := &config.Config{JSONReport: opts.json, MarkdownReport: opts.markdown}
	_, err := newReportWriter(cfg, out).Write(reportFromRecord(rec))
	return err
}

// reportFromRecord rebuilds a report from an archived crawl.
func reportFromRecord(rec *database.CrawlRecord) *report.Report {
	crawlCfg := rec.Config
	return &report.Report{
		CrawlID: rec.ID,
		Seed:    rec.Seed,
		Graph:   rec.Graph,
		Visited: rec.Visited,
		Config:  &crawlCfg,
		Stats: &crawler.Stats{
			PagesVisited: rec.PageCount,
			Edges:        rec.EdgeCount,
			StartedAt:    rec.StartedAt,
			Duration:     rec.FinishedAt.Sub(rec.StartedAt),
		},
		GeneratedAt: rec.FinishedAt,
	}
}
