package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/config"
	"github.com/nao1215/linkgraph/internal/crawler"
	"github.com/nao1215/linkgraph/internal/database"
	"github.com/nao1215/linkgraph/internal/report"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl websites and report their link graphs",
		Long: `Crawl starts at each seed URL and follows links that stay on the seed's
origin (same scheme, host and port), recording every link it sees.

A page is fetched at most once. Traversal stops at --depth levels below the
seed or after --max-pages pages, whichever comes first. Any page that fails
to load fails the whole crawl of that seed.

Examples:
  # Crawl a site with the default bounds
  linkgraph crawl https://example.com/

  # Crawl two sites, two levels deep, as JSON
  linkgraph crawl -d 2 --json https://example.com/ https://example.org/

  # Write a Markdown report to a file
  linkgraph crawl -m -o report.md https://example.com/

  # Use a custom configuration file
  linkgraph crawl -c myconfig.yaml https://example.com/

Configuration file (.linkgraph) example:
  sites:
    example.com:
      cookie: "session_id=abc123"
      headers:
        Authorization: "Bearer token"
      depth: 5`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Crawl bounds
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Levels fetched counting the seed, 1 to 10 (1 fetches only the seed)")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages to fetch per seed")
	cmd.Flags().IntP("pool", "P", config.DefaultPoolSize,
		"Maximum number of concurrent fetches per seed")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of seeds crawled at once")

	// HTTP
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().String("proxy", "",
		"Crawl through a proxy (socks5://host:port or http://host:port)")

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .linkgraph in current or home directory)")

	// Report
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")

	// Archive
	cmd.Flags().Bool("no-save", false, "Do not archive crawl results")
	addDBDirFlag(cmd)

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer := setupLogger(cmd)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// addDBDirFlag adds the archive directory flag shared by the commands that
// use the archive.
func addDBDirFlag(cmd *cobra.Command) {
	cmd.Flags().String("db-dir", "",
		"Archive directory (default: $XDG_DATA_HOME/linkgraph)")
}

// dbDir returns the archive directory chosen on the command line.
func dbDir(cmd *cobra.Command) string {
	if dir, err := cmd.Flags().GetString("db-dir"); err == nil && dir != "" {
		return dir
	}
	return config.XDGDataDir()
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	if cfg.MaxDepth, err = flags.GetInt("depth"); err != nil {
		return nil, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, err
	}
	if cfg.PoolSize, err = flags.GetInt("pool"); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.Proxy, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	if cfg.SiteConfigs, err = loadSiteConfigs(cfg.ConfigFilePath); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}

	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noSave
	cfg.DBDir = dbDir(cmd)
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogFile = flagValue(cmd, "log-file")
	cfg.Targets = args

	return cfg, nil
}

// loadSiteConfigs loads the configuration file. A file the user named
// explicitly must exist; otherwise a missing file means no site settings.
func loadSiteConfigs(explicitPath string) (*config.File, error) {
	path := config.FindConfigFile(explicitPath)
	if path == "" {
		if explicitPath != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicitPath)
		}
		return &config.File{Sites: make(map[string]config.SiteConfig)}, nil
	}

	siteConfigs, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return siteConfigs, nil
}

// newHTTPClient builds the client shared by every fetcher of a run.
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	client, err := crawler.NewHTTPClient(cfg.Timeout, cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return client, nil
}

// newFetcher builds the HTTP fetcher for one site.
func newFetcher(cfg *config.Config, client *http.Client, site config.SiteConfig) *crawler.HTTPFetcher {
	opts := []crawler.HTTPFetcherOption{
		crawler.WithHTTPClient(client),
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
	}
	if site.Cookie != "" {
		opts = append(opts, crawler.WithCookie(site.Cookie))
	}
	if len(site.Headers) > 0 {
		opts = append(opts, crawler.WithHeaders(site.Headers))
	}
	return crawler.NewHTTPFetcher(opts...)
}

// engineFactory returns a function building the engine of a seed, with the
// settings of the seed's host applied.
func engineFactory(cfg *config.Config, client *http.Client, logger *slog.Logger) func(seed string) *crawler.Engine {
	return func(seed string) *crawler.Engine {
		crawlCfg, site := cfg.ForSite(config.HostOf(seed))
		return crawler.NewEngine(newFetcher(cfg, client, site), crawler.NewHTMLExtractor(), crawlCfg,
			crawler.WithLogger(logger))
	}
}

// runCrawl crawls every target, writes one report per successful crawl and
// archives every crawl.
func runCrawl(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger *slog.Logger) error {
	for _, target := range cfg.Targets {
		if err := crawler.ValidateSeed(target); err != nil {
			return fmt.Errorf("invalid seed %q: %w", target, err)
		}
	}
	client, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}

	logger.Info("starting crawl",
		"targets", cfg.Targets,
		"batch_size", cfg.BatchSize,
		"proxy", cfg.Proxy,
		"save_to_db", cfg.SaveToDB,
	)

	var db *database.CrawlDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
	}

	out, closeOut, err := openReportOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOut()
	writer := newReportWriter(cfg, out)

	batch := crawler.NewBatch(engineFactory(cfg, client, logger),
		crawler.WithConcurrency(cfg.BatchSize),
		crawler.WithBatchLogger(logger),
	)

	var (
		mu     sync.Mutex
		done   int
		failed int
	)
	total := len(cfg.Targets)

	err = batch.RunWithCallback(ctx, cfg.Targets, func(r crawler.BatchResult, _ int) {
		mu.Lock()
		defer mu.Unlock()
		done++

		crawlCfg, _ := cfg.ForSite(config.HostOf(r.Seed))
		if r.Err != nil {
			failed++
			fmt.Fprintf(stderr, "Crawl error for %s: %v\n", r.Seed, r.Err)
			saveCrawl(ctx, db, database.NewFailedRecord(r.Seed, crawlCfg, r.StartedAt, r.Err), logger)
			return
		}

		if total > 1 {
			fmt.Fprintf(stderr, "[%d/%d] Crawl completed: %s (%d pages, %d links)\n",
				done, total, r.Seed, r.Result.Stats.PagesVisited, r.Result.Stats.Edges)
		}

		rep := report.NewReport(r.Result, crawlCfg)
		rep.CrawlID = saveCrawl(ctx, db, database.NewCompletedRecord(r.Result, crawlCfg), logger)
		if _, err := writer.Write(rep); err != nil {
			logger.Error("report failed", "seed", r.Seed, "error", err)
		}
	})
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d crawls failed", failed, total)
	}
	return nil
}

// saveCrawl archives rec and returns its ID. Without a database, or when
// saving fails, it returns "". A cancelled crawl is still archived.
func saveCrawl(ctx context.Context, db *database.CrawlDB, rec *database.CrawlRecord, logger *slog.Logger) string {
	if db == nil {
		return ""
	}
	id, err := db.SaveCrawl(context.WithoutCancel(ctx), rec)
	if err != nil {
		logger.Error("failed to save crawl", "seed", rec.Seed, "error", err)
		return ""
	}
	logger.Info("crawl saved to database", "seed", rec.Seed, "id", id)
	return id
}

// newReportWriter returns the writer for the requested report format.
func newReportWriter(cfg *config.Config, w io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(w, report.WithPrettyPrint())
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewTextWriter(w, report.WithSummary(true))
	}
}

// openReportOutput opens path for the report, or returns fallback when path
// is empty.
func openReportOutput(path string, fallback io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return fallback, func() {}, nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports may carry URLs of pages behind a login.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-chosen path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Warn("failed to close report file", "path", path, "error", err)
		}
	}, nil
}
