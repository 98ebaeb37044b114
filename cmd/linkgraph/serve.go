package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/config"
	"github.com/nao1215/linkgraph/internal/crawler"
	"github.com/nao1215/linkgraph/internal/database"
	"github.com/nao1215/linkgraph/internal/server"
)

// serveOptions are the serve settings that have no place in config.Config.
type serveOptions struct {
	maxPagesLimit int
	crawlTimeout  time.Duration
	maxCrawls     int
}

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve crawls over HTTP",
		Long: `Serve starts an HTTP API that crawls on request.

  GET /crawl?url=<seed>&depth=<1..10>&max_pages=<n>

answers with the link graph as a JSON object mapping each page to the
same-origin pages it links to. depth counts link levels below the seed and
defaults to 1, which fetches the seed and the pages it links to. The seed is
fetched once
before crawling; a seed that cannot be loaded answers 400.

Every crawl is archived unless --no-save is given; the archive ID is returned
in the X-Crawl-Id header.

Examples:
  # Listen on the default address
  linkgraph serve

  # Listen on localhost only, allowing larger crawls
  linkgraph serve --addr 127.0.0.1:9000 --max-pages-limit 1000`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("addr", "a", config.DefaultListenAddr, "Address to listen on")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Page quota of a crawl that does not ask for one")
	cmd.Flags().Int("max-pages-limit", config.DefaultMaxPages,
		"Largest page quota a request may ask for")
	cmd.Flags().IntP("pool", "P", config.DefaultPoolSize,
		"Maximum number of concurrent fetches per crawl")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request to a crawled site")
	cmd.Flags().Duration("crawl-timeout", 5*time.Minute,
		"Timeout for a whole crawl (0 for none)")
	cmd.Flags().Int("max-crawls", server.DefaultMaxConcurrentCrawls,
		"Maximum number of crawls running at once")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().String("proxy", "",
		"Crawl through a proxy (socks5://host:port or http://host:port)")
	cmd.Flags().Bool("no-save", false, "Do not archive crawl results")
	addDBDirFlag(cmd)

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, opts, err := buildServeConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer := setupLogger(cmd)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg, opts, cmd.OutOrStdout(), logger)
}

// buildServeConfig creates a Config and serveOptions from cobra command flags.
func buildServeConfig(cmd *cobra.Command) (*config.Config, serveOptions, error) {
	cfg := config.NewConfig()
	var opts serveOptions
	flags := cmd.Flags()

	var err error
	if cfg.ListenAddr, err = flags.GetString("addr"); err != nil {
		return nil, opts, err
	}
	if cfg.MaxPages, err = flags.GetInt("max-pages"); err != nil {
		return nil, opts, err
	}
	if cfg.PoolSize, err = flags.GetInt("pool"); err != nil {
		return nil, opts, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, opts, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, opts, err
	}
	if cfg.Proxy, err = flags.GetString("proxy"); err != nil {
		return nil, opts, err
	}
	if opts.maxPagesLimit, err = flags.GetInt("max-pages-limit"); err != nil {
		return nil, opts, err
	}
	if opts.crawlTimeout, err = flags.GetDuration("crawl-timeout"); err != nil {
		return nil, opts, err
	}
	if opts.maxCrawls, err = flags.GetInt("max-crawls"); err != nil {
		return nil, opts, err
	}

	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return nil, opts, err
	}
	cfg.SaveToDB = !noSave
	cfg.DBDir = dbDir(cmd)
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogFile = flagValue(cmd, "log-file")

	return cfg, opts, nil
}

// runServe serves the crawl API until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, opts serveOptions, stdout io.Writer, logger *slog.Logger) error {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}
	fetcher := newFetcher(cfg, client, config.SiteConfig{})

	serverOpts := []server.Option{
		server.WithProber(fetcher),
		server.WithLogger(logger),
		server.WithPoolSize(cfg.PoolSize),
		server.WithMaxPages(cfg.MaxPages, opts.maxPagesLimit),
		server.WithCrawlTimeout(opts.crawlTimeout),
		server.WithMaxConcurrentCrawls(opts.maxCrawls),
	}

	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "dir", cfg.DBDir)
		serverOpts = append(serverOpts, server.WithArchive(db))
	}

	srv := server.New(func(crawlCfg crawler.Config) *crawler.Engine {
		return crawler.NewEngine(fetcher, crawler.NewHTMLExtractor(), crawlCfg, crawler.WithLogger(logger))
	}, serverOpts...)

	fmt.Fprintf(stdout, "Serving crawl API on %s\n", cfg.ListenAddr)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}
