package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/linkgraph/internal/config"
	"github.com/nao1215/linkgraph/internal/crawler"
	"github.com/nao1215/linkgraph/internal/database"
	"github.com/nao1215/linkgraph/internal/report"
)

// newTestSite serves a small site:
//
//	/        -> /a, /b, and an external link
//	/a       -> /, /b
//	/b       (no links)
//	/broken  500
//	/private -> /b, only with the cookie session=1
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html><body>%s</body></html>", body)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", page(`<a href="/a">A</a> <a href="/b">B</a> <a href="https://other.example/x">X</a>`))
	mux.HandleFunc("/a", page(`<a href="/">home</a> <a href="/b">B</a>`))
	mux.HandleFunc("/b", page(`nothing here`))
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		page(`<a href="/b">B</a>`)(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testConfig returns a config crawling targets with archiving into a
// temporary directory.
func testConfig(t *testing.T, targets ...string) *config.Config {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Targets = targets
	cfg.Timeout = 5 * time.Second
	cfg.DBDir = t.TempDir()
	cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	return cfg
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()
	if cmd.Use != "crawl [url...]" {
		t.Errorf("unexpected use %q", cmd.Use)
	}

	flags := []struct {
		name      string
		shorthand string
	}{
		{"depth", "d"},
		{"max-pages", "p"},
		{"pool", "P"},
		{"batch", "b"},
		{"timeout", "t"},
		{"user-agent", ""},
		{"proxy", ""},
		{"config", "c"},
		{"json", "j"},
		{"markdown", "m"},
		{"output", "o"},
		{"no-save", ""},
		{"db-dir", ""},
	}
	for _, tt := range flags {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("reads flags", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		configPath := filepath.Join(dir, "site.yaml")
		if err := os.WriteFile(configPath, []byte("sites:\n  example.com:\n    cookie: a=b\n"), 0600); err != nil {
			t.Fatal(err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{
			"-d", "5", "-p", "50", "-P", "3", "-b", "2", "-t", "7s",
			"-c", configPath, "-j", "-o", "out.json", "--no-save", "--db-dir", dir,
		}); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if cfg.MaxDepth != 5 || cfg.MaxPages != 50 || cfg.PoolSize != 3 || cfg.BatchSize != 2 {
			t.Errorf("bounds = %d/%d/%d/%d", cfg.MaxDepth, cfg.MaxPages, cfg.PoolSize, cfg.BatchSize)
		}
		if cfg.Timeout != 7*time.Second {
			t.Errorf("Timeout = %v", cfg.Timeout)
		}
		if !cfg.JSONReport || cfg.MarkdownReport || cfg.ReportFile != "out.json" {
			t.Errorf("report settings = %v/%v/%q", cfg.JSONReport, cfg.MarkdownReport, cfg.ReportFile)
		}
		if cfg.SaveToDB || cfg.DBDir != dir {
			t.Errorf("archive settings = %v/%q", cfg.SaveToDB, cfg.DBDir)
		}
		if got := cfg.SiteConfigs.Sites["example.com"].Cookie; got != "a=b" {
			t.Errorf("site cookie = %q", got)
		}
		if len(cfg.Targets) != 1 {
			t.Errorf("Targets = %v", cfg.Targets)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("explicit config file must exist", func(t *testing.T) {
		t.Parallel()
		cmd := NewCrawlCmd()
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		if err := cmd.ParseFlags([]string{"-c", missing}); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(cmd, nil)
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("buildConfig() error = %v, want ErrConfigNotFound", err)
		}
	})
}

func TestRunCrawlCmd_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "no targets", args: []string{"--no-save"}, want: config.ErrNoTarget},
		{name: "depth too large", args: []string{"--no-save", "-d", "11", "https://example.com/"}, want: config.ErrInvalidDepth},
		{name: "both formats", args: []string{"--no-save", "-j", "-m", "https://example.com/"}, want: config.ErrConflictingReportFormats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := NewCrawlCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			if err := cmd.Execute(); !errors.Is(err, tt.want) {
				t.Errorf("Execute() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunCrawl(t *testing.T) {
	t.Parallel()

	t.Run("writes text report and archives the crawl", func(t *testing.T) {
		t.Parallel()
		srv := newTestSite(t)
		seed := srv.URL + "/"
		cfg := testConfig(t, seed)

		var stdout, stderr bytes.Buffer
		if err := runCrawl(context.Background(), cfg, &stdout, &stderr, quietLogger()); err != nil {
			t.Fatalf("runCrawl() error = %v (stderr %q)", err, stderr.String())
		}

		out := stdout.String()
		for _, want := range []string{
			seed + " -> " + srv.URL + "/a",
			seed + " -> " + srv.URL + "/b",
			srv.URL + "/a -> " + seed,
			srv.URL + "/a -> " + srv.URL + "/b",
			"Crawl: ",
			"Pages: 3",
			"Links: 4",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "other.example") {
			t.Error("external link was reported")
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		rec, err := db.LatestCrawl(context.Background(), seed)
		if err != nil || rec == nil {
			t.Fatalf("LatestCrawl() = %v, %v", rec, err)
		}
		if rec.Status != database.StatusCompleted || rec.EdgeCount != 4 || rec.PageCount != 3 {
			t.Errorf("archived crawl = %+v", rec.CrawlSummary)
		}
		if !strings.Contains(out, rec.ID) {
			t.Errorf("report does not carry crawl ID %s", rec.ID)
		}
	})

	t.Run("writes JSON report to file", func(t *testing.T) {
		t.Parallel()
		srv := newTestSite(t)
		seed := srv.URL + "/"
		cfg := testConfig(t, seed)
		cfg.SaveToDB = false
		cfg.JSONReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "reports", "graph.json")

		var stdout bytes.Buffer
		if err := runCrawl(context.Background(), cfg, &stdout, &bytes.Buffer{}, quietLogger()); err != nil {
			t.Fatalf("runCrawl() error = %v", err)
		}
		if stdout.Len() != 0 {
			t.Errorf("expected nothing on stdout, got %q", stdout.String())
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatal(err)
		}
		var rep report.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			t.Fatalf("invalid JSON report: %v", err)
		}
		if rep.Seed != seed || rep.Graph.EdgeCount() != 4 {
			t.Errorf("report = seed %q, %d links", rep.Seed, rep.Graph.EdgeCount())
		}
		if rep.CrawlID != "" {
			t.Errorf("unarchived crawl has ID %q", rep.CrawlID)
		}
	})

	t.Run("failed seed does not stop the others", func(t *testing.T) {
		t.Parallel()
		srv := newTestSite(t)
		seed, broken := srv.URL+"/", srv.URL+"/broken"
		cfg := testConfig(t, seed, broken)

		var stdout, stderr bytes.Buffer
		err := runCrawl(context.Background(), cfg, &stdout, &stderr, quietLogger())
		if err == nil || !strings.Contains(err.Error(), "1 of 2 crawls failed") {
			t.Fatalf("runCrawl() error = %v", err)
		}
		if !strings.Contains(stderr.String(), "Crawl error for "+broken) {
			t.Errorf("stderr = %q", stderr.String())
		}
		if !strings.Contains(stdout.String(), seed+" -> ") {
			t.Error("report of the working seed is missing")
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		rec, err := db.LatestCrawl(context.Background(), broken)
		if err != nil || rec == nil {
			t.Fatalf("LatestCrawl() = %v, %v", rec, err)
		}
		if rec.Status != database.StatusFailed || rec.Error == "" {
			t.Errorf("failed crawl archived as %+v", rec.CrawlSummary)
		}
	})

	t.Run("rejects invalid seeds before crawling", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t, "ftp://example.com/")
		cfg.SaveToDB = false

		err := runCrawl(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{}, quietLogger())
		if !errors.Is(err, crawler.ErrInvalidSeedURL) {
			t.Errorf("runCrawl() error = %v, want ErrInvalidSeedURL", err)
		}
	})

	t.Run("rejects invalid proxy", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t, "https://example.com/")
		cfg.SaveToDB = false
		cfg.Proxy = "ftp://127.0.0.1:21"

		err := runCrawl(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{}, quietLogger())
		if !errors.Is(err, crawler.ErrInvalidProxyURL) {
			t.Errorf("runCrawl() error = %v, want ErrInvalidProxyURL", err)
		}
	})

	t.Run("applies per-site cookie", func(t *testing.T) {
		t.Parallel()
		srv := newTestSite(t)
		seed := srv.URL + "/private"

		cfg := testConfig(t, seed)
		cfg.SaveToDB = false
		if err := runCrawl(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{}, quietLogger()); err == nil {
			t.Fatal("expected failure without cookie")
		}

		cfg.SiteConfigs.Sites[config.HostOf(seed)] = config.SiteConfig{Cookie: "session=1"}
		var stdout bytes.Buffer
		if err := runCrawl(context.Background(), cfg, &stdout, &bytes.Buffer{}, quietLogger()); err != nil {
			t.Fatalf("runCrawl() with cookie error = %v", err)
		}
		if !strings.Contains(stdout.String(), seed+" -> "+srv.URL+"/b") {
			t.Errorf("output = %q", stdout.String())
		}
	})
}

func TestNewReportWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.Config
		want any
	}{
		{name: "text by default", cfg: config.Config{}, want: &report.TextWriter{}},
		{name: "json", cfg: config.Config{JSONReport: true}, want: &report.JSONWriter{}},
		{name: "markdown", cfg: config.Config{MarkdownReport: true}, want: &report.MarkdownWriter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := newReportWriter(&tt.cfg, &bytes.Buffer{})
			if fmt.Sprintf("%T", got) != fmt.Sprintf("%T", tt.want) {
				t.Errorf("newReportWriter() = %T, want %T", got, tt.want)
			}
		})
	}
}
