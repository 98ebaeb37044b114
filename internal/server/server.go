package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nao1215/linkgraph/internal/crawler"
	"github.com/nao1215/linkgraph/internal/database"
	"github.com/nao1215/linkgraph/internal/report"
)

// Limits and defaults of the /crawl endpoint.
const (
	// DefaultDepth is used when the request has no depth parameter. A
	// request depth counts link levels below the seed, so depth 1 fetches
	// the seed and the pages it links to.
	DefaultDepth = 1

	// MaxDepth is the largest accepted depth.
	MaxDepth = 10

	// DefaultMaxConcurrentCrawls bounds crawls running at once.
	DefaultMaxConcurrentCrawls = 4

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// Client-facing messages.
const (
	msgURLRequired  = "Invalid request. URL field is required."
	msgURLInvalid   = "Invalid request. URL parameter may not be valid."
	msgDepthInvalid = "Invalid request. Depth parameter may not be valid."
	msgDepthRange   = "Invalid request. Depth must be a positive integer between 1 and 10."
	msgPagesInvalid = "Invalid request. max_pages parameter may not be valid."
	msgBusy         = "Server busy. Try again later."
)

// EngineFactory returns an engine bounded by cfg.
type EngineFactory func(cfg crawler.Config) *crawler.Engine

// Archive stores finished crawls.
type Archive interface {
	SaveCrawl(ctx context.Context, rec *database.CrawlRecord) (string, error)
}

// Server serves crawl requests over HTTP.
//
// Design decision: Each request runs its own crawl with its own engine and
// state, bound to the request context. A client that disconnects cancels
// its crawl, and concurrent requests share nothing but the archive.
type Server struct {
	engineFor     EngineFactory
	prober        crawler.PageFetcher
	archive       Archive
	logger        *slog.Logger
	poolSize      int
	maxPages      int
	maxPagesLimit int
	crawlTimeout  time.Duration
	crawls        *semaphore.Weighted
}

// Option configures a Server.
type Option func(*Server)

// WithProber sets the fetcher used to check that the seed is reachable
// before crawling. Without one the check is skipped.
func WithProber(f crawler.PageFetcher) Option {
	return func(s *Server) {
		s.prober = f
	}
}

// WithArchive records every crawl, successful or not, in a.
func WithArchive(a Archive) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPoolSize sets the per-crawl fetch concurrency.
func WithPoolSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithMaxPages sets the default page quota and the largest quota a request
// may ask for.
func WithMaxPages(defaultPages, limit int) Option {
	return func(s *Server) {
		if defaultPages > 0 {
			s.maxPages = defaultPages
		}
		if limit > 0 {
			s.maxPagesLimit = limit
		}
	}
}

// WithCrawlTimeout bounds each crawl. Zero means no bound beyond the
// request context.
func WithCrawlTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.crawlTimeout = d
		}
	}
}

// WithMaxConcurrentCrawls bounds the crawls running at once. Requests over
// the bound get 503.
func WithMaxConcurrentCrawls(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.crawls = semaphore.NewWeighted(int64(n))
		}
	}
}

// New creates a Server that crawls with engines from engineFor.
func New(engineFor EngineFactory, opts ...Option) *Server {
	s := &Server{
		engineFor:     engineFor,
		logger:        slog.Default(),
		poolSize:      crawler.DefaultPoolSize,
		maxPages:      crawler.DefaultMaxPages,
		maxPagesLimit: crawler.DefaultMaxPages,
		crawls:        semaphore.NewWeighted(DefaultMaxConcurrentCrawls),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.maxPagesLimit = max(s.maxPagesLimit, s.maxPages)
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /crawl", s.handleCrawl)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// crawlRequest is a validated /crawl request.
type crawlRequest struct {
	seed     string
	depth    int
	maxPages int
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	req, msg := s.parseCrawlRequest(r)
	if msg != "" {
		writeMessage(w, http.StatusBadRequest, msg)
		return
	}

	if !s.crawls.TryAcquire(1) {
		writeMessage(w, http.StatusServiceUnavailable, msgBusy)
		return
	}
	defer s.crawls.Release(1)

	ctx := r.Context()
	if s.crawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.crawlTimeout)
		defer cancel()
	}

	if s.prober != nil {
		if _, err := s.prober.Fetch(ctx, req.seed); err != nil {
			s.logger.Debug("seed probe failed", "url", req.seed, "error", err)
			writeMessage(w, http.StatusBadRequest, msgURLInvalid)
			return
		}
	}

	cfg := crawler.Config{MaxDepth: engineDepth(req.depth), MaxPages: req.maxPages, PoolSize: s.poolSize}
	started := time.Now()
	result, err := s.engineFor(cfg).Run(ctx, req.seed)
	if err != nil {
		s.record(ctx, database.NewFailedRecord(req.seed, cfg, started, err))
		writeMessage(w, http.StatusInternalServerError, "Internal Server error: "+err.Error())
		return
	}

	if id := s.record(ctx, database.NewCompletedRecord(result, cfg)); id != "" {
		w.Header().Set("X-Crawl-Id", id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := report.NewJSONWriter(w, report.WithGraphOnly()).Write(report.NewReport(result, cfg)); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

// parseCrawlRequest validates the query. A non-empty message means 400.
func (s *Server) parseCrawlRequest(r *http.Request) (crawlRequest, string) {
	q := r.URL.Query()
	req := crawlRequest{
		seed:     q.Get("url"),
		depth:    DefaultDepth,
		maxPages: s.maxPages,
	}

	if req.seed == "" {
		return req, msgURLRequired
	}
	if err := crawler.ValidateSeed(req.seed); err != nil {
		return req, msgURLInvalid
	}

	if raw := q.Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil {
			return req, msgDepthInvalid
		}
		if depth < 1 || depth > MaxDepth {
			return req, msgDepthRange
		}
		req.depth = depth
	}

	raw := q.Get("max_pages")
	if raw == "" {
		raw = q.Get("no_of_pages")
	}
	if raw != "" {
		pages, err := strconv.Atoi(raw)
		if err != nil {
			return req, msgPagesInvalid
		}
		if pages < 1 || pages > s.maxPagesLimit {
			return req, fmt.Sprintf("Invalid request. max_pages must be a positive integer no greater than %d.", s.maxPagesLimit)
		}
		req.maxPages = pages
	}

	return req, ""
}

// engineDepth converts a request depth, counted in levels below the seed,
// into the engine bound, which is the first depth not fetched.
func engineDepth(depth int) int {
	return depth + 1
}

// record archives rec and returns its ID, or "" when there is no archive
// or saving failed. The archive write outlives a cancelled request.
func (s *Server) record(ctx context.Context, rec *database.CrawlRecord) string {
	if s.archive == nil {
		return ""
	}
	id, err := s.archive.SaveCrawl(context.WithoutCancel(ctx), rec)
	if err != nil {
		s.logger.Warn("failed to archive crawl", "seed", rec.Seed, "error", err)
		return ""
	}
	return id
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}
