package crawler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/linkgraph/internal/scheduler"
)

// Default crawl bounds.
const (
	// DefaultMaxDepth is the first depth below the seed that is not fetched.
	DefaultMaxDepth = 3

	// DefaultMaxPages is the default ceiling on pages fetched per crawl.
	DefaultMaxPages = 100

	// DefaultPoolSize is the default number of concurrently fetching tasks.
	DefaultPoolSize = 10
)

// Config bounds a crawl. The engine trusts its Config; callers validate it.
type Config struct {
	// MaxDepth is the first depth that is not visited. The seed has depth 0,
	// so MaxDepth 1 fetches only the seed and MaxDepth 0 fetches nothing.
	MaxDepth int `json:"max_depth" yaml:"maxDepth"`

	// MaxPages is the maximum number of pages fetched.
	MaxPages int `json:"max_pages" yaml:"maxPages"`

	// PoolSize is the maximum number of tasks fetching or parsing at once.
	PoolSize int `json:"pool_size" yaml:"poolSize"`
}

// DefaultConfig returns the default crawl bounds.
func DefaultConfig() Config {
	return Config{
		MaxDepth: DefaultMaxDepth,
		MaxPages: DefaultMaxPages,
		PoolSize: DefaultPoolSize,
	}
}

// Engine crawls a site from a seed URL and records its same-origin link graph.
// An Engine holds no per-crawl state and may run any number of crawls
// concurrently.
type Engine struct {
	// fetcher retrieves page content.
	fetcher PageFetcher

	// extractor finds links in page content.
	extractor LinkExtractor

	// config bounds every crawl.
	config Config

	// logger receives progress and failure logs.
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine using the given fetcher and extractor.
func NewEngine(fetcher PageFetcher, extractor LinkExtractor, config Config, opts ...Option) *Engine {
	e := &Engine{
		fetcher:   fetcher,
		extractor: extractor,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's crawl bounds.
func (e *Engine) Config() Config {
	return e.config
}

// Result is the outcome of a successful crawl.
type Result struct {
	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// Graph is the recorded link graph.
	Graph Graph `json:"graph"`

	// Visited lists fetched pages in the order they were taken.
	Visited []string `json:"visited"`

	// Stats summarizes the crawl.
	Stats Stats `json:"stats"`
}

// Stats summarizes a crawl.
type Stats struct {
	// PagesVisited is the number of pages fetched.
	PagesVisited int `json:"pages_visited"`

	// Edges is the number of recorded links.
	Edges int `json:"edges"`

	// TasksSpawned counts tasks started, including those that were skipped.
	TasksSpawned int `json:"tasks_spawned"`

	// PeakInFlight is the highest number of tasks fetching at once.
	PeakInFlight int `json:"peak_in_flight"`

	// StartedAt is when the crawl began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall time of the crawl.
	Duration time.Duration `json:"duration"`
}

// Crawl traverses the site reachable from seedURL and returns its link graph.
// It returns only after every task of the traversal has finished. Any fetch
// or parse failure aborts the crawl and no graph is returned.
func (e *Engine) Crawl(ctx context.Context, seedURL string) (Graph, error) {
	result, err := e.Run(ctx, seedURL)
	if err != nil {
		return nil, err
	}
	return result.Graph, nil
}

// Run is Crawl returning the visit order and statistics along with the graph.
func (e *Engine) Run(ctx context.Context, seedURL string) (*Result, error) {
	return e.run(ctx, seedURL, NewState(e.config.MaxDepth, e.config.MaxPages))
}

// run executes a crawl against the supplied state.
func (e *Engine) run(ctx context.Context, seedURL string, state *State) (*Result, error) {
	if err := ValidateSeed(seedURL); err != nil {
		return nil, err
	}

	start := time.Now()
	e.logger.Info("crawl started",
		"seed", seedURL,
		"max_depth", e.config.MaxDepth,
		"max_pages", e.config.MaxPages,
		"pool_size", e.config.PoolSize,
	)

	c := &crawl{
		engine: e,
		state:  state,
		pool:   scheduler.NewPool(e.config.PoolSize),
	}

	root, _ := c.pool.NewGroup(ctx)
	err := root.Spawn(c.task(seedURL, 0))
	if joinErr := root.JoinAll(); joinErr != nil {
		err = joinErr
	}
	if err != nil {
		e.logger.Error("crawl failed", "seed", seedURL, "error", err)
		return nil, err
	}

	graph := state.Snapshot()
	poolStats := c.pool.Stats()
	result := &Result{
		Seed:    seedURL,
		Graph:   graph,
		Visited: state.Visited(),
		Stats: Stats{
			PagesVisited: state.VisitedCount(),
			Edges:        graph.EdgeCount(),
			TasksSpawned: poolStats.Spawned,
			PeakInFlight: poolStats.Peak,
			StartedAt:    start,
			Duration:     time.Since(start),
		},
	}

	e.logger.Info("crawl finished",
		"seed", seedURL,
		"pages", result.Stats.PagesVisited,
		"edges", result.Stats.Edges,
		"elapsed", result.Stats.Duration,
	)
	return result, nil
}

// crawl is the per-call traversal context shared by every task of one crawl.
type crawl struct {
	engine *Engine
	state  *State
	pool   *scheduler.Pool
}

// task wraps visit as a scheduler task.
func (c *crawl) task(pageURL string, depth int) scheduler.Task {
	return func(ctx context.Context, slot *scheduler.Slot) error {
		return c.visit(ctx, slot, pageURL, depth)
	}
}

// visit processes one page: claim it, fetch it, extract its links, record
// same-origin edges and recurse into them. It returns after every task it
// spawned has returned, so its completion covers its whole subtree.
func (c *crawl) visit(ctx context.Context, slot *scheduler.Slot, pageURL string, depth int) error {
	logger := c.engine.logger

	if !c.state.TryVisit(pageURL, depth) {
		slot.Release()
		logger.Debug("skipping page", "url", pageURL, "depth", depth)
		return nil
	}

	logger.Debug("visiting page", "url", pageURL, "depth", depth)

	content, err := c.engine.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return c.fail(pageURL, depth, asFetchError(pageURL, err))
	}

	links, err := c.engine.extractor.Extract(content)
	if err != nil {
		return c.fail(pageURL, depth, asParseError(pageURL, err))
	}

	resolver, err := newLinkResolver(pageURL)
	if err != nil {
		return c.fail(pageURL, depth, &ParseError{URL: pageURL, Err: err})
	}

	// The page's own work is done; children may use the slot.
	slot.Release()

	children, _ := c.pool.NewGroup(ctx)
	var spawnErr error
	for _, href := range links {
		dest, ok := resolver.Resolve(href)
		if !ok {
			continue
		}
		c.state.AddEdge(pageURL, dest)
		if spawnErr = children.Spawn(c.task(dest, depth+1)); spawnErr != nil {
			break
		}
	}

	if err := children.JoinAll(); err != nil {
		return err
	}
	return spawnErr
}

// fail logs a page failure and wraps it as a CrawlError.
func (c *crawl) fail(pageURL string, depth int, err error) error {
	if !errors.Is(err, context.Canceled) {
		c.engine.logger.Error("error crawling page", "url", pageURL, "depth", depth, "error", err)
	}
	return &CrawlError{URL: pageURL, Depth: depth, Err: err}
}

// asFetchError returns err as a *FetchError for pageURL.
func asFetchError(pageURL string, err error) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &FetchError{URL: pageURL, Err: err}
}

// asParseError returns err as a *ParseError carrying pageURL.
func asParseError(pageURL string, err error) error {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if parseErr.URL == "" {
			parseErr.URL = pageURL
		}
		return err
	}
	return &ParseError{URL: pageURL, Err: err}
}
