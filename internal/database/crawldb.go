package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/linkgraph/internal/crawler"
)

// DBFileName is the archive file name inside the data directory.
const DBFileName = "linkgraph.db"

// ErrCrawlNotFound is returned by DeleteCrawl when no crawl has the given ID.
var ErrCrawlNotFound = errors.New("crawl not found")

// CrawlDB is the SQLite archive of finished crawls.
//
// Design decision: The archive stores results, not in-progress state.
// A crawl is written once, in one transaction, after it has finished, so a
// reader never sees a partial graph.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so the server can read while a
	// CLI crawl writes.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the archive in dbDir.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, DBFileName)

	var dsn string
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl, successful or not
	CREATE TABLE IF NOT EXISTS crawls (
		id TEXT PRIMARY KEY,
		seed TEXT NOT NULL,
		config TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		edge_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_seed ON crawls(seed);
	CREATE INDEX IF NOT EXISTS idx_crawls_started ON crawls(started_at);

	-- Edges keep the per-origin order in which links appeared
	CREATE TABLE IF NOT EXISTS edges (
		crawl_id TEXT NOT NULL,
		origin TEXT NOT NULL,
		position INTEGER NOT NULL,
		destination TEXT NOT NULL,
		PRIMARY KEY (crawl_id, origin, position)
	);

	-- Pages in the order they were claimed
	CREATE TABLE IF NOT EXISTS pages (
		crawl_id TEXT NOT NULL,
		visit_order INTEGER NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (crawl_id, visit_order)
	);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// Status is the outcome of an archived crawl.
type Status string

const (
	// StatusCompleted marks a crawl that returned a graph.
	StatusCompleted Status = "completed"

	// StatusFailed marks a crawl that ended with an error.
	StatusFailed Status = "failed"
)

// CrawlSummary is an archived crawl without its graph.
type CrawlSummary struct {
	ID         string         `json:"id"`
	Seed       string         `json:"seed"`
	Config     crawler.Config `json:"config"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	PageCount  int            `json:"page_count"`
	EdgeCount  int            `json:"edge_count"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// CrawlRecord is an archived crawl with its graph and visit order.
type CrawlRecord struct {
	CrawlSummary

	Graph   crawler.Graph `json:"graph"`
	Visited []string      `json:"visited"`
}

// NewCompletedRecord builds a record from a finished crawl.
func NewCompletedRecord(result *crawler.Result, cfg crawler.Config) *CrawlRecord {
	return &CrawlRecord{
		CrawlSummary: CrawlSummary{
			Seed:       result.Seed,
			Config:     cfg,
			StartedAt:  result.Stats.StartedAt,
			FinishedAt: result.Stats.StartedAt.Add(result.Stats.Duration),
			PageCount:  result.Stats.PagesVisited,
			EdgeCount:  result.Stats.Edges,
			Status:     StatusCompleted,
		},
		Graph:   result.Graph,
		Visited: result.Visited,
	}
}

// NewFailedRecord builds a record for a crawl that ended with crawlErr.
func NewFailedRecord(seed string, cfg crawler.Config, startedAt time.Time, crawlErr error) *CrawlRecord {
	rec := &CrawlRecord{
		CrawlSummary: CrawlSummary{
			Seed:       seed,
			Config:     cfg,
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Status:     StatusFailed,
		},
	}
	if crawlErr != nil {
		rec.Error = crawlErr.Error()
	}
	return rec
}

// timeLayout sorts lexically in time order, unlike RFC3339Nano which trims
// trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveCrawl archives rec and returns its ID. A new UUID is assigned when
// rec.ID is empty.
func (cdb *CrawlDB) SaveCrawl(ctx context.Context, rec *CrawlRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusCompleted
	}

	configJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return "", fmt.Errorf("failed to serialize config: %w", err)
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
	INSERT INTO crawls (id, seed, config, started_at, finished_at, page_count, edge_count, status, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Seed,
		string(configJSON),
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
		rec.PageCount,
		rec.EdgeCount,
		string(rec.Status),
		rec.Error,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save crawl: %w", err)
	}

	edgeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (crawl_id, origin, position, destination) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, origin := range rec.Graph.Origins() {
		for pos, dest := range rec.Graph[origin] {
			if _, err := edgeStmt.ExecContext(ctx, rec.ID, origin, pos, dest); err != nil {
				return "", fmt.Errorf("failed to save edge: %w", err)
			}
		}
	}

	pageStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (crawl_id, visit_order, url) VALUES (?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer pageStmt.Close()

	for i, pageURL := range rec.Visited {
		if _, err := pageStmt.ExecContext(ctx, rec.ID, i, pageURL); err != nil {
			return "", fmt.Errorf("failed to save page: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit crawl: %w", err)
	}
	return rec.ID, nil
}

const summaryColumns = `id, seed, config, started_at, finished_at, page_count, edge_count, status, error`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*CrawlSummary, error) {
	var (
		s          CrawlSummary
		configJSON string
		started    string
		finished   string
		status     string
	)
	if err := row.Scan(&s.ID, &s.Seed, &configJSON, &started, &finished,
		&s.PageCount, &s.EdgeCount, &status, &s.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &s.Config); err != nil {
		return nil, fmt.Errorf("failed to parse config of crawl %s: %w", s.ID, err)
	}
	s.StartedAt = parseTimestamp(started)
	s.FinishedAt = parseTimestamp(finished)
	s.Status = Status(status)
	return &s, nil
}

// GetCrawl returns the crawl with the given ID, or nil if there is none.
func (cdb *CrawlDB) GetCrawl(ctx context.Context, id string) (*CrawlRecord, error) {
	row := cdb.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM crawls WHERE id = ?`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}
	return cdb.loadRecord(ctx, summary)
}

// LatestCrawl returns the most recent crawl of seed, or nil if it was never
// archived.
func (cdb *CrawlDB) LatestCrawl(ctx context.Context, seed string) (*CrawlRecord, error) {
	row := cdb.db.QueryRowContext(ctx, `
	SELECT `+summaryColumns+` FROM crawls
	WHERE seed = ?
	ORDER BY started_at DESC, rowid DESC
	LIMIT 1
	`, seed)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest crawl: %w", err)
	}
	return cdb.loadRecord(ctx, summary)
}

// ListCrawls returns up to limit crawls, newest first. A non-positive limit
// returns every crawl.
func (cdb *CrawlDB) ListCrawls(ctx context.Context, limit int) ([]CrawlSummary, error) {
	return cdb.listCrawls(ctx, "", limit)
}

// ListCrawlsForSeed is ListCrawls restricted to crawls of seed.
func (cdb *CrawlDB) ListCrawlsForSeed(ctx context.Context, seed string, limit int) ([]CrawlSummary, error) {
	return cdb.listCrawls(ctx, seed, limit)
}

func (cdb *CrawlDB) listCrawls(ctx context.Context, seed string, limit int) ([]CrawlSummary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + summaryColumns + ` FROM crawls`
	args := []any{}
	if seed != "" {
		query += ` WHERE seed = ?`
		args = append(args, seed)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var results []CrawlSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl: %w", err)
		}
		results = append(results, *s)
	}
	return results, rows.Err()
}

// DeleteCrawl removes a crawl with its edges and pages.
func (cdb *CrawlDB) DeleteCrawl(ctx context.Context, id string) error {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM crawls WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete crawl: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete crawl: %w", err)
	}
	if n == 0 {
		return ErrCrawlNotFound
	}

	for _, table := range []string{"edges", "pages"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE crawl_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// loadRecord attaches the edges and pages of summary.
func (cdb *CrawlDB) loadRecord(ctx context.Context, summary *CrawlSummary) (*CrawlRecord, error) {
	rec := &CrawlRecord{
		CrawlSummary: *summary,
		Graph:        make(crawler.Graph),
		Visited:      []string{},
	}

	rows, err := cdb.db.QueryContext(ctx, `
	SELECT origin, destination FROM edges
	WHERE crawl_id = ?
	ORDER BY origin, position
	`, summary.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	for rows.Next() {
		var origin, dest string
		if err := rows.Scan(&origin, &dest); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		rec.Graph[origin] = append(rec.Graph[origin], dest)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	_ = rows.Close()

	rows, err = cdb.db.QueryContext(ctx,
		`SELECT url FROM pages WHERE crawl_id = ? ORDER BY visit_order`, summary.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pageURL string
		if err := rows.Scan(&pageURL); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		rec.Visited = append(rec.Visited, pageURL)
	}
	return rec, rows.Err()
}

// timestampFormats are tried in order by parseTimestamp.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05", // SQLite default datetime format
}

// parseTimestamp returns the zero time when no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
