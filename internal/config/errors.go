package config

import "errors"

// Configuration validation errors returned by Config.Validate and
// Config.ValidateServer. Callers match them with errors.Is.
var (
	// ErrNoTarget is returned when no seed URL is given.
	ErrNoTarget = errors.New("no target specified: provide at least one seed URL")

	// ErrInvalidDepth is returned when the depth is outside 1..10.
	ErrInvalidDepth = errors.New("invalid depth: must be between 1 and 10")

	// ErrInvalidMaxPages is returned when the page quota is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidPoolSize is returned when the pool size is not positive.
	ErrInvalidPoolSize = errors.New("invalid pool size: must be positive")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 for the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrNoListenAddr is returned when the server has no address to bind.
	ErrNoListenAddr = errors.New("no listen address specified")
)
