// Package database provides the SQLite archive of finished crawls.
//
// Each crawl is stored with its seed, bounds, timing, outcome, link graph
// and visit order, under a UUID. The archive backs the history command and
// lets the API server record the crawls it serves.
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. The archive is a single file in the XDG data directory
// 2. The driver is CGO-free, so the binary cross-compiles
// 3. WAL mode lets readers proceed while a crawl is written
package database
