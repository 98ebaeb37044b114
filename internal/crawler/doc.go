// Package crawler builds the same-origin link graph of a website.
//
// # Architecture
//
// The Engine coordinates one crawl per call. Each call creates fresh State
// (visited set, visit order and link graph behind one mutex) and a fresh
// scheduler.Pool that bounds how many pages are fetched at once.
//
// Every page is a task. A task claims its URL with State.TryVisit, fetches
// the page through a PageFetcher, extracts raw links through a LinkExtractor,
// records an edge for every same-origin link, spawns a child task per link,
// and then waits for all of its children. Because every task waits for its
// own children, the root task finishing means the whole traversal has
// finished.
//
// # Bounds
//
//   - Depth: the seed has depth 0 and a task at depth >= MaxDepth is skipped.
//     MaxDepth 2 fetches the seed and the pages it links to.
//   - Pages: a task is skipped once MaxPages URLs have been taken.
//   - Identity: a URL is fetched at most once. URLs are compared as strings,
//     without normalization.
//
// Edges are recorded before the target is claimed, so a link to a page that
// is later skipped still appears in the graph. A page linking to the same URL
// twice yields two identical edges.
//
// # Failures
//
// A fetch or parse failure anywhere aborts the crawl. The failure surfaces as
// a *CrawlError wrapping a *FetchError or *ParseError, and no partial graph
// is returned.
//
// # Usage
//
//	engine := crawler.NewEngine(
//	    crawler.NewHTTPFetcher(crawler.WithTimeout(10*time.Second)),
//	    crawler.NewHTMLExtractor(),
//	    crawler.Config{MaxDepth: 3, MaxPages: 100, PoolSize: 8},
//	)
//	graph, err := engine.Crawl(ctx, "https://example.com/")
package crawler
