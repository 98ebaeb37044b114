// Package server exposes crawling over HTTP.
//
//	GET /crawl?url=<seed>&depth=<1..10>&max_pages=<n>
//
// A successful crawl answers 200 with the link graph as a JSON object
// mapping each page to the same-origin pages it links to. depth counts
// link levels below the seed: depth 1 fetches the seed and its links. Invalid
// parameters and unreachable seeds answer 400, a failed crawl 500 and a
// request over the concurrent crawl limit 503, each with a
// {"message": "..."} body. GET /healthz answers 200.
package server
