package crawler

import (
	"sort"
	"sync"
)

// Graph maps a crawled page to the same-origin pages it links to.
// Destinations keep page order and repeat when a page links to the same URL
// more than once.
type Graph map[string][]string

// EdgeCount returns the total number of recorded links.
func (g Graph) EdgeCount() int {
	n := 0
	for _, dests := range g {
		n += len(dests)
	}
	return n
}

// Origins returns the graph's keys in sorted order.
func (g Graph) Origins() []string {
	origins := make([]string, 0, len(g))
	for origin := range g {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}

// State is the shared bookkeeping of a single crawl: which URLs have been
// taken for visiting, in what order, and the link graph built so far.
//
// Design decision: one mutex guards everything rather than a lock per map
// because the hot path is check-then-mark, which must see the visited set and
// the page count consistently. Fetching and parsing happen outside the lock,
// so contention stays low.
type State struct {
	// maxDepth is the first depth that is not visited.
	maxDepth int

	// maxPages caps the size of the visited set.
	maxPages int

	// mu guards visited, order and graph.
	mu sync.Mutex

	// visited is the set of URLs taken for visiting.
	visited map[string]struct{}

	// order lists visited URLs in the order they were taken.
	order []string

	// graph holds the recorded edges.
	graph Graph
}

// NewState creates empty crawl state with the given bounds.
func NewState(maxDepth, maxPages int) *State {
	return &State{
		maxDepth: maxDepth,
		maxPages: maxPages,
		visited:  make(map[string]struct{}),
		order:    make([]string, 0),
		graph:    make(Graph),
	}
}

// ShouldStop reports whether a task for url at depth must be skipped: the depth
// bound is reached, the page quota is used up, or url was already taken.
//
// ShouldStop followed by MarkVisited is not atomic; concurrent visitors use
// TryVisit instead.
func (s *State) ShouldStop(url string, depth int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldStopLocked(url, depth)
}

// MarkVisited records url as visited. It is a no-op for a known URL.
func (s *State) MarkVisited(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markVisitedLocked(url)
}

// TryVisit is ShouldStop and MarkVisited under a single lock. It returns true
// when the caller owns the visit of url.
func (s *State) TryVisit(url string, depth int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldStopLocked(url, depth) {
		return false
	}
	s.markVisitedLocked(url)
	return true
}

func (s *State) shouldStopLocked(url string, depth int) bool {
	if depth >= s.maxDepth {
		return true
	}
	if len(s.visited) >= s.maxPages {
		return true
	}
	_, seen := s.visited[url]
	return seen
}

func (s *State) markVisitedLocked(url string) {
	if _, seen := s.visited[url]; seen {
		return
	}
	s.visited[url] = struct{}{}
	s.order = append(s.order, url)
}

// AddEdge appends destination to origin's link list.
func (s *State) AddEdge(origin, destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph[origin] = append(s.graph[origin], destination)
}

// Snapshot returns a copy of the graph. The copy only reflects a finished
// traversal when called after every writer has returned.
func (s *State) Snapshot() Graph {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Graph, len(s.graph))
	for origin, dests := range s.graph {
		out[origin] = append([]string(nil), dests...)
	}
	return out
}

// Visited returns the visited URLs in the order they were taken.
func (s *State) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// VisitedCount returns the size of the visited set.
func (s *State) VisitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}
