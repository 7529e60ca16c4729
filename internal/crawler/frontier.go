package crawler

import "sort"

// Entry is one unit of frontier work: a URL to fetch, how deep it was
// discovered, and the page that linked to it.
type Entry struct {
	Depth     int
	URL       string
	ParentURL string
}

// FrontierStats tracks admission decisions made over a frontier's lifetime.
type FrontierStats struct {
	Accepted          int
	RejectedDuplicate int
	RejectedDepth     int
	RejectedCapacity  int
	RejectedInvalid   int
	VisitedCount      int
}

// Frontier is the ordered, deduplicated work queue for one organization's
// crawl. URLs are grouped into priority tiers and served lowest rank first,
// FIFO within a tier, which yields breadth-first traversal modulated by
// priority class. All state is owned by a single crawl goroutine; the
// frontier performs no locking.
type Frontier struct {
	scope    Scope
	maxDepth int
	maxPages int

	tiers   map[int][]Entry
	seen    map[string]struct{}
	visited map[string]struct{}
	stats   FrontierStats
}

// NewFrontier builds a Frontier bound to scope, limited to maxDepth link
// hops and maxPages distinct accepted URLs.
func NewFrontier(scope Scope, maxDepth, maxPages int) *Frontier {
	return &Frontier{
		scope:    scope,
		maxDepth: maxDepth,
		maxPages: maxPages,
		tiers:    make(map[int][]Entry),
		seen:     make(map[string]struct{}),
		visited:  make(map[string]struct{}),
	}
}

// Scope returns the domain scope the frontier is bound to.
func (f *Frontier) Scope() Scope {
	return f.scope
}

// Add offers a URL to the frontier. It returns false without mutating state
// when the normalized URL was already queued or visited, the depth exceeds
// the run's limit, or the max-page budget is exhausted.
func (f *Frontier) Add(rawURL string, depth int, parentURL string, priority int) bool {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		f.stats.RejectedInvalid++
		return false
	}
	if _, dup := f.seen[normalized]; dup {
		f.stats.RejectedDuplicate++
		return false
	}
	if depth > f.maxDepth {
		f.stats.RejectedDepth++
		return false
	}
	if f.stats.Accepted >= f.maxPages {
		f.stats.RejectedCapacity++
		return false
	}

	f.seen[normalized] = struct{}{}
	f.tiers[priority] = append(f.tiers[priority], Entry{
		Depth:     depth,
		URL:       normalized,
		ParentURL: parentURL,
	})
	f.stats.Accepted++
	return true
}

// Next pops the entry with the numerically smallest priority rank, FIFO
// within a rank. It returns false when every tier is empty.
func (f *Frontier) Next() (Entry, bool) {
	ranks := make([]int, 0, len(f.tiers))
	for rank, queue := range f.tiers {
		if len(queue) > 0 {
			ranks = append(ranks, rank)
		}
	}
	if len(ranks) == 0 {
		return Entry{}, false
	}
	sort.Ints(ranks)
	rank := ranks[0]

	queue := f.tiers[rank]
	entry := queue[0]
	if len(queue) == 1 {
		delete(f.tiers, rank)
	} else {
		f.tiers[rank] = queue[1:]
	}
	return entry, true
}

// MarkVisited records the normalized URL as fetched. Idempotent; a visited
// URL is never accepted again even if rediscovered as a link.
func (f *Frontier) MarkVisited(rawURL string) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return
	}
	if _, ok := f.visited[normalized]; ok {
		return
	}
	f.visited[normalized] = struct{}{}
	f.seen[normalized] = struct{}{}
	f.stats.VisitedCount++
}

// IsVisited reports whether the normalized URL has been fetched.
func (f *Frontier) IsVisited(rawURL string) bool {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	_, ok := f.visited[normalized]
	return ok
}

// Size returns the number of queued, not-yet-popped entries.
func (f *Frontier) Size() int {
	total := 0
	for _, queue := range f.tiers {
		total += len(queue)
	}
	return total
}

// TierSizes returns the queued entry count per priority rank; used in
// checkpoint payloads.
func (f *Frontier) TierSizes() map[int]int {
	sizes := make(map[int]int, len(f.tiers))
	for rank, queue := range f.tiers {
		if len(queue) > 0 {
			sizes[rank] = len(queue)
		}
	}
	return sizes
}

// Stats returns the frontier's admission counters.
func (f *Frontier) Stats() FrontierStats {
	return f.stats
}

// ShouldExclude reports whether the normalized URL matches any exclusion
// pattern. Evaluated independently of queue state.
func (f *Frontier) ShouldExclude(rawURL string, exclusionPatterns []string) bool {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return true
	}
	return MatchesAny(normalized, exclusionPatterns)
}

// PriorityOf returns the rank of the first tier whose pattern list matches
// the URL, or the fallback rank when no tier matches.
func (f *Frontier) PriorityOf(rawURL string, patterns PriorityPatterns) int {
	for rank, tier := range patterns.Tiers() {
		if MatchesAny(rawURL, tier) {
			return rank
		}
	}
	return patterns.FallbackRank()
}
