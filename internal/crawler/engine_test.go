package crawler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]FetchResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]FetchResponse),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) addHTML(url, body string) {
	f.responses[url] = FetchResponse{
		URL:         url,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
		Duration:    5 * time.Millisecond,
	}
}

func (f *fakeFetcher) addPDF(url string) {
	f.responses[url] = FetchResponse{
		URL:         url,
		StatusCode:  200,
		ContentType: "application/pdf",
		Body:        []byte("%PDF-1.4 fake"),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if err, ok := f.errs[req.URL]; ok {
		return FetchResponse{}, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return FetchResponse{URL: req.URL, StatusCode: 404, ContentType: "text/html"}, nil
}

// fakeExtractor returns canned links per source URL.
type fakeExtractor struct {
	links map[string][]Link
	docs  map[string][]DocumentLink
}

func (e *fakeExtractor) ExtractLinks(_ []byte, sourceURL string) []Link {
	return e.links[sourceURL]
}

func (e *fakeExtractor) ExtractDocumentLinks(_ []byte, sourceURL string, _ []string) []DocumentLink {
	return e.docs[sourceURL]
}

func (e *fakeExtractor) ExtractMetadata(_ []byte, url string) PageMetadata {
	return PageMetadata{URL: url, Title: "t"}
}

type fakeStore struct {
	pages     []string
	documents []string
	links     int
	finalized bool
	saveErr   error
	finalErr  error
}

func (s *fakeStore) SavePage(_ context.Context, url string, _ []byte, _ string, _ bool) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	s.pages = append(s.pages, url)
	return true, nil
}

func (s *fakeStore) SaveDocument(_ context.Context, url string, _ []byte, _ string) (string, error) {
	s.documents = append(s.documents, url)
	return "documents/" + url, nil
}

func (s *fakeStore) AddLinks(_ string, links []Link, _ string) {
	s.links += len(links)
}

func (s *fakeStore) Finalize(_ context.Context, _ map[string]any) error {
	s.finalized = true
	return s.finalErr
}

func (s *fakeStore) Stats() StoreStats { return StoreStats{} }

type allowAllPolicy struct{}

func (allowAllPolicy) CanFetch(context.Context, string) bool                 { return true }
func (allowAllPolicy) CrawlDelay(context.Context, string) (time.Duration, bool) { return 0, false }
func (allowAllPolicy) RequestRate(context.Context, string) (Rate, bool)      { return Rate{}, false }
func (allowAllPolicy) Clear()                                                {}

type denyListPolicy struct {
	allowAllPolicy
	denied []string
}

func (p *denyListPolicy) CanFetch(_ context.Context, url string) bool {
	for _, d := range p.denied {
		if strings.Contains(url, d) {
			return false
		}
	}
	return true
}

type recordingSink struct {
	mu    sync.Mutex
	saves []int
}

func (s *recordingSink) SaveCheckpoint(_ context.Context, _ string, pagesScraped, _ int, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, pagesScraped)
}

func testPolicy() Policy {
	return Policy{
		MaxDepth:            3,
		MaxPagesPerSite:     100,
		RespectRobotsTxt:    true,
		FollowExternalLinks: false,
		UserAgent:           "orgscraper-bot/1.0",
		PriorityPatterns: PriorityPatterns{
			High:   []string{"/publikace/"},
			Medium: []string{"/news/"},
			Low:    []string{"/gallery/"},
		},
		DownloadExtensions: []string{".pdf", ".doc"},
		CheckpointEvery:    1,
		MaxFetchAttempts:   1,
	}
}

func newTestEngine(t *testing.T, fetcher Fetcher, extractor Extractor, store ArtifactStore, robots RobotsPolicy, policy Policy) (*Engine, *Frontier) {
	t.Helper()
	frontier := NewFrontier(NewScope("example.org"), policy.MaxDepth, policy.MaxPagesPerSite)
	engine, err := NewEngine(EngineConfig{
		Organization: "example-org",
		SessionID:    "20260829_120000_example-org",
		Policy:       policy,
		Frontier:     frontier,
		Robots:       robots,
		Fetcher:      fetcher,
		Extractor:    extractor,
		Store:        store,
		Checkpoints:  &recordingSink{},
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	return engine, frontier
}

func TestEngineEndToEndScenario(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", `<a href="/publikace/1">p</a>`)
	fetcher.addHTML("https://example.org/publikace/1", "ok")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/publikace/1", Type: LinkInternal},
				{URL: "https://other.com/", Type: LinkExternal},
			},
		},
		docs: map[string][]DocumentLink{},
	}
	store := &fakeStore{}

	engine, frontier := newTestEngine(t, fetcher, extractor, store, allowAllPolicy{}, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)
	assert.False(t, outcome.Interrupted)

	// The external link was dropped, the internal one was fetched at depth 1.
	assert.Equal(t, []string{"https://example.org/", "https://example.org/publikace/1"}, store.pages)
	assert.Equal(t, 2, outcome.Stats.PagesScraped)
	assert.Equal(t, 2, outcome.Stats.LinksFound)
	assert.Equal(t, 0, outcome.Stats.Errors)
	assert.Equal(t, 2, frontier.Stats().Accepted)
	assert.True(t, store.finalized)
	assert.Zero(t, fetcher.calls["https://other.com/"])
}

func TestEngineAssignsPatternPriority(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/gallery/a", Type: LinkInternal},
				{URL: "https://example.org/publikace/b", Type: LinkInternal},
			},
		},
	}
	store := &fakeStore{}

	policy := testPolicy()
	engine, frontier := newTestEngine(t, fetcher, extractor, store, allowAllPolicy{}, policy)
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	// Process only the seed, then inspect the queue order directly.
	entry, ok := frontier.Next()
	require.True(t, ok)
	resp, err := fetcher.Fetch(context.Background(), FetchRequest{URL: entry.URL})
	require.NoError(t, err)
	engine.process(context.Background(), entry, resp)

	next, ok := frontier.Next()
	require.True(t, ok)
	assert.Equal(t, "https://example.org/publikace/b", next.URL, "high-priority tier is served first")
	assert.Equal(t, 1, next.Depth)
}

func TestEngineRespectsExclusions(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/admin/x", Type: LinkInternal},
			},
		},
	}
	store := &fakeStore{}

	policy := testPolicy()
	policy.ExcludePatterns = []string{"/admin/"}
	engine, _ := newTestEngine(t, fetcher, extractor, store, allowAllPolicy{}, policy)
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)
	assert.Zero(t, fetcher.calls["https://example.org/admin/x"])
}

func TestEngineRobotsDisallowSkips(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")
	fetcher.addHTML("https://example.org/private/x", "hidden")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/private/x", Type: LinkInternal},
			},
		},
	}
	store := &fakeStore{}
	robots := &denyListPolicy{denied: []string{"/private/"}}

	engine, frontier := newTestEngine(t, fetcher, extractor, store, robots, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	assert.Zero(t, fetcher.calls["https://example.org/private/x"], "disallowed URL must not be fetched")
	assert.True(t, frontier.IsVisited("https://example.org/private/x"), "disallowed URL is marked visited")
	assert.Equal(t, 1, outcome.Stats.PagesSkipped)
}

func TestEngineFetchFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")
	fetcher.errs["https://example.org/broken"] = errors.New("connection reset")
	fetcher.addHTML("https://example.org/fine", "ok")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/broken", Type: LinkInternal},
				{URL: "https://example.org/fine", Type: LinkInternal},
			},
		},
	}
	store := &fakeStore{}

	engine, frontier := newTestEngine(t, fetcher, extractor, store, allowAllPolicy{}, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	assert.Equal(t, 1, outcome.Stats.Errors)
	assert.Contains(t, store.pages, "https://example.org/fine")
	assert.True(t, frontier.IsVisited("https://example.org/broken"), "failed URL is marked visited so the loop cannot spin")
}

func TestEngineRetriesAreBounded(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.errs["https://example.org/"] = errors.New("flaky upstream")

	policy := testPolicy()
	policy.MaxFetchAttempts = 3
	engine, _ := newTestEngine(t, fetcher, &fakeExtractor{}, &fakeStore{}, allowAllPolicy{}, policy)
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	assert.Equal(t, 3, fetcher.calls["https://example.org/"])
	assert.Equal(t, 1, outcome.Stats.Errors)
}

func TestEngineDocumentDispatch(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")
	fetcher.addPDF("https://example.org/report.pdf")

	extractor := &fakeExtractor{
		docs: map[string][]DocumentLink{
			"https://example.org/": {
				{URL: "https://example.org/report.pdf", Type: ".pdf", SourcePage: "https://example.org/"},
			},
		},
	}
	store := &fakeStore{}

	engine, _ := newTestEngine(t, fetcher, extractor, store, allowAllPolicy{}, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	assert.Equal(t, []string{"https://example.org/report.pdf"}, store.documents)
	assert.Equal(t, 1, outcome.Stats.DocumentsSaved)
}

func TestEngineInterruption(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")

	engine, _ := newTestEngine(t, fetcher, &fakeExtractor{}, &fakeStore{}, allowAllPolicy{}, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := engine.Run(ctx)
	assert.True(t, outcome.Interrupted)
	assert.Zero(t, outcome.Stats.PagesScraped)
}

func TestEngineBudgetStopsEarly(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	for _, u := range []string{"https://example.org/", "https://example.org/a", "https://example.org/b"} {
		fetcher.addHTML(u, "page")
	}
	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {
				{URL: "https://example.org/a", Type: LinkInternal},
				{URL: "https://example.org/b", Type: LinkInternal},
			},
		},
	}
	store := &fakeStore{}

	frontier := NewFrontier(NewScope("example.org"), 3, 100)
	engine, err := NewEngine(EngineConfig{
		Organization: "example-org",
		Policy:       testPolicy(),
		Budget:       Budget{MaxHTMLPages: 1},
		Frontier:     frontier,
		Robots:       allowAllPolicy{},
		Fetcher:      fetcher,
		Extractor:    extractor,
		Store:        store,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	engine.Seed([]Seed{{URL: "https://example.org/"}})
	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	assert.Equal(t, 1, outcome.Stats.PagesScraped)
	assert.False(t, outcome.Interrupted)
}

func TestEngineCheckpointCadence(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")
	fetcher.addHTML("https://example.org/a", "a")

	extractor := &fakeExtractor{
		links: map[string][]Link{
			"https://example.org/": {{URL: "https://example.org/a", Type: LinkInternal}},
		},
	}
	sink := &recordingSink{}

	frontier := NewFrontier(NewScope("example.org"), 3, 100)
	engine, err := NewEngine(EngineConfig{
		Organization: "example-org",
		SessionID:    "sess",
		Policy:       testPolicy(),
		Frontier:     frontier,
		Robots:       allowAllPolicy{},
		Fetcher:      fetcher,
		Extractor:    extractor,
		Store:        &fakeStore{},
		Checkpoints:  sink,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	engine.Seed([]Seed{{URL: "https://example.org/"}})
	outcome := engine.Run(context.Background())
	require.NoError(t, outcome.Err)

	// CheckpointEvery=1: one checkpoint per processed URL plus the final one.
	assert.GreaterOrEqual(t, len(sink.saves), 3)
	assert.Equal(t, 2, sink.saves[len(sink.saves)-1])
}

func TestEngineFinalizeErrorIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addHTML("https://example.org/", "seed")
	store := &fakeStore{finalErr: errors.New("disk full")}

	engine, _ := newTestEngine(t, fetcher, &fakeExtractor{}, store, allowAllPolicy{}, testPolicy())
	engine.Seed([]Seed{{URL: "https://example.org/"}})

	outcome := engine.Run(context.Background())
	require.Error(t, outcome.Err)
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)

	_, err = NewEngine(EngineConfig{
		Frontier:  NewFrontier(NewScope("example.org"), 1, 1),
		Fetcher:   newFakeFetcher(),
		Extractor: &fakeExtractor{},
		Store:     &fakeStore{},
		Policy:    Policy{RespectRobotsTxt: true},
	})
	require.Error(t, err, "robots policy required when respected")
}
