package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns fetched HTML into links, document links, and metadata.
type Extractor interface {
	ExtractLinks(html []byte, sourceURL string) []Link
	ExtractDocumentLinks(html []byte, sourceURL string, extensions []string) []DocumentLink
	ExtractMetadata(html []byte, url string) PageMetadata
}

// ArtifactStore persists fetched content and page metadata for one
// organization's run. Implementations deduplicate by content hash.
type ArtifactStore interface {
	SavePage(ctx context.Context, url string, body []byte, encoding string, checkDuplicates bool) (bool, error)
	SaveDocument(ctx context.Context, url string, body []byte, contentType string) (string, error)
	AddLinks(sourceURL string, links []Link, publishedDate string)
	Finalize(ctx context.Context, extra map[string]any) error
	Stats() StoreStats
}

// StoreStats are the counters reported by an ArtifactStore.
type StoreStats struct {
	PagesSaved       int `json:"pages_saved"`
	DocumentsSaved   int `json:"documents_saved"`
	LinksExtracted   int `json:"links_extracted"`
	DuplicateContent int `json:"duplicate_content"`
	Errors           int `json:"errors"`
}

// RobotsPolicy resolves fetch permission and rate hints per domain.
type RobotsPolicy interface {
	CanFetch(ctx context.Context, url string) bool
	CrawlDelay(ctx context.Context, url string) (time.Duration, bool)
	RequestRate(ctx context.Context, url string) (Rate, bool)
	Clear()
}

// Rate is a robots.txt Request-rate hint: Requests fetches per Period.
type Rate struct {
	Requests int
	Period   time.Duration
}

// CheckpointSink receives periodic progress snapshots from the engine.
// Writes are best-effort; implementations must not fail the run.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, sessionID string, pagesScraped, queueSize int, payload map[string]any)
}

// RetryPolicy decides whether a transient fetch failure is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}
