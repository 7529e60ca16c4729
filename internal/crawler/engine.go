package crawler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Policy is the typed crawl policy for one run. It enumerates exactly the
// recognized options and is validated at configuration load.
type Policy struct {
	MaxDepth            int
	MaxPagesPerSite     int
	RespectRobotsTxt    bool
	FollowExternalLinks bool
	UserAgent           string
	ExcludePatterns     []string
	PriorityPatterns    PriorityPatterns
	DownloadExtensions  []string
	MinContentLength    int
	CheckDuplicates     bool
	RequestDelay        time.Duration
	CheckpointEvery     int
	MaxFetchAttempts    int
}

// Budget optionally caps how much a run may save. Zero means unlimited.
// Used by test-dataset runs to collect a small sample per organization.
type Budget struct {
	MaxHTMLPages int
	MaxDocuments int
}

// StatusError reports a non-2xx HTTP response from a page fetch.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// EngineConfig wires one crawl run's collaborators. Every run owns its own
// frontier, robots cache, and store; nothing is shared across organizations.
type EngineConfig struct {
	Organization string
	SessionID    string
	Policy       Policy
	Budget       Budget
	Frontier     *Frontier
	Robots       RobotsPolicy
	Fetcher      Fetcher
	Extractor    Extractor
	Store        ArtifactStore
	Checkpoints  CheckpointSink
	Retry        RetryPolicy
	Clock        Clock
	Logger       *zap.Logger
}

// Engine drives one organization's crawl to completion under its limits:
// pop, consult robots, fetch, classify, dispatch, requeue, checkpoint.
type Engine struct {
	org         string
	sessionID   string
	policy      Policy
	budget      Budget
	frontier    *Frontier
	robots      RobotsPolicy
	fetcher     Fetcher
	extractor   Extractor
	store       ArtifactStore
	checkpoints CheckpointSink
	retry       RetryPolicy
	clock       Clock
	logger      *zap.Logger

	stats     Stats
	htmlSaved int
	docsSaved int
}

// NewEngine validates the wiring and returns a ready Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Frontier == nil {
		return nil, errors.New("frontier is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Policy.RespectRobotsTxt && cfg.Robots == nil {
		return nil, errors.New("robots policy is required when respect_robots_txt is set")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(cfg.Policy.MaxFetchAttempts)
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Policy.CheckpointEvery <= 0 {
		cfg.Policy.CheckpointEvery = 10
	}
	return &Engine{
		org:         cfg.Organization,
		sessionID:   cfg.SessionID,
		policy:      cfg.Policy,
		budget:      cfg.Budget,
		frontier:    cfg.Frontier,
		robots:      cfg.Robots,
		fetcher:     cfg.Fetcher,
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		checkpoints: cfg.Checkpoints,
		retry:       cfg.Retry,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}, nil
}

// Seed loads the run's starting URLs at depth 0, priority 0.
func (e *Engine) Seed(seeds []Seed) {
	for _, seed := range seeds {
		if !e.frontier.Add(seed.URL, 0, "", 0) {
			e.logger.Debug("seed rejected", zap.String("url", seed.URL))
		}
	}
}

// Stats returns the engine's running totals.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Run executes the fetch-process loop until the frontier is exhausted, the
// budget is met, or the context is canceled. A single URL's failure never
// aborts the loop; it is counted and the loop proceeds.
func (e *Engine) Run(ctx context.Context) Outcome {
	processed := 0

	for {
		// Interruption is only observed at the loop boundary, never
		// mid-fetch-processing.
		select {
		case <-ctx.Done():
			e.checkpoint(ctx, "interrupted")
			e.finalize(ctx)
			return Outcome{Stats: e.stats, Interrupted: true}
		default:
		}

		if e.budgetExhausted() {
			e.logger.Info("budget reached, stopping crawl",
				zap.String("organization", e.org),
				zap.Int("html_pages", e.htmlSaved),
				zap.Int("documents", e.docsSaved),
			)
			break
		}

		entry, ok := e.frontier.Next()
		if !ok {
			break
		}
		observeFrontierSize(e.org, e.frontier.Size())

		if e.frontier.IsVisited(entry.URL) {
			continue
		}

		if e.policy.RespectRobotsTxt && !e.robots.CanFetch(ctx, entry.URL) {
			e.frontier.MarkVisited(entry.URL)
			e.stats.PagesSkipped++
			observeRobotsDenied()
			e.logger.Debug("skipped by robots.txt", zap.String("url", entry.URL))
			continue
		}

		resp, err := e.fetchWithRetry(ctx, entry)
		e.frontier.MarkVisited(entry.URL)
		processed++

		if err != nil {
			e.stats.Errors++
			observeFetchError(e.org)
			observePage(e.org, "error", 0, 0)
			e.logger.Warn("fetch failed",
				zap.String("url", entry.URL),
				zap.Int("depth", entry.Depth),
				zap.Error(err),
			)
		} else {
			e.process(ctx, entry, resp)
		}

		if processed%e.policy.CheckpointEvery == 0 {
			e.checkpoint(ctx, entry.URL)
		}

		e.pace(ctx, entry.URL)
	}

	e.checkpoint(ctx, "final")
	if err := e.finalize(ctx); err != nil {
		return Outcome{Stats: e.stats, Err: err}
	}
	return Outcome{Stats: e.stats}
}

func (e *Engine) budgetExhausted() bool {
	if e.budget.MaxHTMLPages <= 0 && e.budget.MaxDocuments <= 0 {
		return false
	}
	if e.budget.MaxHTMLPages > 0 && e.htmlSaved < e.budget.MaxHTMLPages {
		return false
	}
	if e.budget.MaxDocuments > 0 && e.docsSaved < e.budget.MaxDocuments {
		return false
	}
	return true
}

func (e *Engine) fetchWithRetry(ctx context.Context, entry Entry) (FetchResponse, error) {
	attempt := 0
	for {
		resp, err := e.fetcher.Fetch(ctx, FetchRequest{
			URL:       entry.URL,
			Depth:     entry.Depth,
			ParentURL: entry.ParentURL,
		})
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			err = &StatusError{Code: resp.StatusCode}
		}
		if err == nil {
			return resp, nil
		}

		attempt++
		if !e.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		e.logger.Debug("retrying fetch",
			zap.String("url", entry.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		pause(ctx, e.retry.Backoff(attempt))
	}
}

// process classifies the response by content type and dispatches it. HTML
// goes through extraction and requeue; recognized documents are stored
// directly; anything else is discarded.
func (e *Engine) process(ctx context.Context, entry Entry, resp FetchResponse) {
	switch {
	case isHTML(resp.ContentType):
		e.processHTML(ctx, entry, resp)
	case e.isDocument(entry.URL, resp.ContentType):
		e.processDocument(ctx, entry, resp)
	default:
		e.stats.PagesSkipped++
		observePage(e.org, "skipped", len(resp.Body), resp.Duration.Seconds())
		e.logger.Debug("discarding unsupported content type",
			zap.String("url", entry.URL),
			zap.String("content_type", resp.ContentType),
		)
	}
}

func (e *Engine) processHTML(ctx context.Context, entry Entry, resp FetchResponse) {
	meta := e.extractor.ExtractMetadata(resp.Body, entry.URL)
	links := e.extractor.ExtractLinks(resp.Body, entry.URL)
	docs := e.extractor.ExtractDocumentLinks(resp.Body, entry.URL, e.policy.DownloadExtensions)

	saved, err := e.store.SavePage(ctx, entry.URL, resp.Body, responseEncoding(resp), e.policy.CheckDuplicates)
	switch {
	case err != nil:
		e.stats.Errors++
		observePage(e.org, "error", len(resp.Body), resp.Duration.Seconds())
		e.logger.Warn("save page failed", zap.String("url", entry.URL), zap.Error(err))
	case saved:
		e.stats.PagesScraped++
		e.htmlSaved++
		observePage(e.org, "saved", len(resp.Body), resp.Duration.Seconds())
	default:
		e.stats.PagesSkipped++
		observePage(e.org, "skipped", len(resp.Body), resp.Duration.Seconds())
	}

	e.stats.LinksFound += len(links)
	e.store.AddLinks(entry.URL, links, meta.PublishedDate)
	e.requeue(entry, links, docs)
}

func (e *Engine) requeue(entry Entry, links []Link, docs []DocumentLink) {
	depth := entry.Depth + 1

	for _, link := range links {
		if link.Type == LinkExternal && !e.policy.FollowExternalLinks {
			continue
		}
		if e.frontier.ShouldExclude(link.URL, e.policy.ExcludePatterns) {
			continue
		}
		priority := e.frontier.PriorityOf(link.URL, e.policy.PriorityPatterns)
		e.frontier.Add(link.URL, depth, entry.URL, priority)
	}

	// Document links bypass pattern priorities; they are the crawl's
	// primary payload and go in at the highest rank.
	for _, doc := range docs {
		if !e.frontier.Scope().IsInternal(doc.URL) && !e.policy.FollowExternalLinks {
			continue
		}
		if e.frontier.ShouldExclude(doc.URL, e.policy.ExcludePatterns) {
			continue
		}
		e.frontier.Add(doc.URL, depth, entry.URL, 0)
	}

	observeFrontierSize(e.org, e.frontier.Size())
}

func (e *Engine) processDocument(ctx context.Context, entry Entry, resp FetchResponse) {
	loc, err := e.store.SaveDocument(ctx, entry.URL, resp.Body, resp.ContentType)
	if err != nil {
		e.stats.Errors++
		e.logger.Warn("save document failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if loc != "" {
		e.stats.DocumentsSaved++
		e.docsSaved++
		observeDocument(e.org)
	}
}

func (e *Engine) checkpoint(ctx context.Context, lastURL string) {
	if e.checkpoints == nil || e.sessionID == "" {
		return
	}
	payload := map[string]any{
		"last_url":   lastURL,
		"tier_sizes": e.frontier.TierSizes(),
		"errors":     e.stats.Errors,
		"documents":  e.stats.DocumentsSaved,
	}
	e.checkpoints.SaveCheckpoint(ctx, e.sessionID, e.stats.PagesScraped, e.frontier.Size(), payload)
}

func (e *Engine) finalize(ctx context.Context) error {
	extra := map[string]any{
		"organization":  e.org,
		"session_id":    e.sessionID,
		"pages_scraped": e.stats.PagesScraped,
		"pages_skipped": e.stats.PagesSkipped,
		"links_found":   e.stats.LinksFound,
		"errors":        e.stats.Errors,
		"finished_at":   e.clock.Now().Format(time.RFC3339),
	}
	if err := e.store.Finalize(ctx, extra); err != nil {
		return fmt.Errorf("finalize store: %w", err)
	}
	return nil
}

// pace waits between iterations: the configured delay, stretched to honor
// the domain's Crawl-delay or Request-rate hints when robots are respected.
func (e *Engine) pace(ctx context.Context, lastURL string) {
	delay := e.policy.RequestDelay
	if e.policy.RespectRobotsTxt && e.robots != nil {
		if hint, ok := e.robots.CrawlDelay(ctx, lastURL); ok && hint > delay {
			delay = hint
		}
		if rate, ok := e.robots.RequestRate(ctx, lastURL); ok && rate.Requests > 0 {
			per := rate.Period / time.Duration(rate.Requests)
			if per > delay {
				delay = per
			}
		}
	}
	pause(ctx, delay)
}

func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

var documentContentTypes = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// isDocument recognizes downloadable documents by URL extension against the
// configured allowlist, falling back to well-known content types.
func (e *Engine) isDocument(rawURL, contentType string) bool {
	ext := strings.ToLower(path.Ext(urlPath(rawURL)))
	for _, allowed := range e.policy.DownloadExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	mapped, ok := documentContentTypes[ct]
	if !ok {
		return false
	}
	for _, allowed := range e.policy.DownloadExtensions {
		if strings.EqualFold(mapped, allowed) {
			return true
		}
	}
	return false
}

func urlPath(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rawURL = rawURL[i+3:]
	}
	if i := strings.Index(rawURL, "/"); i >= 0 {
		return rawURL[i:]
	}
	return "/"
}

func responseEncoding(resp FetchResponse) string {
	ct := resp.ContentType
	if i := strings.Index(strings.ToLower(ct), "charset="); i >= 0 {
		return strings.Trim(ct[i+len("charset="):], `" `)
	}
	return "utf-8"
}
