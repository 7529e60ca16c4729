package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/config"
	"github.com/vkadlec/orgscraper/internal/crawler"
	"github.com/vkadlec/orgscraper/internal/dispatcher"
	"github.com/vkadlec/orgscraper/internal/extract"
	"github.com/vkadlec/orgscraper/internal/logging"
	"github.com/vkadlec/orgscraper/internal/publisher"
	"github.com/vkadlec/orgscraper/internal/session"
	"github.com/vkadlec/orgscraper/internal/store"
)

// CompletionTopic is the logical topic completion events are published to.
const CompletionTopic = "session-completed"

// CrawlOptions modifies how a crawl run is started.
type CrawlOptions struct {
	// Resume reopens an interrupted or failed session instead of creating
	// a new one. SessionID must be set.
	Resume bool
	// SessionID names an existing session to run under.
	SessionID string
	// Budget caps saved pages/documents; zero means the policy limits only.
	Budget crawler.Budget
}

// CrawlOrganization runs one organization's crawl end to end: session
// bookkeeping, engine run, final status, completion event.
func (a *App) CrawlOrganization(ctx context.Context, org config.Organization, seeds []crawler.Seed, opts CrawlOptions) (string, crawler.Outcome, error) {
	sess, err := a.openSession(ctx, org.Name, opts)
	if err != nil {
		return "", crawler.Outcome{}, err
	}

	logger := logging.ForOrganization(a.Logger, org.Name, sess.ID)
	outcome, err := a.runEngine(ctx, org, seeds, sess, opts, logger)
	if err != nil {
		a.finishSession(ctx, sess, session.StatusFailed, crawler.Stats{Errors: 1}, logger)
		return sess.ID, crawler.Outcome{}, err
	}

	status := session.StatusCompleted
	switch {
	case outcome.Interrupted:
		status = session.StatusInterrupted
	case outcome.Err != nil:
		status = session.StatusFailed
	}
	a.finishSession(ctx, sess, status, outcome.Stats, logger)
	a.publishCompletion(ctx, sess, status, outcome, logger)

	return sess.ID, outcome, outcome.Err
}

// CrawlAll fans all configured organizations out over the dispatcher. Seeds
// and organizations come from the configured CSV inputs.
func (a *App) CrawlAll(ctx context.Context, opts CrawlOptions) ([]dispatcher.Result, error) {
	orgs, seedsByOrg, err := a.LoadInputs()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]config.Organization, len(orgs))
	names := make([]string, 0, len(orgs))
	for _, org := range orgs {
		byName[org.Name] = org
		names = append(names, org.Name)
	}

	run := func(ctx context.Context, organization string) (string, crawler.Outcome, error) {
		org := byName[organization]
		// Every worker creates its own session; resume targets one org only.
		return a.CrawlOrganization(ctx, org, seedsByOrg[org.Name], CrawlOptions{Budget: opts.Budget})
	}

	d, err := dispatcher.New(run, dispatcher.Config{
		Concurrency: a.Config.Dispatcher.Concurrency,
		Cooldown:    a.Config.Cooldown(),
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}
	return d.Run(ctx, names), nil
}

// LoadInputs reads the organizations and seed CSVs from the configured paths.
func (a *App) LoadInputs() ([]config.Organization, map[string][]crawler.Seed, error) {
	orgs, err := config.LoadOrganizations(a.Config.Inputs.OrganizationsFile)
	if err != nil {
		return nil, nil, err
	}
	seeds, err := config.LoadSeeds(a.Config.Inputs.SeedsFile)
	if err != nil {
		return nil, nil, err
	}
	return orgs, seeds, nil
}

func (a *App) openSession(ctx context.Context, organization string, opts CrawlOptions) (session.Session, error) {
	if opts.SessionID != "" {
		if opts.Resume {
			sess, cp, err := a.Sessions.Resume(ctx, opts.SessionID)
			if err != nil {
				return session.Session{}, fmt.Errorf("resume session %s: %w", opts.SessionID, err)
			}
			if cp != nil {
				a.Logger.Info("resuming from checkpoint",
					zap.String("session_id", sess.ID),
					zap.Int("pages_scraped", cp.PagesScraped),
					zap.Time("checkpoint_at", cp.Timestamp),
				)
			}
			return sess, nil
		}
		return a.Sessions.Get(ctx, opts.SessionID)
	}
	return a.Sessions.Create(ctx, organization, a.Config.Crawl, fmt.Sprintf("Crawling %s", orDefault(organization, "all organizations")))
}

func (a *App) runEngine(ctx context.Context, org config.Organization, seeds []crawler.Seed, sess session.Session, opts CrawlOptions, logger *zap.Logger) (crawler.Outcome, error) {
	policy := a.Config.Policy()
	if org.MaxDepth > 0 {
		policy.MaxDepth = org.MaxDepth
	}
	if org.MaxPages > 0 {
		policy.MaxPagesPerSite = org.MaxPages
	}
	// Section seeds can demand more depth than the run-wide default; the
	// deepest seed wins so none of them gets cut short.
	for _, seed := range seeds {
		if seed.DepthLimit > policy.MaxDepth {
			policy.MaxDepth = seed.DepthLimit
		}
	}

	scope, err := crawler.ScopeFromURL(org.BaseURL)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("organization %s: %w", org.Name, err)
	}

	blobs, err := a.BlobStore(sess.OutputDir, sess.ID)
	if err != nil {
		return crawler.Outcome{}, err
	}
	artifacts, err := store.New(blobs, store.Config{
		Organization:     org.Name,
		SessionID:        sess.ID,
		MinContentLength: policy.MinContentLength,
	}, logger)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("init artifact store: %w", err)
	}

	var robots crawler.RobotsPolicy
	if policy.RespectRobotsTxt {
		robots = crawler.NewRobotsCache(policy.UserAgent, logger)
	}

	engine, err := crawler.NewEngine(crawler.EngineConfig{
		Organization: org.Name,
		SessionID:    sess.ID,
		Policy:       policy,
		Budget:       opts.Budget,
		Frontier:     crawler.NewFrontier(scope, policy.MaxDepth, policy.MaxPagesPerSite),
		Robots:       robots,
		Fetcher:      a.Fetcher,
		Extractor:    extract.New(scope, logger),
		Store:        artifacts,
		Checkpoints:  a.Sessions,
		Logger:       logger,
	})
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("init engine: %w", err)
	}

	if len(seeds) == 0 {
		seeds = []crawler.Seed{{URL: org.BaseURL, URLType: "homepage"}}
	}
	engine.Seed(seeds)

	logger.Info("crawl starting",
		zap.String("base_url", org.BaseURL),
		zap.Int("seeds", len(seeds)),
		zap.Int("max_depth", policy.MaxDepth),
		zap.Int("max_pages", policy.MaxPagesPerSite),
	)
	return engine.Run(ctx), nil
}

func (a *App) finishSession(ctx context.Context, sess session.Session, status session.Status, stats crawler.Stats, logger *zap.Logger) {
	// Status still gets recorded when the run was canceled.
	ctx = context.WithoutCancel(ctx)
	err := a.Sessions.UpdateStatus(ctx, sess.ID, status, &session.Stats{
		PagesScraped: stats.PagesScraped,
		PagesSkipped: stats.PagesSkipped,
		Errors:       stats.Errors,
	})
	if err != nil {
		logger.Error("session status update failed",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	logger.Info("session finished",
		zap.String("status", string(status)),
		zap.Int("pages_scraped", stats.PagesScraped),
		zap.Int("errors", stats.Errors),
	)
}

func (a *App) publishCompletion(ctx context.Context, sess session.Session, status session.Status, outcome crawler.Outcome, logger *zap.Logger) {
	if a.Publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	event := publisher.CompletionEvent{
		SessionID:    sess.ID,
		Organization: sess.Organization,
		Status:       string(status),
		PagesScraped: outcome.Stats.PagesScraped,
		Documents:    outcome.Stats.DocumentsSaved,
		Errors:       outcome.Stats.Errors,
		OutputDir:    sess.OutputDir,
		FinishedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	id, err := a.Publisher.Publish(ctx, CompletionTopic, event)
	if err != nil {
		// Completion events are advisory; the run already finished.
		logger.Warn("completion event publish failed", zap.Error(err))
		return
	}
	logger.Debug("completion event published", zap.String("message_id", id))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
