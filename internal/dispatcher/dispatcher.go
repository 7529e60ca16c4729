// Package dispatcher runs crawls for many organizations: batches of
// concurrent runs with a cooldown pause between batches so target sites are
// not hammered back to back.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/crawler"
	"github.com/vkadlec/orgscraper/internal/id/uuid"
)

// Result reports how one organization's crawl job ended.
type Result struct {
	JobID        string
	Organization string
	SessionID    string
	Outcome      crawler.Outcome
	Err          error
}

// RunFunc executes one organization's crawl and returns the session id it
// ran under plus the engine outcome.
type RunFunc func(ctx context.Context, organization string) (string, crawler.Outcome, error)

// Config controls batching.
type Config struct {
	// Concurrency is the number of organizations crawled at once.
	Concurrency int
	// Cooldown is the pause between batches.
	Cooldown time.Duration
}

// Dispatcher fans organizations out over a bounded worker group.
type Dispatcher struct {
	run    RunFunc
	ids    *uuid.Generator
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(run RunFunc, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if run == nil {
		return nil, fmt.Errorf("run function is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		run:    run,
		ids:    uuid.New(),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run crawls every organization and returns one Result per organization, in
// input order. Cancellation stops scheduling new batches; jobs already
// running finish on their own (their engines observe the same context).
func (d *Dispatcher) Run(ctx context.Context, organizations []string) []Result {
	results := make([]Result, len(organizations))

	for start := 0; start < len(organizations); start += d.cfg.Concurrency {
		if ctx.Err() != nil {
			for i := start; i < len(organizations); i++ {
				results[i] = Result{Organization: organizations[i], Err: ctx.Err()}
			}
			break
		}

		end := start + d.cfg.Concurrency
		if end > len(organizations) {
			end = len(organizations)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = d.runOne(ctx, organizations[idx])
			}(i)
		}
		wg.Wait()

		if end < len(organizations) && d.cfg.Cooldown > 0 {
			d.logger.Debug("batch cooldown", zap.Duration("cooldown", d.cfg.Cooldown))
			pause(ctx, d.cfg.Cooldown)
		}
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, organization string) Result {
	jobID, err := d.ids.NewID()
	if err != nil {
		return Result{Organization: organization, Err: fmt.Errorf("generate job id: %w", err)}
	}

	logger := d.logger.With(
		zap.String("job_id", jobID),
		zap.String("organization", organization),
	)
	logger.Info("crawl job started")

	sessionID, outcome, err := d.run(ctx, organization)
	result := Result{
		JobID:        jobID,
		Organization: organization,
		SessionID:    sessionID,
		Outcome:      outcome,
		Err:          err,
	}

	switch {
	case err != nil:
		logger.Error("crawl job failed", zap.Error(err))
	case outcome.Interrupted:
		logger.Warn("crawl job interrupted",
			zap.Int("pages_scraped", outcome.Stats.PagesScraped))
	default:
		logger.Info("crawl job finished",
			zap.Int("pages_scraped", outcome.Stats.PagesScraped),
			zap.Int("documents", outcome.Stats.DocumentsSaved),
			zap.Int("errors", outcome.Stats.Errors),
		)
	}
	return result
}

func pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
