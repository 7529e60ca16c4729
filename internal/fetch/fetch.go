// Package fetch implements crawler.Fetcher using the Colly collector.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBody   int
}

// Fetcher fetches one URL per call over a shared pooled transport. Robots
// enforcement happens upstream in the engine, so the collector never probes
// robots.txt itself.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Retries re-visit a URL through the same shared store.
	c.AllowURLRevisit = true
	if cfg.MaxBody > 0 {
		c.MaxBodySize = cfg.MaxBody
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Non-2xx responses are returned with
// their status code and no error; the caller decides whether to retry.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result    crawler.FetchResponse
		fetchErr  error
		responded bool
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr, &responded)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr, &responded); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
	responded *bool,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = newResponse(r, start)
		*responded = true
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError with the
		// response attached. Surface those as responses; only keep
		// transport-level failures as errors.
		if r != nil && r.StatusCode > 0 {
			*result = newResponse(r, start)
			*responded = true
			return
		}
		*fetchErr = err
	})

	return collector
}

func newResponse(r *colly.Response, start time.Time) crawler.FetchResponse {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return crawler.FetchResponse{
		URL:         r.Request.URL.String(),
		StatusCode:  r.StatusCode,
		ContentType: headers.Get("Content-Type"),
		Headers:     headers,
		Body:        append([]byte(nil), r.Body...),
		Duration:    time.Since(start),
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error, responded *bool) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("fetch failed: %w", *fetchErr)
		}
		// Visit echoes non-2xx statuses as errors; those already
		// produced a response through OnError and are not failures here.
		if err != nil && !*responded {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
