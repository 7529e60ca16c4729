package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// DefaultRobotsCacheTTL is how long a fetched robots.txt rule set is
// trusted before it must be refetched.
const DefaultRobotsCacheTTL = time.Hour

const robotsMaxBodySize = 1 << 20

// HTTPDoer is the transport used to fetch robots.txt files.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	rate      *Rate
	fetchedAt time.Time
}

// RobotsCache resolves fetch permission and rate hints per domain with
// time-boxed caching. Resolution is intentionally permissive: a missing
// robots.txt, a transport error, or an unexpected status all allow
// everything, since over-blocking on an ambiguous failure would halt an
// entire organization's crawl.
type RobotsCache struct {
	client    HTTPDoer
	userAgent string
	ttl       time.Duration
	clock     Clock
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]robotsEntry
}

// RobotsCacheOption customizes a RobotsCache.
type RobotsCacheOption func(*RobotsCache)

// WithRobotsTTL overrides the cache duration.
func WithRobotsTTL(ttl time.Duration) RobotsCacheOption {
	return func(c *RobotsCache) { c.ttl = ttl }
}

// WithRobotsClock injects a clock, used by tests to expire entries.
func WithRobotsClock(clock Clock) RobotsCacheOption {
	return func(c *RobotsCache) { c.clock = clock }
}

// WithRobotsClient injects the HTTP transport.
func WithRobotsClient(client HTTPDoer) RobotsCacheOption {
	return func(c *RobotsCache) { c.client = client }
}

// NewRobotsCache builds a RobotsCache for the given crawler identity.
func NewRobotsCache(userAgent string, logger *zap.Logger, opts ...RobotsCacheOption) *RobotsCache {
	c := &RobotsCache{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		ttl:       DefaultRobotsCacheTTL,
		clock:     systemClock{},
		logger:    logger,
		entries:   make(map[string]robotsEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CanFetch reports whether the configured crawler identity may fetch the
// URL according to the domain's cached robots.txt rules.
func (c *RobotsCache) CanFetch(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	entry := c.resolve(ctx, parsed)
	group := entry.data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	pathWithQuery := parsed.Path
	if pathWithQuery == "" {
		pathWithQuery = "/"
	}
	if parsed.RawQuery != "" {
		pathWithQuery += "?" + parsed.RawQuery
	}
	allowed := group.Test(pathWithQuery)
	if !allowed {
		c.logger.Debug("robots.txt disallows fetch", zap.String("url", rawURL))
	}
	return allowed
}

// CrawlDelay returns the Crawl-delay hint for the URL's domain, if the site
// specifies one for the configured identity.
func (c *RobotsCache) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0, false
	}
	entry := c.resolve(ctx, parsed)
	group := entry.data.FindGroup(c.userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay, true
}

// RequestRate returns the Request-rate hint for the URL's domain, if any.
func (c *RobotsCache) RequestRate(ctx context.Context, rawURL string) (Rate, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return Rate{}, false
	}
	entry := c.resolve(ctx, parsed)
	if entry.rate == nil {
		return Rate{}, false
	}
	return *entry.rate, true
}

// Clear drops every cached entry, forcing refetches on the next query.
func (c *RobotsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]robotsEntry)
}

// resolve returns a valid cache entry for the URL's domain, fetching the
// domain's robots.txt when the entry is missing or older than the TTL.
func (c *RobotsCache) resolve(ctx context.Context, parsed *url.URL) robotsEntry {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.clock.Now().Sub(entry.fetchedAt) <= c.ttl {
		return entry
	}

	entry = c.fetch(ctx, parsed)
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

func (c *RobotsCache) fetch(ctx context.Context, parsed *url.URL) robotsEntry {
	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	entry := robotsEntry{data: allowAllRobots(), fetchedAt: c.clock.Now()}
	observeRobotsFetch(parsed.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		c.logger.Warn("robots request build failed; allowing all", zap.String("url", robotsURL), zap.Error(err))
		return entry
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing all", zap.String("url", robotsURL), zap.Error(err))
		return entry
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBodySize))
	if err != nil {
		c.logger.Warn("robots read failed; allowing all", zap.String("url", robotsURL), zap.Error(err))
		return entry
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, perr := robotstxt.FromBytes(body)
		if perr != nil {
			c.logger.Warn("robots parse failed; allowing all", zap.String("url", robotsURL), zap.Error(perr))
			return entry
		}
		entry.data = data
		entry.rate = parseRequestRate(body, c.userAgent)
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Debug("no robots.txt; allowing all", zap.String("host", parsed.Host))
	default:
		c.logger.Warn("unexpected robots status; allowing all",
			zap.String("url", robotsURL),
			zap.Int("status", resp.StatusCode),
		)
	}
	return entry
}

func allowAllRobots() *robotstxt.RobotsData {
	data, err := robotstxt.FromString("")
	if err != nil {
		return &robotstxt.RobotsData{}
	}
	return data
}

// parseRequestRate extracts a "Request-rate: n/m" directive for the agent
// (or the wildcard group) from a robots.txt body. The robotstxt library does
// not model this directive, so it is scanned here; a group-specific value
// wins over the wildcard one.
func parseRequestRate(body []byte, userAgent string) *Rate {
	agent := strings.ToLower(userAgent)
	var wildcard, specific *Rate
	inWildcard, inSpecific := false, false
	lastWasAgent := false

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			// Consecutive User-agent lines open one shared group.
			if !lastWasAgent {
				inWildcard, inSpecific = false, false
			}
			name := strings.ToLower(value)
			if name == "*" {
				inWildcard = true
			} else if strings.Contains(agent, name) {
				inSpecific = true
			}
			lastWasAgent = true
			continue
		case "request-rate":
			rate := parseRateValue(value)
			if rate == nil {
				continue
			}
			if inSpecific {
				specific = rate
			} else if inWildcard && wildcard == nil {
				wildcard = rate
			}
		}
		lastWasAgent = false
	}

	if specific != nil {
		return specific
	}
	return wildcard
}

func parseRateValue(value string) *Rate {
	requests, period, ok := strings.Cut(value, "/")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(requests))
	if err != nil || n <= 0 {
		return nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(period))
	if err != nil || seconds <= 0 {
		return nil
	}
	return &Rate{Requests: n, Period: time.Duration(seconds) * time.Second}
}
