package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkadlec/orgscraper/internal/config"
	"github.com/vkadlec/orgscraper/internal/crawler"
	memorypub "github.com/vkadlec/orgscraper/internal/publisher/memory"
	"github.com/vkadlec/orgscraper/internal/session"
)

func testApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawl.RequestDelaySeconds = 0
	cfg.Crawl.MinContentLength = 0
	cfg.Storage.Provider = "memory"
	cfg.DB.SQLitePath = filepath.Join(dir, "sessions.db")
	cfg.Inputs.OutputDir = filepath.Join(dir, "runs")
	cfg.Logging.Development = false

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Home</title></head>
<body><a href="/publikace/report">Report</a></body></html>`)
	})
	mux.HandleFunc("/publikace/report", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Report</title></head>
<body><p>Annual report body text.</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DB.Driver = "bogus"

	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestCrawlOrganizationEndToEnd(t *testing.T) {
	a := testApp(t)
	site := testSite(t)

	org := config.Organization{Name: "Org A", BaseURL: site.URL}
	sessionID, outcome, err := a.CrawlOrganization(context.Background(), org, nil, CrawlOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	assert.Equal(t, 2, outcome.Stats.PagesScraped)
	assert.False(t, outcome.Interrupted)

	sess, err := a.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 2, sess.PagesScraped)
	require.NotNil(t, sess.EndTime)

	pub, ok := a.Publisher.(*memorypub.Publisher)
	require.True(t, ok)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, CompletionTopic, msgs[0].Topic)
}

func TestCrawlSeedDepthLimitRaisesMaxDepth(t *testing.T) {
	a := testApp(t)
	site := testSite(t)

	// With the run-wide depth at zero only the seed itself would be fetched;
	// the seed's own limit has to carry the crawl to the linked page.
	a.Config.Crawl.MaxDepth = 0

	org := config.Organization{Name: "Org A", BaseURL: site.URL}
	seeds := []crawler.Seed{{URL: site.URL, URLType: "homepage", DepthLimit: 1}}
	_, outcome, err := a.CrawlOrganization(context.Background(), org, seeds, CrawlOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Stats.PagesScraped)
}

func TestCrawlRegistersMetrics(t *testing.T) {
	a := testApp(t)
	site := testSite(t)

	org := config.Organization{Name: "Org A", BaseURL: site.URL}
	_, outcome, err := a.CrawlOrganization(context.Background(), org, nil, CrawlOptions{})
	require.NoError(t, err)
	require.Positive(t, outcome.Stats.PagesScraped)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "orgscraper_pages_total")
	assert.Contains(t, names, "orgscraper_bytes_total")
}

func TestCrawlOrganizationInterrupted(t *testing.T) {
	a := testApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	// The first request pulls the plug, so the engine observes cancellation
	// at the next loop boundary.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		fmt.Fprint(w, "<html><body>home</body></html>")
	}))
	t.Cleanup(srv.Close)

	org := config.Organization{Name: "Org A", BaseURL: srv.URL}
	sessionID, outcome, err := a.CrawlOrganization(ctx, org, nil, CrawlOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.Interrupted)

	sess, err := a.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusInterrupted, sess.Status)
}

func TestCrawlOrganizationBudget(t *testing.T) {
	a := testApp(t)
	site := testSite(t)

	org := config.Organization{Name: "Org A", BaseURL: site.URL}
	_, outcome, err := a.CrawlOrganization(context.Background(), org, nil, CrawlOptions{
		Budget: crawler.Budget{MaxHTMLPages: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Stats.PagesScraped)
	assert.False(t, outcome.Interrupted)
}

func TestCrawlAll(t *testing.T) {
	a := testApp(t)
	site := testSite(t)
	dir := t.TempDir()

	orgsPath := filepath.Join(dir, "orgs.csv")
	require.NoError(t, os.WriteFile(orgsPath, []byte(
		"name,base_url,max_depth,max_pages\nOrg A,"+site.URL+",2,10\n"), 0o600))
	seedsPath := filepath.Join(dir, "seeds.csv")
	require.NoError(t, os.WriteFile(seedsPath, []byte(
		"organization,url,url_type,depth_limit\nOrg A,"+site.URL+"/,homepage,0\n"), 0o600))

	a.Config.Inputs.OrganizationsFile = orgsPath
	a.Config.Inputs.SeedsFile = seedsPath
	a.Config.Dispatcher.CooldownSeconds = 0

	results, err := a.CrawlAll(context.Background(), CrawlOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Org A", results[0].Organization)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Outcome.Stats.PagesScraped)
}

func TestResumeInterruptedSession(t *testing.T) {
	a := testApp(t)
	site := testSite(t)

	org := config.Organization{Name: "Org A", BaseURL: site.URL}

	ctx, cancel := context.WithCancel(context.Background())
	var interruptOnce sync.Once
	interrupting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		interruptOnce.Do(cancel)
		fmt.Fprint(w, "<html><body>home</body></html>")
	}))
	t.Cleanup(interrupting.Close)

	org.BaseURL = interrupting.URL
	sessionID, _, err := a.CrawlOrganization(ctx, org, nil, CrawlOptions{})
	require.NoError(t, err)

	org.BaseURL = site.URL

	resumedID, outcome, err := a.CrawlOrganization(context.Background(), org, nil, CrawlOptions{
		Resume:    true,
		SessionID: sessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, sessionID, resumedID)
	assert.False(t, outcome.Interrupted)

	sess, err := a.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
}
