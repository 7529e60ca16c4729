package seeds

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

type stubFetcher struct {
	body   string
	status int
	err    error
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if s.err != nil {
		return crawler.FetchResponse{}, s.err
	}
	status := s.status
	if status == 0 {
		status = 200
	}
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: status,
		Body:       []byte(s.body),
	}, nil
}

func TestDetectMaxPagesFromPaginationLinks(t *testing.T) {
	fetcher := &stubFetcher{body: `
<html><body>
<ul class="pagination">
  <li><a href="/publikace?page=1">1</a></li>
  <li><a href="/publikace?page=2">2</a></li>
  <li><a href="/publikace?page=14">14</a></li>
</ul>
</body></html>`}

	d := NewDetector(fetcher, zap.NewNop())
	max, err := d.DetectMaxPages(context.Background(), "https://example.org/publikace", "page")
	require.NoError(t, err)
	assert.Equal(t, 14, max)
}

func TestDetectMaxPagesFromLastLink(t *testing.T) {
	fetcher := &stubFetcher{body: `
<html><body>
<a href="/aktuality?page=2">další</a>
<a href="/aktuality?page=23">poslední »</a>
</body></html>`}

	d := NewDetector(fetcher, zap.NewNop())
	max, err := d.DetectMaxPages(context.Background(), "https://example.org/aktuality", "page")
	require.NoError(t, err)
	assert.Equal(t, 23, max)
}

func TestDetectMaxPagesFromText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"english", "<html><body><p>Page 1 of 47</p></body></html>", 47},
		{"czech", "<html><body><p>Strana 1 z 12</p></body></html>", 12},
		{"slash", "<html><body><p>1 / 8 pages</p></body></html>", 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&stubFetcher{body: tt.body}, zap.NewNop())
			max, err := d.DetectMaxPages(context.Background(), "https://example.org/x", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, max)
		})
	}
}

func TestDetectMaxPagesNoPagination(t *testing.T) {
	d := NewDetector(&stubFetcher{body: "<html><body><p>nothing here</p></body></html>"}, zap.NewNop())
	_, err := d.DetectMaxPages(context.Background(), "https://example.org/x", "page")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pagination")
}

func TestDetectMaxPagesFetchFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		d := NewDetector(&stubFetcher{err: errors.New("connection refused")}, zap.NewNop())
		_, err := d.DetectMaxPages(context.Background(), "https://example.org/x", "page")
		require.Error(t, err)
	})

	t.Run("non-2xx", func(t *testing.T) {
		d := NewDetector(&stubFetcher{body: "not found", status: 404}, zap.NewNop())
		_, err := d.DetectMaxPages(context.Background(), "https://example.org/x", "page")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})
}

func TestGeneratePageURLs(t *testing.T) {
	urls, err := GeneratePageURLs("https://example.org/publikace?lang=cs", 3, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.org/publikace?lang=cs&page=1",
		"https://example.org/publikace?lang=cs&page=2",
		"https://example.org/publikace?lang=cs&page=3",
	}, urls)
}

func TestGeneratePageURLsReplacesExistingParam(t *testing.T) {
	urls, err := GeneratePageURLs("https://example.org/publikace?page=9", 2, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.org/publikace?page=1",
		"https://example.org/publikace?page=2",
	}, urls)
}

func TestRows(t *testing.T) {
	rows := Rows([]string{"https://a/1", "https://a/2"}, "publications", 5)
	require.Len(t, rows, 2)
	assert.Equal(t, "publications", rows[0].URLType)
	assert.Equal(t, 5, rows[1].DepthLimit)
}
