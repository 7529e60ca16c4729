// Package seeds expands paginated sections into explicit seed URLs so every
// listing page is crawled without relying on link discovery.
package seeds

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// DefaultPageParam is the query parameter most sites use for pagination.
const DefaultPageParam = "page"

// Detector inspects a section page's pagination markup to find the highest
// page number, then generates one URL per page.
type Detector struct {
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// NewDetector wires the fetch primitive used to load the section page.
func NewDetector(fetcher crawler.Fetcher, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{fetcher: fetcher, logger: logger}
}

// DetectMaxPages fetches sectionURL and scans its markup for the highest
// page number. Three strategies run in order: numbered pagination links,
// a "last page" style link, then page-count phrases in the text. Zero and
// an error mean no pagination was detected.
func (d *Detector) DetectMaxPages(ctx context.Context, sectionURL, pageParam string) (int, error) {
	if pageParam == "" {
		pageParam = DefaultPageParam
	}
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: sectionURL})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", sectionURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("fetch %s: unexpected status %d", sectionURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", sectionURL, err)
	}

	if max := maxFromPaginationLinks(doc, pageParam); max > 0 {
		d.logger.Info("pagination detected from links", zap.String("url", sectionURL), zap.Int("max_pages", max))
		return max, nil
	}
	if max := maxFromLastLink(doc, pageParam); max > 0 {
		d.logger.Info("pagination detected from last link", zap.String("url", sectionURL), zap.Int("max_pages", max))
		return max, nil
	}
	if max := maxFromText(doc); max > 0 {
		d.logger.Info("pagination detected from text", zap.String("url", sectionURL), zap.Int("max_pages", max))
		return max, nil
	}

	return 0, fmt.Errorf("no pagination detected at %s", sectionURL)
}

// GeneratePageURLs builds one URL per page from startPage to maxPages by
// setting the page parameter on the section URL.
func GeneratePageURLs(sectionURL string, maxPages int, pageParam string, startPage int) ([]string, error) {
	if pageParam == "" {
		pageParam = DefaultPageParam
	}
	if startPage < 0 {
		startPage = 1
	}
	parsed, err := url.Parse(sectionURL)
	if err != nil {
		return nil, fmt.Errorf("parse section url: %w", err)
	}

	urls := make([]string, 0, maxPages-startPage+1)
	query := parsed.Query()
	for page := startPage; page <= maxPages; page++ {
		query.Set(pageParam, strconv.Itoa(page))
		parsed.RawQuery = query.Encode()
		urls = append(urls, parsed.String())
	}
	return urls, nil
}

// Rows converts generated URLs into seed rows for one organization section.
func Rows(urls []string, urlType string, depthLimit int) []crawler.Seed {
	rows := make([]crawler.Seed, 0, len(urls))
	for _, u := range urls {
		rows = append(rows, crawler.Seed{URL: u, URLType: urlType, DepthLimit: depthLimit})
	}
	return rows
}

func maxFromPaginationLinks(doc *goquery.Document, pageParam string) int {
	max := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if n := pageNumberFromHref(href, pageParam); n > max {
			max = n
		}
		text := strings.TrimSpace(sel.Text())
		if n, err := strconv.Atoi(text); err == nil && n > max {
			max = n
		}
	})
	return max
}

// lastIndicators are link texts that conventionally point at the final page,
// in English and Czech.
var lastIndicators = []string{"last", "poslední", ">>", "»", "→"}

func maxFromLastLink(doc *goquery.Document, pageParam string) int {
	max := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		for _, indicator := range lastIndicators {
			if !strings.Contains(text, indicator) {
				continue
			}
			href, _ := sel.Attr("href")
			if n := pageNumberFromHref(href, pageParam); n > max {
				max = n
			}
			break
		}
	})
	return max
}

// pageCountPatterns match phrases like "Page 1 of 47", "Strana 1 z 47",
// "3 / 47 pages" and "47 stran".
var pageCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:page|strana|stránka)\s+\d+\s+(?:of|z|ze)\s+(\d+)`),
	regexp.MustCompile(`(?i)\d+\s*/\s*(\d+)\s*(?:pages|stran)`),
	regexp.MustCompile(`(?i)(\d+)\s+(?:pages|stran)`),
}

func maxFromText(doc *goquery.Document) int {
	text := doc.Text()
	for _, pattern := range pageCountPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func pageNumberFromHref(href, pageParam string) int {
	parsed, err := url.Parse(href)
	if err != nil {
		return 0
	}
	raw := parsed.Query().Get(pageParam)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
