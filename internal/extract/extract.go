// Package extract parses fetched HTML into the structures the crawl engine
// works with: hyperlinks, document links, and page metadata.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// Extractor pulls links and metadata out of HTML pages for one crawl scope.
type Extractor struct {
	scope  crawler.Scope
	logger *zap.Logger
}

// New builds an Extractor classifying links against scope.
func New(scope crawler.Scope, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{scope: scope, logger: logger}
}

var skipHrefPrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// ExtractLinks returns every anchor on the page as an absolute URL with its
// anchor text, deduplicated within the page. Fragment-only, javascript:,
// mailto: and tel: hrefs are dropped.
func (e *Extractor) ExtractLinks(body []byte, sourceURL string) []crawler.Link {
	doc, base, err := e.parse(body, sourceURL)
	if err != nil {
		e.logger.Warn("parse page failed", zap.String("url", sourceURL), zap.Error(err))
		return nil
	}

	var links []crawler.Link
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || hasSkipPrefix(href) {
			return
		}
		absolute, ok := resolve(base, href)
		if !ok {
			return
		}
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}

		linkType := crawler.LinkExternal
		if e.scope.IsInternal(absolute) {
			linkType = crawler.LinkInternal
		}
		links = append(links, crawler.Link{
			URL:   absolute,
			Text:  strings.TrimSpace(sel.Text()),
			Title: strings.TrimSpace(sel.AttrOr("title", "")),
			Type:  linkType,
		})
	})

	e.logger.Debug("extracted links",
		zap.String("url", sourceURL),
		zap.Int("count", len(links)),
	)
	return links
}

// ExtractDocumentLinks returns anchors pointing at downloadable documents,
// matched by URL extension against the configured allowlist.
func (e *Extractor) ExtractDocumentLinks(body []byte, sourceURL string, extensions []string) []crawler.DocumentLink {
	if len(extensions) == 0 {
		extensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}
	}

	doc, base, err := e.parse(body, sourceURL)
	if err != nil {
		return nil
	}

	var documents []crawler.DocumentLink
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || hasSkipPrefix(href) {
			return
		}
		absolute, ok := resolve(base, href)
		if !ok {
			return
		}
		ext := documentExtension(absolute, extensions)
		if ext == "" {
			return
		}
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}

		documents = append(documents, crawler.DocumentLink{
			URL:        absolute,
			Text:       strings.TrimSpace(sel.Text()),
			Type:       ext,
			SourcePage: sourceURL,
		})
	})

	if len(documents) > 0 {
		e.logger.Debug("found document links",
			zap.String("url", sourceURL),
			zap.Int("count", len(documents)),
		)
	}
	return documents
}

// ExtractMetadata reads the page title, standard meta tags, Open Graph tags,
// and the document language. Publication dates found in meta tags or in
// common date-bearing elements are normalized to ISO form.
func (e *Extractor) ExtractMetadata(body []byte, pageURL string) crawler.PageMetadata {
	meta := crawler.PageMetadata{URL: pageURL}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("parse page failed", zap.String("url", pageURL), zap.Error(err))
		return meta
	}

	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content := strings.TrimSpace(sel.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch strings.ToLower(sel.AttrOr("name", "")) {
		case "description":
			meta.Description = content
		case "keywords":
			meta.Keywords = content
		case "author":
			meta.Author = content
		case "date", "pubdate", "publishdate", "publication_date":
			meta.PublishedDate = parseDate(content)
		case "last-modified", "modified", "updated":
			meta.ModifiedDate = parseDate(content)
		case "language":
			meta.Language = content
		}
		switch strings.ToLower(sel.AttrOr("property", "")) {
		case "og:type":
			meta.OGType = content
		case "og:title":
			meta.OGTitle = content
		case "og:description":
			meta.OGDescription = content
		}
	})

	if meta.PublishedDate == "" {
		meta.PublishedDate = dateFromContent(doc)
	}
	if meta.Language == "" {
		meta.Language = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
	}
	return meta
}

// ExtractText returns the page's visible text with scripts, styles, and
// chrome elements removed and whitespace collapsed.
func (e *Extractor) ExtractText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()
	return collapseSpace(doc.Text())
}

func (e *Extractor) parse(body []byte, sourceURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse source url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, base, nil
}

func hasSkipPrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skipHrefPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func documentExtension(rawURL string, extensions []string) string {
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return strings.ToLower(ext)
		}
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2.1.2006",
	"2/1/2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseDate normalizes a date string to ISO form, or returns "" when no
// known layout matches.
func parseDate(value string) string {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

var (
	// Czech sites commonly render dates as "5. 4. 2023".
	czechDatePattern = regexp.MustCompile(`\b(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{4})\b`)
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
)

// dateFromContent scans time elements and date-classed containers for a
// publication date when the meta tags carry none.
func dateFromContent(doc *goquery.Document) string {
	found := ""
	doc.Find(`time, [class*="date"], [class*="time"], [class*="publish"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if dt := strings.TrimSpace(sel.AttrOr("datetime", "")); dt != "" {
			if date := parseDate(dt); date != "" {
				found = date
				return false
			}
		}
		text := strings.TrimSpace(sel.Text())
		if m := czechDatePattern.FindStringSubmatch(text); m != nil {
			if date := buildDate(m[3], m[2], m[1]); date != "" {
				found = date
				return false
			}
		}
		if m := isoDatePattern.FindStringSubmatch(text); m != nil {
			if date := buildDate(m[1], m[2], m[3]); date != "" {
				found = date
				return false
			}
		}
		return true
	})
	return found
}

func buildDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return ""
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return ""
	}
	return t.Format("2006-01-02")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
