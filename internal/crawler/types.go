// Package crawler implements the crawl orchestration engine: the URL
// frontier, the robots.txt policy cache, and the fetch-process loop that
// drives one organization's crawl under its configured limits.
package crawler

import (
	"net/http"
	"time"
)

// LinkType classifies a discovered link relative to the crawl's base domain.
type LinkType string

// Link classifications produced by the extractor.
const (
	LinkInternal LinkType = "internal"
	LinkExternal LinkType = "external"
)

// Link is a hyperlink discovered on a fetched page.
type Link struct {
	URL   string   `json:"url"`
	Text  string   `json:"text"`
	Title string   `json:"title,omitempty"`
	Type  LinkType `json:"type"`
}

// DocumentLink is a link to a downloadable document (PDF, DOC, ...).
type DocumentLink struct {
	URL        string `json:"url"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	SourcePage string `json:"source_page"`
}

// PageMetadata holds metadata extracted from an HTML page.
type PageMetadata struct {
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Author        string `json:"author,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
	ModifiedDate  string `json:"modified_date,omitempty"`
	Language      string `json:"language,omitempty"`
	OGType        string `json:"og_type,omitempty"`
	OGTitle       string `json:"og_title,omitempty"`
	OGDescription string `json:"og_description,omitempty"`
}

// FetchRequest captures everything needed to fetch a single URL.
type FetchRequest struct {
	URL       string
	Depth     int
	ParentURL string
	Headers   http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// Seed is one starting point for a crawl, loaded from the seed file.
type Seed struct {
	URL        string
	URLType    string
	DepthLimit int
}

// Stats accumulates counters for one engine run. Callers pass running
// totals to the session manager, never deltas.
type Stats struct {
	PagesScraped   int
	PagesSkipped   int
	DocumentsSaved int
	LinksFound     int
	Errors         int
}

// Outcome describes how an engine run ended.
type Outcome struct {
	Stats       Stats
	Interrupted bool
	Err         error
}
