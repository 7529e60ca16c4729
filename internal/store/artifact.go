// Package store persists crawl artifacts for one organization's run: raw
// HTML pages, downloaded documents, the link graph, and a run manifest. All
// bytes go through a blob.BlobStore so runs can target disk, GCS, or memory.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/blob"
	"github.com/vkadlec/orgscraper/internal/crawler"
	"github.com/vkadlec/orgscraper/internal/extract"
	"github.com/vkadlec/orgscraper/internal/hash/sha256"
)

// Config controls one ArtifactStore instance.
type Config struct {
	Organization     string
	SessionID        string
	MinContentLength int
}

// PageRecord describes one saved HTML page in the run manifest.
type PageRecord struct {
	URL         string `json:"url"`
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash"`
	Size        int    `json:"size"`
	Encoding    string `json:"encoding"`
	PageType    string `json:"page_type"`
	SavedAt     string `json:"saved_at"`
}

// DocumentRecord describes one saved document in the run manifest.
type DocumentRecord struct {
	URL         string `json:"url"`
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
	SavedAt     string `json:"saved_at"`
}

// LinkRecord groups the links found on one source page.
type LinkRecord struct {
	SourceURL     string         `json:"source_url"`
	PublishedDate string         `json:"published_date,omitempty"`
	Links         []crawler.Link `json:"links"`
}

// ArtifactStore implements crawler.ArtifactStore. Pages land under
// pages/html/, documents under documents/; Finalize writes links.json and
// the metadata.json manifest. Content is deduplicated by SHA-256.
type ArtifactStore struct {
	blobs  blob.BlobStore
	hasher *sha256.Hasher
	logger *zap.Logger
	cfg    Config

	mu         sync.Mutex
	seenHashes map[string]string
	pages      []PageRecord
	documents  []DocumentRecord
	links      []LinkRecord
	stats      crawler.StoreStats
	startedAt  time.Time
}

// New builds an ArtifactStore writing through blobs.
func New(blobs blob.BlobStore, cfg Config, logger *zap.Logger) (*ArtifactStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Organization == "" {
		return nil, fmt.Errorf("organization is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		blobs:      blobs,
		hasher:     sha256.New(),
		logger:     logger,
		cfg:        cfg,
		seenHashes: make(map[string]string),
		startedAt:  time.Now().UTC(),
	}, nil
}

// SavePage stores an HTML page. It returns false without error when the body
// is below the minimum content length or, with checkDuplicates set, when the
// same content hash was already saved under another URL.
func (s *ArtifactStore) SavePage(ctx context.Context, pageURL string, body []byte, encoding string, checkDuplicates bool) (bool, error) {
	if s.cfg.MinContentLength > 0 && len(body) < s.cfg.MinContentLength {
		s.logger.Debug("page below minimum content length",
			zap.String("url", pageURL),
			zap.Int("size", len(body)),
		)
		return false, nil
	}

	digest, err := s.hasher.Hash(body)
	if err != nil {
		return false, fmt.Errorf("hash page: %w", err)
	}

	s.mu.Lock()
	if checkDuplicates {
		if original, dup := s.seenHashes[digest]; dup {
			s.stats.DuplicateContent++
			s.mu.Unlock()
			s.logger.Debug("duplicate content",
				zap.String("url", pageURL),
				zap.String("original", original),
			)
			return false, nil
		}
	}
	s.seenHashes[digest] = pageURL
	s.mu.Unlock()

	objectPath := fmt.Sprintf("pages/html/%s_%s.html", slugify(pageURL), sha256.Short(digest))
	uri, err := s.blobs.PutObject(ctx, objectPath, "text/html; charset="+encoding, strings.NewReader(string(body)))
	if err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		return false, fmt.Errorf("store page: %w", err)
	}

	record := PageRecord{
		URL:         pageURL,
		URI:         uri,
		ContentHash: digest,
		Size:        len(body),
		Encoding:    encoding,
		PageType:    extract.PageType(body, pageURL),
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.pages = append(s.pages, record)
	s.stats.PagesSaved++
	s.mu.Unlock()
	return true, nil
}

// SaveDocument stores a downloaded document and returns its URI. Documents
// are always deduplicated by content hash; a duplicate returns "" and no
// error.
func (s *ArtifactStore) SaveDocument(ctx context.Context, docURL string, body []byte, contentType string) (string, error) {
	digest, err := s.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}

	s.mu.Lock()
	if original, dup := s.seenHashes[digest]; dup {
		s.stats.DuplicateContent++
		s.mu.Unlock()
		s.logger.Debug("duplicate document",
			zap.String("url", docURL),
			zap.String("original", original),
		)
		return "", nil
	}
	s.seenHashes[digest] = docURL
	s.mu.Unlock()

	ext := documentExt(docURL)
	objectPath := fmt.Sprintf("documents/%s_%s%s", slugify(docURL), sha256.Short(digest), ext)
	uri, err := s.blobs.PutObject(ctx, objectPath, contentType, strings.NewReader(string(body)))
	if err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		return "", fmt.Errorf("store document: %w", err)
	}

	record := DocumentRecord{
		URL:         docURL,
		URI:         uri,
		ContentHash: digest,
		Size:        len(body),
		ContentType: contentType,
		SavedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	s.documents = append(s.documents, record)
	s.stats.DocumentsSaved++
	s.mu.Unlock()
	return uri, nil
}

// AddLinks records the links discovered on sourceURL for the link graph.
func (s *ArtifactStore) AddLinks(sourceURL string, links []crawler.Link, publishedDate string) {
	if len(links) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, LinkRecord{
		SourceURL:     sourceURL,
		PublishedDate: publishedDate,
		Links:         links,
	})
	s.stats.LinksExtracted += len(links)
}

// Manifest is the metadata.json document written at the end of a run.
type Manifest struct {
	Organization string             `json:"organization"`
	SessionID    string             `json:"session_id,omitempty"`
	StartedAt    string             `json:"started_at"`
	FinishedAt   string             `json:"finished_at"`
	Stats        crawler.StoreStats `json:"stats"`
	Pages        []PageRecord       `json:"pages"`
	Documents    []DocumentRecord   `json:"documents"`
	Extra        map[string]any     `json:"extra,omitempty"`
}

// Finalize writes links.json and metadata.json. It must be called exactly
// once, at the end of the run.
func (s *ArtifactStore) Finalize(ctx context.Context, extra map[string]any) error {
	s.mu.Lock()
	manifest := Manifest{
		Organization: s.cfg.Organization,
		SessionID:    s.cfg.SessionID,
		StartedAt:    s.startedAt.Format(time.RFC3339),
		FinishedAt:   time.Now().UTC().Format(time.RFC3339),
		Stats:        s.stats,
		Pages:        s.pages,
		Documents:    s.documents,
		Extra:        extra,
	}
	links := s.links
	s.mu.Unlock()

	linkData, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, "links.json", "application/json", strings.NewReader(string(linkData))); err != nil {
		return fmt.Errorf("store links: %w", err)
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, "metadata.json", "application/json", strings.NewReader(string(manifestData))); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}

	s.logger.Info("run artifacts finalized",
		zap.String("organization", s.cfg.Organization),
		zap.Int("pages", len(manifest.Pages)),
		zap.Int("documents", len(manifest.Documents)),
	)
	return nil
}

// Stats returns a snapshot of the store's counters.
func (s *ArtifactStore) Stats() crawler.StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

const maxSlugLen = 80

// slugify turns a URL into a filesystem-safe name fragment.
func slugify(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "page"
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return slug
}

func documentExt(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		ext = ".bin"
	}
	return ext
}
