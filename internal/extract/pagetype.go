package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page type labels recorded alongside saved pages.
const (
	PageTypePublications = "publications"
	PageTypePressRelease = "press_release"
	PageTypeNews         = "news"
	PageTypeEvents       = "events"
	PageTypeAbout        = "about"
	PageTypeContact      = "contact"
	PageTypeCampaign     = "campaign"
	PageTypeProjects     = "projects"
	PageTypeGeneral      = "general"
)

var urlTypePatterns = []struct {
	pageType string
	patterns []string
}{
	{PageTypePublications, []string{"/publikace", "/publications", "/vyrocni-zpravy"}},
	{PageTypePressRelease, []string{"/tiskove-zpravy", "/press-release", "/press"}},
	{PageTypeNews, []string{"/aktuality", "/news", "/clanky", "/articles"}},
	{PageTypeEvents, []string{"/akce", "/events", "/udalosti"}},
	{PageTypeAbout, []string{"/o-nas", "/about", "/team", "/lide", "/people"}},
	{PageTypeContact, []string{"/kontakt", "/contact"}},
	{PageTypeCampaign, []string{"/kampane", "/campaigns"}},
	{PageTypeProjects, []string{"/projekty", "/projects"}},
}

var titleTypeKeywords = []struct {
	pageType string
	words    []string
}{
	{PageTypePublications, []string{"publikace", "publication", "report", "zpráva"}},
	{PageTypePressRelease, []string{"tisková zpráva", "press release"}},
	{PageTypeNews, []string{"aktuality", "news", "article"}},
}

// PageType classifies a page from its URL path, falling back to keywords in
// the page title. Both Czech and English path segments are recognized.
func PageType(body []byte, pageURL string) string {
	lowerURL := strings.ToLower(pageURL)
	for _, entry := range urlTypePatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(lowerURL, pattern) {
				return entry.pageType
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageTypeGeneral
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	for _, entry := range titleTypeKeywords {
		for _, word := range entry.words {
			if strings.Contains(title, word) {
				return entry.pageType
			}
		}
	}
	return PageTypeGeneral
}
