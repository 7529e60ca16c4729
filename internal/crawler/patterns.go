package crawler

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// PriorityPatterns groups URL path patterns into priority tiers. Tier order
// is fixed: high is rank 0, medium rank 1, low rank 2. URLs matching no tier
// fall through to rank 3.
type PriorityPatterns struct {
	High   []string `mapstructure:"high"`
	Medium []string `mapstructure:"medium"`
	Low    []string `mapstructure:"low"`
}

// Tiers returns the pattern lists in rank order.
func (p PriorityPatterns) Tiers() [][]string {
	return [][]string{p.High, p.Medium, p.Low}
}

// FallbackRank is the priority assigned to URLs matching no tier.
func (p PriorityPatterns) FallbackRank() int {
	return len(p.Tiers())
}

// patternCache memoizes compiled regex patterns. Patterns are tried as plain
// substrings first; a pattern that does not occur verbatim is treated as a
// regular expression when it compiles.
var patternCache sync.Map

func matchPattern(url, pattern string) bool {
	if pattern == "" {
		return false
	}
	if strings.Contains(url, pattern) {
		return true
	}
	cached, ok := patternCache.Load(pattern)
	if !ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			re = nil
		}
		cached, _ = patternCache.LoadOrStore(pattern, re)
	}
	re, _ := cached.(*regexp.Regexp)
	if re == nil {
		return false
	}
	return re.MatchString(url)
}

// MatchesAny reports whether the URL matches any of the given patterns.
func MatchesAny(url string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(url, p) {
			return true
		}
	}
	return false
}

// ValidatePatterns rejects unusable patterns at configuration load so they
// fail fast instead of silently never matching. A pattern that does not
// compile as a regex still works as a substring match; only empty patterns
// are fatal.
func ValidatePatterns(patterns []string) error {
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("pattern %d is empty", i)
		}
	}
	return nil
}
