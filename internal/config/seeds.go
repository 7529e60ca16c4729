package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// Organization is one row of the organizations CSV.
type Organization struct {
	Name     string
	BaseURL  string
	MaxDepth int
	MaxPages int
}

// LoadOrganizations reads the organizations CSV
// (name,base_url,max_depth,max_pages). A header row is detected and skipped.
// max_depth and max_pages may be empty, meaning the configured defaults.
func LoadOrganizations(path string) ([]Organization, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open organizations file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	var orgs []Organization
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read organizations file: %w", err)
		}
		line++
		if line == 1 && isHeaderRow(record) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("organizations file line %d: expected at least name,base_url", line)
		}
		org := Organization{
			Name:    strings.TrimSpace(record[0]),
			BaseURL: strings.TrimSpace(record[1]),
		}
		if org.Name == "" || org.BaseURL == "" {
			return nil, fmt.Errorf("organizations file line %d: name and base_url are required", line)
		}
		if org.MaxDepth, err = optionalInt(record, 2); err != nil {
			return nil, fmt.Errorf("organizations file line %d: max_depth: %w", line, err)
		}
		if org.MaxPages, err = optionalInt(record, 3); err != nil {
			return nil, fmt.Errorf("organizations file line %d: max_pages: %w", line, err)
		}
		orgs = append(orgs, org)
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("organizations file %s has no rows", path)
	}
	return orgs, nil
}

// LoadSeeds reads the URL seeds CSV (organization,url,url_type,depth_limit)
// and groups rows by organization name.
func LoadSeeds(path string) (map[string][]crawler.Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	seeds := make(map[string][]crawler.Seed)
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read seeds file: %w", err)
		}
		line++
		if line == 1 && isHeaderRow(record) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("seeds file line %d: expected at least organization,url", line)
		}
		org := strings.TrimSpace(record[0])
		seed := crawler.Seed{URL: strings.TrimSpace(record[1])}
		if org == "" || seed.URL == "" {
			return nil, fmt.Errorf("seeds file line %d: organization and url are required", line)
		}
		if len(record) > 2 {
			seed.URLType = strings.TrimSpace(record[2])
		}
		if seed.DepthLimit, err = optionalInt(record, 3); err != nil {
			return nil, fmt.Errorf("seeds file line %d: depth_limit: %w", line, err)
		}
		seeds[org] = append(seeds[org], seed)
	}
	return seeds, nil
}

// isHeaderRow treats a first row whose second column is not a URL-ish value
// as a header. Both input CSVs carry a URL in column two.
func isHeaderRow(record []string) bool {
	if len(record) < 2 {
		return false
	}
	return !strings.Contains(record[1], "://")
}

func optionalInt(record []string, idx int) (int, error) {
	if idx >= len(record) {
		return 0, nil
	}
	s := strings.TrimSpace(record[idx])
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d must be >= 0", n)
	}
	return n, nil
}
