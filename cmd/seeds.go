package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vkadlec/orgscraper/internal/seeds"
)

func newSeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Generate seed URLs for paginated sections",
	}
	cmd.AddCommand(newSeedsGenerateCmd())
	return cmd
}

func newSeedsGenerateCmd() *cobra.Command {
	var (
		orgName    string
		urlType    string
		maxPages   int
		pageParam  string
		startPage  int
		depthLimit int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "generate <section-url>",
		Short: "Expand a paginated section into explicit seed rows",
		Long: `Detects the highest page number of a paginated listing (numbered links,
a last-page link, or "Page 1 of N" text) and emits one seed URL per page.
Rows are appended to the configured seeds CSV unless --dry-run is set.
Use --max-pages to skip detection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sectionURL := args[0]

			if maxPages <= 0 {
				detector := seeds.NewDetector(a.Fetcher, a.Logger)
				maxPages, err = detector.DetectMaxPages(cmd.Context(), sectionURL, pageParam)
				if err != nil {
					return fmt.Errorf("detect pagination (use --max-pages to override): %w", err)
				}
			}

			urls, err := seeds.GeneratePageURLs(sectionURL, maxPages, pageParam, startPage)
			if err != nil {
				return err
			}
			fmt.Printf("Generated %d seed URLs for %s/%s\n", len(urls), orgName, urlType)
			for _, u := range urls {
				fmt.Println("  " + u)
			}

			if dryRun {
				fmt.Println("Dry run; seeds file not modified.")
				return nil
			}
			if err := appendSeedRows(a.Config.Inputs.SeedsFile, orgName, urlType, depthLimit, urls); err != nil {
				return err
			}
			fmt.Printf("Appended %d rows to %s\n", len(urls), a.Config.Inputs.SeedsFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgName, "org", "", "organization name the seeds belong to")
	cmd.Flags().StringVar(&urlType, "url-type", "publications", "seed url_type column value")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "highest page number (auto-detected when 0)")
	cmd.Flags().StringVar(&pageParam, "page-param", seeds.DefaultPageParam, "pagination query parameter")
	cmd.Flags().IntVar(&startPage, "start-page", 1, "first page number")
	cmd.Flags().IntVar(&depthLimit, "depth-limit", 5, "depth_limit column value for generated rows")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print URLs without touching the seeds file")
	cobra.CheckErr(cmd.MarkFlagRequired("org"))

	return cmd
}

func appendSeedRows(path, orgName, urlType string, depthLimit int, urls []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, u := range urls {
		if err := w.Write([]string{orgName, u, urlType, strconv.Itoa(depthLimit)}); err != nil {
			return fmt.Errorf("write seed row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush seeds file: %w", err)
	}
	return nil
}
