package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkadlec/orgscraper/internal/app"
	"github.com/vkadlec/orgscraper/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var (
		orgName      string
		sessionID    string
		resume       bool
		maxHTMLPages int
		maxDocuments int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one organization or all configured organizations",
		Long: `Crawls the organizations listed in the configured organizations CSV,
seeded from the URL seeds CSV. With --org only that organization runs;
without it all organizations run in dispatcher batches. --resume reopens
an interrupted or failed session by id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts := app.CrawlOptions{
				Resume:    resume,
				SessionID: sessionID,
				Budget: crawler.Budget{
					MaxHTMLPages: maxHTMLPages,
					MaxDocuments: maxDocuments,
				},
			}

			if orgName == "" {
				if resume || sessionID != "" {
					return fmt.Errorf("--resume and --session-id require --org")
				}
				results, err := a.CrawlAll(cmd.Context(), opts)
				if err != nil {
					return err
				}
				failed := 0
				for _, res := range results {
					status := "ok"
					if res.Err != nil {
						status = res.Err.Error()
						failed++
					}
					fmt.Printf("%-30s session=%s pages=%d docs=%d errors=%d [%s]\n",
						res.Organization, res.SessionID,
						res.Outcome.Stats.PagesScraped,
						res.Outcome.Stats.DocumentsSaved,
						res.Outcome.Stats.Errors,
						status,
					)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d organizations failed", failed, len(results))
				}
				return nil
			}

			orgs, seedsByOrg, err := a.LoadInputs()
			if err != nil {
				return err
			}
			for _, org := range orgs {
				if org.Name != orgName {
					continue
				}
				id, outcome, err := a.CrawlOrganization(cmd.Context(), org, seedsByOrg[org.Name], opts)
				if err != nil {
					return err
				}
				summary, err := a.Sessions.Summary(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Println(summary)
				if outcome.Interrupted {
					fmt.Println("Run interrupted; resume with --resume --session-id", id)
				}
				return nil
			}
			return fmt.Errorf("organization %q not found in %s", orgName, a.Config.Inputs.OrganizationsFile)
		},
	}

	cmd.Flags().StringVar(&orgName, "org", "", "organization name to crawl (all organizations when omitted)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "existing session id to run under")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume an interrupted or failed session (requires --session-id)")
	cmd.Flags().IntVar(&maxHTMLPages, "max-html-pages", 0, "stop after saving this many HTML pages (0 = policy limit)")
	cmd.Flags().IntVar(&maxDocuments, "max-documents", 0, "stop after saving this many documents (0 = policy limit)")

	return cmd
}
