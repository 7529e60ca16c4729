package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vkadlec/orgscraper/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage crawl sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsResumableCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		orgName string
		status  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := a.Sessions.List(cmd.Context(), session.ListFilter{
				Organization: orgName,
				Status:       session.Status(status),
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, s := range sessions {
				printSessionLine(s)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgName, "org", "", "filter by organization")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (in_progress, completed, failed, interrupted)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to list (default 50)")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.Sessions.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	var deleteFiles bool

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its checkpoints, optionally with its output files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Sessions.Delete(cmd.Context(), args[0], deleteFiles); err != nil {
				return err
			}
			if deleteFiles {
				fmt.Printf("Session %s and its output files deleted.\n", args[0])
				return nil
			}
			fmt.Printf("Session %s deleted.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "also remove the session's output directory")
	return cmd
}

func newSessionsResumableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resumable",
		Short: "List sessions that can be resumed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := a.Sessions.Resumable(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No resumable sessions.")
				return nil
			}
			for _, s := range sessions {
				printSessionLine(s)
			}
			return nil
		},
	}
}

func printSessionLine(s session.Session) {
	org := s.Organization
	if org == "" {
		org = "all organizations"
	}
	fmt.Printf("%s  %-12s %-30s pages=%d errors=%d\n",
		s.StartTime.Format("2006-01-02 15:04:05"),
		s.Status, org, s.PagesScraped, s.Errors,
	)
	fmt.Printf("    id=%s\n", s.ID)
}
