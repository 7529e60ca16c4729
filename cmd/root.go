// Package cmd defines the CLI commands for the orgscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vkadlec/orgscraper/internal/app"
	"github.com/vkadlec/orgscraper/internal/config"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newRootCmd creates and configures the root command. The application
// container is built in PersistentPreRunE so every subcommand finds it in
// the command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgscraper",
		Short: "Crawls organization websites into per-session artifact archives",
		Long: `orgscraper crawls configured organization websites within polite limits
(robots.txt, request pacing, depth and page budgets) and archives pages,
documents, and link graphs per crawl session. Sessions are tracked in a
database so interrupted runs can be inspected and resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				if err := a.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (defaults apply when omitted)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newSeedsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the binary entry point. SIGINT/SIGTERM cancel the command
// context so running crawls end as interrupted sessions, not lost ones.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
