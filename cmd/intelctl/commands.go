package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/sourceauth"
	"github.com/pharmaintel/hub/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	var skipRiver bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		applied, err := database.NewMigrator(e.db).Up(cmd.Context())
		if err != nil {
			return err
		}

		if !skipRiver {
			if err := database.MigrateRiver(cmd.Context(), e.db); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)

		return nil
	})

	cmd.Flags().BoolVar(&skipRiver, "skip-river", false, "do not migrate the River job tables")

	return cmd
}

func newGenKeyCmd() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a random API key for the API_KEY setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := generateAPIKey(length)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Example:")
			fmt.Fprintf(out, "curl -H \"Authorization: Bearer %s\" http://localhost:8000/v1/webhook-endpoints\n", key)

			return nil
		},
	}

	cmd.Flags().IntVar(&length, "length", defaultKeyLength, "number of characters")

	return cmd
}

func newAuthenticateCmd() *cobra.Command {
	var (
		ref       models.SourceReference
		published string
		processID string
		whitelist []string
		blacklist []string
	)

	cmd := &cobra.Command{
		Use:   "authenticate <url>",
		Short: "Score a source reference without storing the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref.URL = args[0]

			if published != "" {
				t, err := time.Parse(time.DateOnly, published)
				if err != nil {
					return fmt.Errorf("invalid --published %q: expected YYYY-MM-DD", published)
				}

				ref.PublishedDate = &t
			}

			auth := sourceauth.New(sourceauth.WithWhitelist(whitelist...), sourceauth.WithBlacklist(blacklist...))

			result, err := auth.Authenticate(ref, processID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ref.Title, "title", "", "source title")
	flags.StringVar(&ref.Journal, "journal", "", "journal name")
	flags.StringVar(&ref.DOI, "doi", "", "digital object identifier")
	flags.StringVar(&ref.AuthorCredentials, "credentials", "", "author credentials")
	flags.StringSliceVar(&ref.Authors, "author", nil, "author name (repeatable)")
	flags.StringVar(&published, "published", "", "publication date (YYYY-MM-DD)")
	flags.StringVar(&processID, "process-id", "", "process id recorded on the result")
	flags.StringSliceVar(&whitelist, "whitelist", nil, "trusted domains")
	flags.StringSliceVar(&blacklist, "blacklist", nil, "blocked domains")

	return cmd
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep-dead-letters",
		Short: "Run one dead-letter redelivery sweep",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		svc, err := e.deliveryService()
		if err != nil {
			return err
		}

		result, err := svc.SweepDeadLetters(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "examined=%d delivered=%d failed=%d skipped=%d\n",
			result.Examined, result.Delivered, result.Failed, result.Skipped)

		return nil
	})

	return cmd
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue webhook deliveries left pending or retrying",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = withEnv(func(cmd *cobra.Command, _ []string, e *env) error {
		svc, err := e.deliveryService()
		if err != nil {
			return err
		}

		n, err := svc.ReconcilePending(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "re-enqueued %d deliveries\n", n)

		return nil
	})

	return cmd
}
