package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	infraBQ "github.com/dvloznov/docledger/internal/infra/bigquery"
	"github.com/dvloznov/docledger/internal/logger"
)

// schemaEnsurer creates missing tables and reports which it created.
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) ([]string, error)
}

func newMigrateCommand(g *globalOptions) *cobra.Command {
	var project, dataset string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the BigQuery dataset and tables if they are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if project == "" {
				project = cfg.BigQuery.Project
			}
			if dataset == "" {
				dataset = cfg.BigQuery.Dataset
			}
			if project == "" {
				return fmt.Errorf("--project (or GOOGLE_CLOUD_PROJECT) is required; the SQLite ledger creates its schema on open")
			}

			ctx := logger.WithContext(cmd.Context(), log)
			repo, err := infraBQ.NewRepository(ctx, project, dataset)
			if err != nil {
				return err
			}
			defer repo.Close()

			log.Info().Str("project", project).Str("dataset", dataset).Msg("Connected to BigQuery")
			return runMigrate(ctx, repo, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project ID (defaults to config)")
	cmd.Flags().StringVar(&dataset, "dataset", "", "BigQuery dataset ID (defaults to config)")

	return cmd
}

func runMigrate(ctx context.Context, s schemaEnsurer, out io.Writer) error {
	created, err := s.EnsureSchema(ctx)
	for _, name := range created {
		fmt.Fprintf(out, "Created table %s\n", name)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(created) == 0 {
		fmt.Fprintln(out, "No migrations needed. Schema is up to date.")
	}
	return nil
}
