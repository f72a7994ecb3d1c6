// Package commands implements the docledger CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/app"
	"github.com/dvloznov/docledger/internal/config"
	"github.com/dvloznov/docledger/internal/logger"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "docledger",
		Short: "Turn financial documents into double-entry journal drafts",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to docledger.yaml (defaults plus environment when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newProcessCommand(opts),
		newUploadCommand(opts),
		newListCommand(opts),
		newChatCommand(opts),
		newAccountsCommand(opts),
		newMigrateCommand(opts),
		newServeCommand(opts),
	)

	return rootCmd
}

// load reads the configuration and builds the logger it describes.
func (o *globalOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	log, err := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// openApp builds the full application, model included.
func (o *globalOptions) openApp(ctx context.Context) (context.Context, *app.App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return ctx, nil, err
	}
	ctx = logger.WithContext(ctx, log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, a, nil
}
