package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/api"
)

func newServeCommand(g *globalOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, a, err := g.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if port == "" {
				port = a.Config.Server.Port
			}
			if a.Config.Storage.Bucket == "" {
				a.Log.Warn().Msg("No GCS bucket configured - uploads are kept in memory only")
			}

			return api.Serve(ctx, ":"+port, api.NewHandler(a.Handlers(), a.Log), a.Log)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP port (defaults to config)")

	return cmd
}
