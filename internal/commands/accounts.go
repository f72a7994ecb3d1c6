package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/app"
	"github.com/dvloznov/docledger/internal/ledger"
)

// withLedger runs fn against the configured ledger backend.
func (o *globalOptions) withLedger(ctx context.Context, fn func(ctx context.Context, backend app.LedgerBackend) error) error {
	cfg, _, err := o.load()
	if err != nil {
		return err
	}
	backend, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(ctx, backend)
}

func newAccountsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the chart of accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the active chart of accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLedger(cmd.Context(), func(ctx context.Context, backend app.LedgerBackend) error {
				return runAccountsList(ctx, backend, cmd.OutOrStdout())
			})
		},
	}

	var csvPath string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Add or update accounts from a code,name,type CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withLedger(cmd.Context(), func(ctx context.Context, backend app.LedgerBackend) error {
				return runAccountsImport(ctx, backend, csvPath, cmd.OutOrStdout())
			})
		},
	}
	imp.Flags().StringVar(&csvPath, "csv", "", "path to the accounts CSV (required)")
	_ = imp.MarkFlagRequired("csv")

	cmd.AddCommand(list, imp)
	return cmd
}

func runAccountsList(ctx context.Context, source ledger.AccountSource, out io.Writer) error {
	accounts, err := source.ListAccounts(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tTYPE")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Code, a.Name, a.Type)
	}
	return tw.Flush()
}

func runAccountsImport(ctx context.Context, importer ledger.AccountImporter, csvPath string, out io.Writer) error {
	accounts, err := readAccountsCSV(csvPath)
	if err != nil {
		return err
	}
	if err := importer.UpsertAccounts(ctx, accounts); err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %d accounts.\n", len(accounts))
	return nil
}
