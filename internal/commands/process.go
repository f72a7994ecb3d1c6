package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/extract"
	"github.com/dvloznov/docledger/internal/ledger"
	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/pipeline"
	"github.com/dvloznov/docledger/internal/storage"
)

type processOptions struct {
	input          string
	user           string
	accountsCSV    string
	skipValidation bool
	save           bool
}

// processor runs one document through the pipeline.
type processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// processDeps are the collaborators of runProcess.
type processDeps struct {
	Processor processor
	Store     storage.ObjectStore
	Accounts  ledger.AccountSource
	Journal   ledger.JournalWriter
	FetchURI  func(ctx context.Context, uri string) ([]byte, error)
}

func newProcessCommand(g *globalOptions) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process [file | gs://bucket/object]",
		Short: "Extract, categorize and validate one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.input = args[0]
			}
			if opts.input == "" {
				return fmt.Errorf("a file path or gs:// URI is required")
			}

			ctx, a, err := g.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			deps := processDeps{
				Processor: a.Orchestrator,
				Store:     a.Store,
				Accounts:  a.Ledger,
				Journal:   a.Ledger,
				FetchURI:  fetchGCS,
			}
			return runProcess(ctx, deps, *opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.input, "file", "", "local file or gs:// URI (alternative to the argument)")
	cmd.Flags().StringVar(&opts.user, "user", "", "store a local file under documents/{user}/ before processing")
	cmd.Flags().StringVar(&opts.accountsCSV, "accounts-csv", "", "chart of accounts CSV (code,name,type) instead of the ledger's accounts")
	cmd.Flags().BoolVar(&opts.skipValidation, "skip-validation", false, "skip the compliance validation pass")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the journal drafts to the ledger")

	return cmd
}

func runProcess(ctx context.Context, deps processDeps, opts processOptions, out io.Writer) error {
	log := logger.FromContext(ctx)

	data, ref, filename, err := loadInput(ctx, deps, opts)
	if err != nil {
		return err
	}

	accounts, err := resolveAccounts(ctx, deps.Accounts, opts.accountsCSV)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		log.Warn().Msg("no chart of accounts; the model will be asked for an empty result")
	}

	res, err := deps.Processor.Process(ctx, pipeline.Request{
		StorageReference: ref,
		Document:         data,
		Filename:         filename,
		Accounts:         accounts,
		SkipValidation:   opts.skipValidation,
	})
	if err != nil {
		return fmt.Errorf("processing %s: %w", ref, err)
	}

	output := struct {
		*pipeline.Result
		EntryIDs []string `json:"entry_ids,omitempty"`
	}{Result: res}

	if opts.save {
		ids, err := deps.Journal.SaveDrafts(ctx, ref, res.Drafts)
		if err != nil {
			return fmt.Errorf("saving drafts: %w", err)
		}
		output.EntryIDs = ids
		log.Info().Int("entries", len(ids)).Str("storage_reference", ref).Msg("journal drafts saved")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// loadInput returns the document bytes, its storage reference and filename.
func loadInput(ctx context.Context, deps processDeps, opts processOptions) ([]byte, string, string, error) {
	if strings.HasPrefix(opts.input, "gs://") {
		data, err := deps.FetchURI(ctx, opts.input)
		if err != nil {
			return nil, "", "", fmt.Errorf("fetching %s: %w", opts.input, err)
		}
		return data, opts.input, storage.Filename(opts.input), nil
	}

	filename := filepath.Base(opts.input)
	if _, err := extract.DetectKind(filename); err != nil {
		return nil, "", "", err
	}
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return nil, "", "", fmt.Errorf("reading %s: %w", opts.input, err)
	}

	if opts.user == "" {
		abs, err := filepath.Abs(opts.input)
		if err != nil {
			return nil, "", "", fmt.Errorf("resolving %s: %w", opts.input, err)
		}
		return data, "file://" + filepath.ToSlash(abs), filename, nil
	}

	key, err := storage.DocumentKey(opts.user, filename)
	if err != nil {
		return nil, "", "", err
	}
	kind, _ := extract.DetectKind(filename)
	ref, err := deps.Store.Put(ctx, key, bytes.NewReader(data), kind.MIMEType())
	if err != nil {
		return nil, "", "", fmt.Errorf("storing %s: %w", key, err)
	}
	return data, ref, filename, nil
}

func resolveAccounts(ctx context.Context, source ledger.AccountSource, csvPath string) ([]domain.AccountReference, error) {
	if csvPath == "" {
		accounts, err := source.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		return accounts, nil
	}
	return readAccountsCSV(csvPath)
}

func readAccountsCSV(path string) ([]domain.AccountReference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening accounts CSV: %w", err)
	}
	defer f.Close()

	accounts, err := ledger.ParseAccountsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return accounts, nil
}

func fetchGCS(ctx context.Context, uri string) ([]byte, error) {
	bucket, _, err := storage.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	gcs, err := storage.NewGCSStore(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer gcs.Close()
	return gcs.FetchURI(ctx, uri)
}
