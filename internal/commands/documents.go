package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dvloznov/docledger/internal/app"
	"github.com/dvloznov/docledger/internal/extract"
	"github.com/dvloznov/docledger/internal/storage"
)

// withStore runs fn against the configured object store.
func (o *globalOptions) withStore(ctx context.Context, fn func(ctx context.Context, store storage.ObjectStore) error) error {
	cfg, log, err := o.load()
	if err != nil {
		return err
	}
	if cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket (or GCS_BUCKET) must be set")
	}

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	log.Debug().Str("bucket", cfg.Storage.Bucket).Msg("object store ready")
	return fn(ctx, store)
}

func newUploadCommand(g *globalOptions) *cobra.Command {
	var file, user string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Store a document under documents/{user}/",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd.Context(), func(ctx context.Context, store storage.ObjectStore) error {
				return runUpload(ctx, store, file, user, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to the local document (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&user, "user", "", "owner of the document (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runUpload(ctx context.Context, store storage.ObjectStore, file, user string, out io.Writer) error {
	kind, err := extract.DetectKind(file)
	if err != nil {
		return err
	}
	key, err := storage.DocumentKey(user, filepath.Base(file))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	ref, err := store.Put(ctx, key, bytes.NewReader(data), kind.MIMEType())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded %s to %s\n", file, ref)
	return nil
}

func newListCommand(g *globalOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(cmd.Context(), func(ctx context.Context, store storage.ObjectStore) error {
				return runList(ctx, store, user, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "owner of the documents (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runList(ctx context.Context, store storage.ObjectStore, user string, out io.Writer) error {
	keys, err := store.List(ctx, storage.UserPrefix(user))
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(out, store.Reference(k))
	}
	if len(keys) == 0 {
		fmt.Fprintf(out, "No documents for %s.\n", user)
	}
	return nil
}
