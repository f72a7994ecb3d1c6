// Package app builds the long-lived collaborators shared by the CLI and the
// API server from one Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/docledger/internal/api"
	"github.com/dvloznov/docledger/internal/api/handlers"
	"github.com/dvloznov/docledger/internal/config"
	"github.com/dvloznov/docledger/internal/convo"
	"github.com/dvloznov/docledger/internal/extract"
	infraBQ "github.com/dvloznov/docledger/internal/infra/bigquery"
	"github.com/dvloznov/docledger/internal/infra/sqlite"
	"github.com/dvloznov/docledger/internal/ledger"
	"github.com/dvloznov/docledger/internal/llm"
	"github.com/dvloznov/docledger/internal/pipeline"
	"github.com/dvloznov/docledger/internal/prompt"
	"github.com/dvloznov/docledger/internal/storage"
)

// LedgerBackend is everything the app needs from a ledger database.
type LedgerBackend interface {
	ledger.AccountSource
	ledger.JournalWriter
	ledger.AccountImporter
	pipeline.RunRecorder
	Close() error
}

// App holds the wired collaborators. Close releases them.
type App struct {
	Config       *config.Config
	Log          zerolog.Logger
	Store        storage.ObjectStore
	Ledger       LedgerBackend
	Conversation *convo.MemoryStore
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// Build wires storage, the ledger backend, the model and the pipeline.
// Background work such as the conversation janitor stops when ctx is done.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.onClose(closeStore)

	ledgerBackend, err := OpenLedger(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = ledgerBackend
	a.onClose(ledgerBackend.Close)

	invoker, err := newInvoker(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	ocr, err := extract.NewGeminiOCR(ctx, cfg.Model.OCRAPIKey(), cfg.Model.OCRName)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.Build: %w", err)
	}
	extractor := extract.NewExtractor(extract.PDFMarkdownConverter{}, extract.PDFImageSource{}, ocr)

	a.Conversation = convo.NewMemoryStore(cfg.Context.KeyTTL)
	go a.Conversation.RunJanitor(ctx, janitorInterval(cfg.Context.KeyTTL))

	a.Orchestrator = pipeline.NewOrchestrator(
		extractor,
		prompt.NewComposer(cfg.Prompts.Sampling()),
		invoker,
		pipeline.WithWindow(convo.NewWindow(a.Conversation, cfg.Context.TokenBudget)),
		pipeline.WithRecorder(ledgerBackend, invoker.Model),
	)

	log.Info().
		Str("provider", cfg.Model.Provider).
		Str("model", invoker.Model).
		Str("ledger", fmt.Sprintf("%T", ledgerBackend)).
		Msg("app ready")
	return a, nil
}

// Handlers returns the HTTP handlers over the app's collaborators.
func (a *App) Handlers() api.Handlers {
	return api.Handlers{
		Documents: handlers.NewDocumentsHandler(a.Store, a.Orchestrator, a.Ledger, a.Ledger, a.Log),
		Chat:      handlers.NewChatHandler(a.Orchestrator, a.Log),
		Accounts:  handlers.NewAccountsHandler(a.Ledger, a.Log),
	}
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases every opened client, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore returns the GCS store when a bucket is configured and an
// in-memory store otherwise.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func() error, error) {
	if cfg.Storage.Bucket == "" {
		return storage.NewMemoryStore(), nil, nil
	}
	gcs, err := storage.NewGCSStore(ctx, cfg.Storage.Bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("app.OpenStore: %w", err)
	}
	return gcs, gcs.Close, nil
}

// OpenLedger returns the BigQuery repository when a project is configured
// and the SQLite store otherwise.
func OpenLedger(ctx context.Context, cfg *config.Config) (LedgerBackend, error) {
	if cfg.BigQuery.Project != "" {
		repo, err := infraBQ.NewRepository(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, fmt.Errorf("app.OpenLedger: %w", err)
		}
		return repo, nil
	}
	if cfg.SQLite.Path == "" {
		return nil, errors.New("app.OpenLedger: neither bigquery.project nor sqlite.path is set")
	}
	store, err := sqlite.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("app.OpenLedger: %w", err)
	}
	return store, nil
}

func newInvoker(ctx context.Context, cfg *config.Config) (*llm.Invoker, error) {
	m := cfg.Model.WithProviderDefaults()
	switch m.Provider {
	case config.ProviderGemini:
		backend, err := llm.NewGeminiBackend(ctx, m.APIKey())
		if err != nil {
			return nil, fmt.Errorf("app.newInvoker: %w", err)
		}
		return llm.NewInvoker(backend, m.Name), nil
	case config.ProviderAnthropic:
		return llm.NewInvoker(llm.NewAnthropicBackend(m.APIKey()), m.Name), nil
	}
	return nil, fmt.Errorf("app.newInvoker: unknown model provider %q", m.Provider)
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if ttl < 2*time.Minute {
		return ttl / 2
	}
	return time.Minute
}
