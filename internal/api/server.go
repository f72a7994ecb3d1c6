// Package api assembles the HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/docledger/internal/api/handlers"
	"github.com/dvloznov/docledger/internal/api/middleware"
)

// Handlers groups the endpoint handlers served by NewHandler.
type Handlers struct {
	Documents *handlers.DocumentsHandler
	Chat      *handlers.ChatHandler
	Accounts  *handlers.AccountsHandler
}

// NewHandler registers every route and wraps the mux in the middleware
// chain.
func NewHandler(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v0/documents", h.Documents.UploadDocument)
	mux.HandleFunc("GET /v0/documents", h.Documents.ListDocuments)
	mux.HandleFunc("GET /v0/documents/{key...}", h.Documents.GetDocument)
	mux.HandleFunc("POST /v0/chat", h.Chat.Chat)
	mux.HandleFunc("GET /v0/accounts", h.Accounts.ListAccounts)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.RequestID(log)(
		middleware.Recovery(log)(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // model calls are synchronous
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}
