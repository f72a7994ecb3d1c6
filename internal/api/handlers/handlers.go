package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/docledger/internal/api/middleware"
	"github.com/dvloznov/docledger/internal/extract"
	"github.com/dvloznov/docledger/internal/ledger"
	"github.com/dvloznov/docledger/internal/llm"
	"github.com/dvloznov/docledger/internal/normalize"
	"github.com/dvloznov/docledger/internal/pipeline"
	"github.com/dvloznov/docledger/internal/storage"
)

// MaxUploadBytes caps the size of one uploaded document.
const MaxUploadBytes = 20 << 20

// ConversationHeader selects the chat conversation when the body has none.
const ConversationHeader = "X-Conversation-ID"

// Processor runs one document through the pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Chatter runs one chat turn.
type Chatter interface {
	Chat(ctx context.Context, key, text string) (normalize.Result, error)
}

// DocumentsHandler handles document-related endpoints.
type DocumentsHandler struct {
	store     storage.ObjectStore
	processor Processor
	accounts  ledger.AccountSource
	journal   ledger.JournalWriter
	log       zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler. journal may be nil,
// in which case save requests are rejected.
func NewDocumentsHandler(store storage.ObjectStore, processor Processor, accounts ledger.AccountSource, journal ledger.JournalWriter, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		store:     store,
		processor: processor,
		accounts:  accounts,
		journal:   journal,
		log:       log,
	}
}

type processResponse struct {
	*pipeline.Result
	EntryIDs []string `json:"entry_ids,omitempty"`
}

// UploadDocument handles POST /v0/documents?user_id=U. The multipart "file"
// field is stored at documents/{user_id}/{filename} and then processed.
// Optional query flags: skip_validation, save.
func (h *DocumentsHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	userID := query.Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	skipValidation, err := boolParam(query.Get("skip_validation"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid skip_validation")
		return
	}
	save, err := boolParam(query.Get("save"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid save")
		return
	}
	if save && h.journal == nil {
		middleware.WriteError(w, http.StatusBadRequest, "Saving drafts is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Multipart field \"file\" is required")
		return
	}
	defer file.Close()

	kind, err := extract.DetectKind(header.Filename)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := storage.DocumentKey(userID, header.Filename)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	ref, err := h.store.Put(ctx, key, bytes.NewReader(data), kind.MIMEType())
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to store document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}

	accounts, err := h.accounts.ListAccounts(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	res, err := h.processor.Process(ctx, pipeline.Request{
		StorageReference: ref,
		Document:         data,
		Filename:         header.Filename,
		Accounts:         accounts,
		SkipValidation:   skipValidation,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	resp := processResponse{Result: res}
	if save {
		ids, err := h.journal.SaveDrafts(ctx, ref, res.Drafts)
		if err != nil {
			h.log.Error().Err(err).Str("storage_reference", ref).Msg("Failed to save journal drafts")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to save journal drafts")
			return
		}
		resp.EntryIDs = ids
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ListDocuments handles GET /v0/documents?user_id=U
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	keys, err := h.store.List(r.Context(), storage.UserPrefix(userID))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list documents")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	if keys == nil {
		keys = []string{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": keys,
		"count":     len(keys),
	})
}

// GetDocument handles GET /v0/documents/{key...}
func (h *DocumentsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" || strings.Contains(key, "..") {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid document key")
		return
	}

	data, err := h.store.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to fetch document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to fetch document")
		return
	}

	contentType := "application/octet-stream"
	if kind, err := extract.DetectKind(key); err == nil {
		contentType = kind.MIMEType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": path.Base(key)}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ChatHandler handles the chat endpoint.
type ChatHandler struct {
	chatter Chatter
	log     zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatter Chatter, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{chatter: chatter, log: log}
}

// Chat handles POST /v0/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = r.Header.Get(ConversationHeader)
	}

	reply, err := h.chatter.Chat(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		if pipeline.IsClientError(err) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("conversation", req.ConversationID).Msg("Chat turn failed")
		middleware.WriteError(w, backendStatus(err), "Chat turn failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": req.ConversationID,
		"reply":           reply,
	})
}

// AccountsHandler handles chart-of-accounts endpoints.
type AccountsHandler struct {
	accounts ledger.AccountSource
	log      zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(accounts ledger.AccountSource, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, log: log}
}

// ListAccounts handles GET /v0/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// writePipelineError maps pipeline failures to HTTP statuses: caller input
// problems are 400, model and validation backend failures 502, anything
// else 500.
func writePipelineError(w http.ResponseWriter, err error) {
	stage, _ := pipeline.FailedStage(err)

	if pipeline.IsClientError(err) {
		middleware.WriteStageError(w, http.StatusBadRequest, err.Error(), string(stage))
		return
	}
	middleware.WriteStageError(w, backendStatus(err), err.Error(), string(stage))
}

func backendStatus(err error) int {
	var (
		invalid    *pipeline.InvalidStructuredOutputError
		validation *pipeline.ValidationBackendError
		model      *llm.ModelInvocationError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &validation), errors.As(err, &model):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func boolParam(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
