package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/docledger/internal/api/handlers"
	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/extract"
	"github.com/dvloznov/docledger/internal/ledger"
	"github.com/dvloznov/docledger/internal/llm"
	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/normalize"
	"github.com/dvloznov/docledger/internal/pipeline"
	"github.com/dvloznov/docledger/internal/storage"
)

// MockProcessor is a mock implementation of handlers.Processor.
type MockProcessor struct {
	ProcessFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Last        pipeline.Request
}

func (m *MockProcessor) Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	m.Last = req
	return m.ProcessFunc(ctx, req)
}

// MockChatter is a mock implementation of handlers.Chatter.
type MockChatter struct {
	ChatFunc func(ctx context.Context, key, text string) (normalize.Result, error)
}

func (m *MockChatter) Chat(ctx context.Context, key, text string) (normalize.Result, error) {
	return m.ChatFunc(ctx, key, text)
}

// MockJournal is a mock implementation of ledger.JournalWriter.
type MockJournal struct {
	SaveDraftsFunc func(ctx context.Context, ref string, drafts []domain.JournalEntryDraft) ([]string, error)
}

func (m *MockJournal) SaveDrafts(ctx context.Context, ref string, drafts []domain.JournalEntryDraft) ([]string, error) {
	return m.SaveDraftsFunc(ctx, ref, drafts)
}

var testAccounts = ledger.StaticAccounts{
	{Code: "1000", Name: "Cash", Type: domain.AccountTypeAsset},
}

type fixture struct {
	store     *storage.MemoryStore
	processor *MockProcessor
	chatter   *MockChatter
	journal   *MockJournal
	handler   http.Handler
}

func newFixture() *fixture {
	log := logger.NewWithWriter(io.Discard)
	f := &fixture{
		store: storage.NewMemoryStore(),
		processor: &MockProcessor{ProcessFunc: func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
			v := normalize.Normalize("[]")
			return &pipeline.Result{
				StorageReference: req.StorageReference,
				StructuredData:   json.RawMessage(`[{"reference":"A"}]`),
				ValidationResult: &v,
				Drafts:           []domain.JournalEntryDraft{{Reference: "A"}},
			}, nil
		}},
		chatter: &MockChatter{ChatFunc: func(ctx context.Context, key, text string) (normalize.Result, error) {
			return normalize.Normalize("Hello " + key), nil
		}},
		journal: &MockJournal{SaveDraftsFunc: func(ctx context.Context, ref string, drafts []domain.JournalEntryDraft) ([]string, error) {
			return []string{"entry-1"}, nil
		}},
	}
	f.handler = NewHandler(Handlers{
		Documents: handlers.NewDocumentsHandler(f.store, f.processor, testAccounts, f.journal, log),
		Chat:      handlers.NewChatHandler(f.chatter, log),
		Accounts:  handlers.NewAccountsHandler(testAccounts, log),
	}, log)
	return f
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadDocument(t *testing.T) {
	f := newFixture()

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, "/v0/documents?user_id=u1", "inv.pdf", []byte("%PDF-1.4 data")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.JSONEq(t, `"mem://documents/u1/inv.pdf"`, string(body["storage_reference"]))
	assert.JSONEq(t, `[{"reference":"A"}]`, string(body["structured_data"]))
	assert.JSONEq(t, `[]`, string(body["validation_result"]))
	assert.NotContains(t, body, "entry_ids")

	stored, err := f.store.Get(context.Background(), "documents/u1/inv.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 data", string(stored))

	assert.Equal(t, "inv.pdf", f.processor.Last.Filename)
	assert.Equal(t, []domain.AccountReference(testAccounts), f.processor.Last.Accounts)
	assert.False(t, f.processor.Last.SkipValidation)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUploadDocument_SaveAndSkipValidation(t *testing.T) {
	f := newFixture()
	var savedRef string
	f.journal.SaveDraftsFunc = func(ctx context.Context, ref string, drafts []domain.JournalEntryDraft) ([]string, error) {
		savedRef = ref
		assert.Len(t, drafts, 1)
		return []string{"entry-1"}, nil
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, "/v0/documents?user_id=u1&save=true&skip_validation=1", "r.png", []byte("png")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.processor.Last.SkipValidation)
	assert.Equal(t, "mem://documents/u1/r.png", savedRef)
	assert.JSONEq(t, `["entry-1"]`, string(decode(t, rec)["entry_ids"]))
}

func TestUploadDocument_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		filename string
	}{
		{name: "missing user", target: "/v0/documents", filename: "a.pdf"},
		{name: "unsupported kind", target: "/v0/documents?user_id=u1", filename: "a.docx"},
		{name: "bad flag", target: "/v0/documents?user_id=u1&save=maybe", filename: "a.pdf"},
		{name: "user with slash", target: "/v0/documents?user_id=a/b", filename: "a.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, uploadRequest(t, tt.target, tt.filename, []byte("x")))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.processor.Last.StorageReference, "pipeline not invoked")
		})
	}
}

func TestUploadDocument_MissingFile(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/documents?user_id=u1", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadDocument_PipelineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		stage  string
	}{
		{
			name:   "empty input",
			err:    &pipeline.StageError{Stage: pipeline.StageExtracted, Err: extract.ErrEmptyInput},
			status: http.StatusBadRequest,
			stage:  "EXTRACTED",
		},
		{
			name:   "invalid structured output",
			err:    &pipeline.StageError{Stage: pipeline.StageCategorized, Err: &pipeline.InvalidStructuredOutputError{Raw: "nope"}},
			status: http.StatusBadGateway,
			stage:  "CATEGORIZED",
		},
		{
			name: "validation backend",
			err: &pipeline.StageError{Stage: pipeline.StageValidated, Err: &pipeline.ValidationBackendError{
				Err: &llm.ModelInvocationError{Model: "m", Cause: errors.New("down")},
			}},
			status: http.StatusBadGateway,
			stage:  "VALIDATED",
		},
		{
			name:   "extraction failure",
			err:    &pipeline.StageError{Stage: pipeline.StageExtracted, Err: &extract.ExtractionError{Stage: extract.StageOCR, Err: errors.New("ocr")}},
			status: http.StatusInternalServerError,
			stage:  "EXTRACTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.processor.ProcessFunc = func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
				return nil, tt.err
			}

			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, uploadRequest(t, "/v0/documents?user_id=u1", "a.pdf", []byte("x")))

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.JSONEq(t, `"`+tt.stage+`"`, string(body["stage"]))
			assert.Contains(t, body, "error")
		})
	}
}

func TestListAndGetDocuments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.store.Put(ctx, "documents/u1/b.pdf", strings.NewReader("B"), "application/pdf")
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "documents/u1/a.png", strings.NewReader("A"), "image/png")
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "documents/u2/c.pdf", strings.NewReader("C"), "application/pdf")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/documents?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `["documents/u1/a.png","documents/u1/b.pdf"]`, string(body["documents"]))
	assert.JSONEq(t, `2`, string(body["count"]))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/documents/documents/u1/a.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/documents/documents/u1/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/documents", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	f := newFixture()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(handlers.ConversationHeader, "c1")
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `"c1"`, string(body["conversation_id"]))
	assert.JSONEq(t, `"Hello c1"`, string(body["reply"]))
}

func TestChat_Errors(t *testing.T) {
	f := newFixture()
	f.chatter.ChatFunc = func(ctx context.Context, key, text string) (normalize.Result, error) {
		if key == "" {
			return normalize.Result{}, pipeline.ErrMissingConversation
		}
		return normalize.Result{}, &llm.ModelInvocationError{Model: "m", Cause: errors.New("down")}
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v0/chat", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v0/chat", strings.NewReader(`{"conversation_id":"c1","message":"hi"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v0/chat", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AccessLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture()
	log := logger.NewWithWriter(&buf)
	h := NewHandler(Handlers{
		Documents: handlers.NewDocumentsHandler(f.store, f.processor, testAccounts, f.journal, log),
		Chat:      handlers.NewChatHandler(f.chatter, log),
		Accounts:  handlers.NewAccountsHandler(testAccounts, log),
	}, log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-7", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"request_id":"trace-7"`)
	assert.Contains(t, buf.String(), `"message":"HTTP request"`)
}

func TestAccountsAndHealth(t *testing.T) {
	f := newFixture()

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"code":"1000","name":"Cash","type":"Asset"}]`, string(decode(t, rec)["accounts"]))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v0/accounts", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
