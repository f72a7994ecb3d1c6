// Package sqlite is a single-file local ledger: chart of accounts, journal
// drafts and run history for machines without BigQuery access.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/logger"
)

// Store wraps one SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account_type TEXT NOT NULL,
			parent_code TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS journal_entries (
			entry_id TEXT PRIMARY KEY,
			storage_reference TEXT NOT NULL,
			entry_date TEXT,
			reference TEXT,
			description TEXT,
			balanced INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_journal_entries_ref ON journal_entries(storage_reference);

		CREATE TABLE IF NOT EXISTS journal_lines (
			line_id TEXT PRIMARY KEY,
			entry_id TEXT NOT NULL REFERENCES journal_entries(entry_id) ON DELETE CASCADE,
			line_no INTEGER NOT NULL,
			account_code TEXT NOT NULL,
			debit TEXT NOT NULL,
			credit TEXT NOT NULL,
			description TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_journal_lines_entry ON journal_lines(entry_id);

		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			storage_reference TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS model_outputs (
			output_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			use_case TEXT NOT NULL,
			model_name TEXT NOT NULL,
			is_json INTEGER NOT NULL,
			raw TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_model_outputs_run ON model_outputs(run_id);
	`)
	if err != nil {
		return fmt.Errorf("initSchema: %w", err)
	}
	return nil
}

// ListAccounts implements ledger.AccountSource.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.AccountReference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, account_type FROM accounts WHERE active = 1 ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountReference
	for rows.Next() {
		var code, name, typ string
		if err := rows.Scan(&code, &name, &typ); err != nil {
			return nil, fmt.Errorf("ListAccounts: scan: %w", err)
		}
		t, err := domain.ParseAccountType(typ)
		if err != nil {
			continue
		}
		out = append(out, domain.AccountReference{Code: code, Name: name, Type: t})
	}
	return out, rows.Err()
}

// UpsertAccounts implements ledger.AccountImporter.
func (s *Store) UpsertAccounts(ctx context.Context, accounts []domain.AccountReference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertAccounts: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	for _, a := range accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (code, name, account_type, active, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				name = excluded.name,
				account_type = excluded.account_type,
				active = 1,
				updated_at = excluded.updated_at`,
			a.Code, a.Name, string(a.Type), now, now)
		if err != nil {
			return fmt.Errorf("UpsertAccounts: account %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

// SaveDrafts implements ledger.JournalWriter in one transaction.
func (s *Store) SaveDrafts(ctx context.Context, storageRef string, drafts []domain.JournalEntryDraft) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("SaveDrafts: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM journal_entries WHERE storage_reference = ?`, storageRef); err != nil {
		return nil, fmt.Errorf("SaveDrafts: deleting previous drafts: %w", err)
	}

	now := s.now().Unix()
	ids := make([]string, 0, len(drafts))
	for _, d := range drafts {
		entryID := uuid.NewString()

		var date sql.NullString
		if t, err := d.ParsedDate(); err == nil {
			date = sql.NullString{String: t.Format("2006-01-02"), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO journal_entries (entry_id, storage_reference, entry_date, reference, description, balanced, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entryID, storageRef, date, string(d.Reference), d.Description, d.Balanced(), now)
		if err != nil {
			return nil, fmt.Errorf("SaveDrafts: inserting entry: %w", err)
		}

		for i, l := range d.Lines {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO journal_lines (line_id, entry_id, line_no, account_code, debit, credit, description)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), entryID, i+1, string(l.AccountCode), l.Debit.String(), l.Credit.String(), l.Description)
			if err != nil {
				return nil, fmt.Errorf("SaveDrafts: inserting line: %w", err)
			}
		}
		ids = append(ids, entryID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("SaveDrafts: commit: %w", err)
	}
	return ids, nil
}

// Drafts reads back the drafts saved for storageRef, in insertion order.
func (s *Store) Drafts(ctx context.Context, storageRef string) ([]domain.JournalEntryDraft, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entry_id, COALESCE(e.entry_date, ''), e.reference, e.description,
		       l.account_code, l.debit, l.credit, l.description
		FROM journal_entries e
		LEFT JOIN journal_lines l ON l.entry_id = e.entry_id
		WHERE e.storage_reference = ?
		ORDER BY e.rowid, l.line_no`, storageRef)
	if err != nil {
		return nil, fmt.Errorf("Drafts: %w", err)
	}
	defer rows.Close()

	var (
		out     []domain.JournalEntryDraft
		current string
	)
	for rows.Next() {
		var (
			entryID, date, ref, desc string
			code, debit, credit      sql.NullString
			lineDesc                 sql.NullString
		)
		if err := rows.Scan(&entryID, &date, &ref, &desc, &code, &debit, &credit, &lineDesc); err != nil {
			return nil, fmt.Errorf("Drafts: scan: %w", err)
		}
		if entryID != current {
			out = append(out, domain.JournalEntryDraft{Date: date, Reference: domain.FlexString(ref), Description: desc})
			current = entryID
		}
		if !code.Valid {
			continue
		}
		line := domain.JournalLine{AccountCode: domain.FlexString(code.String), Description: lineDesc.String}
		if line.Debit, err = decimal.NewFromString(debit.String); err != nil {
			return nil, fmt.Errorf("Drafts: debit: %w", err)
		}
		if line.Credit, err = decimal.NewFromString(credit.String); err != nil {
			return nil, fmt.Errorf("Drafts: credit: %w", err)
		}
		last := &out[len(out)-1]
		last.Lines = append(last.Lines, line)
	}
	return out, rows.Err()
}

// StartRun records a new RUNNING run.
func (s *Store) StartRun(ctx context.Context, storageRef string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, storage_reference, started_at, stage, status)
		VALUES (?, ?, ?, 'RECEIVED', 'RUNNING')`,
		runID, storageRef, s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("StartRun: %w", err)
	}
	return runID, nil
}

// RecordStage moves a run to stage.
func (s *Store) RecordStage(ctx context.Context, runID, stage string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET stage = ? WHERE run_id = ?`, stage, runID); err != nil {
		return fmt.Errorf("RecordStage: %w", err)
	}
	return nil
}

// RecordModelOutput stores one raw model reply.
func (s *Store) RecordModelOutput(ctx context.Context, runID, useCase, model, raw string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_outputs (output_id, run_id, use_case, model_name, is_json, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, useCase, model, json.Valid([]byte(raw)), raw, s.now().Unix())
	if err != nil {
		return fmt.Errorf("RecordModelOutput: %w", err)
	}
	return nil
}

// FinishRun marks a run SUCCESS, or FAILED with the error message.
func (s *Store) FinishRun(ctx context.Context, runID, stage string, runErr error) {
	status, msg := "SUCCESS", ""
	if runErr != nil {
		status, msg = "FAILED", runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET stage = ?, status = ?, error_message = ?, finished_at = ?
		WHERE run_id = ?`,
		stage, status, msg, s.now().Unix(), runID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("run_id", runID).Msg("FinishRun: recording run status")
	}
}

// Run is a pipeline_runs row.
type Run struct {
	RunID            string
	StorageReference string
	Stage            string
	Status           string
	ErrorMessage     string
}

// GetRun reads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var msg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, storage_reference, stage, status, error_message FROM pipeline_runs WHERE run_id = ?`,
		runID).Scan(&r.RunID, &r.StorageReference, &r.Stage, &r.Status, &msg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	r.ErrorMessage = msg.String
	return &r, nil
}
