package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/docledger/internal/domain"
)

// JournalEntryRow is the header of one saved draft.
type JournalEntryRow struct {
	EntryID          string            `bigquery:"entry_id"`          // REQUIRED
	StorageReference string            `bigquery:"storage_reference"` // REQUIRED
	EntryDate        bigquery.NullDate `bigquery:"entry_date"`        // NULLABLE (unparseable model dates)
	Reference        string            `bigquery:"reference"`         // NULLABLE
	Description      string            `bigquery:"description"`       // NULLABLE
	Balanced         bool              `bigquery:"balanced"`          // REQUIRED
	CreatedTS        time.Time         `bigquery:"created_ts"`        // REQUIRED
}

// JournalLineRow is one debit or credit line.
type JournalLineRow struct {
	LineID      string   `bigquery:"line_id"`      // REQUIRED
	EntryID     string   `bigquery:"entry_id"`     // REQUIRED
	LineNo      int64    `bigquery:"line_no"`      // REQUIRED
	AccountCode string   `bigquery:"account_code"` // REQUIRED
	Debit       *big.Rat `bigquery:"debit"`        // NUMERIC
	Credit      *big.Rat `bigquery:"credit"`       // NUMERIC
	Description string   `bigquery:"description"`  // NULLABLE
}

// draftsToRows converts drafts into entry and line rows.
func draftsToRows(storageRef string, drafts []domain.JournalEntryDraft, now time.Time, newID func() string) ([]JournalEntryRow, []JournalLineRow) {
	entries := make([]JournalEntryRow, 0, len(drafts))
	var lines []JournalLineRow

	for _, d := range drafts {
		entry := JournalEntryRow{
			EntryID:          newID(),
			StorageReference: storageRef,
			Reference:        string(d.Reference),
			Description:      d.Description,
			Balanced:         d.Balanced(),
			CreatedTS:        now,
		}
		if t, err := d.ParsedDate(); err == nil {
			entry.EntryDate = bigquery.NullDate{Date: civil.DateOf(t), Valid: true}
		}
		entries = append(entries, entry)

		for i, l := range d.Lines {
			lines = append(lines, JournalLineRow{
				LineID:      newID(),
				EntryID:     entry.EntryID,
				LineNo:      int64(i + 1),
				AccountCode: string(l.AccountCode),
				Debit:       l.Debit.Rat(),
				Credit:      l.Credit.Rat(),
				Description: l.Description,
			})
		}
	}
	return entries, lines
}

// SaveDrafts implements ledger.JournalWriter. Earlier drafts for the same
// storage reference are replaced in one multi-statement transaction, so a
// failure leaves the previous drafts in place.
func (r *Repository) SaveDrafts(ctx context.Context, storageRef string, drafts []domain.JournalEntryDraft) ([]string, error) {
	entries, lines := draftsToRows(storageRef, drafts, time.Now(), uuid.NewString)

	sql, params := replaceDraftsScript(r.table(journalEntriesTable), r.table(journalLinesTable), storageRef, entries, lines)
	if err := r.exec(ctx, "SaveDrafts", sql, params); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.EntryID)
	}
	return ids, nil
}

// replaceDraftsScript builds the transaction that swaps the drafts stored for
// storageRef. Rows travel as ARRAY<STRUCT> parameters.
func replaceDraftsScript(entriesTable, linesTable, storageRef string, entries []JournalEntryRow, lines []JournalLineRow) (string, []bigquery.QueryParameter) {
	if entries == nil {
		entries = []JournalEntryRow{}
	}
	if lines == nil {
		lines = []JournalLineRow{}
	}

	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;

		DELETE FROM %[2]s
		WHERE entry_id IN (SELECT entry_id FROM %[1]s WHERE storage_reference = @storage_reference);

		DELETE FROM %[1]s WHERE storage_reference = @storage_reference;

		INSERT INTO %[1]s (entry_id, storage_reference, entry_date, reference, description, balanced, created_ts)
		SELECT entry_id, storage_reference, entry_date, reference, description, balanced, created_ts
		FROM UNNEST(@entries);

		INSERT INTO %[2]s (line_id, entry_id, line_no, account_code, debit, credit, description)
		SELECT line_id, entry_id, line_no, account_code, debit, credit, description
		FROM UNNEST(@lines);

		COMMIT TRANSACTION;
	`, entriesTable, linesTable)

	return sql, []bigquery.QueryParameter{
		{Name: "storage_reference", Value: storageRef},
		{Name: "entries", Value: entries},
		{Name: "lines", Value: lines},
	}
}
