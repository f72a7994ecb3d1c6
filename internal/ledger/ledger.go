// Package ledger is the caller side of the pipeline: where the chart of
// accounts comes from and where accepted journal drafts go.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/docledger/internal/domain"
)

// AccountSource supplies the chart of accounts offered to the model.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]domain.AccountReference, error)
}

// JournalWriter persists drafts produced for one stored document. Saving
// again for the same storage reference replaces the earlier drafts.
type JournalWriter interface {
	SaveDrafts(ctx context.Context, storageRef string, drafts []domain.JournalEntryDraft) ([]string, error)
}

// AccountImporter adds or replaces chart-of-accounts entries.
type AccountImporter interface {
	UpsertAccounts(ctx context.Context, accounts []domain.AccountReference) error
}

// StaticAccounts serves a fixed chart of accounts.
type StaticAccounts []domain.AccountReference

// ListAccounts implements AccountSource. The returned slice is a copy.
func (s StaticAccounts) ListAccounts(ctx context.Context) ([]domain.AccountReference, error) {
	return append([]domain.AccountReference(nil), s...), nil
}

// ParseAccountsCSV reads "code,name,type" rows. A header row whose first
// column is "code" is skipped.
func ParseAccountsCSV(r io.Reader) ([]domain.AccountReference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var out []domain.AccountReference
	seen := map[string]bool{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ParseAccountsCSV: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}

		code := strings.TrimSpace(rec[0])
		if code == "" {
			return nil, fmt.Errorf("ParseAccountsCSV: line %d: empty account code", line)
		}
		if seen[code] {
			return nil, fmt.Errorf("ParseAccountsCSV: line %d: duplicate account code %q", line, code)
		}
		typ, err := domain.ParseAccountType(rec[2])
		if err != nil {
			return nil, fmt.Errorf("ParseAccountsCSV: line %d: %w", line, err)
		}
		seen[code] = true
		out = append(out, domain.AccountReference{Code: code, Name: strings.TrimSpace(rec[1]), Type: typ})
	}
	return out, nil
}
