package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/docledger/internal/domain"
)

// AccountRow is one chart-of-accounts entry.
type AccountRow struct {
	Code       string                 `bigquery:"code"`         // REQUIRED
	Name       string                 `bigquery:"name"`         // REQUIRED
	Type       string                 `bigquery:"account_type"` // REQUIRED
	ParentCode bigquery.NullString    `bigquery:"parent_code"`  // NULLABLE
	Active     bool                   `bigquery:"active"`       // REQUIRED
	CreatedTS  time.Time              `bigquery:"created_ts"`   // REQUIRED
	UpdatedTS  bigquery.NullTimestamp `bigquery:"updated_ts"`   // NULLABLE
}

// ListAccounts implements ledger.AccountSource. Inactive accounts and rows
// with an unknown type are left out.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.AccountReference, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT code, name, account_type, parent_code, active, created_ts, updated_ts
		FROM %s
		WHERE active
		ORDER BY code
	`, r.table(accountsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: reading query: %w", err)
	}

	var rows []AccountRow
	for {
		var row AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: iterating: %w", err)
		}
		rows = append(rows, row)
	}
	return accountsFromRows(rows), nil
}

func accountsFromRows(rows []AccountRow) []domain.AccountReference {
	out := make([]domain.AccountReference, 0, len(rows))
	for _, row := range rows {
		typ, err := domain.ParseAccountType(row.Type)
		if err != nil || !row.Active {
			continue
		}
		out = append(out, domain.AccountReference{Code: row.Code, Name: row.Name, Type: typ})
	}
	return out
}

// UpsertAccounts implements ledger.AccountImporter with one MERGE per
// account.
func (r *Repository) UpsertAccounts(ctx context.Context, accounts []domain.AccountReference) error {
	now := time.Now()
	for _, a := range accounts {
		err := r.exec(ctx, "UpsertAccounts", fmt.Sprintf(`
			MERGE %s t
			USING (SELECT @code AS code) s
			ON t.code = s.code
			WHEN MATCHED THEN
			  UPDATE SET name = @name, account_type = @account_type, active = TRUE, updated_ts = @ts
			WHEN NOT MATCHED THEN
			  INSERT (code, name, account_type, active, created_ts)
			  VALUES (@code, @name, @account_type, TRUE, @ts)
		`, r.table(accountsTable)), []bigquery.QueryParameter{
			{Name: "code", Value: a.Code},
			{Name: "name", Value: a.Name},
			{Name: "account_type", Value: string(a.Type)},
			{Name: "ts", Value: now},
		})
		if err != nil {
			return fmt.Errorf("account %s: %w", a.Code, err)
		}
	}
	return nil
}
