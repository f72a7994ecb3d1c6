package bigquery

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/docledger/internal/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestDraftsToRows(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	drafts := []domain.JournalEntryDraft{
		{
			Date:        "2024-01-15",
			Reference:   "INV-123",
			Description: "Invoice 123",
			Lines: []domain.JournalLine{
				{AccountCode: "1000", Debit: decimal.RequireFromString("50.25"), Description: "cash"},
				{AccountCode: "4000", Credit: decimal.RequireFromString("50.25"), Description: "sales"},
			},
		},
		{Date: "15/01/2024", Reference: "X"},
	}

	entries, lines := draftsToRows("gs://b/documents/u1/a.pdf", drafts, now, sequentialIDs())

	require.Len(t, entries, 2)
	assert.Equal(t, "id-1", entries[0].EntryID)
	assert.Equal(t, "gs://b/documents/u1/a.pdf", entries[0].StorageReference)
	assert.True(t, entries[0].EntryDate.Valid)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 15}, entries[0].EntryDate.Date)
	assert.True(t, entries[0].Balanced)
	assert.Equal(t, now, entries[0].CreatedTS)

	assert.False(t, entries[1].EntryDate.Valid, "unparseable dates are stored as NULL")

	require.Len(t, lines, 2)
	assert.Equal(t, "id-1", lines[0].EntryID)
	assert.Equal(t, int64(1), lines[0].LineNo)
	assert.Equal(t, int64(2), lines[1].LineNo)
	assert.Equal(t, 0, lines[0].Debit.Cmp(big.NewRat(201, 4)))
	assert.Equal(t, 0, lines[0].Credit.Sign())
	assert.Equal(t, "4000", lines[1].AccountCode)
}

func TestReplaceDraftsScript(t *testing.T) {
	drafts := []domain.JournalEntryDraft{{
		Reference: "INV-1",
		Lines: []domain.JournalLine{
			{AccountCode: "1000", Debit: decimal.NewFromInt(50)},
			{AccountCode: "4000", Credit: decimal.NewFromInt(50)},
		},
	}}
	entries, lines := draftsToRows("gs://b/doc.pdf", drafts, time.Now(), sequentialIDs())

	sql, params := replaceDraftsScript("`p.d.journal_entries`", "`p.d.journal_entry_lines`", "gs://b/doc.pdf", entries, lines)

	trimmed := strings.TrimSpace(sql)
	assert.True(t, strings.HasPrefix(trimmed, "BEGIN TRANSACTION;"))
	assert.True(t, strings.HasSuffix(trimmed, "COMMIT TRANSACTION;"))
	assert.Less(t, strings.Index(sql, "DELETE FROM `p.d.journal_entries`"), strings.Index(sql, "INSERT INTO `p.d.journal_entries`"))
	assert.Contains(t, sql, "FROM UNNEST(@entries)")
	assert.Contains(t, sql, "FROM UNNEST(@lines)")

	require.Len(t, params, 3)
	assert.Equal(t, "gs://b/doc.pdf", params[0].Value)
	assert.Len(t, params[1].Value, 1)
	assert.Len(t, params[2].Value, 2)
}

func TestReplaceDraftsScript_NoDrafts(t *testing.T) {
	_, params := replaceDraftsScript("e", "l", "ref", nil, nil)
	assert.NotNil(t, params[1].Value.([]JournalEntryRow))
	assert.NotNil(t, params[2].Value.([]JournalLineRow))
}

func TestAccountsFromRows(t *testing.T) {
	rows := []AccountRow{
		{Code: "1000", Name: "Cash", Type: "Asset", Active: true},
		{Code: "2000", Name: "Old", Type: "Liability", Active: false},
		{Code: "9000", Name: "Weird", Type: "Income", Active: true},
		{Code: "4000", Name: "Sales", Type: "revenue", Active: true},
	}

	got := accountsFromRows(rows)
	assert.Equal(t, []domain.AccountReference{
		{Code: "1000", Name: "Cash", Type: domain.AccountTypeAsset},
		{Code: "4000", Name: "Sales", Type: domain.AccountTypeRevenue},
	}, got)
}

func TestModelOutputRow(t *testing.T) {
	now := time.Now()

	row := modelOutputRow("run-1", "categorize", "gemini", `[{"a":1}]`, now, "out-1")
	assert.True(t, row.RawJSON.Valid)
	assert.False(t, row.RawText.Valid)
	assert.Equal(t, `[{"a":1}]`, row.RawJSON.JSONVal)

	row = modelOutputRow("run-1", "validate", "gemini", "Looks fine.", now, "out-2")
	assert.False(t, row.RawJSON.Valid)
	assert.Equal(t, "Looks fine.", row.RawText.StringVal)
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "", truncateError(nil))
	assert.Equal(t, "boom", truncateError(errors.New("boom")))
	assert.Len(t, truncateError(errors.New(strings.Repeat("x", 5000))), maxErrorMessage)
}
