package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// FlexString decodes from either a JSON string or a JSON number. Models emit
// account codes and entry ids in both forms.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("FlexString: want string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// JournalLine is one debit or credit line of a journal entry draft.
type JournalLine struct {
	AccountCode FlexString      `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// JournalEntryDraft is the structured transaction shape the model is asked
// to produce for every transaction it finds in a document.
type JournalEntryDraft struct {
	Date        string        `json:"date"`
	Reference   FlexString    `json:"reference"`
	Description string        `json:"description"`
	Lines       []JournalLine `json:"lines"`
}

// ParsedDate parses the ISO-8601 date of the draft.
func (d JournalEntryDraft) ParsedDate() (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(d.Date))
}

// Totals sums the debit and credit columns.
func (d JournalEntryDraft) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range d.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Balanced reports whether total debits equal total credits.
func (d JournalEntryDraft) Balanced() bool {
	debit, credit := d.Totals()
	return debit.Equal(credit)
}

// DecodeDrafts decodes categorization output into drafts. The model is asked
// for an array; a single object is accepted as a one-element array.
func DecodeDrafts(raw []byte) ([]JournalEntryDraft, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("DecodeDrafts: empty input")
	}

	switch trimmed[0] {
	case '[':
		var drafts []JournalEntryDraft
		if err := json.Unmarshal(trimmed, &drafts); err != nil {
			return nil, fmt.Errorf("DecodeDrafts: decoding array: %w", err)
		}
		return drafts, nil
	case '{':
		var draft JournalEntryDraft
		if err := json.Unmarshal(trimmed, &draft); err != nil {
			return nil, fmt.Errorf("DecodeDrafts: decoding object: %w", err)
		}
		return []JournalEntryDraft{draft}, nil
	default:
		return nil, fmt.Errorf("DecodeDrafts: want JSON array or object, got %q", trimmed[:1])
	}
}

// Finding is an advisory observation about a draft. Findings never fail a
// pipeline run; model output is trusted once it is valid JSON.
type Finding struct {
	Entry     int    `json:"entry"`
	Line      int    `json:"line,omitempty"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message"`
}

// Inspect checks drafts against double-entry conventions. accounts may be
// empty, in which case account codes are not checked.
func Inspect(drafts []JournalEntryDraft, accounts []AccountReference) []Finding {
	var findings []Finding
	known := AccountCodes(accounts)

	for i, d := range drafts {
		add := func(line int, format string, args ...any) {
			findings = append(findings, Finding{
				Entry:     i,
				Line:      line,
				Reference: string(d.Reference),
				Message:   fmt.Sprintf(format, args...),
			})
		}

		if _, err := d.ParsedDate(); err != nil {
			add(0, "date %q is not YYYY-MM-DD", d.Date)
		}
		if len(d.Lines) == 0 {
			add(0, "entry has no lines")
			continue
		}

		for j, l := range d.Lines {
			lineNo := j + 1
			if l.Debit.IsNegative() || l.Credit.IsNegative() {
				add(lineNo, "negative amount (debit %s, credit %s)", l.Debit.String(), l.Credit.String())
			}
			if l.Debit.IsZero() == l.Credit.IsZero() {
				add(lineNo, "line must carry exactly one of debit or credit")
			}
			code := strings.TrimSpace(string(l.AccountCode))
			if len(known) > 0 && !known[code] {
				add(lineNo, "unknown account code %q", code)
			}
		}

		if !d.Balanced() {
			debit, credit := d.Totals()
			add(0, "debits (%s) != credits (%s)", debit.StringFixed(2), credit.StringFixed(2))
		}
	}

	return findings
}
