package domain

import (
	"fmt"
	"strings"
)

// AccountType classifies an account in the chart of accounts.
type AccountType string

const (
	AccountTypeAsset     AccountType = "Asset"
	AccountTypeLiability AccountType = "Liability"
	AccountTypeEquity    AccountType = "Equity"
	AccountTypeRevenue   AccountType = "Revenue"
	AccountTypeExpense   AccountType = "Expense"
)

var accountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeLiability,
	AccountTypeEquity,
	AccountTypeRevenue,
	AccountTypeExpense,
}

// ParseAccountType maps a case-insensitive name onto one of the five account types.
func ParseAccountType(s string) (AccountType, error) {
	trimmed := strings.TrimSpace(s)
	for _, t := range accountTypes {
		if strings.EqualFold(trimmed, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown account type %q", s)
}

// AccountReference is one chart-of-accounts entry offered to the model as a
// categorization target. It is read-only input to prompt construction.
type AccountReference struct {
	Code string      `json:"code"`
	Name string      `json:"name"`
	Type AccountType `json:"type"`
}

// AccountCodes returns the set of codes in accounts.
func AccountCodes(accounts []AccountReference) map[string]bool {
	codes := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		codes[strings.TrimSpace(a.Code)] = true
	}
	return codes
}
