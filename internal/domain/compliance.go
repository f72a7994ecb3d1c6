package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IssueType is the severity class of a compliance issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// ActionableStep is one remediation step attached to a compliance issue.
type ActionableStep struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	ActionType    string `json:"action_type"`
	EstimatedTime string `json:"estimated_time"`
}

// ComplianceIssue describes a deviation from an accounting standard found by
// the validation pass.
type ComplianceIssue struct {
	JournalEntryID  FlexString       `json:"journal_entry_id"`
	Type            IssueType        `json:"type"`
	Category        string           `json:"category"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Field           string           `json:"field"`
	Value           FlexString       `json:"value"`
	Expected        FlexString       `json:"expected"`
	ActionableSteps []ActionableStep `json:"actionable_steps"`
}

// DecodeComplianceIssues decodes validation output. Validation output is
// advisory, so callers usually fall back to showing raw text on error.
func DecodeComplianceIssues(raw []byte) ([]ComplianceIssue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var issue ComplianceIssue
		if err := json.Unmarshal(trimmed, &issue); err != nil {
			return nil, fmt.Errorf("DecodeComplianceIssues: decoding object: %w", err)
		}
		return []ComplianceIssue{issue}, nil
	}

	var issues []ComplianceIssue
	if err := json.Unmarshal(trimmed, &issues); err != nil {
		return nil, fmt.Errorf("DecodeComplianceIssues: decoding array: %w", err)
	}
	return issues, nil
}
