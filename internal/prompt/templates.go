package prompt

import (
	"text/template"
)

// UseCase selects one of the fixed instruction templates.
type UseCase string

const (
	// Categorize turns document text into journal entry drafts.
	Categorize UseCase = "categorize"
	// Validate reviews drafts for compliance issues.
	Validate UseCase = "validate"
	// Chat is open-ended accounting conversation.
	Chat UseCase = "chat"
)

// UseCases lists every supported use case.
var UseCases = []UseCase{Categorize, Validate, Chat}

// Spec is the fixed instruction plus sampling parameters for one call site.
type Spec struct {
	SystemInstruction string
	Temperature       float32
	TopP              float32
	MaxTokens         int
}

// Sampling holds the tunable part of a Spec.
type Sampling struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// DefaultSampling returns the sampling parameters used when no override is
// configured.
func DefaultSampling() map[UseCase]Sampling {
	return map[UseCase]Sampling{
		Categorize: {Temperature: 0.2, TopP: 0.9, MaxTokens: 4096},
		Validate:   {Temperature: 0.1, TopP: 0.9, MaxTokens: 4096},
		Chat:       {Temperature: 0.7, TopP: 0.9, MaxTokens: 1024},
	}
}

// CategorizePayload parameterizes the categorize template.
type CategorizePayload struct {
	Accounts []AccountLine
}

// AccountLine is an account as rendered into the instruction.
type AccountLine struct {
	Code string
	Name string
	Type string
}

var categorizeTemplate = template.Must(template.New("categorize").Parse(
	`You are an accounting assistant that turns financial documents into double-entry journal entries.

Task:
- Identify EVERY transaction in the document text supplied by the user.
- For each transaction produce one journal entry whose debits equal its credits.
- Output STRICT JSON only (no comments, no trailing commas, no extra text).
- Output a JSON array of objects.

Each object must have these fields:
- "date": string, ISO format "YYYY-MM-DD"
- "reference": string (invoice, receipt or document number; empty string if none)
- "description": string
- "lines": array of objects with:
  - "account_code": string (one of the account codes listed below)
  - "debit": number (0 when the line is a credit)
  - "credit": number (0 when the line is a debit)
  - "description": string

Use ONLY the following Chart of Accounts (code | name | type):
{{- range .Accounts}}
- {{.Code}} | {{.Name}} | {{.Type}}
{{- else}}
- (no accounts supplied - return an empty array [])
{{- end}}

Rules:
- Every line must use exactly one account code from the list above.
- Amounts are non-negative numbers; put each amount in either "debit" or "credit", never both.
- Do not invent transactions that are not in the document.

Return ONLY valid raw JSON.
Do NOT wrap the response in code fences.
Do NOT use ` + "```json" + ` or any Markdown.
Output must begin with "[" and end with "]".
`))

var validateTemplate = template.Must(template.New("validate").Parse(
	`You are a compliance reviewer for double-entry bookkeeping.

Task:
- The user message contains a JSON array of journal entries.
- Check each entry against generally accepted accounting principles: balanced debits and credits,
  plausible account usage, valid dates, complete descriptions and references.
- Output STRICT JSON only: a JSON array of issue objects (an empty array when nothing is wrong).

Each issue object must have these fields:
- "journal_entry_id": the reference of the affected entry
- "type": one of "error", "warning", "info"
- "category": string (e.g. "Accounting Standards", "Document Quality", "Compliance Check", "Best Practices")
- "title": string
- "description": string
- "field": string (the field that is wrong)
- "value": string (the value found)
- "expected": string (the value expected)
- "actionable_steps": array of objects with "title", "description",
  "action_type" (one of "manual_review", "auto_correct", "verification_required", "approval_needed")
  and "estimated_time" (e.g. "5 minutes")

Return ONLY valid raw JSON. Do NOT use Markdown.
`))

var chatTemplate = template.Must(template.New("chat").Parse(
	`You are a virtual CFO for a small business. Answer accounting, bookkeeping and finance questions
clearly and concisely. When you are unsure, say so instead of guessing. Do not give legal advice.
`))

var templates = map[UseCase]*template.Template{
	Categorize: categorizeTemplate,
	Validate:   validateTemplate,
	Chat:       chatTemplate,
}
