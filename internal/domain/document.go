package domain

// ExtractedDocument is the text pulled out of one uploaded document.
type ExtractedDocument struct {
	Text string `json:"text"`
}

// IsEmpty reports whether extraction produced no text at all. An empty
// document is a valid extraction result.
func (d ExtractedDocument) IsEmpty() bool {
	return d.Text == ""
}

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a conversation. Slices of ChatMessage are kept in
// chronological order; that order is the turn order fed to the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
