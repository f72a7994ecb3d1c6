package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/docledger/internal/domain"
)

func TestCompose_CategorizeEmbedsAccountsAndText(t *testing.T) {
	c := NewComposer(nil)
	accounts := []domain.AccountReference{
		{Code: "4000", Name: "Sales", Type: domain.AccountTypeRevenue},
		{Code: "1000", Name: "Cash\nat bank", Type: domain.AccountTypeAsset},
	}

	req, err := c.Compose(Categorize, CategorizeWith(accounts), nil, "Invoice #123, total $50")
	require.NoError(t, err)

	assert.Equal(t, Categorize, req.UseCase)
	assert.Contains(t, req.System, "- 4000 | Sales | Revenue\n")
	assert.Contains(t, req.System, "- 1000 | Cash at bank | Asset\n")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, domain.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Invoice #123, total $50", req.Messages[0].Content)

	assert.Equal(t, float32(0.2), req.Spec.Temperature)
	assert.Equal(t, 4096, req.Spec.MaxTokens)
	assert.Equal(t, req.System, req.Spec.SystemInstruction)
}

func TestCompose_CategorizeWithoutAccounts(t *testing.T) {
	req, err := NewComposer(nil).Compose(Categorize, CategorizeWith(nil), nil, "text")
	require.NoError(t, err)
	assert.Contains(t, req.System, "(no accounts supplied")
}

func TestCompose_CategorizeRequiresPayload(t *testing.T) {
	_, err := NewComposer(nil).Compose(Categorize, nil, nil, "text")
	assert.Error(t, err)
}

func TestCompose_UnknownUseCase(t *testing.T) {
	_, err := NewComposer(nil).Compose(UseCase("summarize"), nil, nil, "text")
	assert.Error(t, err)
}

func TestCompose_DistinctInstructions(t *testing.T) {
	c := NewComposer(nil)
	seen := map[string]UseCase{}
	for _, uc := range UseCases {
		var payload any
		if uc == Categorize {
			payload = CategorizeWith(nil)
		}
		s, err := c.Instruction(uc, payload)
		require.NoError(t, err)
		require.NotEmpty(t, strings.TrimSpace(s))
		_, dup := seen[s]
		assert.False(t, dup, "use case %s shares its instruction", uc)
		seen[s] = uc
	}
}

func TestCompose_ValidateListsComplianceFields(t *testing.T) {
	s, err := NewComposer(nil).Instruction(Validate, nil)
	require.NoError(t, err)
	for _, field := range []string{"journal_entry_id", "actionable_steps", "action_type", "estimated_time", "expected"} {
		assert.Contains(t, s, field)
	}
}

func TestCompose_HistoryIsCopied(t *testing.T) {
	history := make([]domain.ChatMessage, 2, 8)
	history[0] = domain.ChatMessage{Role: domain.RoleUser, Content: "q1"}
	history[1] = domain.ChatMessage{Role: domain.RoleAssistant, Content: "a1"}

	req, err := NewComposer(nil).Compose(Chat, nil, history, "q2")
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "q2", req.Messages[2].Content)

	req.Messages[0].Content = "changed"
	assert.Equal(t, "q1", history[0].Content)
	assert.Len(t, history, 2)
	assert.Equal(t, domain.ChatMessage{}, history[:3][2], "spare capacity must stay untouched")
}

func TestCompose_SamplingOverride(t *testing.T) {
	c := NewComposer(map[UseCase]Sampling{Chat: {Temperature: 0.3, TopP: 0.5, MaxTokens: 200}})

	req, err := c.Compose(Chat, nil, nil, "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(0.3), req.Spec.Temperature)
	assert.Equal(t, float32(0.5), req.Spec.TopP)
	assert.Equal(t, 200, req.Spec.MaxTokens)

	req, err = c.Compose(Validate, nil, nil, "[]")
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), req.Spec.Temperature)
}

func TestComposeTurn(t *testing.T) {
	c := NewComposer(nil)
	pruned := []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleUser, Content: "q2"},
	}

	req, err := c.ComposeTurn(Chat, nil, pruned)
	require.NoError(t, err)
	assert.Equal(t, pruned, req.Messages)

	_, err = c.ComposeTurn(Chat, nil, pruned[:1])
	assert.Error(t, err)
}
