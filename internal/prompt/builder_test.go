package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/domain"
)

func TestBuildTurn_OrdersSystemContextHistoryThenUser(t *testing.T) {
	b, err := New("You are a helpful assistant.")
	require.NoError(t, err)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello, how can I help?"},
	}
	messages, err := b.BuildTurn("our refund policy is 30 days", history, "what is your refund policy?")
	require.NoError(t, err)

	require.Len(t, messages, 5)
	assert.Equal(t, domain.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "helpful assistant")
	assert.Equal(t, domain.RoleSystem, messages[1].Role)
	assert.Contains(t, messages[1].Content, "refund policy is 30 days")
	assert.Equal(t, domain.RoleUser, messages[2].Role)
	assert.Equal(t, domain.RoleAssistant, messages[3].Role)
	assert.Equal(t, domain.RoleUser, messages[4].Role)
	assert.Equal(t, "what is your refund policy?", messages[4].Content)
}

func TestBuildTurn_OmitsContextMessageWhenEmpty(t *testing.T) {
	b, err := New("system prompt")
	require.NoError(t, err)

	messages, err := b.BuildTurn("", nil, "hello")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[1].Role)
}

func TestNew_RejectsInvalidTemplate(t *testing.T) {
	_, err := New("{{ .Unclosed")
	assert.Error(t, err)
}

func TestWindow_ClampsToMostRecentN(t *testing.T) {
	history := make([]domain.Message, 25)
	for i := range history {
		history[i] = domain.Message{ID: string(rune('a' + i))}
	}
	windowed := Window(history, 20)
	require.Len(t, windowed, 20)
	assert.Equal(t, history[5].ID, windowed[0].ID)
	assert.Equal(t, history[24].ID, windowed[19].ID)
}

func TestWindow_ReturnsAllWhenShorterThanN(t *testing.T) {
	history := []domain.Message{{ID: "1"}, {ID: "2"}}
	assert.Len(t, Window(history, 20), 2)
}
