package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/store"
)

func TestGroupMessages(t *testing.T) {
	view := func(role, content, model string, column int) MessageViewModel {
		return MessageViewModel{Message: &store.Message{
			Role: role, Content: content, Model: model, ColumnPosition: column,
		}}
	}

	groups := groupMessages([]MessageViewModel{
		view(store.RoleSystem, "be nice", "", 0),
		view(store.RoleUser, "question", "", 0),
		view(store.RoleAssistant, "answer B", "model/b", 1),
		view(store.RoleAssistant, "answer A", "model/a", 0),
		view(store.RoleUser, "followup", "", 0),
		view(store.RoleAssistant, "more", "model/a", 0),
	})
	require.Len(t, groups, 5)

	assert.Equal(t, "be nice", groups[0].Single.Content)
	assert.Equal(t, "question", groups[1].Single.Content)

	// One turn's replies sit side by side, ordered by column position.
	require.Nil(t, groups[2].Single)
	require.Len(t, groups[2].Columns, 2)
	assert.Equal(t, "answer A", groups[2].Columns[0].Content)
	assert.Equal(t, "answer B", groups[2].Columns[1].Content)

	assert.Equal(t, "followup", groups[3].Single.Content)
	require.Len(t, groups[4].Columns, 1)
	assert.Equal(t, "more", groups[4].Columns[0].Content)

	assert.Empty(t, groupMessages(nil))
}
