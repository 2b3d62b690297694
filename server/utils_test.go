package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mimirhq/mimir/store"
)

func TestFormatMessage(t *testing.T) {
	rendered := string(formatMessage("before\n```go\nfmt.Println(\"hi\")\n```\nafter"))
	assert.Contains(t, rendered, "before<br>")
	assert.Contains(t, rendered, `<code class="language-go">`)
	assert.Contains(t, rendered, "fmt.Println(&#34;hi&#34;)")
	assert.Contains(t, rendered, "<br>after")

	rendered = string(formatMessage("```\nplain block\n```"))
	assert.Contains(t, rendered, `<code class="language-text">`)

	// No fences: everything is escaped.
	rendered = string(formatMessage("a < b\nnext"))
	assert.Equal(t, "a &lt; b<br>next", rendered)
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "User", roleLabel(&store.Message{Role: store.RoleUser}))
	assert.Equal(t, "System", roleLabel(&store.Message{Role: store.RoleSystem}))
	assert.Equal(t, "openai/gpt-4o", roleLabel(&store.Message{Role: store.RoleAssistant, Model: "openai/gpt-4o"}))
	assert.Equal(t, "Assistant", roleLabel(&store.Message{Role: store.RoleAssistant}))
}
