package server

import (
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/mimirhq/mimir/store"
)

var codeBlockRegexp = regexp.MustCompile("```([a-zA-Z]*)\n([\\s\\S]+?)```")

// formatMessage renders fenced code blocks as highlighted <pre> blocks and
// escapes everything else.
func formatMessage(content string) template.HTML {
	var builder strings.Builder
	last := 0
	for _, match := range codeBlockRegexp.FindAllStringSubmatchIndex(content, -1) {
		builder.WriteString(escapeText(content[last:match[0]]))

		language := content[match[2]:match[3]]
		if language == "" {
			language = "text"
		}
		code := strings.TrimSpace(content[match[4]:match[5]])
		builder.WriteString(fmt.Sprintf(`<pre class="line-numbers"><code class="language-%s">%s</code></pre>`,
			html.EscapeString(language),
			html.EscapeString(code)))
		last = match[1]
	}
	builder.WriteString(escapeText(content[last:]))
	return template.HTML(builder.String())
}

func escapeText(text string) string {
	escaped := template.HTMLEscapeString(text)
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

func roleLabel(message *store.Message) string {
	if message.Role == store.RoleAssistant && message.Model != "" {
		return message.Model
	}
	return strings.ToUpper(message.Role[:1]) + message.Role[1:]
}
