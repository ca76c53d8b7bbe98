package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceText(t *testing.T) {
	tests := []struct {
		name     string
		msg      BotMessage
		expected string
	}{
		{
			name:     "markdown wins",
			msg:      BotMessage{Markdown: "**hi**", HTML: "<p><strong>hi</strong></p>"},
			expected: "**hi**",
		},
		{
			name:     "html reduced to text",
			msg:      BotMessage{HTML: "<p>Hello <em>there</em></p><p>Second</p>"},
			expected: "Hello there\n\nSecond",
		},
		{
			name:     "entities are unescaped",
			msg:      BotMessage{HTML: "<p>a &lt; b &amp;&amp; c</p>"},
			expected: "a < b && c",
		},
		{
			name:     "scripts are dropped",
			msg:      BotMessage{HTML: "<p>safe</p><script>alert(1)</script>"},
			expected: "safe",
		},
		{
			name:     "line breaks survive",
			msg:      BotMessage{HTML: "one<br>two<br/>three"},
			expected: "one\ntwo\nthree",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SourceText(tt.msg))
		})
	}
}

func TestRenderPlain(t *testing.T) {
	r := NewMessageRenderer(newTheme(true), false)
	r.SetWidth(40)

	user := r.Render(UserMessage{Body: "Hi"})
	assert.Contains(t, user, "You: Hi")

	bot := r.Render(BotMessage{Markdown: "**Hello!**"})
	assert.Contains(t, bot, "**Hello!**")

	htmlOnly := r.Render(BotMessage{HTML: "<p>from html</p>"})
	assert.Contains(t, htmlOnly, "from html")
	assert.NotContains(t, htmlOnly, "<p>")
}

func TestRenderMarkdown(t *testing.T) {
	r := NewMessageRenderer(newTheme(true), true)
	r.SetWidth(60)

	out := r.Render(BotMessage{Markdown: "# Title\n\nSome `code` here."})
	assert.Contains(t, out, "Title")
	assert.NotContains(t, out, "# Title")
	assert.NotNil(t, r.term)

	// Changing width rebuilds the renderer on next use.
	r.SetWidth(30)
	assert.Nil(t, r.term)
}

func TestRenderWrapsLongLines(t *testing.T) {
	r := NewMessageRenderer(newTheme(false), false)
	r.SetWidth(24)

	out := r.RenderInProgress(strings.Repeat("word ", 20))
	assert.Greater(t, strings.Count(out, "\n"), 2)
}
