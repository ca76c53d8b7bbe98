package main

import (
	"html"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/muesli/reflow/wordwrap"
)

// blockBreaks turns block-level closing tags into line breaks before the
// markup is stripped, so paragraphs survive as text.
var blockBreaks = strings.NewReplacer(
	"</p>", "</p>\n\n",
	"<br>", "\n",
	"<br/>", "\n",
	"<br />", "\n",
	"</li>", "</li>\n",
	"</pre>", "</pre>\n\n",
	"</h1>", "</h1>\n\n",
	"</h2>", "</h2>\n\n",
	"</h3>", "</h3>\n\n",
)

var stripPolicy = bluemonday.StrictPolicy()

// htmlToText reduces server-rendered HTML to plain text for the terminal.
func htmlToText(s string) string {
	text := stripPolicy.Sanitize(blockBreaks.Replace(s))
	return strings.TrimSpace(html.UnescapeString(text))
}

// SourceText returns the text used to display and copy a bot message:
// the markdown, or the HTML reduced to text when no markdown was sent.
func SourceText(m BotMessage) string {
	if m.Markdown != "" {
		return m.Markdown
	}
	return htmlToText(m.HTML)
}

// MessageRenderer turns transcript entries into styled terminal text.
type MessageRenderer struct {
	theme    *Theme
	markdown bool
	width    int
	term     *glamour.TermRenderer
}

// NewMessageRenderer creates a renderer. When markdown is false bot
// replies are shown as wrapped plain text.
func NewMessageRenderer(theme *Theme, markdown bool) *MessageRenderer {
	return &MessageRenderer{theme: theme, markdown: markdown}
}

// SetWidth sets the wrap width. The glamour renderer is rebuilt lazily.
func (r *MessageRenderer) SetWidth(width int) {
	if width == r.width {
		return
	}
	r.width = width
	r.term = nil
}

func (r *MessageRenderer) termRenderer() *glamour.TermRenderer {
	if r.term != nil {
		return r.term
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStyles(r.theme.Markdown),
		glamour.WithWordWrap(max(r.width-2, 10)),
	)
	if err != nil {
		slog.Warn("render.glamour_init_failed", "error", err)
		return nil
	}
	r.term = tr
	return tr
}

// Render returns the display form of m.
func (r *MessageRenderer) Render(m Message) string {
	switch m := m.(type) {
	case UserMessage:
		return r.theme.UserStyle().Render(r.wrap("You: " + m.Body))
	case BotMessage:
		return r.renderBot(m)
	default:
		return ""
	}
}

func (r *MessageRenderer) renderBot(m BotMessage) string {
	if r.markdown && m.Markdown != "" {
		if tr := r.termRenderer(); tr != nil {
			out, err := tr.Render(m.Markdown)
			if err == nil {
				return strings.Trim(out, "\n")
			}
			slog.Debug("render.markdown_failed", "error", err)
		}
	}
	return r.theme.BotStyle().Render(r.wrap(SourceText(m)))
}

// RenderInProgress shows the partially streamed reply. Tokens may split
// markdown constructs, so the text is only wrapped, never parsed.
func (r *MessageRenderer) RenderInProgress(text string) string {
	return r.theme.InProgressStyle().Render(r.wrap(text))
}

func (r *MessageRenderer) wrap(s string) string {
	if r.width <= 4 {
		return s
	}
	return wordwrap.String(s, r.width-4)
}
