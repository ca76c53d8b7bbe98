package main

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// newlineKeys insert a line break instead of submitting. Terminals do not
// report Shift+Enter, so Alt+Enter and Ctrl+J take its place.
var newlineKeys = key.NewBinding(
	key.WithKeys("alt+enter", "ctrl+j"),
	key.WithHelp("alt+enter", "newline"),
)

// PromptComponent represents the user input text area
type PromptComponent struct {
	TextArea textarea.Model
	Height   int
	Width    int
	Style    lipgloss.Style
}

// NewPromptComponent creates a new prompt component
func NewPromptComponent(width, height int, theme *Theme) PromptComponent {
	ta := textarea.New()
	ta.Placeholder = "Type a message, Enter to send, Alt+Enter for a new line"
	ta.ShowLineNumbers = false
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.KeyMap.InsertNewline = newlineKeys
	ta.Focus()

	p := PromptComponent{
		TextArea: ta,
		Style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true, false, false, false).
			BorderForeground(theme.PromptBorder),
	}
	p.SetWidth(width)
	p.SetHeight(height)
	return p
}

// SetWidth updates the width of the prompt component
func (p *PromptComponent) SetWidth(width int) {
	p.Width = width
	p.TextArea.SetWidth(max(width, 1))
}

// SetHeight sets the total rows of the component, the top border included.
func (p *PromptComponent) SetHeight(height int) {
	p.Height = height
	p.TextArea.SetHeight(max(height-1, 1))
}

// SetValue sets the text value of the prompt
func (p *PromptComponent) SetValue(value string) {
	p.TextArea.SetValue(value)
}

// Reset clears the prompt
func (p *PromptComponent) Reset() {
	p.TextArea.Reset()
}

// Value returns the current text value
func (p PromptComponent) Value() string {
	return p.TextArea.Value()
}

// Focus gives focus to the prompt
func (p *PromptComponent) Focus() tea.Cmd {
	return p.TextArea.Focus()
}

// Blur removes focus from the prompt
func (p *PromptComponent) Blur() {
	p.TextArea.Blur()
}

// Update handles messages for the prompt component
func (p PromptComponent) Update(msg tea.Msg) (PromptComponent, tea.Cmd) {
	var cmd tea.Cmd
	p.TextArea, cmd = p.TextArea.Update(msg)
	return p, cmd
}

// View renders the prompt component
func (p PromptComponent) View() string {
	return p.Style.Render(p.TextArea.View())
}
