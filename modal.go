package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type modalCancelledMsg struct{}

// editSubmittedMsg carries the text confirmed in the edit modal.
type editSubmittedMsg struct{ text string }

var (
	modalBorderColor = lipgloss.Color("62")
	modalTitleStyle  = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("230")).
				Padding(0, 1)
	modalHintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// BaseModal represents a read-only modal dialog
type BaseModal struct {
	Title   string
	Content string
	Width   int
	Style   lipgloss.Style
}

// NewBaseModal creates a new base modal
func NewBaseModal(title, content string, width int) *BaseModal {
	return &BaseModal{
		Title:   title,
		Content: content,
		Width:   width,
		Style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(modalBorderColor).
			Padding(0, 1),
	}
}

// Render renders the modal
func (m *BaseModal) Render() string {
	inner := max(m.Width-4, 10)
	title := modalTitleStyle.Width(inner).Render(m.Title)
	content := lipgloss.NewStyle().Width(inner).Render(m.Content)
	hint := modalHintStyle.Render("esc to close")
	return m.Style.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", content, "", hint))
}

// Update closes the modal on esc, enter or q
func (m *BaseModal) Update(msg tea.Msg) (*BaseModal, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "enter", "q":
			return m, func() tea.Msg { return modalCancelledMsg{} }
		}
	}
	return m, nil
}

// EditModal lets the user rework a previous message before sending it
// again. Its input grows with its content through the AutoSizer it is
// registered with.
type EditModal struct {
	Title   string
	Width   int
	MaxRows int

	input textarea.Model
	Style lipgloss.Style
}

// NewEditModal creates an edit modal prefilled with text
func NewEditModal(text string, width, maxRows int) *EditModal {
	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.KeyMap.InsertNewline = newlineKeys
	ta.SetWidth(max(width-4, 10))
	ta.SetValue(text)
	ta.Focus()

	return &EditModal{
		Title:   "Edit message",
		Width:   width,
		MaxRows: max(maxRows, 1),
		input:   ta,
		Style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(modalBorderColor).
			Padding(0, 1),
	}
}

// Value returns the edited text
func (m *EditModal) Value() string {
	return m.input.Value()
}

// ContentWidth returns the columns available to text
func (m *EditModal) ContentWidth() int {
	return m.input.Width()
}

// SoftWrap is true: the textarea wraps long lines
func (m *EditModal) SoftWrap() bool {
	return true
}

// SetHeight resizes the input, bounded by MaxRows
func (m *EditModal) SetHeight(rows int) {
	m.input.SetHeight(min(max(rows, 1), m.MaxRows))
}

// Height returns the visible rows of the input
func (m *EditModal) Height() int {
	return m.input.Height()
}

// Update handles keys for the modal. Enter confirms, esc cancels and
// everything else edits the text.
func (m *EditModal) Update(msg tea.Msg) (*EditModal, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			return m, func() tea.Msg { return modalCancelledMsg{} }
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			return m, func() tea.Msg { return editSubmittedMsg{text: text} }
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Render renders the modal
func (m *EditModal) Render() string {
	inner := max(m.Width-4, 10)
	title := modalTitleStyle.Width(inner).Render(m.Title)
	hint := modalHintStyle.Render("enter to send, alt+enter for a new line, esc to cancel")
	return m.Style.Render(lipgloss.JoinVertical(lipgloss.Left, title, m.input.View(), hint))
}
