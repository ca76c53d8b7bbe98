package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const welcomeText = "Connected chats stream here. Send a message to start."

// ChatComponent represents the transcript view
type ChatComponent struct {
	Viewport     viewport.Model
	Width        int
	Height       int
	Style        lipgloss.Style
	AutoScroll   bool // Track if auto-scrolling is enabled
	UserScrolled bool // Track if user has manually scrolled

	renderer *MessageRenderer
	// rendered caches the display form of each transcript entry. The
	// transcript only grows, so entry i never needs rendering twice at the
	// same width.
	rendered   []string
	inProgress string
}

// NewChatComponent creates a new chat component
func NewChatComponent(width, height int, theme *Theme, renderer *MessageRenderer) ChatComponent {
	c := ChatComponent{
		Viewport:     viewport.New(max(width-2, 1), max(height-2, 1)),
		AutoScroll:   true,
		UserScrolled: false,
		renderer:     renderer,
		Style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.ChatBorder),
	}
	c.SetWidth(width)
	c.SetHeight(height)
	return c
}

// SetWidth updates the width of the chat component
func (c *ChatComponent) SetWidth(width int) {
	if width == c.Width {
		return
	}
	c.Width = width
	c.Style = c.Style.Width(max(width-2, 1))
	c.Viewport.Width = max(width-2, 1)
	c.renderer.SetWidth(max(width-2, 1))
	c.rendered = nil
}

// SetHeight sets the total rows of the component, borders included.
func (c *ChatComponent) SetHeight(height int) {
	c.Height = height
	c.Style = c.Style.Height(max(height-2, 1))
	c.Viewport.Height = max(height-2, 1)
	c.scroll()
}

// Sync brings the view up to date with the transcript and the reply that
// is still streaming.
func (c *ChatComponent) Sync(t *Transcript, inProgress string) {
	if len(c.rendered) > t.Len() {
		c.rendered = nil
	}
	i := 0
	for m := range t.All() {
		if i >= len(c.rendered) {
			c.rendered = append(c.rendered, c.renderer.Render(m))
		}
		i++
	}
	c.inProgress = inProgress
	c.UpdateContent()
}

// UpdateContent updates the viewport content from the cached entries
func (c *ChatComponent) UpdateContent() {
	views := append([]string(nil), c.rendered...)
	if c.inProgress != "" {
		views = append(views, c.renderer.RenderInProgress(c.inProgress))
	}
	if len(views) == 0 {
		views = append(views, welcomeText)
	}
	c.Viewport.SetContent(strings.Join(views, "\n\n"))
	c.scroll()
}

func (c *ChatComponent) scroll() {
	// Only auto-scroll if user hasn't manually scrolled
	if c.AutoScroll && !c.UserScrolled {
		c.Viewport.GotoBottom()
	}
}

// Update handles scrolling for the chat component
func (c ChatComponent) Update(msg tea.Msg) (ChatComponent, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.MouseMsg:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			c.Viewport.LineUp(1)
			c.UserScrolled = true
		case tea.MouseButtonWheelDown:
			c.Viewport.LineDown(1)
			c.UserScrolled = !c.Viewport.AtBottom()
		}
		return c, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "pgup":
			c.Viewport.HalfViewUp()
			c.UserScrolled = true
		case "pgdown":
			c.Viewport.HalfViewDown()
			c.UserScrolled = !c.Viewport.AtBottom()
		case "ctrl+end":
			c.Viewport.GotoBottom()
			// If user scrolls to bottom, re-enable auto-scroll
			c.UserScrolled = false
			c.AutoScroll = true
		}
		return c, nil
	}
	return c, nil
}

// View renders the chat component
func (c ChatComponent) View() string {
	return c.Style.Render(c.Viewport.View())
}
