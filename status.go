package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusComponent represents the status bar component
type StatusComponent struct {
	Host      string
	Connected bool
	User      string
	Stream    StreamState
	Width     int
	Style     lipgloss.Style

	theme   *Theme
	spinner spinner.Model

	// Waiting indicator
	waitingForResponse bool
	waitingSince       time.Time
}

// NewStatusComponent creates a new status component
func NewStatusComponent(width int, serverURL string, theme *Theme) StatusComponent {
	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return StatusComponent{
		Host:    host,
		Width:   width,
		theme:   theme,
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		Style: lipgloss.NewStyle().
			Foreground(theme.StatusForeground).
			Padding(0, 1),
	}
}

// SetWidth updates the width of the status component
func (s *StatusComponent) SetWidth(width int) {
	s.Width = width
}

// StartWaiting marks the status component as waiting for a reply and
// returns the command that animates the spinner.
func (s *StatusComponent) StartWaiting() tea.Cmd {
	s.waitingForResponse = true
	s.waitingSince = time.Now()
	return s.spinner.Tick
}

// StopWaiting clears the waiting indicator
func (s *StatusComponent) StopWaiting() {
	s.waitingForResponse = false
}

// Waiting reports whether a reply is awaited.
func (s StatusComponent) Waiting() bool {
	return s.waitingForResponse
}

// Busy reports whether the spinner should keep turning.
func (s StatusComponent) Busy() bool {
	return s.waitingForResponse || s.Stream == StreamStreaming
}

// Update advances the spinner while a reply is pending or streaming and
// lets its tick chain die otherwise.
func (s StatusComponent) Update(msg tea.Msg) (StatusComponent, tea.Cmd) {
	if _, ok := msg.(spinner.TickMsg); !ok || !s.Busy() {
		return s, nil
	}
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

// View renders the status component
func (s StatusComponent) View() string {
	leftSection := s.renderLeftSection()
	middleSection := s.renderMiddleSection()
	rightSection := s.renderRightSection()

	leftWidth := lipgloss.Width(leftSection)
	rightWidth := lipgloss.Width(rightSection)
	middleWidth := lipgloss.Width(middleSection)

	// Account for the horizontal padding (1 left + 1 right)
	availableSpace := s.Width - 2

	if leftWidth+middleWidth+rightWidth > availableSpace {
		if leftWidth+rightWidth > availableSpace {
			maxRightWidth := availableSpace - leftWidth - 3
			if maxRightWidth > 0 {
				rightSection = truncateString(rightSection, maxRightWidth)
			} else {
				rightSection = ""
			}
		}
		middleSection = ""
	}

	leftWidth = lipgloss.Width(leftSection)
	rightWidth = lipgloss.Width(rightSection)
	middleWidth = lipgloss.Width(middleSection)

	var statusLine string
	if middleSection != "" {
		total := leftWidth + middleWidth + rightWidth
		leftSpacing := (availableSpace - total) / 2
		rightSpacing := availableSpace - total - leftSpacing
		statusLine = leftSection + strings.Repeat(" ", leftSpacing) + middleSection + strings.Repeat(" ", rightSpacing) + rightSection
	} else {
		spacing := max(availableSpace-leftWidth-rightWidth, 0)
		statusLine = leftSection + strings.Repeat(" ", spacing) + rightSection
	}

	return s.Style.Render(statusLine)
}

// renderLeftSection renders the server and its connection state
func (s StatusComponent) renderLeftSection() string {
	icon := lipgloss.NewStyle().Foreground(s.theme.Error).Render("○")
	state := "offline"
	if s.Connected {
		icon = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Render("●")
		state = "online"
	}
	return fmt.Sprintf("%s %s %s", icon, s.Host, state)
}

// renderMiddleSection renders the current user
func (s StatusComponent) renderMiddleSection() string {
	if s.User == "" {
		return lipgloss.NewStyle().Foreground(s.theme.Warning).Render("not logged in")
	}
	return "👤 " + s.User
}

// renderRightSection renders the stream state and how long a reply has
// been awaited
func (s StatusComponent) renderRightSection() string {
	switch {
	case s.Stream == StreamStreaming:
		return s.spinner.View() + " streaming"
	case s.waitingForResponse && !s.waitingSince.IsZero():
		text := s.spinner.View() + " waiting"
		if waitSeconds := int(time.Since(s.waitingSince).Seconds()); waitSeconds >= 3 {
			text += fmt.Sprintf("  ⏳ %ds", waitSeconds)
		}
		return text
	default:
		return s.Stream.String()
	}
}

// truncateString truncates a string to fit within maxWidth, adding "..." if needed
func truncateString(str string, maxWidth int) string {
	if lipgloss.Width(str) <= maxWidth {
		return str
	}
	if maxWidth <= 3 {
		return "..."
	}

	// Binary search to find the right length
	left, right := 0, len(str)
	for left < right {
		mid := (left + right + 1) / 2
		if lipgloss.Width(str[:mid]+"...") <= maxWidth {
			left = mid
		} else {
			right = mid - 1
		}
	}
	if left == 0 {
		return "..."
	}
	return str[:left] + "..."
}
