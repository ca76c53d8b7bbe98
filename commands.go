package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

// Command represents a slash command
type Command struct {
	Name        string
	Description string
	Handler     func(*TUIModel, []string) tea.Cmd
}

// CommandRegistry holds all available commands
type CommandRegistry struct {
	Commands map[string]Command
	order    []string
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() CommandRegistry {
	registry := CommandRegistry{
		Commands: make(map[string]Command),
	}

	// Register built-in commands
	registry.RegisterCommand("/help", "Show help information", handleHelpCommand)
	registry.RegisterCommand("/reconnect", "Open a fresh connection to the server", handleReconnectCommand)
	registry.RegisterCommand("/copy", "Copy the last reply's markdown to the clipboard", handleCopyCommand)
	registry.RegisterCommand("/edit", "Edit and resend your last message", handleEditCommand)
	registry.RegisterCommand("/export", "Write the transcript to a markdown file (add 'edit' to open it)", handleExportCommand)
	registry.RegisterCommand("/whoami", "Show the logged-in user", handleWhoamiCommand)
	registry.RegisterCommand("/quit", "Quit the application", handleQuitCommand)

	return registry
}

// RegisterCommand registers a new command
func (cr *CommandRegistry) RegisterCommand(name, description string, handler func(*TUIModel, []string) tea.Cmd) {
	if _, exists := cr.Commands[name]; !exists {
		cr.order = append(cr.order, name)
	}
	cr.Commands[name] = Command{
		Name:        name,
		Description: description,
		Handler:     handler,
	}
}

// GetCommand gets a command by name
func (cr CommandRegistry) GetCommand(name string) (Command, bool) {
	cmd, exists := cr.Commands[name]
	return cmd, exists
}

// GetAllCommands returns all registered commands
func (cr CommandRegistry) GetAllCommands() []Command {
	var commands []Command
	for _, name := range cr.order {
		if cmd, ok := cr.Commands[name]; ok {
			commands = append(commands, cmd)
		}
	}
	return commands
}

// Command handlers

type showHelpMsg struct{}

// editorClosedMsg reports the end of an editor session on an export.
type editorClosedMsg struct {
	path string
	err  error
}

// copyToClipboard is swapped out in tests.
var copyToClipboard = clipboard.WriteAll

func handleHelpCommand(model *TUIModel, args []string) tea.Cmd {
	return func() tea.Msg { return showHelpMsg{} }
}

func helpText(registry CommandRegistry) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range registry.GetAllCommands() {
		fmt.Fprintf(&b, "  %-11s %s\n", cmd.Name, cmd.Description)
	}
	b.WriteString("\nKeys:\n")
	b.WriteString("  enter       send the message\n")
	b.WriteString("  alt+enter   new line (ctrl+j works too)\n")
	b.WriteString("  up/down     recall earlier messages\n")
	b.WriteString("  pgup/pgdown scroll the transcript\n")
	b.WriteString("  ctrl+c      quit")
	return b.String()
}

func handleReconnectCommand(model *TUIModel, args []string) tea.Cmd {
	model.session.Disconnect()
	model.status.Connected = false
	model.status.StopWaiting()
	model.syncChat()
	return tea.Batch(
		model.toastManager.AddToast("Reconnecting...", "info", 2*time.Second),
		model.connectCmd(model.session.Generation()),
	)
}

func handleCopyCommand(model *TUIModel, args []string) tea.Cmd {
	last, ok := model.session.Transcript().Last("bot")
	if !ok {
		return model.toastManager.AddToast("Nothing to copy yet", "warning", 3*time.Second)
	}
	if err := copyToClipboard(SourceText(last.(BotMessage))); err != nil {
		return model.toastManager.AddToast(fmt.Sprintf("Copy failed: %v", err), "error", 4*time.Second)
	}
	return model.toastManager.AddToast("Copied reply to clipboard", "success", 3*time.Second)
}

func handleEditCommand(model *TUIModel, args []string) tea.Cmd {
	last, ok := model.session.Transcript().Last("user")
	if !ok {
		return model.toastManager.AddToast("No message to edit", "warning", 3*time.Second)
	}
	model.openEditModal(last.Text())
	return nil
}

func handleExportCommand(model *TUIModel, args []string) tea.Cmd {
	path, err := exportTranscript(model.session.Transcript(), model.config.Server.URL, time.Now())
	if err != nil {
		return model.toastManager.AddToast(fmt.Sprintf("Export failed: %v", err), "warning", 3*time.Second)
	}
	slog.Info("transcript.exported", "path", path)
	if len(args) > 0 && args[0] == "edit" {
		return tea.ExecProcess(openInEditor(path), func(err error) tea.Msg {
			return editorClosedMsg{path: path, err: err}
		})
	}
	return model.toastManager.AddToast(fmt.Sprintf("Exported to %s", path), "success", 4*time.Second)
}

func handleWhoamiCommand(model *TUIModel, args []string) tea.Cmd {
	return model.currentUserCmd(model.session.Generation(), true)
}

func handleQuitCommand(model *TUIModel, args []string) tea.Cmd {
	model.session.Unmount()
	return tea.Quit
}
