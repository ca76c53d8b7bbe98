package main

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// exportTranscript writes the transcript as markdown to a temp file and
// returns its path.
func exportTranscript(t *Transcript, serverURL string, now time.Time) (string, error) {
	if t == nil || t.Len() == 0 {
		return "", fmt.Errorf("nothing to export")
	}

	content := generateExportContent(t, serverURL, now)

	timestamp := now.Format("20060102-150405")
	filename := fmt.Sprintf("streamchat-export-%s.md", timestamp)
	path := filepath.Join(os.TempDir(), filename)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// generateExportContent renders the transcript as a markdown document.
// Bot replies keep their markdown source; html-only replies are reduced
// to text.
func generateExportContent(t *Transcript, serverURL string, now time.Time) string {
	var b strings.Builder

	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		host = u.Host
	}
	b.WriteString("# Chat Export\n\n")
	fmt.Fprintf(&b, "**Server:** %s | **Exported:** %s | **Messages:** %d\n\n", host, now.Format("2006-01-02 15:04:05"), t.Len())
	b.WriteString("---\n\n")

	for msg := range t.All() {
		switch m := msg.(type) {
		case UserMessage:
			b.WriteString("## You\n\n")
			b.WriteString(m.Body)
		case BotMessage:
			b.WriteString("## Reply\n\n")
			b.WriteString(SourceText(m))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// openInEditor creates a command to open the specified file in the user's preferred editor
func openInEditor(path string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	return exec.Command(editor, path)
}
