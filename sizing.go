package main

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// SizingMetrics describes the container the input lives in. FontSize is
// the line height; glyphs are assumed to be half as wide.
type SizingMetrics struct {
	FontSize       float64
	Width          float64
	ViewportHeight float64
}

// Sizing is the derived split between transcript and input.
type Sizing struct {
	CharsPerLine     int
	Lines            int
	InputHeight      float64
	TranscriptHeight float64
}

// EstimateSizing derives input and transcript heights from the input
// text. It is a heuristic: no text is measured, wrapping is estimated
// from the font size alone. The input grows with its line count and is
// capped at half the viewport.
func EstimateSizing(text string, m SizingMetrics) Sizing {
	viewport := math.Max(m.ViewportHeight, 0)
	f := math.Max(m.FontSize, 0)

	cpl := 1
	if f > 0 {
		cpl = int(math.Round((m.Width-f)/f)) * 2
	}
	cpl = max(cpl, 1)

	lines := countWrappedLines(text, cpl)
	input := math.Min(float64(lines)*f+f*2, math.Round(viewport*0.5))
	input = math.Max(input, 0)

	return Sizing{
		CharsPerLine:     cpl,
		Lines:            lines,
		InputHeight:      input,
		TranscriptHeight: viewport - input,
	}
}

// countWrappedLines counts line breaks, literal or estimated, in one pass.
func countWrappedLines(text string, charsPerLine int) int {
	lines, col := 0, 0
	for _, r := range text {
		if r == '\n' {
			lines++
			col = 0
			continue
		}
		col++
		if col >= charsPerLine {
			lines++
			col = 0
		}
	}
	return lines
}

// halfRowsPerRow is the terminal sizing unit. A cell is one column wide
// and two half-rows tall, so a glyph is half as wide as it is high.
const halfRowsPerRow = 2

// TerminalLayout is Sizing converted to whole terminal rows.
type TerminalLayout struct {
	Lines          int
	InputRows      int
	TranscriptRows int
}

// LayoutRows runs EstimateSizing for an input of the given outer width
// inside rows terminal rows.
func LayoutRows(text string, width, rows int) TerminalLayout {
	rows = max(rows, 0)
	s := EstimateSizing(text, SizingMetrics{
		FontSize:       halfRowsPerRow,
		Width:          float64(width),
		ViewportHeight: float64(rows * halfRowsPerRow),
	})
	input := int(s.InputHeight) / halfRowsPerRow
	return TerminalLayout{
		Lines:          s.Lines,
		InputRows:      input,
		TranscriptRows: rows - input,
	}
}

// AutoSizable is an input whose height follows its content.
type AutoSizable interface {
	Value() string
	// ContentWidth is the number of columns available to text.
	ContentWidth() int
	// SoftWrap reports whether long lines wrap instead of scrolling.
	SoftWrap() bool
	SetHeight(rows int)
}

// AutoSizer keeps registered inputs sized to their content. Components
// that create auto-sizing inputs at runtime must Register them and
// Unregister them when they go away.
type AutoSizer struct {
	probe    *scrollbarProbe
	elements []AutoSizable
}

// NewAutoSizer returns a sizer that shares the process-wide scrollbar
// measurement.
func NewAutoSizer() *AutoSizer {
	return &AutoSizer{probe: sharedScrollbarProbe}
}

// Register adds el and sizes it immediately.
func (a *AutoSizer) Register(el AutoSizable) {
	if el == nil {
		return
	}
	for _, e := range a.elements {
		if e == el {
			return
		}
	}
	a.elements = append(a.elements, el)
	a.fit(el)
}

// Unregister removes el. Unknown elements are ignored.
func (a *AutoSizer) Unregister(el AutoSizable) {
	for i, e := range a.elements {
		if e == el {
			a.elements = append(a.elements[:i], a.elements[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered inputs.
func (a *AutoSizer) Len() int {
	return len(a.elements)
}

// Fit resizes every registered input.
func (a *AutoSizer) Fit() {
	for _, el := range a.elements {
		a.fit(el)
	}
}

// HeightFor returns the rows el needs: its content lines plus the
// horizontal scrollbar when a line overflows.
func (a *AutoSizer) HeightFor(el AutoSizable) int {
	width := max(el.ContentWidth(), 1)
	value := el.Value()

	if el.SoftWrap() {
		return countWrappedLines(value, width) + 1
	}

	rows, overflow := 0, false
	for _, line := range strings.Split(value, "\n") {
		rows++
		if lipgloss.Width(line) > width {
			overflow = true
		}
	}
	if overflow {
		rows += a.probe.Height()
	}
	return rows
}

func (a *AutoSizer) fit(el AutoSizable) {
	el.SetHeight(a.HeightFor(el))
}

// scrollbarProbe measures the horizontal scrollbar once and remembers
// the result.
type scrollbarProbe struct {
	once    sync.Once
	measure func() int
	height  int
}

func (p *scrollbarProbe) Height() int {
	p.once.Do(func() {
		p.height = max(p.measure(), 0)
		slog.Debug("sizing.scrollbar_measured", "rows", p.height)
	})
	return p.height
}

var sharedScrollbarProbe = &scrollbarProbe{measure: measureScrollbar}

var scrollbarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#373702"))

// renderScrollbar draws a horizontal track with the thumb at offset.
func renderScrollbar(width, offset, total int) string {
	if width <= 0 {
		return ""
	}
	thumb := width
	if total > width {
		thumb = max(width*width/total, 1)
	}
	start := 0
	if total > width {
		start = min(offset*width/total, width-thumb)
	}
	track := strings.Repeat("─", start) + strings.Repeat("━", thumb) + strings.Repeat("─", width-start-thumb)
	return scrollbarStyle.Render(track)
}

func measureScrollbar() int {
	return lipgloss.Height(renderScrollbar(8, 0, 16))
}
