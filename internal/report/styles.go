package report

import (
	"charm.land/lipgloss/v2"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
)

var (
	hostStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	stderrStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	headerOKStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	headerDifferStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Bold(true)

	headerFailStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	skippedStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	diffAddStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	diffDelStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	diffHdrStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	summaryOKStyle      = headerOKStyle
	summaryPartialStyle = headerDifferStyle
	summaryFailStyle    = headerFailStyle
)

// paint renders text with style when color is enabled.
func (f *Formatter) paint(style lipgloss.Style, text string) string {
	if !f.Color {
		return text
	}
	return style.Render(text)
}

// classStyle picks the header style for a host outcome.
func classStyle(c executor.Classification) lipgloss.Style {
	switch c {
	case executor.OK:
		return headerOKStyle
	case executor.Skipped, executor.Cancelled:
		return skippedStyle
	default:
		return headerFailStyle
	}
}
