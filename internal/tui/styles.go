package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styling degrades with the terminal: truecolor picks the full palette,
// everything below falls back through lipgloss's adaptive handling.
var hasColor = termenv.ColorProfile() != termenv.Ascii

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	selfStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	peerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135"))
	highStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusDot = map[string]string{
		"online":   "●",
		"busy":     "◆",
		"away":     "○",
		"focusing": "◎",
	}
)

func init() {
	if !hasColor {
		plain := lipgloss.NewStyle()
		headerStyle = plain.Padding(0, 1)
		footerStyle = plain.Padding(0, 1)
		timeStyle, selfStyle, peerStyle = plain, plain, plain
		agentStyle, highStyle, mutedStyle, errStyle = plain, plain, plain, plain
	}
}
