package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	primary      = lipgloss.AdaptiveColor{Light: "#6490ff", Dark: "#8aabff"}
	primaryLight = lipgloss.AdaptiveColor{Light: "#eaf0ff", Dark: "#2a3456"}
	muted        = lipgloss.AdaptiveColor{Light: "#777777", Dark: "#999999"}
	danger       = lipgloss.AdaptiveColor{Light: "#d9534f", Dark: "#ff7b72"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(primary)

	botStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Background(primaryLight)

	userStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primary)

	overlayStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primary)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primary)

	helpStyle   = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Foreground(danger)
	statusStyle = lipgloss.NewStyle().Foreground(muted).Italic(true)
)
