package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the chat window bindings.
type KeyMap struct {
	Submit  key.Binding
	Confirm key.Binding
	Reject  key.Binding
	Reset   key.Binding
	Quit    key.Binding
	Up      key.Binding
	Down    key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "보내기"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "예"),
		),
		Reject: key.NewBinding(
			key.WithKeys("n", "N"),
			key.WithHelp("n", "아니오"),
		),
		Reset: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "새 대화"),
		),
		Quit: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("Esc", "종료"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "pgup"),
			key.WithHelp("↑", "위로"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "pgdown"),
			key.WithHelp("↓", "아래로"),
		),
	}
}

func helpLine(bindings ...key.Binding) string {
	var out string
	for i, b := range bindings {
		if i > 0 {
			out += " · "
		}
		h := b.Help()
		out += h.Key + " " + h.Desc
	}
	return out
}
