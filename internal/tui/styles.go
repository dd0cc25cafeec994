// SPDX-License-Identifier: MIT
package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorText   = lipgloss.Color("#FFFDF5")
	colorAccent = lipgloss.Color("#25A065")
)

var (
	titleStyle     = lipgloss.NewStyle().Foreground(colorText).Background(colorAccent).Padding(0, 1).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(colorText)
	highlightStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
)

// Shared by the picker and the monitor.
var (
	keyQuit  = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp    = key.NewBinding(key.WithKeys("up", "k"))
	keyDown  = key.NewBinding(key.WithKeys("down", "j"))
	keyEnter = key.NewBinding(key.WithKeys("enter"))
	keyBack  = key.NewBinding(key.WithKeys("esc"))

	keyPause  = key.NewBinding(key.WithKeys("p", " "))
	keyLog    = key.NewBinding(key.WithKeys("l"))
	keyLayout = key.NewBinding(key.WithKeys("c"))
)
