package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/ariasync/internal/model"
)

// === Color Palette ===
var (
	colorNeonPurple = lipgloss.AdaptiveColor{Light: "#5d40c9", Dark: "#bd93f9"}
	colorNeonCyan   = lipgloss.AdaptiveColor{Light: "#0073a8", Dark: "#8be9fd"}
	colorLightGray  = lipgloss.AdaptiveColor{Light: "#4a4a4a", Dark: "#a9b1d6"}
	colorGray       = lipgloss.AdaptiveColor{Light: "#d0d0d0", Dark: "#44475a"}
)

// === Semantic State Colors ===
var (
	colorStateError       = lipgloss.AdaptiveColor{Light: "#d32f2f", Dark: "#ff5555"}
	colorStatePaused      = lipgloss.AdaptiveColor{Light: "#f57c00", Dark: "#ffb86c"}
	colorStateDownloading = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#50fa7b"}
	colorStateDone        = lipgloss.AdaptiveColor{Light: "#7b1fa2", Dark: "#bd93f9"}
)

var (
	poolHeaderStyle = lipgloss.NewStyle().
			Foreground(colorNeonPurple).
			Bold(true)

	categoryHeaderStyle = lipgloss.NewStyle().
				Foreground(colorNeonCyan).
				PaddingLeft(1)

	columnHeaderStyle = lipgloss.NewStyle().
				Foreground(colorLightGray).
				Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(colorGray)

	errorTextStyle = lipgloss.NewStyle().Foreground(colorStateError)
)

func stateStyle(s model.ConnState) lipgloss.Style {
	if s == model.Connected {
		return lipgloss.NewStyle().Foreground(colorStateDownloading)
	}
	return lipgloss.NewStyle().Foreground(colorStateError)
}

func statusStyle(s model.Status) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch s {
	case model.StatusActive:
		return style.Foreground(colorStateDownloading)
	case model.StatusQueued, model.StatusPaused:
		return style.Foreground(colorStatePaused)
	case model.StatusComplete:
		return style.Foreground(colorStateDone)
	case model.StatusError, model.StatusRemoved:
		return style.Foreground(colorStateError)
	}
	return style.Foreground(colorLightGray)
}
