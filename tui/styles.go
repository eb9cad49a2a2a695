package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpnrdp-manager/connection"
)

// Adaptive colors that work on light and dark terminals.
var (
	colorPurple = lipgloss.AdaptiveColor{Light: "#7B2FBE", Dark: "#B97EFF"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	colorAmber  = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	colorBlue   = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#7AA2F7"}
	colorSubtle = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	colorDimFg  = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
)

var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			PaddingRight(2)

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple)

	nameStyle = lipgloss.NewStyle().
			Width(20)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDimFg)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple)

	inSparkStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	outSparkStyle = lipgloss.NewStyle().Foreground(colorBlue)

	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDimFg).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAmber).
			Padding(0, 1)
)

// Status pill styles.
var (
	pillBase = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)

	connectedPillStyle    = pillBase.Background(colorGreen)
	connectingPillStyle   = pillBase.Background(colorAmber)
	failedPillStyle       = pillBase.Background(colorRed)
	disconnectedPillStyle = pillBase.Background(colorSubtle)
)

// Notification styles.
var (
	notifSuccessStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true).
				Padding(0, 1)

	notifErrorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true).
			Padding(0, 1)
)

func pillStyle(s connection.Status) lipgloss.Style {
	switch {
	case s == connection.StatusConnected:
		return connectedPillStyle
	case s.Active():
		return connectingPillStyle
	case s.Failed():
		return failedPillStyle
	default:
		return disconnectedPillStyle
	}
}
