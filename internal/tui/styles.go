package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.ANSIColor(14)
	userColor      = lipgloss.ANSIColor(12)
	assistantColor = lipgloss.ANSIColor(13)
	warnColor      = lipgloss.ANSIColor(11)
	errorColor     = lipgloss.ANSIColor(9)
	dimColor       = lipgloss.ANSIColor(8)

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(userColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(assistantColor).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	viewportStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(dimColor)

	confirmStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(warnColor).
			Padding(0, 1)

	presetStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)
)
