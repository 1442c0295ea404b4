package tui

import "github.com/charmbracelet/lipgloss"

type uiTheme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	inputPanel  lipgloss.Style
	helpText    lipgloss.Style
	modalFrame  lipgloss.Style
	modalPick   lipgloss.Style
	accent      lipgloss.Style

	roleUser      lipgloss.Style
	roleAssistant lipgloss.Style
	tool          lipgloss.Style
	citation      lipgloss.Style
	inlineError   lipgloss.Style
}

func newTheme() uiTheme {
	amber := lipgloss.Color("#ffb454")
	teal := lipgloss.Color("#3dd6c6")
	coral := lipgloss.Color("#ff6b6b")
	bg := lipgloss.Color("#101418")
	panelBg := lipgloss.Color("#182026")
	text := lipgloss.Color("#e6edf3")
	muted := lipgloss.Color("#8b98a5")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(amber).
			Foreground(lipgloss.Color("#1a1206")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#24303a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(amber).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(teal).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(coral).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		helpText: lipgloss.NewStyle().Foreground(muted),
		modalFrame: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(coral).
			Padding(1, 2),
		modalPick: lipgloss.NewStyle().Foreground(amber).Bold(true),
		accent:    lipgloss.NewStyle().Foreground(teal).Bold(true),

		roleUser:      lipgloss.NewStyle().Foreground(teal).Bold(true),
		roleAssistant: lipgloss.NewStyle().Foreground(amber).Bold(true),
		tool:          lipgloss.NewStyle().Foreground(muted).Italic(true),
		citation:      lipgloss.NewStyle().Foreground(teal),
		inlineError:   lipgloss.NewStyle().Foreground(coral),
	}
}
