package console

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	typeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Bold(true)
	payloadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badgeBase     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	healthyBadge  = badgeBase.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))
	pendingBadge  = badgeBase.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	terminalBadge = badgeBase.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
)

func badgeStyle(kind statusKind) lipgloss.Style {
	switch kind {
	case statusHealthy:
		return healthyBadge
	case statusTerminal:
		return terminalBadge
	default:
		return pendingBadge
	}
}
