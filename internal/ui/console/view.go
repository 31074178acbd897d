package console

import (
	"fmt"
	"strings"

	"tradedash-client/internal/logging"

	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	chromeLines   = 8
)

func formatLogLine(event logging.Event) string {
	label, badge := logging.LevelBadge(event.Level)
	line := timeStyle.Render(event.Time.Format("15:04:05")) + " " + badge.Render(label) + " " + event.Message
	if err, ok := event.Fields["error"]; ok {
		line += " " + errorStyle.Render(fmt.Sprint(err))
	}
	return line
}

func (m *consoleModel) View() string {
	width, height := m.width, m.height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	inner := max(width-4, 20)
	body := max(height-chromeLines, 4)
	messageLines := body * 2 / 3
	logLines := body - messageLines

	sections := []string{
		m.headerView(),
		panelStyle.Width(inner).Render(m.messagesView(messageLines, inner)),
		panelStyle.Width(inner).Render(tail(m.logs, logLines)),
		m.footerView(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *consoleModel) headerView() string {
	parts := []string{titleStyle.Render("tradedash " + m.buildVersion)}
	if m.kind == statusPending {
		parts = append(parts, m.spinner.View())
	}
	parts = append(parts, badgeStyle(m.kind).Render(m.status))
	parts = append(parts, helpStyle.Render(fmt.Sprintf("%d messages", m.received)))
	return strings.Join(parts, " ")
}

func (m *consoleModel) messagesView(lines int, width int) string {
	if len(m.messages) == 0 {
		return helpStyle.Render("waiting for realtime messages")
	}
	start := max(len(m.messages)-lines, 0)
	rows := make([]string, 0, len(m.messages)-start)
	for _, row := range m.messages[start:] {
		head := timeStyle.Render(row.timestamp) + " " + typeStyle.Render(row.kind) + " "
		payload := []rune(strings.ReplaceAll(row.payload, "\n", " "))
		if room := width - lipgloss.Width(head); room > 1 && len(payload) > room {
			payload = append(payload[:room-1], '…')
		}
		rows = append(rows, head+payloadStyle.Render(string(payload)))
	}
	return strings.Join(rows, "\n")
}

func (m *consoleModel) footerView() string {
	if m.exitErr != nil {
		return errorStyle.Render(m.exitErr.Error()) + "  " + helpStyle.Render("q quit")
	}
	return helpStyle.Render("q quit  c clear messages  d toggle debug")
}

func tail(lines []string, n int) string {
	if n <= 0 || len(lines) == 0 {
		return ""
	}
	start := max(len(lines)-n, 0)
	return strings.Join(lines[start:], "\n")
}
