package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Kunalchandra007/Pravha/internal/mesh"
)

const sidebarWidth = 30

var (
	colorGreen = lipgloss.Color("2")
	colorGray  = lipgloss.Color("240")
	colorRed   = lipgloss.Color("196")
	colorWhite = lipgloss.Color("231")

	alertStyle = lipgloss.NewStyle().
			Background(colorRed).
			Foreground(colorWhite).
			Bold(true)

	flashStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorRed)

	staleStyle = lipgloss.NewStyle().Foreground(colorGray)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1).
			Width(sidebarWidth)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(colorGreen).
			Padding(0, 1)
)

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing mesh dashboard..."
	}

	stream := m.viewport.View()
	sidebar := m.renderSidebar()
	body := lipgloss.JoinHorizontal(lipgloss.Top, stream, sidebar)

	bar := statusBarStyle.Render(fmt.Sprintf(
		"peers:%d cache:%d pending:%d sent:%d recv:%d relay:%d",
		m.status.ConnectedNodes, m.status.CachedMessages, m.status.PendingMessages,
		m.status.MessagesSent, m.status.MessagesReceived, m.status.MessagesRelayed,
	))

	out := lipgloss.JoinVertical(lipgloss.Left, body, bar, m.textInput.View())
	if ShouldFlash(m.lastAlert) {
		return flashStyle.Render(out)
	}
	return out
}

func (m model) renderStream() string {
	var sb strings.Builder
	sb.WriteString("PRAVHA MESH - message stream\n\n")
	for _, e := range m.entries {
		msg := e.msg
		ts := msg.Timestamp.Format("15:04:05")
		line := fmt.Sprintf("[%s] [%s] [HOP:%d] %s: %s",
			ts, msg.Priority, msg.HopCount, shortID(msg.SourceDeviceID), msg.Content)
		if msg.Priority >= mesh.PriorityEmergency {
			line = alertStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (m model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString("NODE " + shortID(m.status.DeviceID) + "\n")
	if m.node.Router().FloodMode() {
		sb.WriteString(alertStyle.Render("FLOOD MODE") + "\n")
	}
	sb.WriteString("\nPEERS\n-----\n")
	for _, p := range m.peers {
		label := p.Nick
		if label == "" {
			label = shortID(p.ID)
		}
		line := fmt.Sprintf("%s %s", label, ago(p.LastSeen))
		if time.Since(p.LastSeen) > time.Minute {
			line = staleStyle.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	if len(m.peers) == 0 {
		sb.WriteString(staleStyle.Render("(searching...)") + "\n")
	}
	return sidebarStyle.Height(m.viewport.Height).Render(sb.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func ago(t time.Time) string {
	d := time.Since(t)
	if d < 2*time.Second {
		return "now"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// ShouldFlash reports whether an emergency arrived recently enough to flash
// the screen border.
func ShouldFlash(lastAlert time.Time) bool {
	return !lastAlert.IsZero() && time.Since(lastAlert) < 500*time.Millisecond
}
