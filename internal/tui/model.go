package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Kunalchandra007/Pravha/internal/mesh"
)

type tickMsg time.Time

type entry struct {
	when time.Time
	msg  *mesh.Message
}

type model struct {
	node  *mesh.Node
	msgCh <-chan *mesh.Message

	status  mesh.NetworkStatus
	peers   []mesh.Peer
	entries []entry

	viewport  viewport.Model
	textInput textinput.Model
	width     int
	height    int
	lastAlert time.Time
	ready     bool
}

func initialModel(node *mesh.Node, msgCh <-chan *mesh.Message) model {
	ti := textinput.New()
	ti.Placeholder = "Broadcast a status update..."
	ti.Focus()
	ti.CharLimit = 156

	return model{
		node:   node,
		msgCh:  msgCh,
		status: node.Status(),
		peers:  node.Peers(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		m.status = m.node.Status()
		m.peers = m.node.Peers()
		sortPeers(m.peers)
		m.drainMessages()
		m.viewport.SetContent(m.renderStream())
		m.viewport.GotoBottom()
		return m, tick()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if txt := m.textInput.Value(); txt != "" {
				update := mesh.NewStatusUpdate(m.node.DeviceID(), txt)
				m.node.Send(update)
				m.entries = append(m.entries, entry{when: time.Now(), msg: update})
				m.viewport.SetContent(m.renderStream())
				m.viewport.GotoBottom()
				m.textInput.Reset()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		footerHeight := 2 // input + status bar
		if !m.ready {
			m.viewport = viewport.New(msg.Width-sidebarWidth, msg.Height-footerHeight)
			m.viewport.SetContent(m.renderStream())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - sidebarWidth
			m.viewport.Height = msg.Height - footerHeight
		}
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *model) drainMessages() {
	for {
		select {
		case msg := <-m.msgCh:
			m.entries = append(m.entries, entry{when: time.Now(), msg: msg})
			if msg.Priority >= mesh.PriorityEmergency {
				m.lastAlert = time.Now()
			}
			if len(m.entries) > 500 {
				m.entries = m.entries[len(m.entries)-500:]
			}
		default:
			return
		}
	}
}

func sortPeers(peers []mesh.Peer) {
	sort.Slice(peers, func(i, j int) bool {
		if !peers[i].LastSeen.Equal(peers[j].LastSeen) {
			return peers[i].LastSeen.After(peers[j].LastSeen)
		}
		return peers[i].ID < peers[j].ID
	})
}

// StartTUI runs the dashboard until the operator quits.
func StartTUI(node *mesh.Node, msgCh <-chan *mesh.Message) error {
	p := tea.NewProgram(initialModel(node, msgCh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
