// Command chat is a terminal front end over the sync client. All state comes
// from client snapshots; the TUI renders and forwards key presses, nothing
// more.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"chatwire/internal/client"
	"chatwire/internal/config"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type focusArea int

const (
	focusConversations focusArea = iota
	focusInput
)

type view int

const (
	viewLogin view = iota
	viewChat
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7dd3fc"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748b"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171"))
	liveStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80"))
	pollingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#facc15"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f0abfc"))
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fb7185"))
	ownMsgStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#93c5fd"))
	peerMsgStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e2e8f0"))
)

type snapshotMsg client.Snapshot

func waitSnapshot(updates <-chan client.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

type model struct {
	cli  *client.Client
	snap client.Snapshot

	view     view
	focus    focusArea
	username textinput.Model
	password textinput.Model
	input    textinput.Model
	messages viewport.Model
	spin     spinner.Model

	convIndex   int
	searchIndex int
	searching   bool
	width       int
	height      int
}

func newModel(cli *client.Client) model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword

	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "Message (or /name to find someone)"
	input.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		cli:      cli,
		view:     viewLogin,
		focus:    focusInput,
		username: username,
		password: password,
		input:    input,
		messages: viewport.New(0, 0),
		spin:     sp,
	}
}

func (m model) Init() tea.Cmd {
	m.cli.Restore()
	return tea.Batch(m.spin.Tick, waitSnapshot(m.cli.Updates()))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		return m.applySnapshot(client.Snapshot(msg))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.messages.Width = msg.Width - 32
		m.messages.Height = msg.Height - 5
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.view == viewLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)
	}

	return m, nil
}

func (m model) applySnapshot(snap client.Snapshot) (tea.Model, tea.Cmd) {
	wasAuthed := m.snap.Authenticated
	m.snap = snap

	if snap.Authenticated && !wasAuthed {
		m.view = viewChat
		m.focus = focusInput
		m.input.Focus()
		m.username.Blur()
		m.password.Blur()
	}
	if !snap.Authenticated {
		m.view = viewLogin
		m.username.Focus()
	}

	m.searching = len(snap.SearchResults) > 0
	if m.convIndex >= len(snap.Conversations) {
		m.convIndex = 0
	}
	if m.searchIndex >= len(snap.SearchResults) {
		m.searchIndex = 0
	}

	m.messages.SetContent(m.renderMessages())
	m.messages.GotoBottom()

	return m, waitSnapshot(m.cli.Updates())
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab:
		if m.username.Focused() {
			m.username.Blur()
			m.password.Focus()
		} else {
			m.password.Blur()
			m.username.Focus()
		}
		return m, nil
	case tea.KeyEnter:
		m.cli.Login(strings.TrimSpace(m.username.Value()), m.password.Value())
		return m, nil
	case tea.KeyCtrlR:
		m.cli.Register(strings.TrimSpace(m.username.Value()), m.password.Value())
		return m, nil
	}

	var cmd tea.Cmd
	if m.username.Focused() {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlL:
		m.cli.Logout()
		return m, nil

	case tea.KeyTab:
		if m.focus == focusInput {
			m.focus = focusConversations
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case tea.KeyEsc:
		m.searching = false
		m.cli.Search("")
		return m, nil

	case tea.KeyUp, tea.KeyDown:
		if m.searching {
			m.searchIndex = step(m.searchIndex, len(m.snap.SearchResults), msg.Type == tea.KeyDown)
			return m, nil
		}
		if m.focus == focusConversations {
			m.convIndex = step(m.convIndex, len(m.snap.Conversations), msg.Type == tea.KeyDown)
			return m, nil
		}

	case tea.KeyEnter:
		if m.searching {
			if m.searchIndex < len(m.snap.SearchResults) {
				m.cli.StartConversation(m.snap.SearchResults[m.searchIndex])
				m.input.SetValue("")
			}
			return m, nil
		}
		if m.focus == focusConversations {
			if m.convIndex < len(m.snap.Conversations) {
				m.cli.SelectConversation(m.snap.Conversations[m.convIndex].ID)
			}
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		if strings.HasPrefix(text, "/") {
			m.cli.Search(strings.TrimPrefix(text, "/"))
			return m, nil
		}
		m.cli.Send(text)
		return m, nil
	}

	if m.focus == focusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func step(index, length int, down bool) int {
	if length == 0 {
		return 0
	}
	if down {
		return (index + 1) % length
	}
	return (index - 1 + length) % length
}

func (m model) View() string {
	if m.view == viewLogin {
		return m.viewLogin()
	}
	return m.viewChat()
}

func (m model) viewLogin() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("chatwire") + "\n\n")
	b.WriteString("  " + m.username.View() + "\n")
	b.WriteString("  " + m.password.View() + "\n\n")
	b.WriteString(mutedStyle.Render("  enter: sign in · ctrl+r: register · ctrl+c: quit") + "\n")
	if m.snap.AuthErr != "" {
		b.WriteString("\n" + errStyle.Render("  "+m.snap.AuthErr) + "\n")
	}
	return b.String()
}

func (m model) viewChat() string {
	sidebar := m.renderSidebar()
	chat := lipgloss.JoinVertical(lipgloss.Left,
		m.messages.View(),
		m.input.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(30).Render(sidebar),
		chat,
	)
	return lipgloss.JoinVertical(lipgloss.Left, m.renderStatusBar(), body)
}

func (m model) renderStatusBar() string {
	var transport string
	switch m.snap.State {
	case client.StateActivePush:
		transport = liveStyle.Render("● live")
	case client.StateConnecting, client.StateAuthenticating:
		transport = pollingStyle.Render(m.spin.View() + " connecting")
	default:
		transport = pollingStyle.Render("○ polling")
	}

	left := titleStyle.Render("chatwire") + "  " + mutedStyle.Render(m.snap.Username)
	line := left + "  " + transport
	if m.snap.Err != "" {
		line += "  " + errStyle.Render(m.snap.Err)
	}
	return line
}

func (m model) renderSidebar() string {
	var b strings.Builder

	if m.searching {
		b.WriteString(titleStyle.Render("People") + "\n")
		for i, u := range m.snap.SearchResults {
			line := " " + u.Username
			if i == m.searchIndex {
				line = selectedStyle.Render(">" + u.Username)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString(mutedStyle.Render("\nenter: chat · esc: back"))
		return b.String()
	}

	b.WriteString(titleStyle.Render("Conversations") + "\n")
	for i, conv := range m.snap.Conversations {
		name := conv.OtherUsername
		if m.snap.Presence[conv.OtherUserID] == "online" {
			name = "• " + name
		}
		if conv.UnreadCount > 0 {
			name += unreadStyle.Render(fmt.Sprintf(" (%d)", conv.UnreadCount))
		}
		line := " " + name
		active := m.snap.Active != nil && m.snap.Active.ID == conv.ID
		if active || (m.focus == focusConversations && i == m.convIndex) {
			line = selectedStyle.Render(">" + name)
		}
		b.WriteString(line + "\n")
	}
	if len(m.snap.Conversations) == 0 {
		b.WriteString(mutedStyle.Render(" no conversations yet\n type /name to find someone"))
	}
	return b.String()
}

func (m model) renderMessages() string {
	if m.snap.Active == nil {
		return mutedStyle.Render("select a conversation")
	}
	var b strings.Builder
	for _, msg := range m.snap.Messages {
		style := peerMsgStyle
		prefix := m.snap.Active.OtherUsername
		if msg.SenderID == m.snap.UserID {
			style = ownMsgStyle
			prefix = "you"
		}
		suffix := ""
		if msg.ID.Provisional() {
			suffix = mutedStyle.Render(" …")
		}
		b.WriteString(style.Render(prefix+": ") + msg.Content + suffix + "\n")
	}
	return b.String()
}

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logFile, err := os.OpenFile(os.TempDir()+"/chatwire.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		log.Fatalf("open log: %v", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, nil))

	cli := client.New(client.Config{
		ServerURL:      cfg.ServerURL,
		ConnectTimeout: cfg.ConnectTimeout,
		PollInterval:   cfg.PollInterval,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cli.Run(ctx)

	if _, err := tea.NewProgram(newModel(cli), tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("tui error: %v", err)
	}
}
