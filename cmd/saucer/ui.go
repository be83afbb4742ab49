package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/engine"
	"github.com/observer/saucer/internal/store"
	"github.com/observer/saucer/internal/transport"
)

// ============================================================================
// Styles
// ============================================================================

var (
	accentColor = lipgloss.Color("#7C3AED")
	selfColor   = lipgloss.Color("#10B981")
	mutedColor  = lipgloss.Color("#9CA3AF")
	errorColor  = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Padding(0, 1)

	selfStyle  = lipgloss.NewStyle().Foreground(selfColor).Bold(true)
	peerStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	errStyle   = lipgloss.NewStyle().Foreground(errorColor)
)

// ============================================================================
// Model
// ============================================================================

type engineEventMsg engine.Event

type model struct {
	eng *engine.Engine
	me  domain.Identity

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	ready  bool

	connState transport.State
	status    string
	sticky    bool // status survives the next event
}

func newModel(eng *engine.Engine, me domain.Identity) model {
	ti := textinput.New()
	ti.Placeholder = "message (or /help)"
	ti.Focus()
	ti.CharLimit = 4096

	return model{
		eng:   eng,
		me:    me,
		input: ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForEvent())
}

// waitForEvent bridges the engine's event stream into the bubbletea loop.
func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.eng.Events()
		if !ok {
			return tea.Quit()
		}
		return engineEventMsg(ev)
	}
}

// ============================================================================
// Update
// ============================================================================

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chrome := 4 // title + status + input
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - chrome
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case engineEventMsg:
		return m.handleEngineEvent(engine.Event(msg))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.eng.CancelComposer()
		m.setStatus("", false)
		return m, nil
	case tea.KeyPgUp:
		m.eng.LoadOlder()
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		if strings.HasPrefix(text, "/") {
			return m.handleCommand(text)
		}
		m.eng.SendText(text)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		m.setStatus("/global  /pm <user>  /group <id>  /edit <msg>  /reply <msg>  /react <msg> <emoji>  /delete <msg>  /file <name> <url>  /who", false)
	case "/global":
		m.eng.SetActiveConversation(domain.Global())
	case "/pm":
		if len(args) == 1 {
			m.eng.SetActiveConversation(domain.Private(args[0]))
		}
	case "/group":
		if len(args) == 1 {
			m.eng.SetActiveConversation(domain.Custom(args[0]))
		}
	case "/edit":
		if id, ok := parseMessageID(args); ok {
			m.eng.StartEdit(id)
			m.setStatus("editing, enter sends the replacement, esc cancels", false)
		}
	case "/reply":
		if id, ok := parseMessageID(args); ok {
			m.eng.StartReply(id)
			m.setStatus("replying, enter sends, esc cancels", false)
		}
	case "/react":
		if len(args) == 2 {
			if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
				m.eng.ToggleReaction(id, args[1])
			}
		}
	case "/delete":
		if id, ok := parseMessageID(args); ok {
			m.eng.RequestDelete(id)
		}
	case "/file":
		if len(args) == 2 {
			m.eng.SendFile(domain.FilePayload{Name: args[0], URL: args[1]})
		}
	case "/who":
		m.setStatus(rosterLine(m.eng.Roster()), false)
	case "/promote", "/demote", "/ban":
		m.moderation(cmd, args)
	default:
		m.setStatus("unknown command, try /help", false)
	}
	return m, nil
}

func (m *model) moderation(cmd string, args []string) {
	conv := m.eng.Active()
	if conv.Kind != domain.KindCustom || len(args) != 1 {
		m.setStatus("moderation commands need an active group and a user id", false)
		return
	}
	switch cmd {
	case "/promote":
		m.eng.PromoteAdmin(conv.GroupID, args[0])
	case "/demote":
		m.eng.DemoteAdmin(conv.GroupID, args[0])
	case "/ban":
		m.eng.BanMember(conv.GroupID, args[0])
	}
}

func (m model) handleEngineEvent(ev engine.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case engine.EventConnState:
		m.connState = ev.ConnState
	case engine.EventNotice:
		m.setStatus(ev.Notice, ev.Persistent)
	case engine.EventAuthExpired:
		m.setStatus("session expired, log in again", true)
	case engine.EventConversationClosed:
		if ev.Conversation == m.eng.Active() {
			m.eng.SetActiveConversation(domain.Global())
			m.setStatus("conversation closed", false)
		}
	}
	m.refresh()
	return m, m.waitForEvent()
}

func (m *model) setStatus(s string, sticky bool) {
	if m.sticky && s == "" {
		return
	}
	m.status = s
	m.sticky = sticky
}

// refresh re-renders the active conversation into the viewport, pinned to
// the bottom.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.vp.AtBottom()
	m.vp.SetContent(m.renderMessages())
	if atBottom {
		m.vp.GotoBottom()
	}
}

// ============================================================================
// View
// ============================================================================

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(m.titleBar())
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) titleBar() string {
	conv := m.eng.Active()
	title := titleStyle.Render("saucer · " + conversationLabel(conv))
	state := mutedStyle.Render(connLabel(m.connState))
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(state)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + state
}

func (m model) statusLine() string {
	if m.status == "" {
		return mutedStyle.Render(unreadSummary(m.eng))
	}
	if m.sticky {
		return errStyle.Render(m.status)
	}
	return mutedStyle.Render(m.status)
}

func (m model) renderMessages() string {
	msgs := m.eng.Messages(m.eng.Active())
	if len(msgs) == 0 {
		return mutedStyle.Render("no messages yet")
	}

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderMessage(msg domain.Message) string {
	name := peerStyle.Render(msg.SenderName)
	if msg.SenderID == m.me.UserID {
		name = selfStyle.Render(msg.SenderName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %s",
		mutedStyle.Render(msg.CreatedAt.Local().Format("15:04")),
		name,
		messageRef(msg),
		msg.Body,
	)
	if msg.File != nil {
		fmt.Fprintf(&b, " %s", mutedStyle.Render("("+msg.File.URL+")"))
	}
	if msg.Edited {
		b.WriteString(mutedStyle.Render(" " + store.EditedMarker))
	}
	if msg.ReplyToID != 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" ↩%d", msg.ReplyToID)))
	}
	if msg.SenderID == m.me.UserID && msg.ReadByPeer {
		b.WriteString(selfStyle.Render(" ✓✓"))
	}
	if line := reactionLine(msg); line != "" {
		b.WriteString("\n    " + mutedStyle.Render(line))
	}
	return b.String()
}

// ============================================================================
// Rendering helpers
// ============================================================================

// messageRef is the id users type into /edit, /reply and friends. Pending
// messages have no server id yet.
func messageRef(msg domain.Message) string {
	if !msg.Confirmed() {
		return "sending"
	}
	return strconv.FormatInt(msg.ID, 10)
}

func reactionLine(msg domain.Message) string {
	if len(msg.Reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msg.Reactions))
	for emoji, users := range msg.Reactions {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, len(users)))
	}
	return strings.Join(parts, "  ")
}

func conversationLabel(conv domain.ConversationID) string {
	switch conv.Kind {
	case domain.KindPrivate:
		return "@" + conv.PeerID
	case domain.KindCustom:
		return "#" + conv.GroupID
	default:
		return "global"
	}
}

func connLabel(s transport.State) string {
	switch s {
	case transport.StateConnected:
		return "online"
	case transport.StateConnecting:
		return "connecting"
	case transport.StateReconnecting:
		return "reconnecting"
	case transport.StateUnreachable:
		return "unreachable"
	default:
		return "offline"
	}
}

func rosterLine(entries []domain.PresenceEntry) string {
	if len(entries) == 0 {
		return "nobody here"
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Online {
			parts = append(parts, e.Username)
		} else {
			parts = append(parts, e.Username+" (off)")
		}
	}
	return strings.Join(parts, ", ")
}

func unreadSummary(eng *engine.Engine) string {
	conv := eng.Active()
	if n := eng.Unread(conv); n > 0 {
		return fmt.Sprintf("%d unread", n)
	}
	return ""
}

func parseMessageID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	return id, err == nil
}
