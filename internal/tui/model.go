package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"cryptonite/internal/action"
	"cryptonite/internal/conversation"
	"cryptonite/internal/presets"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	headerHeight  = 2
	footerHeight  = 2
	inputHeight   = 1
	confirmHeight = 4
	minViewport   = 5
	charLimit     = 2000
)

// Session 是界面驱动的聊天会话。
type Session interface {
	Start(ctx context.Context, firstMessage string) error
	Send(ctx context.Context, text string) error
	ExecutePending(ctx context.Context) (action.Outcome, error)
	DismissPending() bool
	Pending() (action.Descriptor, bool)
	Loading() bool
	Messages() []conversation.Message
	ConversationID() string
}

// Info 是标题栏展示的环境信息。
type Info struct {
	Cluster string
	Wallet  string
}

type sentMsg struct{ err error }

type executedMsg struct {
	outcome action.Outcome
	err     error
}

// Model 是聊天界面的 bubbletea 模型。
type Model struct {
	ctx     context.Context
	session Session
	presets *presets.Catalog
	info    Info

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	busy        bool
	presetIndex int
	lastErr     error
	notice      string
	quitting    bool
	width       int
	height      int
}

// New 创建界面模型。
func New(ctx context.Context, session Session, catalog *presets.Catalog, info Info) *Model {
	input := textinput.New()
	input.Placeholder = "Ask about your wallet, balances, transfers or swaps..."
	input.CharLimit = charLimit
	input.Prompt = "> "
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	if catalog == nil {
		catalog = presets.NewCatalog(nil)
	}

	m := &Model{
		ctx:         ctx,
		session:     session,
		presets:     catalog,
		info:        info,
		viewport:    viewport.New(defaultWidth, defaultHeight-headerHeight-footerHeight-inputHeight),
		input:       input,
		spinner:     spin,
		renderer:    newRenderer(defaultWidth - 4),
		presetIndex: -1,
		width:       defaultWidth,
		height:      defaultHeight,
	}
	m.refresh()
	return m
}

// Run 启动全屏界面，ctx 取消时退出。
func Run(ctx context.Context, m *Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// Init 实现 tea.Model。
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update 实现 tea.Model。
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case sentMsg:
		m.busy = false
		m.lastErr = msg.err
		m.refresh()
	case executedMsg:
		m.busy = false
		m.lastErr = msg.err
		m.notice = ""
		if msg.err == nil && msg.outcome.Succeeded() {
			m.notice = msg.outcome.Headline()
		}
		m.refresh()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	}

	if _, pending := m.session.Pending(); pending && !m.busy {
		switch msg.String() {
		case "y", "Y":
			return m.confirm()
		case "n", "N":
			m.session.DismissPending()
			m.refresh()
			return m, nil
		}
		return m, nil
	}

	switch msg.String() {
	case "enter":
		return m.submit()
	case "tab":
		m.cyclePreset(1)
		return m, nil
	case "shift+tab":
		m.cyclePreset(-1)
		return m, nil
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	m.input.Reset()
	m.presetIndex = -1
	m.busy = true
	m.lastErr = nil
	m.notice = ""

	ctx, session := m.ctx, m.session
	return m, func() tea.Msg {
		if session.ConversationID() == "" {
			if err := session.Start(ctx, text); err != nil {
				return sentMsg{err: err}
			}
		}
		return sentMsg{err: session.Send(ctx, text)}
	}
}

func (m *Model) confirm() (tea.Model, tea.Cmd) {
	m.busy = true
	m.lastErr = nil
	ctx, session := m.ctx, m.session
	return m, func() tea.Msg {
		outcome, err := session.ExecutePending(ctx)
		return executedMsg{outcome: outcome, err: err}
	}
}

func (m *Model) cyclePreset(step int) {
	n := m.presets.Len()
	if n == 0 {
		return
	}
	m.presetIndex = ((m.presetIndex+step)%n + n) % n
	if p, ok := m.presets.At(m.presetIndex); ok {
		m.input.SetValue(p.Prompt)
		m.input.CursorEnd()
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.viewport.Width = width - 2
	m.viewport.Height = max(minViewport, height-headerHeight-footerHeight-inputHeight-confirmHeight-2)
	m.input.Width = width - 4
	m.renderer = newRenderer(width - 6)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

// View 实现 tea.Model。
func (m *Model) View() string {
	if m.quitting {
		return statusStyle.Render("Goodbye.") + "\n"
	}

	sections := []string{
		m.renderHeader(),
		viewportStyle.Width(m.width - 2).Render(m.viewport.View()),
	}
	if d, ok := m.session.Pending(); ok {
		sections = append(sections, m.renderConfirm(d))
	} else {
		sections = append(sections, m.input.View())
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	wallet := m.info.Wallet
	if wallet == "" {
		wallet = "no wallet"
	}
	return titleStyle.Render("Solana AI Assistant") + " " +
		statusStyle.Render(fmt.Sprintf("[%s | %s]", m.info.Cluster, wallet))
}

func (m *Model) renderConfirm(d action.Descriptor) string {
	prompt := "Confirm " + d.Summary() + "?"
	if m.busy {
		return confirmStyle.Render(prompt + "\n" + m.spinner.View() + " Processing...")
	}
	return confirmStyle.Render(prompt + "\n[y] confirm  [n] dismiss")
}

func (m *Model) renderFooter() string {
	var parts []string
	if m.busy || m.session.Loading() {
		parts = append(parts, m.spinner.View()+" Processing...")
	}
	if m.lastErr != nil {
		parts = append(parts, errorStyle.Render(m.lastErr.Error()))
	}
	if m.notice != "" {
		parts = append(parts, statusStyle.Render(m.notice))
	}
	if hints := m.presets.Match(m.input.Value(), 1); len(hints) > 0 && m.presetIndex < 0 {
		parts = append(parts, presetStyle.Render("try: "+hints[0].Prompt))
	}
	parts = append(parts, statusStyle.Render("enter send · tab presets · pgup/pgdown scroll · esc quit"))
	return strings.Join(parts, "\n")
}

func (m *Model) renderMessages() string {
	msgs := m.session.Messages()
	if len(msgs) == 0 {
		return statusStyle.Render("Type a message or press tab to pick a preset prompt.")
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.Role == conversation.RoleUser {
			b.WriteString(userStyle.Render("You") + "\n" + msg.Content)
			continue
		}
		b.WriteString(assistantStyle.Render("Assistant") + "\n")
		if msg.Formatted {
			b.WriteString(renderMarkdown(m.renderer, msg.Content))
		} else {
			b.WriteString(msg.Content)
		}
	}
	return b.String()
}
