// Package tui renders a chat session in the terminal.
//
// The model never owns conversation state: it renders the latest
// chat.State snapshot and forwards user intents to the session.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/ttakmal/internal/chat"
	"github.com/ashureev/ttakmal/internal/quotebot"
)

const (
	placeholder = "지금 어떤 생각이 드시나요?"
	proposeHint = "이 명언이 마음에 드시나요? 예 / 아니오로 답해주세요"

	overlayAnalyzing = "당신만을 위한 명언을\n준비하고 있습니다."
	overlayConfirmed = "출력용 이미지를\n생성하는 중입니다."

	// rows taken by the title, the controls and the help line
	chromeHeight = 8
)

// Controller is the part of chat.Session the model drives.
type Controller interface {
	State() chat.State
	SendMessage(ctx context.Context, text string) error
	ConfirmQuote(ctx context.Context) error
	RejectQuote(ctx context.Context) error
	ResetChat()
}

// StateMsg carries a new session snapshot.
type StateMsg chat.State

// errMsg reports a rejected intent.
type errMsg struct{ err error }

// Updates hands session snapshots to the program. Only the newest pending
// snapshot is kept.
type Updates struct {
	ch chan chat.State
}

// NewUpdates creates an empty update queue.
func NewUpdates() *Updates {
	return &Updates{ch: make(chan chat.State, 1)}
}

// Publish queues st, replacing any snapshot not yet consumed. It is meant
// to be used as chat.Options.OnChange.
func (u *Updates) Publish(st chat.State) {
	for {
		select {
		case u.ch <- st:
			return
		default:
		}
		select {
		case <-u.ch:
		default:
		}
	}
}

func (u *Updates) wait() tea.Cmd {
	return func() tea.Msg {
		return StateMsg(<-u.ch)
	}
}

// Model is the bubbletea model of the chat window.
type Model struct {
	ctx      context.Context
	session  Controller
	updates  *Updates
	keys     KeyMap
	state    chat.State
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	err      error

	resultURL string
}

// New creates a model over session. updates may be nil when the caller
// delivers StateMsg itself.
func New(ctx context.Context, session Controller, updates *Updates) *Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = quotebot.MaxContentLength
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(primary).Bold(true)
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(primary)

	m := &Model{
		ctx:      ctx,
		session:  session,
		updates:  updates,
		keys:     DefaultKeyMap(),
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
		height:   20 + chromeHeight,
	}
	m.applyState(session.State())
	return m
}

// ResultURL returns the result page URL once navigation fired.
func (m *Model) ResultURL() string {
	return m.resultURL
}

// Init starts the cursor blink, the spinner and the update listener.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.updates != nil {
		cmds = append(cmds, m.updates.wait())
	}
	return tea.Batch(cmds...)
}

// Update handles a message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case StateMsg:
		st := chat.State(msg)
		if st.Version >= m.state.Version {
			m.applyState(st)
		}
		if m.resultURL != "" {
			return m, tea.Quit
		}
		if m.updates != nil {
			return m, m.updates.wait()
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Reset):
		m.err = nil
		m.input.Reset()
		m.session.ResetChat()
		m.applyState(m.session.State())
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		return m, nil
	}

	if m.state.ShowConfirmButtons() {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			return m, m.intent(m.session.ConfirmQuote)
		case key.Matches(msg, m.keys.Reject):
			return m, m.intent(m.session.RejectQuote)
		}
		return m, nil
	}

	if !m.state.ShowInput() {
		return m, nil
	}

	if key.Matches(msg, m.keys.Submit) {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.err = nil
		return m, m.intent(func(ctx context.Context) error {
			return m.session.SendMessage(ctx, text)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// intent runs fn off the update loop; the session reports progress through
// StateMsg, so only rejections come back.
func (m *Model) intent(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *Model) applyState(st chat.State) {
	m.state = st
	if st.ResultURL != "" {
		m.resultURL = st.ResultURL
	}
	if st.ShowInput() {
		m.input.Placeholder = placeholder
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-6, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 3)
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages() string {
	bubbleWidth := max(m.width*3/4, 20)
	lines := make([]string, 0, len(m.state.Messages))
	for _, msg := range m.state.Messages {
		if msg.IsBot {
			lines = append(lines, botStyle.MaxWidth(bubbleWidth).Width(bubbleWidth).Render(msg.Content))
			continue
		}
		bubble := userStyle.Width(min(lipgloss.Width(msg.Content)+2, bubbleWidth)).Render(msg.Content)
		lines = append(lines, lipgloss.PlaceHorizontal(m.width, lipgloss.Right, bubble))
	}
	return strings.Join(lines, "\n\n")
}

// View renders the window.
func (m *Model) View() string {
	sections := []string{titleStyle.Render("딱 맞는 말"), m.viewport.View(), ""}

	switch {
	case m.state.ShowLoadingOverlay():
		text := overlayAnalyzing
		if m.state.IsQuoteCompleted() {
			text = overlayConfirmed
		}
		sections = append(sections, overlayStyle.Render(m.spinner.View()+" "+text))

	case m.state.ShowConfirmButtons():
		sections = append(sections,
			statusStyle.Render(proposeHint),
			lipgloss.JoinHorizontal(lipgloss.Top,
				buttonStyle.Render("[y] "+chat.AnswerYes), " ",
				buttonStyle.Render("[n] "+chat.AnswerNo)))

	case m.state.IsLoading():
		sections = append(sections, statusStyle.Render(m.spinner.View()+" 답변을 기다리는 중..."))

	case m.state.ShowInput():
		sections = append(sections, m.input.View())
	}

	if m.err != nil {
		sections = append(sections, errorStyle.Render(m.err.Error()))
	}
	sections = append(sections, helpStyle.Render(m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) help() string {
	switch {
	case m.state.ShowConfirmButtons():
		return helpLine(m.keys.Confirm, m.keys.Reject, m.keys.Reset, m.keys.Quit)
	case m.state.ShowInput():
		return helpLine(m.keys.Submit, m.keys.Reset, m.keys.Quit)
	default:
		return helpLine(m.keys.Reset, m.keys.Quit)
	}
}
