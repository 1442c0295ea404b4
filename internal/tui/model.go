// Package tui is the terminal shell around a chat session: transcript
// timeline, citation sidebar, attachment queue and document pane.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"docchat/internal/docs"
	"docchat/internal/session"
	"docchat/internal/transcript"
	"docchat/internal/upload"
	"docchat/internal/viewer"
)

const (
	maxLogLines     = 50
	maxDocumentRune = 200_000
)

type tabID int

const (
	tabChat tabID = iota
	tabAttachments
	tabDocument
	tabHelp
)

const tabCount = 4

// Deps are the collaborators the shell drives. Docs and Health are optional.
type Deps struct {
	Session        *session.Session
	Events         *Events
	Docs           *docs.Fetcher
	Health         func(ctx context.Context) error
	Logger         *zap.Logger
	ServerURL      string
	RequestTimeout time.Duration
}

type model struct {
	sess      *session.Session
	docs      *docs.Fetcher
	health    func(ctx context.Context) error
	events    *Events
	log       *zap.Logger
	serverURL string
	timeout   time.Duration

	turns       []transcript.Turn
	streaming   bool
	orchState   session.State
	uploadLine  string
	viewerState viewer.State
	docResource string
	docBody     string
	docErr      error
	docLoading  bool
	serverOK    bool

	statusLine  string
	logs        []string
	activeTab   tabID
	quitConfirm bool
	resetting   bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	document viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

type healthDoneMsg struct {
	err error
}

type submitDoneMsg struct {
	result session.Result
}

type resetDoneMsg struct {
	err error
}

type documentMsg struct {
	resource string
	body     []byte
	err      error
}

// New builds the bubbletea model and subscribes it to the session's store
// and viewer.
func New(deps Deps) tea.Model {
	return newModel(deps)
}

func newModel(deps Deps) model {
	if deps.Events == nil {
		deps.Events = NewEvents()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}

	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Ask about your documents. /attach <path> adds a file, /help lists commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#3dd6c6"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	document := viewport.New(0, 0)
	document.MouseWheelEnabled = true
	document.MouseWheelDelta = 4

	sess := deps.Session
	sess.Store().Subscribe(deps.Events.transcriptChanged)
	sess.Viewer().Subscribe(deps.Events.viewerChanged)
	if deps.Docs != nil {
		sess.Store().OnReset(deps.Docs.Purge)
	}

	return model{
		sess:       sess,
		docs:       deps.Docs,
		health:     deps.Health,
		events:     deps.Events,
		log:        deps.Logger.Named("tui"),
		serverURL:  deps.ServerURL,
		timeout:    deps.RequestTimeout,
		statusLine: "connecting...",
		logs:       []string{},
		activeTab:  tabChat,
		input:      input,
		timeline:   timeline,
		sidebar:    sidebar,
		document:   document,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.healthCmd(),
		waitEvent(m.events.inbox),
	)
}

func (m model) healthCmd() tea.Cmd {
	if m.health == nil {
		return nil
	}
	check, timeout := m.health, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return healthDoneMsg{err: check(ctx)}
	}
}

func submitCmd(p *session.Pending) tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{result: p.Run(context.Background())}
	}
}

func (m model) resetCmd() tea.Cmd {
	sess, timeout := m.sess, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return resetDoneMsg{err: sess.Reset(ctx)}
	}
}

func (m model) fetchDocumentCmd(resource string) tea.Cmd {
	if m.docs == nil || resource == "" {
		return nil
	}
	fetcher, timeout := m.docs, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		body, err := fetcher.Fetch(ctx, resource)
		return documentMsg{resource: resource, body: body, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case healthDoneMsg:
		if msg.err != nil {
			m.serverOK = false
			m.logError(fmt.Errorf("server unreachable: %w", msg.err))
			break
		}
		m.serverOK = true
		m.statusLine = "ready · " + nullCoalesce(m.serverURL, "server online")
		m.appendLog("health check passed")
	case transcriptMsg:
		m.syncTranscript()
		if msg.change.Kind == transcript.ChangeReset {
			m.uploadLine = ""
		}
		m.renderPanes()
		cmds = append(cmds, waitEvent(m.events.inbox))
	case viewerMsg:
		m.viewerState = msg.state
		if !msg.state.Open {
			m.docResource, m.docBody, m.docErr, m.docLoading = "", "", nil, false
		} else if msg.state.Resource != m.docResource {
			m.docResource = msg.state.Resource
			m.docBody, m.docErr = "", nil
			m.docLoading = m.docs != nil && !m.docs.Cached(msg.state.Resource)
			cmds = append(cmds, m.fetchDocumentCmd(msg.state.Resource))
		}
		m.renderPanes()
		cmds = append(cmds, waitEvent(m.events.inbox))
	case progressMsg:
		m.uploadLine = msg.progress.StatusText()
		m.statusLine = fmt.Sprintf("upload %d/%d · %s", msg.progress.Index, msg.progress.Total, m.uploadLine)
		if msg.progress.Phase != upload.PhaseStarted {
			m.appendLog(m.uploadLine)
		}
		cmds = append(cmds, waitEvent(m.events.inbox))
	case orchestratorMsg:
		m.orchState = msg.state
		cmds = append(cmds, waitEvent(m.events.inbox))
	case submitDoneMsg:
		m.syncTranscript()
		res := msg.result
		switch {
		case res.Err == nil:
			m.statusLine = "answer complete"
			m.uploadLine = ""
		case errors.Is(res.Err, context.Canceled):
			m.statusLine = "submission canceled"
		default:
			m.logError(res.Err)
		}
		m.renderPanes()
	case resetDoneMsg:
		m.resetting = false
		m.syncTranscript()
		if msg.err != nil {
			m.logError(msg.err)
		} else {
			m.statusLine = "new conversation · session " + truncate(m.sess.ID(), 8)
			m.appendLog("session reset")
		}
		m.renderPanes()
	case documentMsg:
		if msg.resource != m.docResource {
			break
		}
		m.docLoading = false
		m.docErr = msg.err
		if msg.err != nil {
			m.logError(fmt.Errorf("load document: %w", msg.err))
		} else {
			m.docBody = documentText(msg.body)
		}
		m.renderPanes()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.quitConfirm {
			break
		}
		var cmd tea.Cmd
		switch m.activeTab {
		case tabChat:
			m.timeline, cmd = m.timeline.Update(msg)
		case tabDocument:
			m.document, cmd = m.document.Update(msg)
		}
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.quitConfirm {
		switch msg.String() {
		case "y", "Y", "enter":
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		if m.activeTab == tabChat {
			m.beginQuitConfirm()
			return m, nil
		}
		m.switchTab(tabChat)
		return m, nil
	case "tab":
		m.switchTab((m.activeTab + 1) % tabCount)
		return m, nil
	case "shift+tab":
		m.switchTab((m.activeTab + tabCount - 1) % tabCount)
		return m, nil
	}

	switch m.activeTab {
	case tabChat:
		switch msg.String() {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if strings.HasPrefix(raw, "/") {
				m.input.SetValue("")
				cmd := m.handleSlash(raw)
				return m, cmd
			}
			cmd := m.submit(raw)
			return m, cmd
		case "pgup", "ctrl+b":
			m.timeline.LineUp(8)
			return m, nil
		case "pgdown", "ctrl+f":
			m.timeline.LineDown(8)
			return m, nil
		case "up":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineUp(4)
				return m, nil
			}
		case "down":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineDown(4)
				return m, nil
			}
		case "home":
			m.timeline.GotoTop()
			return m, nil
		case "end":
			m.timeline.GotoBottom()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	case tabDocument:
		switch msg.String() {
		case "up", "k":
			m.document.LineUp(4)
		case "down", "j":
			m.document.LineDown(4)
		case "pgup":
			m.document.LineUp(16)
		case "pgdown":
			m.document.LineDown(16)
		case "[", "left":
			m.turnPage(-1)
		case "]", "right":
			m.turnPage(1)
		case "x":
			m.sess.Viewer().Close()
		}
	case tabAttachments:
		if msg.String() == "d" || msg.String() == "delete" {
			files := m.sess.Composer().Files()
			if len(files) > 0 {
				last := files[len(files)-1]
				m.detach(last.Name, len(files)-1)
			}
		}
	}
	return m, tea.Batch(cmds...)
}

// submit hands the typed text and queued attachments to the session.
// Rejected submissions keep the input.
func (m *model) submit(raw string) tea.Cmd {
	if m.resetting {
		m.statusLine = "reset in progress · try again in a moment"
		return nil
	}
	composer := m.sess.Composer()
	composer.SetText(raw)
	pending, err := m.sess.Begin()
	switch {
	case errors.Is(err, session.ErrEmptySubmission):
		return nil
	case errors.Is(err, session.ErrStreaming):
		m.statusLine = "still streaming · wait for the answer to finish"
		return nil
	case err != nil:
		m.logError(err)
		return nil
	}
	m.input.SetValue("")
	m.statusLine = "sending..."
	m.timeline.GotoBottom()
	m.log.Debug("submission started", zap.String("turn_id", pending.Turn().ID()))
	return submitCmd(pending)
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := parts[1:]
	switch cmd {
	case "/help":
		m.switchTab(tabHelp)
		return nil
	case "/quit", "/exit":
		m.beginQuitConfirm()
		return nil
	case "/attach":
		if len(tail) == 0 {
			m.statusLine = "usage: /attach <path>"
			return nil
		}
		if m.streaming {
			m.statusLine = "cannot attach while an answer is streaming"
			return nil
		}
		f, err := upload.FromPath(strings.Join(tail, " "))
		if err != nil {
			m.logError(err)
			return nil
		}
		m.sess.Composer().Attach(f)
		m.statusLine = fmt.Sprintf("attached %s (%s)", f.Name, humanSize(f.Size))
		if f.Large() {
			m.statusLine += " · large file, only the first part will be processed"
		}
		m.appendLog("attached " + f.Name)
		m.renderPanes()
		return nil
	case "/detach":
		if len(tail) == 0 {
			m.statusLine = "usage: /detach <name> [index]"
			return nil
		}
		index := -1
		if len(tail) > 1 {
			n, err := strconv.Atoi(tail[1])
			if err != nil || n < 1 {
				m.statusLine = "usage: /detach <name> [index]"
				return nil
			}
			index = n - 1
		}
		m.detach(tail[0], index)
		return nil
	case "/open":
		if len(tail) == 0 {
			m.statusLine = "usage: /open <n> [page]"
			return nil
		}
		n, err := strconv.Atoi(tail[0])
		if err != nil || n < 1 {
			m.statusLine = "usage: /open <n> [page]"
			return nil
		}
		resource, ok := m.sess.OpenCitation(n - 1)
		if !ok {
			m.statusLine = fmt.Sprintf("no citation [%d] on the last answer", n)
			return nil
		}
		if len(tail) > 1 {
			if page, err := strconv.Atoi(tail[1]); err == nil {
				m.sess.Viewer().Open(resource, page)
			}
		}
		m.switchTab(tabDocument)
		m.statusLine = "opened " + resource
		return nil
	case "/close":
		m.sess.Viewer().Close()
		m.statusLine = "document closed"
		return nil
	case "/new", "/reset":
		if m.resetting {
			return nil
		}
		m.resetting = true
		m.input.SetValue("")
		m.statusLine = "resetting session..."
		return m.resetCmd()
	default:
		m.statusLine = "unknown command: " + cmd
		return nil
	}
}

func (m *model) detach(name string, index int) {
	if m.sess.Composer().Remove(name, index) {
		m.statusLine = "detached " + name
		m.appendLog("detached " + name)
	} else {
		m.statusLine = "no pending attachment " + name
	}
	m.renderPanes()
}

func (m *model) turnPage(delta int) {
	state := m.sess.Viewer().State()
	if !state.Open {
		return
	}
	m.sess.Viewer().Open(state.Resource, maxInt(1, state.Page+delta))
}

func (m *model) switchTab(tab tabID) {
	m.activeTab = tab
	if tab == tabChat {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.renderPanes()
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "quit docchat?"
}

func (m *model) syncTranscript() {
	m.turns = m.sess.Store().Turns()
	m.streaming = m.sess.Store().Streaming()
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
	m.log.Warn("ui error", zap.Error(err))
}

// documentText renders fetched bytes for the document pane. Binary formats
// are summarised rather than dumped.
func documentText(body []byte) string {
	if !utf8.Valid(body) || strings.ContainsRune(string(body[:minInt(len(body), 4096)]), 0) {
		return fmt.Sprintf("[binary document · %s · open it in an external viewer]", humanSize(int64(len(body))))
	}
	text := string(body)
	if utf8.RuneCountInString(text) > maxDocumentRune {
		runes := []rune(text)
		text = string(runes[:maxDocumentRune]) + "\n[... truncated]"
	}
	return text
}
