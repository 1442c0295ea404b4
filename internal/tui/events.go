package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"docchat/internal/session"
	"docchat/internal/transcript"
	"docchat/internal/upload"
	"docchat/internal/viewer"
)

const inboxSize = 256

type transcriptMsg struct {
	change transcript.Change
}

type viewerMsg struct {
	state viewer.State
}

type progressMsg struct {
	progress upload.Progress
}

type orchestratorMsg struct {
	state session.State
}

// Events carries notifications raised on other goroutines into the Update
// loop. Sends never block; a full inbox drops the notification because
// every handler re-reads current state anyway.
type Events struct {
	inbox chan tea.Msg
}

func NewEvents() *Events {
	return &Events{inbox: make(chan tea.Msg, inboxSize)}
}

func (e *Events) send(msg tea.Msg) {
	select {
	case e.inbox <- msg:
	default:
	}
}

// Progress matches session.Options.OnProgress.
func (e *Events) Progress(p upload.Progress) { e.send(progressMsg{progress: p}) }

// State matches session.Options.OnState.
func (e *Events) State(s session.State) { e.send(orchestratorMsg{state: s}) }

func (e *Events) transcriptChanged(c transcript.Change) { e.send(transcriptMsg{change: c}) }

func (e *Events) viewerChanged(s viewer.State) { e.send(viewerMsg{state: s}) }

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
