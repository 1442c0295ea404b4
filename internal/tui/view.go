package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"docchat/internal/session"
	"docchat/internal/transcript"
	"docchat/internal/viewer"
)

func (m model) View() string {
	out := ""
	if m.quitConfirm {
		out = m.renderQuitModal()
	} else {
		header := m.renderHeader()
		content := m.renderContent()
		input := m.renderInput()
		footer := m.renderFooter()
		out = lipgloss.JoinVertical(lipgloss.Left, header, content, input, footer)
	}
	return m.theme.root.Render(out)
}

func (m *model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabChat, "Chat"},
		{tabAttachments, fmt.Sprintf("Attachments (%d)", len(m.sess.Composer().Files()))},
		{tabDocument, "Document"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+1)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	online := ternary(m.serverOK, "online", "offline")
	meta := fmt.Sprintf(" Session: %s · %s", truncate(m.sess.ID(), 8), online)
	segments = append(segments, m.theme.helpText.Render(meta))
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func (m *model) renderContent() string {
	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)

	switch m.activeTab {
	case tabChat:
		leftWidth, rightWidth := chatColumns(contentWidth)
		left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Conversation") + "\n" + m.timeline.View(),
		)
		right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Sources") + "\n" + m.sidebar.View(),
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	case tabAttachments:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Pending Attachments") + "\n" + m.renderAttachments())
	case tabDocument:
		title := "Document"
		if m.viewerState.Open {
			title = fmt.Sprintf("Document · %s · page %d", compactSingleLine(m.viewerState.Resource, contentWidth/2), m.viewerState.Page)
		}
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render(title) + "\n" + m.document.View())
	case tabHelp:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("docchat Help") + "\n" + m.renderHelp())
	default:
		return ""
	}
}

func chatColumns(contentWidth int) (left, right int) {
	left = int(float64(contentWidth) * 0.66)
	right = contentWidth - left - 1
	if right < 28 {
		right = 28
		left = contentWidth - right - 1
	}
	return left, right
}

func (m *model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	if m.activeTab != tabChat {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Input disabled outside Chat tab. Press Tab or Esc to return."))
	}
	inputView := m.input.View()
	if m.streaming {
		inputView = m.spinner.View() + " " + m.activityLabel() + " " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

// activityLabel names what the in-flight submission is doing.
func (m *model) activityLabel() string {
	switch {
	case m.orchState == session.StateUploading && m.uploadLine != "":
		return compactSingleLine(m.uploadLine, 60)
	case m.orchState == session.StateRequesting:
		return "sending..."
	}
	if n := len(m.turns); n > 0 {
		if tool, ok := m.turns[n-1].LastTool(); ok && tool.Status == transcript.ToolRunning {
			return "running " + compactSingleLine(tool.Name, 40) + "..."
		}
	}
	return "answering..."
}

func (m *model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	hints := m.theme.helpText.Render("Keys: Tab switch view · Enter send · /attach <path> · /open <n> · PgUp/PgDn scroll · Esc quit prompt · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderQuitModal() string {
	canvasWidth := maxInt(40, m.width-4)
	canvasHeight := maxInt(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.56), 32, 78)
	if modalWidth > canvasWidth-2 {
		modalWidth = canvasWidth - 2
	}

	note := "The conversation lives only in this session and will be lost."
	if m.streaming {
		note = "An answer is still streaming and will be abandoned."
	}
	body := strings.Join([]string{
		m.theme.errorStatus.Render("Quit docchat?"),
		"",
		m.theme.helpText.Render(note),
		"",
		m.theme.modalPick.Render("[Y / Enter] Quit") + "    " + m.theme.helpText.Render("[N / Esc] Return"),
	}, "\n")
	panel := m.theme.modalFrame.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("#101418")),
	)
}

func (m *model) renderPanes() {
	prevTimelineYOffset := m.timeline.YOffset
	prevTimelineAtBottom := m.timeline.AtBottom()

	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)
	leftWidth, rightWidth := chatColumns(contentWidth)

	m.timeline.Width = maxInt(20, leftWidth-4)
	m.timeline.Height = maxInt(5, contentHeight-3)
	m.sidebar.Width = maxInt(20, rightWidth-4)
	m.sidebar.Height = maxInt(5, contentHeight-3)
	m.document.Width = maxInt(20, contentWidth-4)
	m.document.Height = maxInt(5, contentHeight-3)

	m.timeline.SetContent(m.renderTimeline())
	if prevTimelineAtBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevTimelineYOffset)
	}
	m.sidebar.SetContent(m.renderSidebar())

	prevDocumentYOffset := m.document.YOffset
	m.document.SetContent(m.renderDocument())
	m.document.SetYOffset(prevDocumentYOffset)
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-6)
}

func (m *model) renderTimeline() string {
	if len(m.turns) == 0 {
		return "No messages yet. Ask a question, or /attach a file first."
	}
	width := maxInt(24, m.timeline.Width-2)
	var b strings.Builder
	for _, turn := range m.turns {
		if turn.Role == transcript.RoleUser {
			b.WriteString(m.theme.roleUser.Render("you"))
		} else {
			label := "assistant"
			if turn.Active {
				label += " " + m.spinner.View()
			}
			b.WriteString(m.theme.roleAssistant.Render(label))
		}
		b.WriteString("\n")
		for _, tool := range turn.Tools {
			mark := ternary(tool.Status == transcript.ToolCompleted, "✓", "…")
			b.WriteString(m.theme.tool.Render(fmt.Sprintf("  %s %s", mark, tool.Name)))
			b.WriteString("\n")
		}
		if content := collapseBlankRuns(turn.Content); content != "" {
			b.WriteString(m.renderContentBody(content, width))
			b.WriteString("\n")
		} else if turn.Active && len(turn.Tools) == 0 {
			b.WriteString(m.theme.helpText.Render("thinking..."))
			b.WriteString("\n")
		}
		if turn.UI != nil {
			b.WriteString(m.theme.accent.Render(fmt.Sprintf("[%s component · %s]", nullCoalesce(turn.UI.Kind, "ui"), humanSize(int64(len(turn.UI.Data))))))
			b.WriteString("\n")
		}
		if len(turn.Citations) > 0 {
			refs := make([]string, 0, len(turn.Citations))
			for i, c := range turn.Citations {
				refs = append(refs, fmt.Sprintf("[%d] %s", i+1, compactSingleLine(viewer.DocumentName(c), 40)))
			}
			b.WriteString(m.theme.citation.Render(wrapText(strings.Join(refs, "  "), width)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// renderContentBody styles inline error annotations apart from the answer.
func (m *model) renderContentBody(content string, width int) string {
	lines := strings.Split(wrapText(content, width), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "Error:") {
			lines[i] = m.theme.inlineError.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (m *model) renderSidebar() string {
	var last *transcript.Turn
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == transcript.RoleAssistant {
			last = &m.turns[i]
			break
		}
	}
	if last == nil || len(last.Citations) == 0 {
		return m.theme.helpText.Render("Citations from the latest answer appear here. Open one with /open <n>.")
	}
	width := maxInt(20, m.sidebar.Width-2)
	var b strings.Builder
	for i, c := range last.Citations {
		b.WriteString(m.theme.citation.Render(fmt.Sprintf("[%d] ", i+1)))
		b.WriteString(wrapText(compactSingleLine(viewer.DocumentName(c), 120), width-4))
		b.WriteString("\n")
	}
	if m.viewerState.Open {
		b.WriteString("\n")
		b.WriteString(m.theme.helpText.Render("open: " + compactSingleLine(m.viewerState.Resource, width-6)))
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderAttachments() string {
	files := m.sess.Composer().Files()
	if len(files) == 0 {
		return m.theme.helpText.Render("No files queued. Add one with /attach <path>; it uploads with your next message.")
	}
	var b strings.Builder
	for i, f := range files {
		line := fmt.Sprintf("%d. %s  %s", i+1, f.Name, humanSize(f.Size))
		if f.Large() {
			line += "  " + m.theme.errorStatus.Render("large")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.helpText.Render("/detach <name> [n] removes a file · d drops the last one"))
	return b.String()
}

func (m *model) renderDocument() string {
	switch {
	case !m.viewerState.Open:
		return m.theme.helpText.Render("No document open. Use /open <n> on a citation from the latest answer.")
	case m.docs == nil:
		return "Resource: " + m.viewerState.Resource
	case m.docLoading:
		return m.spinner.View() + " loading " + m.viewerState.Resource
	case m.docErr != nil:
		return m.theme.errorStatus.Render("Could not load document: " + m.docErr.Error())
	default:
		return wrapText(m.docBody, maxInt(20, m.document.Width-2))
	}
}

func (m *model) renderHelp() string {
	lines := []string{
		"Chat",
		"  Enter sends the input together with any queued attachments.",
		"  Attachments upload first; each one becomes a citation as soon as it lands.",
		"  Only one answer streams at a time.",
		"",
		"Commands",
		"  /attach <path>        queue a file for the next message",
		"  /detach <name> [n]    remove a queued file (n is its position)",
		"  /open <n> [page]      open citation n of the latest answer",
		"  /close                close the document pane",
		"  /new                  start a new conversation",
		"  /help                 show this page",
		"  /quit                 leave docchat",
		"",
		"Document tab",
		"  [ and ] turn pages · up/down scroll · x closes",
		"",
		"Recent activity",
	}
	if len(m.logs) == 0 {
		lines = append(lines, "  (none)")
	}
	for _, entry := range m.logs {
		lines = append(lines, "  "+entry)
	}
	return strings.Join(lines, "\n")
}
