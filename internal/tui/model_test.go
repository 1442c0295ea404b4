package tui

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"docchat/internal/api"
	"docchat/internal/docs"
	"docchat/internal/session"
	"docchat/internal/transcript"
	"docchat/internal/viewer"
)

type stubBackend struct {
	frames []string
	resets int
}

func (b *stubBackend) Upload(_ context.Context, name string, r io.Reader) (api.UploadResult, error) {
	_, _ = io.Copy(io.Discard, r)
	return api.UploadResult{Filename: name}, nil
}

func (b *stubBackend) SubmitChat(context.Context, string, string) (string, error) {
	return "job-1", nil
}

func (b *stubBackend) OpenStream(context.Context, string, string) (io.ReadCloser, error) {
	var body strings.Builder
	for _, frame := range b.frames {
		body.WriteString("data: " + frame + "\n\n")
	}
	body.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(body.String())), nil
}

func (b *stubBackend) Reset(context.Context) error {
	b.resets++
	return nil
}

func (b *stubBackend) FileURL(name string) string {
	return "http://docs.test/files/" + name
}

func viewerStateFor(resource string) viewer.State {
	return viewer.State{Open: true, Resource: resource, Page: 1}
}

func newTestModel(t *testing.T, backend *stubBackend) model {
	t.Helper()
	sess := session.New(backend, session.Options{})
	m := newModel(Deps{Session: sess, Events: NewEvents()})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(model)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestWindowSizeSetsLayout(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	if m.width != 120 || m.height != 40 {
		t.Fatalf("unexpected size %dx%d", m.width, m.height)
	}
	if m.input.Width != 110 {
		t.Fatalf("expected input width 110, got %d", m.input.Width)
	}
	if m.timeline.Height != 25 {
		t.Fatalf("expected timeline height 25, got %d", m.timeline.Height)
	}
	if !strings.Contains(m.View(), "Conversation") {
		t.Fatalf("expected chat view to render the conversation panel")
	}
}

func TestAttachAndDetach(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	path := writeTempFile(t, "notes.txt", "hello")

	m.handleSlash("/attach " + path)
	files := m.sess.Composer().Files()
	if len(files) != 1 || files[0].Name != "notes.txt" {
		t.Fatalf("expected notes.txt queued, got %+v", files)
	}
	if !strings.HasPrefix(m.statusLine, "attached notes.txt") {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}

	m.handleSlash("/attach " + path)
	m.handleSlash("/detach notes.txt 2")
	if got := len(m.sess.Composer().Files()); got != 1 {
		t.Fatalf("expected one file after detaching the second, got %d", got)
	}
	m.handleSlash("/detach missing.txt")
	if !strings.Contains(m.statusLine, "no pending attachment") {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
	m.handleSlash("/detach notes.txt 0")
	if !strings.HasPrefix(m.statusLine, "usage:") {
		t.Fatalf("expected usage for index 0, got %q", m.statusLine)
	}
}

func TestAttachRejectedWhileStreaming(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	path := writeTempFile(t, "notes.txt", "hello")
	m.streaming = true

	m.handleSlash("/attach " + path)
	if len(m.sess.Composer().Files()) != 0 {
		t.Fatalf("expected attach to be refused while streaming")
	}
	if !strings.Contains(m.statusLine, "streaming") {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestAttachMissingFileLogsError(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m.handleSlash("/attach " + filepath.Join(t.TempDir(), "nope.pdf"))
	if !strings.HasPrefix(m.statusLine, "error: ") {
		t.Fatalf("expected error status, got %q", m.statusLine)
	}
	if len(m.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(m.logs))
	}
}

func TestSubmitStreamsAnswer(t *testing.T) {
	backend := &stubBackend{frames: []string{
		`{"type":"tool_call","content":"search"}`,
		`{"type":"text","content":"The answer"}`,
		`{"type":"citation","id":1,"text":"report.pdf","link":"report.pdf"}`,
	}}
	m := newTestModel(t, backend)

	m.input.SetValue("what does it say?")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if cmd == nil {
		t.Fatalf("expected a submit command")
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input cleared after submit, got %q", m.input.Value())
	}
	done, ok := cmd().(submitDoneMsg)
	if !ok {
		t.Fatalf("expected submitDoneMsg")
	}
	if done.result.Err != nil {
		t.Fatalf("unexpected submit error: %v", done.result.Err)
	}
	next, _ = m.Update(done)
	m = next.(model)

	if len(m.turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(m.turns))
	}
	if m.streaming {
		t.Fatalf("expected streaming flag cleared")
	}
	timeline := m.renderTimeline()
	for _, want := range []string{"what does it say?", "The answer", "search", "[1] report.pdf"} {
		if !strings.Contains(timeline, want) {
			t.Fatalf("timeline missing %q:\n%s", want, timeline)
		}
	}
	if m.statusLine != "answer complete" {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestSubmitWhileStreamingKeepsInput(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m.sess.Store().SetStreaming(true)

	m.input.SetValue("second question")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if cmd != nil {
		t.Fatalf("expected no command while streaming")
	}
	if m.input.Value() != "second question" {
		t.Fatalf("expected input kept, got %q", m.input.Value())
	}
	if m.sess.Store().Len() != 0 {
		t.Fatalf("expected no turns appended")
	}
}

func TestOpenCitationSwitchesToDocument(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	store := m.sess.Store()
	store.AppendUser("q")
	h := store.BeginAssistant()
	if _, err := store.AddCitation(h, transcript.Citation{ID: "1", Text: "guide.pdf", Link: "guide.pdf"}); err != nil {
		t.Fatalf("add citation: %v", err)
	}
	_ = store.Finish(h)

	m.handleSlash("/open 1 3")
	if m.activeTab != tabDocument {
		t.Fatalf("expected document tab, got %d", m.activeTab)
	}
	state := m.sess.Viewer().State()
	if !state.Open || state.Resource != "http://docs.test/files/guide.pdf" || state.Page != 3 {
		t.Fatalf("unexpected viewer state: %+v", state)
	}

	m.handleSlash("/open 2")
	if !strings.Contains(m.statusLine, "no citation [2]") {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestViewerMessageLoadsDocument(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	next, _ := m.Update(viewerMsg{state: m.sess.Viewer().State()})
	m = next.(model)
	if !strings.Contains(m.renderDocument(), "No document open") {
		t.Fatalf("expected empty document pane")
	}

	next, _ = m.Update(viewerMsg{state: viewerStateFor("http://docs.test/files/a.txt")})
	m = next.(model)
	if m.docResource != "http://docs.test/files/a.txt" {
		t.Fatalf("unexpected resource %q", m.docResource)
	}
	if !strings.Contains(m.renderDocument(), "Resource: http://docs.test/files/a.txt") {
		t.Fatalf("expected resource line without a fetcher")
	}

	next, _ = m.Update(documentMsg{resource: "http://docs.test/files/other.txt", body: []byte("stale")})
	m = next.(model)
	if m.docBody != "" {
		t.Fatalf("expected stale document ignored")
	}
}

func TestQuitModalCancel(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(model)
	if !m.quitConfirm {
		t.Fatalf("expected quit confirmation")
	}
	if !strings.Contains(m.View(), "Quit docchat?") {
		t.Fatalf("expected quit modal in view")
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m = next.(model)
	if m.quitConfirm {
		t.Fatalf("expected quit confirmation dismissed")
	}
	if m.statusLine != "quit canceled" {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestTabCycles(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	for _, want := range []tabID{tabAttachments, tabDocument, tabHelp, tabChat} {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
		m = next.(model)
		if m.activeTab != want {
			t.Fatalf("expected tab %d, got %d", want, m.activeTab)
		}
	}
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(model)
	if m.activeTab != tabHelp {
		t.Fatalf("expected shift+tab to wrap to help, got %d", m.activeTab)
	}
}

func TestResetCommand(t *testing.T) {
	backend := &stubBackend{}
	m := newTestModel(t, backend)
	m.sess.Store().AppendUser("old")
	before := m.sess.ID()

	cmd := m.handleSlash("/new")
	if cmd == nil || !m.resetting {
		t.Fatalf("expected reset command")
	}
	next, _ := m.Update(cmd())
	m = next.(model)
	if m.resetting {
		t.Fatalf("expected resetting cleared")
	}
	if backend.resets != 1 {
		t.Fatalf("expected one server reset, got %d", backend.resets)
	}
	if len(m.turns) != 0 || m.sess.ID() == before {
		t.Fatalf("expected empty transcript and new session id")
	}
}

func TestUnknownSlashCommand(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m.handleSlash("/Frobnicate now")
	if m.statusLine != "unknown command: /frobnicate" {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestHealthFailureMarksOffline(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	next, _ := m.Update(healthDoneMsg{err: errors.New("connection refused")})
	m = next.(model)
	if m.serverOK {
		t.Fatalf("expected server offline")
	}
	if !strings.Contains(m.statusLine, "connection refused") {
		t.Fatalf("unexpected status: %q", m.statusLine)
	}
}

func TestDocumentText(t *testing.T) {
	if got := documentText([]byte("plain text")); got != "plain text" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := documentText([]byte("%PDF-1.7\x00\x01\x02")); !strings.HasPrefix(got, "[binary document") {
		t.Fatalf("expected binary summary, got %q", got)
	}
}

func TestHelpers(t *testing.T) {
	if got := wrapText("one two three four", 9); got != "one two\nthree\nfour" {
		t.Fatalf("unexpected wrap %q", got)
	}
	if got := collapseBlankRuns("a\n\n\n\nb  "); got != "a\n\nb" {
		t.Fatalf("unexpected collapse %q", got)
	}
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("unexpected truncate %q", got)
	}
	if got := compactSingleLine("  a \n b  ", 10); got != "a b" {
		t.Fatalf("unexpected compact %q", got)
	}
	if got := humanSize(6 << 20); got != "6.0MB" {
		t.Fatalf("unexpected size %q", got)
	}
	if got := clampInt(120, 32, 78); got != 78 {
		t.Fatalf("unexpected clamp %d", got)
	}
}

type mapSource map[string][]byte

func (s mapSource) Fetch(_ context.Context, resource string) ([]byte, error) {
	body, ok := s[resource]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func TestCachedDocumentSkipsLoadingState(t *testing.T) {
	fetcher, err := docs.NewFetcher(mapSource{"cached.txt": []byte("hello"), "cold.txt": []byte("brr")}, 4, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, err := fetcher.Fetch(context.Background(), "cached.txt"); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	sess := session.New(&stubBackend{}, session.Options{})
	m := newModel(Deps{Session: sess, Events: NewEvents(), Docs: fetcher})

	next, cmd := m.Update(viewerMsg{state: viewerStateFor("cached.txt")})
	m = next.(model)
	if m.docLoading {
		t.Fatalf("expected no loading state for a cached document")
	}
	if cmd == nil {
		t.Fatalf("expected a fetch command")
	}

	next, _ = m.Update(viewerMsg{state: viewerStateFor("cold.txt")})
	m = next.(model)
	if !m.docLoading {
		t.Fatalf("expected loading state for an uncached document")
	}
}

func TestActivityLabelShowsRunningTool(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m.streaming = true
	m.orchState = session.StateStreaming
	m.turns = []transcript.Turn{{
		Role:   transcript.RoleAssistant,
		Active: true,
		Tools:  []transcript.ToolInvocation{{Name: "search", Status: transcript.ToolCompleted}, {Name: "summarize", Status: transcript.ToolRunning}},
	}}
	if got := m.activityLabel(); got != "running summarize..." {
		t.Fatalf("unexpected label %q", got)
	}

	m.turns[0].Tools[1].Status = transcript.ToolCompleted
	if got := m.activityLabel(); got != "answering..." {
		t.Fatalf("unexpected label %q", got)
	}

	m.orchState = session.StateRequesting
	if got := m.activityLabel(); got != "sending..." {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestSubmitBlockedWhileResetting(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	if cmd := m.handleSlash("/new"); cmd == nil {
		t.Fatalf("expected reset command")
	}
	m.input.SetValue("question")
	if cmd := m.submit("question"); cmd != nil {
		t.Fatalf("expected no submission while resetting")
	}
	if m.streaming || len(m.sess.Store().Turns()) != 0 {
		t.Fatalf("expected nothing recorded while resetting")
	}
	if m.input.Value() != "question" {
		t.Fatalf("expected input kept, got %q", m.input.Value())
	}
	if !strings.Contains(m.statusLine, "reset in progress") {
		t.Fatalf("unexpected status %q", m.statusLine)
	}
}
