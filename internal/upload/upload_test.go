package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/api"
	"docchat/internal/transcript"
)

type fakeTransport struct {
	fail     map[string]error
	received []string
	bodies   map[string]string
	observe  func(name string)
}

func (f *fakeTransport) Upload(ctx context.Context, name string, content io.Reader) (api.UploadResult, error) {
	f.received = append(f.received, name)
	if f.observe != nil {
		f.observe(name)
	}
	if err := f.fail[name]; err != nil {
		return api.UploadResult{}, err
	}
	body, _ := io.ReadAll(content)
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[name] = string(body)
	return api.UploadResult{Filename: name, Status: "success"}, nil
}

func writeFiles(t *testing.T, names ...string) []File {
	t.Helper()
	dir := t.TempDir()
	files := make([]File, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("body of "+name), 0o600))
		f, err := FromPath(path)
		require.NoError(t, err)
		files = append(files, f)
	}
	return files
}

func newTurn() (*transcript.Store, transcript.Handle) {
	store := transcript.NewStore(nil)
	store.AppendUser("")
	return store, store.BeginAssistant()
}

func TestUploadAllInOrder(t *testing.T) {
	store, h := newTurn()
	transport := &fakeTransport{}
	var seen []string
	u := New(transport, store, WithProgress(func(p Progress) { seen = append(seen, p.StatusText()) }))

	cites, err := u.Upload(context.Background(), h, writeFiles(t, "a.txt", "b.txt"))

	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, transport.received)
	assert.Equal(t, "body of b.txt", transport.bodies["b.txt"])
	assert.Equal(t, []transcript.Citation{
		{ID: "1", Text: "a.txt", Link: "a.txt"},
		{ID: "2", Text: "b.txt", Link: "b.txt"},
	}, cites)
	turn, _ := store.Turn(h.ID())
	assert.Equal(t, cites, turn.Citations)
	assert.Equal(t, []string{
		"Uploading a.txt...", "Successfully uploaded a.txt",
		"Uploading b.txt...", "Successfully uploaded b.txt",
	}, seen)
}

func TestUploadStopsAtFirstFailure(t *testing.T) {
	store, h := newTurn()
	transport := &fakeTransport{fail: map[string]error{"b.txt": errors.New("Failed to process file")}}
	u := New(transport, store)

	cites, err := u.Upload(context.Background(), h, writeFiles(t, "a.txt", "b.txt", "c.txt"))

	var ferr *FileError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "b.txt", ferr.Name)
	assert.Equal(t, "b.txt: Failed to process file", err.Error())
	assert.Equal(t, []string{"a.txt", "b.txt"}, transport.received)
	require.Len(t, cites, 1)
	turn, _ := store.Turn(h.ID())
	require.Len(t, turn.Citations, 1)
	assert.Equal(t, "a.txt", turn.Citations[0].Text)
}

func TestCitationVisibleBeforeNextFileStarts(t *testing.T) {
	store, h := newTurn()
	var counts []int
	transport := &fakeTransport{observe: func(string) {
		turn, _ := store.Turn(h.ID())
		counts = append(counts, len(turn.Citations))
	}}

	_, err := New(transport, store).Upload(context.Background(), h, writeFiles(t, "a", "b", "c"))

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, counts)
}

func TestUploadChecksContextBetweenFiles(t *testing.T) {
	store, h := newTurn()
	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{observe: func(string) { cancel() }}

	cites, err := New(transport, store).Upload(ctx, h, writeFiles(t, "a", "b"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, cites, 1)
	assert.Equal(t, []string{"a"}, transport.received)
}

func TestMissingFileFailsBatch(t *testing.T) {
	store, h := newTurn()
	transport := &fakeTransport{}
	files := []File{{Name: "gone.pdf", Path: filepath.Join(t.TempDir(), "gone.pdf")}}

	_, err := New(transport, store).Upload(context.Background(), h, files)

	var ferr *FileError
	require.True(t, errors.As(err, &ferr))
	assert.Empty(t, transport.received)
}

func TestStatusText(t *testing.T) {
	large := Progress{File: File{Name: "big.pdf", Size: 12*1024*1024 + 300*1024}}
	assert.Equal(t, "Large file detected (12.3MB). Only the first part will be processed.", large.StatusText())

	edge := Progress{File: File{Name: "edge.pdf", Size: LargeFileThreshold}}
	assert.Equal(t, "Uploading edge.pdf...", edge.StatusText())

	failed := Progress{File: File{Name: "x"}, Phase: PhaseFailed, Err: errors.New("x: boom")}
	assert.True(t, strings.HasPrefix(failed.StatusText(), "Error: "))
}

func TestFromPathRejectsDirectory(t *testing.T) {
	_, err := FromPath(t.TempDir())
	assert.Error(t, err)
}

func TestDuplicateLinkRecordedOnce(t *testing.T) {
	store, h := newTurn()
	files := append(writeFiles(t, "a.txt"), writeFiles(t, "a.txt")...)
	u := New(&fakeTransport{}, store)

	cites, err := u.Upload(context.Background(), h, files)

	require.NoError(t, err)
	assert.Equal(t, []transcript.Citation{{ID: "1", Text: "a.txt", Link: "a.txt"}}, cites)
	turn, _ := store.Turn(h.ID())
	assert.Equal(t, cites, turn.Citations)
}
