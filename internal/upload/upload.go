// Package upload sends pending attachments to the chat service one at a
// time and records each accepted file as a citation on the assistant turn.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"docchat/internal/api"
	"docchat/internal/transcript"
)

// LargeFileThreshold is the size above which the server may only index the
// first part of a file.
const LargeFileThreshold = 5 << 20

type File struct {
	Name string
	Path string
	Size int64
}

func (f File) Large() bool { return f.Size > LargeFileThreshold }

// FromPath stats path and builds a pending attachment named after its base.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{Name: filepath.Base(path), Path: path, Size: info.Size()}, nil
}

// Transport performs a single multipart upload. *api.Client satisfies it.
type Transport interface {
	Upload(ctx context.Context, name string, content io.Reader) (api.UploadResult, error)
}

// FileError is the first failed file of a batch. Files after it were not
// attempted.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string { return e.Name + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

type Phase int

const (
	PhaseStarted Phase = iota
	PhaseDone
	PhaseFailed
)

// Progress reports one step of a batch. Index is 1-based.
type Progress struct {
	File  File
	Index int
	Total int
	Phase Phase
	Err   error
}

// StatusText is the advisory line shown while a batch runs.
func (p Progress) StatusText() string {
	switch p.Phase {
	case PhaseDone:
		return "Successfully uploaded " + p.File.Name
	case PhaseFailed:
		return "Error: " + p.Err.Error()
	}
	if p.File.Large() {
		return fmt.Sprintf("Large file detected (%.1fMB). Only the first part will be processed.", float64(p.File.Size)/(1024*1024))
	}
	return "Uploading " + p.File.Name + "..."
}

type Uploader struct {
	transport Transport
	store     *transcript.Store
	timeout   time.Duration
	progress  func(Progress)
	log       *zap.Logger
}

type Option func(*Uploader)

func WithProgress(fn func(Progress)) Option {
	return func(u *Uploader) { u.progress = fn }
}

// WithTimeout bounds each file. Zero leaves files unbounded.
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) { u.timeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(u *Uploader) { u.log = log }
}

func New(transport Transport, store *transcript.Store, opts ...Option) *Uploader {
	u := &Uploader{
		transport: transport,
		store:     store,
		progress:  func(Progress) {},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.Named("upload")
	return u
}

// Upload sends files in order. Each accepted file is appended as a citation
// to the turn behind h as soon as the server accepts it. The first failure
// stops the batch; citations already recorded stay.
//
// A file that has started uploading is not interrupted by ctx. ctx is only
// checked between files.
func (u *Uploader) Upload(ctx context.Context, h transcript.Handle, files []File) ([]transcript.Citation, error) {
	citations := make([]transcript.Citation, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return citations, fmt.Errorf("upload aborted before %s: %w", f.Name, err)
		}
		step := Progress{File: f, Index: i + 1, Total: len(files), Phase: PhaseStarted}
		u.progress(step)
		u.log.Debug("uploading", zap.String("file", f.Name), zap.Int64("size", f.Size), zap.Bool("large", f.Large()))

		res, err := u.send(ctx, f)
		if err != nil {
			ferr := &FileError{Name: f.Name, Err: err}
			step.Phase, step.Err = PhaseFailed, ferr
			u.progress(step)
			u.log.Warn("upload failed", zap.String("file", f.Name), zap.Error(err))
			return citations, ferr
		}

		link := f.Name
		if res.Filename != "" {
			link = res.Filename
		}
		cite := transcript.Citation{ID: strconv.Itoa(i + 1), Text: f.Name, Link: link}
		added, err := u.store.AddCitation(h, cite)
		if err != nil {
			return citations, fmt.Errorf("record citation for %s: %w", f.Name, err)
		}
		if added {
			citations = append(citations, cite)
		}
		step.Phase = PhaseDone
		u.progress(step)
	}
	return citations, nil
}

func (u *Uploader) send(ctx context.Context, f File) (api.UploadResult, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return api.UploadResult{}, err
	}
	defer file.Close()

	ctx = context.WithoutCancel(ctx)
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	return u.transport.Upload(ctx, f.Name, file)
}
