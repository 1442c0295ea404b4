// Package session ties one conversation together: its identifier, the
// transcript, the document viewer, the input composer and the submission
// state machine.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docchat/internal/stream"
	"docchat/internal/transcript"
	"docchat/internal/upload"
	"docchat/internal/viewer"
)

// Backend is everything a session needs from the chat service.
// *api.Client satisfies it.
type Backend interface {
	ChatAPI
	Reset(ctx context.Context) error
	FileURL(name string) string
}

type Options struct {
	FailurePolicy     stream.FailurePolicy
	StreamIdleTimeout time.Duration
	UploadTimeout     time.Duration
	Logger            *zap.Logger
	OnState           func(State)
	OnProgress        func(upload.Progress)
}

type Session struct {
	backend  Backend
	store    *transcript.Store
	viewer   *viewer.Controller
	composer *Composer
	orch     *Orchestrator
	log      *zap.Logger

	mu sync.RWMutex
	id string
}

func New(backend Backend, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnProgress == nil {
		opts.OnProgress = func(upload.Progress) {}
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = stream.FailSilent
	}
	log := opts.Logger.Named("session")
	s := &Session{
		backend:  backend,
		store:    transcript.NewStore(opts.Logger),
		viewer:   viewer.New(backend),
		composer: &Composer{},
		log:      log,
		id:       uuid.NewString(),
	}
	s.store.OnReset(s.viewer.Close)
	opts.Logger = log
	s.orch = newOrchestrator(backend, s.store, s.ID, opts)
	return s
}

// ID is the thread identifier sent with every chat request.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Store() *transcript.Store { return s.store }

func (s *Session) Viewer() *viewer.Controller { return s.viewer }

func (s *Session) Composer() *Composer { return s.composer }

func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Begin captures the composer and starts a submission. On rejection the
// composer keeps its contents.
func (s *Session) Begin() (*Pending, error) {
	var p *Pending
	_, err := s.composer.Capture(func(in Input) error {
		var err error
		p, err = s.orch.Begin(in)
		return err
	})
	return p, err
}

// Submit captures the composer and runs the whole submission.
func (s *Session) Submit(ctx context.Context) (Result, error) {
	p, err := s.Begin()
	if err != nil {
		return Result{}, err
	}
	return p.Run(ctx), nil
}

// OpenCitation opens the document behind citation index (0-based) of the
// most recent assistant turn.
func (s *Session) OpenCitation(index int) (string, bool) {
	turn, ok := s.store.LastAssistant()
	if !ok || index < 0 || index >= len(turn.Citations) {
		return "", false
	}
	return s.viewer.OpenCitation(turn.Citations[index]), true
}

// serverResetTimeout caps the best-effort server reset.
const serverResetTimeout = 10 * time.Second

// Reset starts a fresh conversation. The local side goes first: the
// in-flight submission is cancelled and awaited, then the transcript, viewer
// and composer are cleared and the identifier regenerated. Only then is the
// server asked to reset, on a bounded context; its failure is logged and not
// returned. The returned error is non-nil only when ctx expired before the
// in-flight submission stopped; the local reset has still happened.
func (s *Session) Reset(ctx context.Context) error {
	cancelErr := s.orch.Cancel(ctx)
	if cancelErr != nil {
		s.log.Warn("in-flight submission did not stop", zap.Error(cancelErr))
	}
	s.store.Reset()
	s.composer.Clear()

	s.mu.Lock()
	old := s.id
	s.id = uuid.NewString()
	s.mu.Unlock()
	s.log.Info("session reset", zap.String("previous_id", old), zap.String("id", s.ID()))

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverResetTimeout)
	defer cancel()
	if err := s.backend.Reset(rctx); err != nil {
		s.log.Warn("server reset failed", zap.Error(err))
	}
	return cancelErr
}
