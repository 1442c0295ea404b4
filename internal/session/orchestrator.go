package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"docchat/internal/stream"
	"docchat/internal/transcript"
	"docchat/internal/upload"
)

var (
	ErrEmptySubmission = errors.New("session: nothing to submit")
	ErrStreaming       = errors.New("session: a response is still streaming")
)

// ChatAPI is the part of the service the orchestrator drives.
type ChatAPI interface {
	upload.Transport
	SubmitChat(ctx context.Context, query, threadID string) (string, error)
	OpenStream(ctx context.Context, jobID, threadID string) (io.ReadCloser, error)
}

type State int

const (
	StateIdle State = iota
	StateUploading
	StateRequesting
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result describes how one submission ended.
type Result struct {
	Turn      transcript.Handle
	Citations []transcript.Citation
	JobID     string
	Stream    stream.Outcome
	Err       error
}

type Orchestrator struct {
	api      ChatAPI
	store    *transcript.Store
	uploader *upload.Uploader
	threadID func() string
	policy   stream.FailurePolicy
	idle     time.Duration
	onState  func(State)
	log      *zap.Logger

	mu       sync.Mutex
	state    State
	inflight *flight
}

type flight struct {
	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}
}

func newOrchestrator(chat ChatAPI, store *transcript.Store, threadID func() string, opts Options) *Orchestrator {
	onState := opts.OnState
	if onState == nil {
		onState = func(State) {}
	}
	return &Orchestrator{
		api:   chat,
		store: store,
		uploader: upload.New(chat, store,
			upload.WithLogger(opts.Logger),
			upload.WithTimeout(opts.UploadTimeout),
			upload.WithProgress(opts.OnProgress)),
		threadID: threadID,
		policy:   opts.FailurePolicy,
		idle:     opts.StreamIdleTimeout,
		onState:  onState,
		log:      opts.Logger.Named("orchestrator"),
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.onState(s)
}

// Pending is a submission whose turns are in the transcript but whose
// network work has not run yet.
type Pending struct {
	o    *Orchestrator
	in   Input
	turn transcript.Handle
	f    *flight
}

func (p *Pending) Turn() transcript.Handle { return p.turn }

// Begin guards in, raises the streaming flag and appends the user turn and
// the empty assistant turn. It does no network work; call Run next.
//
// The streaming flag is the only guard. Once a flight clears it, the slot
// is free even though that flight's Run may still be unwinding.
func (o *Orchestrator) Begin(in Input) (*Pending, error) {
	if in.Empty() {
		return nil, ErrEmptySubmission
	}
	if !o.store.BeginStreaming() {
		return nil, ErrStreaming
	}
	f := &flight{cancel: func() {}, done: make(chan struct{})}
	o.mu.Lock()
	o.inflight = f
	o.mu.Unlock()

	o.store.AppendUser(in.Text)
	h := o.store.BeginAssistant()
	o.log.Debug("submission accepted",
		zap.String("turn_id", h.ID()),
		zap.Int("attachments", len(in.Files)))
	return &Pending{o: o, in: in, turn: h, f: f}, nil
}

// Run uploads attachments, submits the query and consumes the answer
// stream. Every exit clears the streaming flag and finishes the turn.
func (p *Pending) Run(ctx context.Context) Result {
	o := p.o
	ctx, cancel := context.WithCancel(ctx)
	f := p.f
	o.mu.Lock()
	f.cancel = cancel
	if f.canceled {
		cancel()
	}
	o.mu.Unlock()
	defer func() {
		cancel()
		// A newer submission may already own the slot.
		o.mu.Lock()
		current := o.inflight == f
		if current {
			o.inflight = nil
			o.state = StateIdle
		}
		o.mu.Unlock()
		close(f.done)
		if current {
			o.onState(StateIdle)
		}
	}()

	res := Result{Turn: p.turn}
	if len(p.in.Files) > 0 {
		o.setState(StateUploading)
		cites, err := o.uploader.Upload(ctx, p.turn, p.in.Files)
		res.Citations = cites
		if err != nil {
			return o.fail(ctx, res, err)
		}
	}

	o.setState(StateRequesting)
	threadID := o.threadID()
	jobID, err := o.api.SubmitChat(ctx, p.in.Text, threadID)
	if err != nil {
		return o.fail(ctx, res, err)
	}
	res.JobID = jobID
	body, err := o.api.OpenStream(ctx, jobID, threadID)
	if err != nil {
		return o.fail(ctx, res, err)
	}

	o.setState(StateStreaming)
	consumer := stream.NewConsumer(o.store, p.turn, stream.WithPolicy(o.policy), stream.WithLogger(o.log))
	res.Stream = consumer.Run(ctx, stream.NewSSE(body, o.idle, stream.WithSSELogger(o.log)))
	res.Err = res.Stream.Err
	return res
}

func (o *Orchestrator) fail(ctx context.Context, res Result, err error) Result {
	o.setState(StateFailed)
	if ctx.Err() == nil {
		_ = o.store.WriteContent(res.Turn, "Error: "+err.Error())
	}
	_ = o.store.Finish(res.Turn)
	o.store.SetStreaming(false)
	o.log.Warn("submission failed", zap.String("turn_id", res.Turn.ID()), zap.Error(err))
	res.Err = err
	return res
}

// Submit is Begin followed by Run.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (Result, error) {
	p, err := o.Begin(in)
	if err != nil {
		return Result{}, err
	}
	return p.Run(ctx), nil
}

// Cancel stops the in-flight submission, if any, and waits for it to
// release its stream. A file already uploading finishes first.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	f := o.inflight
	if f == nil {
		o.mu.Unlock()
		return nil
	}
	f.canceled = true
	stop := f.cancel
	o.mu.Unlock()
	stop()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
