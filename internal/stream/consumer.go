package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"docchat/internal/transcript"
)

// FailurePolicy decides what a channel failure leaves in the transcript.
type FailurePolicy string

const (
	// FailSilent stops consuming and leaves the partial answer as is.
	FailSilent FailurePolicy = "silent"
	// FailAnnotate appends a short inline note naming the cause.
	FailAnnotate FailurePolicy = "annotate"
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FailSilent:
		return FailSilent, nil
	case FailAnnotate:
		return FailAnnotate, nil
	default:
		return "", fmt.Errorf("unknown stream failure policy %q", raw)
	}
}

type State int

const (
	StateOpen State = iota
	StateConsuming
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateConsuming:
		return "consuming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome summarises one consumption run. Err is nil when the terminal
// marker arrived.
type Outcome struct {
	State   State
	Applied int
	Skipped int
	Err     error
}

// Consumer folds one job's events into a single assistant turn.
type Consumer struct {
	store  *transcript.Store
	handle transcript.Handle
	policy FailurePolicy
	log    *zap.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Consumer)

func WithPolicy(p FailurePolicy) Option {
	return func(c *Consumer) { c.policy = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Consumer) { c.log = log }
}

func NewConsumer(store *transcript.Store, h transcript.Handle, opts ...Option) *Consumer {
	c := &Consumer{
		store:  store,
		handle: h,
		policy: FailSilent,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("stream").With(zap.String("turn_id", h.ID()))
	return c
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Apply performs the single transcript mutation for ev. done reports the
// terminal marker; err is a store rejection, usually a reset turn.
func (c *Consumer) Apply(ev Event) (done bool, err error) {
	switch ev := ev.(type) {
	case Status:
		c.log.Debug("status", zap.String("content", ev.Content))
	case Text:
		err = c.store.WriteContent(c.handle, ev.Delta)
	case ToolCall:
		_, err = c.store.AddToolInvocation(c.handle, transcript.ToolInvocation{
			Name:   ev.Name,
			Status: transcript.ToolRunning,
		})
	case CitationEvent:
		_, err = c.store.AddCitation(c.handle, ev.Citation)
	case ErrorEvent:
		err = c.store.WriteContent(c.handle, "\n\nError: "+ev.Message)
	case UIComponent:
		err = c.store.SetPayload(c.handle, ev.Payload)
	case Done:
		return true, nil
	}
	return false, err
}

// Run drains ch until the terminal marker, a channel failure or a store
// rejection. It always closes ch, clears the streaming flag and finishes
// the turn before returning.
func (c *Consumer) Run(ctx context.Context, ch Channel) Outcome {
	c.setState(StateConsuming)
	var out Outcome
	for {
		raw, err := ch.Next(ctx)
		if err != nil {
			return c.fail(ctx, ch, out, err)
		}
		ev, err := Parse(raw)
		if err != nil {
			out.Skipped++
			c.log.Warn("skipping event", zap.Error(err), zap.String("frame", truncate(raw, 200)))
			continue
		}
		done, err := c.Apply(ev)
		if err != nil {
			c.log.Debug("turn rejected event", zap.String("event", Tag(ev)), zap.Error(err))
			return c.fail(ctx, ch, out, err)
		}
		out.Applied++
		if done {
			c.close(ch)
			c.setState(StateClosed)
			out.State = StateClosed
			c.log.Debug("stream complete", zap.Int("applied", out.Applied), zap.Int("skipped", out.Skipped))
			return out
		}
	}
}

func (c *Consumer) fail(ctx context.Context, ch Channel, out Outcome, cause error) Outcome {
	_ = ch.Close()
	if c.policy == FailAnnotate && ctx.Err() == nil && annotatable(cause) {
		_ = c.store.WriteContent(c.handle, "\n\nError: stream interrupted: "+cause.Error())
	}
	_ = c.store.Finish(c.handle)
	c.store.SetStreaming(false)
	c.setState(StateErrored)
	out.State = StateErrored
	out.Err = cause
	c.log.Info("stream failed", zap.Error(cause), zap.Int("applied", out.Applied))
	return out
}

func (c *Consumer) close(ch Channel) {
	_ = ch.Close()
	_ = c.store.Finish(c.handle)
	c.store.SetStreaming(false)
}

// annotatable excludes local cancellation and turns that are already gone.
func annotatable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrClosed) &&
		!errors.Is(err, transcript.ErrInvalidHandle) &&
		!errors.Is(err, transcript.ErrInactiveTurn)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
