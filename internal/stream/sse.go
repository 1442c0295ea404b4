package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrIdleTimeout = errors.New("stream: no event within idle timeout")
	ErrClosed      = errors.New("stream: channel closed")
)

// Channel is an ordered source of raw event frames. Close releases it and
// unblocks any pending Next.
type Channel interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// maxLineBytes bounds one line of the stream. Longer lines are dropped
// along with the rest of their event.
const maxLineBytes = 1 << 20

// SSE decodes a text/event-stream body. A reader goroutine owns the body
// until Close or end of stream.
type SSE struct {
	body   io.ReadCloser
	idle   time.Duration
	log    *zap.Logger
	frames chan string
	ended  chan struct{}
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

type SSEOption func(*SSE)

func WithSSELogger(log *zap.Logger) SSEOption {
	return func(s *SSE) { s.log = log }
}

// NewSSE starts decoding body. idle bounds the wait for each frame; zero
// waits forever.
func NewSSE(body io.ReadCloser, idle time.Duration, opts ...SSEOption) *SSE {
	s := &SSE{
		body:   body,
		idle:   idle,
		log:    zap.NewNop(),
		frames: make(chan string),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	go s.read()
	return s
}

func (s *SSE) read() {
	err := s.scan()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ended)
}

func (s *SSE) scan() error {
	r := bufio.NewReaderSize(s.body, 64<<10)
	var data []string
	skipping := false
	dispatch := func() bool {
		if len(data) == 0 {
			return true
		}
		frame := strings.Join(data, "\n")
		data = data[:0]
		return s.emit(frame)
	}
	handle := func(line string) bool {
		switch {
		case line == "":
			skipping = false
			return dispatch()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if !skipping {
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		default:
			// Bare newline-delimited frames, as sent by plain NDJSON relays.
			trimmed := strings.TrimSpace(line)
			if trimmed == DoneMarker || strings.HasPrefix(trimmed, "{") {
				return dispatch() && s.emit(trimmed)
			}
		}
		return true
	}
	for {
		line, tooLong, err := readLine(r, maxLineBytes)
		switch {
		case tooLong:
			s.log.Warn("dropping oversized stream line", zap.Int("limit", maxLineBytes))
			data = data[:0]
			skipping = true
		case err == nil || len(line) > 0:
			if !handle(line) {
				return ErrClosed
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		select {
		case <-s.done:
			return ErrClosed
		default:
		}
		return err
	}
	if !dispatch() {
		return ErrClosed
	}
	return nil
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed whole and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+2 {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return "", true, err
		}
		return strings.TrimRight(string(buf), "\r\n"), false, err
	}
}

func (s *SSE) emit(frame string) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.done:
		return false
	}
}

func (s *SSE) Next(ctx context.Context) (string, error) {
	var timeout <-chan time.Time
	if s.idle > 0 {
		timer := time.NewTimer(s.idle)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.ended:
		s.mu.Lock()
		defer s.mu.Unlock()
		return "", s.err
	case <-s.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timeout:
		return "", ErrIdleTimeout
	}
}

// Close is idempotent.
func (s *SSE) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}
