package transcript

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type ChangeKind string

const (
	ChangeAppend    ChangeKind = "append"
	ChangeContent   ChangeKind = "content"
	ChangeTool      ChangeKind = "tool"
	ChangeCitation  ChangeKind = "citation"
	ChangePayload   ChangeKind = "payload"
	ChangeFinish    ChangeKind = "finish"
	ChangeStreaming ChangeKind = "streaming"
	ChangeReset     ChangeKind = "reset"
)

type Change struct {
	Kind   ChangeKind
	TurnID string
}

// Observer is called after a mutation lands, outside the store lock.
type Observer func(Change)

type entry struct {
	id        string
	role      Role
	content   strings.Builder
	tools     []ToolInvocation
	citations []Citation
	links     map[string]struct{}
	ui        *UIPayload
	active    bool
}

func (e *entry) snapshot() Turn {
	t := Turn{
		ID:      e.id,
		Role:    e.role,
		Content: e.content.String(),
		Active:  e.active,
	}
	if len(e.tools) > 0 {
		t.Tools = append([]ToolInvocation(nil), e.tools...)
	}
	if len(e.citations) > 0 {
		t.Citations = append([]Citation(nil), e.citations...)
	}
	if e.ui != nil {
		ui := *e.ui
		t.UI = &ui
	}
	return t
}

// Store owns every turn of a session. All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	turns     []*entry
	index     map[string]*entry
	streaming bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
	resetFns  []func()

	log *zap.Logger
}

func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		index:     map[string]*entry{},
		observers: map[int]Observer{},
		log:       log.Named("transcript"),
	}
}

// Subscribe registers fn for change notifications and returns a cancel func.
func (s *Store) Subscribe(fn Observer) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// OnReset registers fn to run at the end of every Reset.
func (s *Store) OnReset(fn func()) {
	s.obsMu.Lock()
	s.resetFns = append(s.resetFns, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(change Change) {
	s.obsMu.RLock()
	fns := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(change)
	}
}

// Append adds turn at the end. A duplicate or empty id is a programming
// error and panics. Assistant turns start active; user turns never are.
func (s *Store) Append(turn Turn) {
	if turn.ID == "" {
		panic("transcript: turn id must not be empty")
	}
	s.mu.Lock()
	if _, exists := s.index[turn.ID]; exists {
		s.mu.Unlock()
		panic(fmt.Sprintf("transcript: duplicate turn id %q", turn.ID))
	}
	e := &entry{
		id:     turn.ID,
		role:   turn.Role,
		links:  map[string]struct{}{},
		active: turn.Role == RoleAssistant,
	}
	e.content.WriteString(turn.Content)
	if turn.Role == RoleAssistant {
		e.tools = append(e.tools, turn.Tools...)
		for _, c := range turn.Citations {
			if _, dup := e.links[c.Link]; dup {
				continue
			}
			e.links[c.Link] = struct{}{}
			e.citations = append(e.citations, c)
		}
		if turn.UI != nil {
			ui := *turn.UI
			e.ui = &ui
		}
	}
	s.turns = append(s.turns, e)
	s.index[e.id] = e
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeAppend, TurnID: turn.ID})
}

// AppendUser appends an immutable user turn.
func (s *Store) AppendUser(content string) Turn {
	turn := Turn{ID: newID(), Role: RoleUser, Content: content}
	s.Append(turn)
	return turn
}

// BeginAssistant appends an empty, active assistant turn and returns its handle.
func (s *Store) BeginAssistant() Handle {
	id := newID()
	s.Append(Turn{ID: id, Role: RoleAssistant})
	return Handle{id: id}
}

// mutate runs fn on the active assistant turn named by h.
func (s *Store) mutate(h Handle, kind ChangeKind, fn func(e *entry) bool) (bool, error) {
	if !h.Valid() {
		return false, ErrInvalidHandle
	}
	s.mu.Lock()
	e, ok := s.index[h.id]
	if !ok || e.role != RoleAssistant {
		s.mu.Unlock()
		return false, ErrInvalidHandle
	}
	if !e.active {
		s.mu.Unlock()
		return false, ErrInactiveTurn
	}
	changed := fn(e)
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: kind, TurnID: h.id})
	}
	return changed, nil
}

// WriteContent appends delta to the turn's content buffer.
func (s *Store) WriteContent(h Handle, delta string) error {
	_, err := s.mutate(h, ChangeContent, func(e *entry) bool {
		if delta == "" {
			return false
		}
		e.content.WriteString(delta)
		return true
	})
	return err
}

// AddToolInvocation appends call unless its name equals the current last
// invocation's name. It reports whether the call was appended.
func (s *Store) AddToolInvocation(h Handle, call ToolInvocation) (bool, error) {
	return s.mutate(h, ChangeTool, func(e *entry) bool {
		if n := len(e.tools); n > 0 && e.tools[n-1].Name == call.Name {
			return false
		}
		if call.ID == "" {
			call.ID = newID()
		}
		if call.Status == "" {
			call.Status = ToolRunning
		}
		e.tools = append(e.tools, call)
		return true
	})
}

// AddCitation appends c unless a citation with the same link is already on
// the turn. First occurrence wins.
func (s *Store) AddCitation(h Handle, c Citation) (bool, error) {
	return s.mutate(h, ChangeCitation, func(e *entry) bool {
		if _, dup := e.links[c.Link]; dup {
			return false
		}
		e.links[c.Link] = struct{}{}
		e.citations = append(e.citations, c)
		return true
	})
}

// SetPayload overwrites the turn's structured payload.
func (s *Store) SetPayload(h Handle, p UIPayload) error {
	_, err := s.mutate(h, ChangePayload, func(e *entry) bool {
		e.ui = &p
		return true
	})
	return err
}

// Finish ends the turn's active period. Running tool invocations are marked
// completed. Later mutations through h fail with ErrInactiveTurn.
func (s *Store) Finish(h Handle) error {
	_, err := s.mutate(h, ChangeFinish, func(e *entry) bool {
		for i := range e.tools {
			if e.tools[i].Status == ToolRunning {
				e.tools[i].Status = ToolCompleted
			}
		}
		e.active = false
		return true
	})
	return err
}

func (s *Store) lastHandle() Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return Handle{}
	}
	last := s.turns[len(s.turns)-1]
	if last.role != RoleAssistant {
		return Handle{}
	}
	return Handle{id: last.id}
}

// AppendToLastAssistantContent is a no-op unless the last turn is an active
// assistant turn.
func (s *Store) AppendToLastAssistantContent(delta string) bool {
	h := s.lastHandle()
	if !h.Valid() {
		return false
	}
	return s.WriteContent(h, delta) == nil
}

func (s *Store) AppendToolInvocation(call ToolInvocation) bool {
	h := s.lastHandle()
	if !h.Valid() {
		return false
	}
	ok, err := s.AddToolInvocation(h, call)
	return ok && err == nil
}

func (s *Store) AppendCitation(c Citation) bool {
	h := s.lastHandle()
	if !h.Valid() {
		return false
	}
	ok, err := s.AddCitation(h, c)
	return ok && err == nil
}

func (s *Store) SetUIPayload(p UIPayload) bool {
	h := s.lastHandle()
	if !h.Valid() {
		return false
	}
	return s.SetPayload(h, p) == nil
}

func (s *Store) SetStreaming(on bool) {
	s.mu.Lock()
	changed := s.streaming != on
	s.streaming = on
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeStreaming})
	}
}

// BeginStreaming raises the streaming flag unless it is already up and
// reports whether it did.
func (s *Store) BeginStreaming() bool {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return false
	}
	s.streaming = true
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeStreaming})
	return true
}

func (s *Store) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// Reset clears every turn and the streaming flag, then runs reset hooks.
func (s *Store) Reset() {
	s.mu.Lock()
	dropped := len(s.turns)
	s.turns = nil
	s.index = map[string]*entry{}
	s.streaming = false
	s.mu.Unlock()

	s.obsMu.RLock()
	hooks := append([]func(){}, s.resetFns...)
	s.obsMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
	s.log.Debug("transcript reset", zap.Int("dropped_turns", dropped))
	s.notify(Change{Kind: ChangeReset})
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turns returns snapshots of every turn in order.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, 0, len(s.turns))
	for _, e := range s.turns {
		out = append(out, e.snapshot())
	}
	return out
}

func (s *Store) Turn(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	if !ok {
		return Turn{}, false
	}
	return e.snapshot(), true
}

func (s *Store) Last() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1].snapshot(), true
}

// LastAssistant returns the most recent assistant turn, skipping trailing
// user turns.
func (s *Store) LastAssistant() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].role == RoleAssistant {
			return s.turns[i].snapshot(), true
		}
	}
	return Turn{}, false
}
