// Package transcript holds the single source of truth for a chat session:
// an ordered list of turns plus the session-wide streaming flag.
package transcript

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
)

var (
	ErrInvalidHandle = errors.New("transcript: handle does not name an assistant turn")
	ErrInactiveTurn  = errors.New("transcript: turn is no longer active")
)

type ToolInvocation struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status ToolStatus `json:"status"`
}

// Citation points from assistant output to a source document. Link is the
// dedup key within a turn.
type Citation struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Link string `json:"link,omitempty"`
}

// UIPayload is the optional structured component attached to an assistant
// turn. Data is kept raw; the store never interprets it.
type UIPayload struct {
	Kind string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Turn is a read-only snapshot of one transcript entry.
type Turn struct {
	ID        string
	Role      Role
	Content   string
	Tools     []ToolInvocation
	Citations []Citation
	UI        *UIPayload
	Active    bool
}

// LastTool returns the most recent tool invocation, if any.
func (t Turn) LastTool() (ToolInvocation, bool) {
	if len(t.Tools) == 0 {
		return ToolInvocation{}, false
	}
	return t.Tools[len(t.Tools)-1], true
}

// Handle names an assistant turn created by BeginAssistant. The zero value
// is never valid.
type Handle struct {
	id string
}

func (h Handle) ID() string { return h.id }

func (h Handle) Valid() bool { return h.id != "" }

func newID() string {
	return uuid.NewString()
}
