// Package stream turns the chat service's push channel into typed events and
// folds them into the transcript.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"docchat/internal/transcript"
)

// DoneMarker is the terminal frame, sent outside the JSON envelope.
const DoneMarker = "[DONE]"

var (
	ErrMalformed  = errors.New("stream: malformed event payload")
	ErrUnknownTag = errors.New("stream: unknown event type")
)

// Event is one of the types below; nothing else implements it.
type Event interface {
	tag() string
}

// Status carries handshake acknowledgements such as "connected".
type Status struct {
	Content string
}

type Text struct {
	Delta string
}

type ToolCall struct {
	Name string
}

type CitationEvent struct {
	Citation transcript.Citation
}

type ErrorEvent struct {
	Message string
}

type UIComponent struct {
	Payload transcript.UIPayload
}

type Done struct{}

func (Status) tag() string        { return "status" }
func (Text) tag() string          { return "text" }
func (ToolCall) tag() string      { return "tool_call" }
func (CitationEvent) tag() string { return "citation" }
func (ErrorEvent) tag() string    { return "error" }
func (UIComponent) tag() string   { return "ui_component" }
func (Done) tag() string          { return "done" }

// Tag names the event kind for logging.
func Tag(ev Event) string { return ev.tag() }

type envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	ID      json.RawMessage `json:"id"`
	Text    *string         `json:"text"`
	Link    *string         `json:"link"`
	Data    json.RawMessage `json:"data"`
}

// Parse decodes one frame. Anything that is not the terminal marker or a
// JSON object with a known type and the expected field shapes is rejected.
func Parse(raw string) (Event, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == DoneMarker {
		return Done{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: not a json object", ErrMalformed)
	}
	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "status":
		content, err := stringField(env.Content, "content", false)
		if err != nil {
			return nil, err
		}
		return Status{Content: content}, nil
	case "text":
		content, err := stringField(env.Content, "content", true)
		if err != nil {
			return nil, err
		}
		return Text{Delta: content}, nil
	case "tool_call":
		content, err := stringField(env.Content, "content", true)
		if err != nil {
			return nil, err
		}
		return ToolCall{Name: content}, nil
	case "citation":
		id, err := citationID(env.ID)
		if err != nil {
			return nil, err
		}
		cite := transcript.Citation{ID: id}
		if env.Text != nil {
			cite.Text = *env.Text
		}
		if env.Link != nil {
			cite.Link = *env.Link
		}
		return CitationEvent{Citation: cite}, nil
	case "error":
		content, err := stringField(env.Content, "content", true)
		if err != nil {
			return nil, err
		}
		return ErrorEvent{Message: content}, nil
	case "ui_component":
		var payload transcript.UIPayload
		source := env.Data
		if len(source) == 0 {
			source = env.Content
		}
		if len(source) == 0 || json.Unmarshal(source, &payload) != nil || payload.Kind == "" {
			return nil, fmt.Errorf("%w: ui_component needs {type, data}", ErrMalformed)
		}
		return UIComponent{Payload: payload}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Type)
	}
}

func stringField(raw json.RawMessage, name string, required bool) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		if required {
			return "", fmt.Errorf("%w: missing %s", ErrMalformed, name)
		}
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, name)
	}
	return value, nil
}

// citationID accepts the numeric ids the server sends as well as strings.
func citationID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: citation without id", ErrMalformed)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		if n, err := strconv.ParseInt(number.String(), 10, 64); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
		return number.String(), nil
	}
	return "", fmt.Errorf("%w: citation id must be a number or string", ErrMalformed)
}
