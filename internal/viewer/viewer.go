// Package viewer holds the open-document state that citation activation
// mutates and the document pane observes.
package viewer

import (
	"strings"
	"sync"

	"docchat/internal/transcript"
)

// FallbackDocument is opened when a citation carries neither link nor text.
const FallbackDocument = "source_document.pdf"

// Resolver turns a served file name into a fetchable resource locator.
type Resolver interface {
	FileURL(name string) string
}

type State struct {
	Open     bool
	Resource string
	Page     int
}

type Controller struct {
	mu        sync.RWMutex
	state     State
	resolver  Resolver
	observers []func(State)
}

func New(resolver Resolver) *Controller {
	return &Controller{resolver: resolver}
}

func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Controller) set(next State) {
	c.mu.Lock()
	c.state = next
	fns := append([]func(State){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
}

// Open shows resource at page; pages below 1 become 1.
func (c *Controller) Open(resource string, page int) {
	if page < 1 {
		page = 1
	}
	c.set(State{Open: true, Resource: resource, Page: page})
}

func (c *Controller) Close() {
	c.set(State{})
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OpenCitation opens the document a citation points at, on page 1, and
// returns the resolved resource.
func (c *Controller) OpenCitation(cite transcript.Citation) string {
	resource := c.Resolve(cite)
	c.Open(resource, 1)
	return resource
}

// Resolve builds the resource locator for a citation without opening it.
func (c *Controller) Resolve(cite transcript.Citation) string {
	name := DocumentName(cite)
	if c.resolver == nil {
		return name
	}
	return c.resolver.FileURL(name)
}

// DocumentName picks the served file name for a citation.
func DocumentName(cite transcript.Citation) string {
	for _, candidate := range []string{cite.Link, cite.Text} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return FallbackDocument
}
