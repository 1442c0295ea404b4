package session

import (
	"strings"
	"sync"

	"docchat/internal/upload"
)

// Input is one captured submission.
type Input struct {
	Text  string
	Files []upload.File
}

func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Files) == 0
}

// Composer holds the text being typed and the pending attachment queue.
type Composer struct {
	mu    sync.Mutex
	text  string
	files []upload.File
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Composer) Attach(f upload.File) {
	c.mu.Lock()
	c.files = append(c.files, f)
	c.mu.Unlock()
}

// Remove drops the attachment at index if it is named name. A negative
// index removes the first attachment with that name.
func (c *Composer) Remove(name string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 {
		for i, f := range c.files {
			if f.Name == name {
				index = i
				break
			}
		}
	}
	if index < 0 || index >= len(c.files) || c.files[index].Name != name {
		return false
	}
	c.files = append(c.files[:index:index], c.files[index+1:]...)
	return true
}

func (c *Composer) Files() []upload.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]upload.File(nil), c.files...)
}

// Capture hands the current input to accept and clears the composer only
// when accept succeeds. A rejected submission leaves the input in place.
func (c *Composer) Capture(accept func(Input) error) (Input, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := Input{Text: c.text, Files: append([]upload.File(nil), c.files...)}
	if err := accept(in); err != nil {
		return in, err
	}
	c.text, c.files = "", nil
	return in, nil
}

func (c *Composer) Clear() {
	c.mu.Lock()
	c.text, c.files = "", nil
	c.mu.Unlock()
}
