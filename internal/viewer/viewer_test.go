package viewer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docchat/internal/transcript"
)

type prefixResolver string

func (p prefixResolver) FileURL(name string) string { return string(p) + "/api/pdf/files/" + name }

func TestOpenCitationResolvesFileServingConvention(t *testing.T) {
	c := New(prefixResolver("http://localhost:8000"))

	resource := c.OpenCitation(transcript.Citation{ID: "1", Text: "Report", Link: "report.pdf"})

	assert.Equal(t, "http://localhost:8000/api/pdf/files/report.pdf", resource)
	assert.Equal(t, State{Open: true, Resource: resource, Page: 1}, c.State())
}

func TestOpenDefaultsPage(t *testing.T) {
	c := New(nil)
	c.Open("doc.txt", 0)
	assert.Equal(t, 1, c.State().Page)

	c.Open("doc.txt", 7)
	assert.Equal(t, 7, c.State().Page)
}

func TestCloseClearsResource(t *testing.T) {
	c := New(nil)
	c.Open("doc.txt", 3)
	c.Close()
	assert.Equal(t, State{}, c.State())
}

func TestDocumentNameFallbacks(t *testing.T) {
	assert.Equal(t, "a.pdf", DocumentName(transcript.Citation{Link: "a.pdf", Text: "A"}))
	assert.Equal(t, "A.md", DocumentName(transcript.Citation{Text: "A.md"}))
	assert.Equal(t, FallbackDocument, DocumentName(transcript.Citation{ID: "9"}))
}

func TestObserversReceiveState(t *testing.T) {
	c := New(nil)
	var seen []State
	c.Subscribe(func(s State) { seen = append(seen, s) })

	c.Open("x", 2)
	c.Close()

	assert.Equal(t, []State{{Open: true, Resource: "x", Page: 2}, {}}, seen)
}
