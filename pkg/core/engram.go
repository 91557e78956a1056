package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engram is the atomic unit of memory: a short text with the context needed
// for an LLM to understand its domain relevance, plus the vector indices used
// to find it again.
//
// IsNativeSource distinguishes text lifted directly from a source document
// (true) from text a model derived from prior engrams (false). Derived
// engrams carry accuracy/relevancy scores assigned during validation.
type Engram struct {
	ID             string            `json:"id"`
	Locations      []string          `json:"locations"`
	SourceIDs      []string          `json:"source_ids"`
	Content        string            `json:"content"`
	IsNativeSource bool              `json:"is_native_source"`
	Context        map[string]string `json:"context,omitempty"`
	Indices        []Index           `json:"indices,omitempty"`
	MetaIDs        []string          `json:"meta_ids,omitempty"`
	LibraryIDs     []string          `json:"library_ids,omitempty"`
	Accuracy       int               `json:"accuracy,omitempty"`
	Relevancy      int               `json:"relevancy,omitempty"`
	CreatedDate    time.Time         `json:"created_date"`
}

// NewEngram constructs an engram with a fresh id and creation timestamp.
func NewEngram(content string, locations, sourceIDs []string, isNativeSource bool) *Engram {
	return &Engram{
		ID:             uuid.NewString(),
		Locations:      locations,
		SourceIDs:      sourceIDs,
		Content:        content,
		IsNativeSource: isNativeSource,
		CreatedDate:    time.Now().UTC(),
	}
}

// Render returns the structured-text representation of the engram given to
// LLMs: location, context, index phrases, provenance, and the content itself.
func (e *Engram) Render() string {
	var b strings.Builder
	b.WriteString("<begin>\n")

	b.WriteString("<location>\n")
	b.WriteString(strings.Join(e.Locations, "\n"))
	b.WriteString("</location>\n")

	for key, value := range e.Context {
		b.WriteString("<")
		b.WriteString(key)
		b.WriteString(">")
		b.WriteString(value)
		b.WriteString("</")
		b.WriteString(key)
		b.WriteString(">\n")
	}

	if len(e.Indices) > 0 {
		b.WriteString("<indices>\n")
		for _, idx := range e.Indices {
			b.WriteString(idx.Text)
			b.WriteString("\n")
		}
		b.WriteString("</indices>\n")
	}

	if e.IsNativeSource {
		b.WriteString("The text is directly from the source.\n")
	} else {
		b.WriteString("The text is derived from one or more sources.\n")
	}

	b.WriteString("<text>")
	b.WriteString(e.Content)
	b.WriteString("</text>\n")
	b.WriteString("</end>\n")

	return b.String()
}
