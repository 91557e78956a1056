package core

// MetaType distinguishes metas produced from a document scan from metas
// produced while validating a model answer.
type MetaType string

// Meta type values.
const (
	MetaTypeDocument MetaType = "document"
	MetaTypePrompt   MetaType = "prompt"
)

// Meta summarizes a group of engrams from a single source or answer. The
// full summary is itself an Index so it can be embedded and queried in the
// meta vector collection for coarse retrieval.
type Meta struct {
	ID             string   `json:"id"`
	Type           MetaType `json:"type"`
	Locations      []string `json:"locations"`
	SourceIDs      []string `json:"source_ids"`
	Keywords       []string `json:"keywords,omitempty"`
	SummaryInitial string   `json:"summary_initial,omitempty"`
	SummaryFull    Index    `json:"summary_full"`
	ParentID       string   `json:"parent_id,omitempty"`
}

// Render returns the meta's keyword and summary text for LLM consumption.
func (m *Meta) Render() string {
	out := "<keywords>\n"
	for _, kw := range m.Keywords {
		out += kw + "\n"
	}
	out += "</keywords>\n<summary>" + m.SummaryFull.Text + "</summary>\n"
	return out
}
