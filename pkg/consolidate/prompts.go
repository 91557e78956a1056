package consolidate

import (
	"strings"
	"text/template"
)

// genIndicesTemplate generates the lookup phrases for one engram. Phrases
// must be at least five words so they embed distinctively.
const genIndicesTemplate = `Generate lookup phrases a person might use to find
the memory below with semantic search. Each phrase must be five to eight
words long. Cover the memory's subject, its claims, and its context.

{{.EngramRender}}
`

// summaryTemplate produces a full summary for a meta that arrived without
// one (observations from non-LLM sources).
const summaryTemplate = `Write a one-paragraph summary of the observation
below, covering every engram it contains.

{{.ObservationRender}}
`

var (
	genIndicesTmpl = template.Must(template.New("gen_indices").Parse(genIndicesTemplate))
	summaryTmpl    = template.Must(template.New("summary").Parse(summaryTemplate))
)

func renderGenIndices(engramRender string) string {
	var b strings.Builder
	_ = genIndicesTmpl.Execute(&b, struct{ EngramRender string }{engramRender})
	return b.String()
}

func renderSummary(observationRender string) string {
	var b strings.Builder
	_ = summaryTmpl.Execute(&b, struct{ ObservationRender string }{observationRender})
	return b.String()
}
