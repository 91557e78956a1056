package retrieve

import (
	"strings"
	"text/template"

	"github.com/engramic/engramic/pkg/core"
)

// genConversationTemplate asks the LLM where the conversation is heading.
const genConversationTemplate = `You are the working memory of a retrieval system.
Given the user's prompt, state the user's intent in one sentence and decide
whether answering requires research across stored sources.

<user_prompt>{{.PromptStr}}</user_prompt>
`

// analyzePromptTemplate classifies the prompt using the retrieved metas as
// domain hints.
const analyzePromptTemplate = `Analyze the user's prompt and classify it.
Respond with the expected response length (short, medium, long), the prompt
type, and the thinking steps a careful answer should follow.
{{if .Metas}}
Domain context:
{{range .Metas}}{{.Render}}{{end}}{{end}}
<user_prompt>{{.PromptStr}}</user_prompt>
`

// genIndicesTemplate generates the dynamic lookup phrases used for vector
// search. Phrases must be five to eight words.
const genIndicesTemplate = `Generate a list of lookup phrases for semantic search
that would locate stored memories relevant to the user's prompt. Each phrase
must be five to eight words long. Generate phrases from the user's point of
view and from the domain's point of view.
{{if .Metas}}
Domain context:
{{range .Metas}}{{.Render}}{{end}}{{end}}
<user_prompt>{{.PromptStr}}</user_prompt>
`

var (
	genConversationTmpl = template.Must(template.New("gen_conversation").Parse(genConversationTemplate))
	analyzePromptTmpl   = template.Must(template.New("analyze_prompt").Parse(analyzePromptTemplate))
	genIndicesTmpl      = template.Must(template.New("gen_indices").Parse(genIndicesTemplate))
)

type promptInput struct {
	PromptStr string
	Metas     []*core.Meta
}

func render(tmpl *template.Template, input promptInput) string {
	var b strings.Builder
	// Templates are compile-time constants over a closed struct; execution
	// cannot fail at runtime.
	_ = tmpl.Execute(&b, input)
	return b.String()
}
