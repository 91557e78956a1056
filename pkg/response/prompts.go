package response

import (
	"strings"
	"text/template"

	"github.com/engramic/engramic/pkg/core"
)

// mainPromptTemplate assembles the grounded answer prompt: retrieved
// memories, recent history, conversation direction, and the analysis's
// thinking steps.
const mainPromptTemplate = `You are a memory-grounded assistant. Answer the
user's prompt using the memories below. Prefer memories over your own
knowledge; when the memories do not cover the question, say so.
{{if .WorkingMemory}}
Conversation direction:
{{.WorkingMemory}}
{{end}}{{if .ThinkingSteps}}
Work through these steps before answering:
{{range .ThinkingSteps}}- {{.}}
{{end}}{{end}}{{if .History}}
Recent conversation:
{{range .History}}<previous_response>{{.Response}}</previous_response>
{{end}}{{end}}{{if .Engrams}}
Memories:
{{range .Engrams}}{{.Render}}{{end}}{{end}}
<user_prompt>{{.PromptStr}}</user_prompt>
`

var mainPromptTmpl = template.Must(template.New("main_prompt").Parse(mainPromptTemplate))

type mainPromptInput struct {
	PromptStr     string
	WorkingMemory string
	ThinkingSteps []string
	History       []*core.Response
	Engrams       []*core.Engram
}

func renderMainPrompt(input mainPromptInput) string {
	var b strings.Builder
	_ = mainPromptTmpl.Execute(&b, input)
	return b.String()
}
