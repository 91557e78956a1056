package codify

import (
	"strings"
	"text/template"

	"github.com/engramic/engramic/pkg/core"
)

// validateTemplate asks the validate LLM to extract memorable facts from the
// answer, scored against the provided sources. The response is TOML: one
// [meta] table and zero or more [[engram]] tables, or a single
// [not_memorable] table when nothing is worth keeping.
const validateTemplate = `You are validating an assistant's answer against its
sources. Extract the memorable facts from the article below as TOML.

Respond with one [meta] table carrying keywords, summary_initial, and
summary_full, and one [[engram]] table per memorable fact. Score each engram:
accuracy (0-4, how well the sources support it) and relevancy (0-4, how
relevant it is to the user's prompt). Set is_native_source = false on every
engram and list the locations, source_ids, and meta_ids of the supporting
sources. If nothing in the article is worth remembering, respond with a
single [not_memorable] table instead.

Do not wrap the TOML in a code fence.

<article>{{.ResponseText}}</article>
<user_prompt>{{.PromptStr}}</user_prompt>
{{if .Engrams}}
Sources:
{{range .Engrams}}{{.Render}}{{end}}{{end}}{{if .Metas}}
Source overviews:
{{range .Metas}}{{.Render}}{{end}}{{end}}`

var validateTmpl = template.Must(template.New("validate").Parse(validateTemplate))

type validateInput struct {
	ResponseText string
	PromptStr    string
	Engrams      []*core.Engram
	Metas        []*core.Meta
}

func renderValidatePrompt(input validateInput) string {
	var b strings.Builder
	_ = validateTmpl.Execute(&b, input)
	return b.String()
}
