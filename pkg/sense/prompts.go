package sense

import (
	"strings"
	"text/template"
)

// metaScanTemplate extracts the structured initial scan from the first few
// pages of a document.
const metaScanTemplate = `Study the attached page images and describe the
document. Fill every field; use "unknown" when a page gives no evidence.

file_path: {{.FilePath}}
file_name: {{.FileName}}
`

// scanPageTemplate annotates a single page with the fixed tag vocabulary.
const scanPageTemplate = `Transcribe the attached page image into annotated
text. Use only these tags: <section>, <h1>, <h3>, <engram>, <p>, <img>,
<page>, <header>, <chapter>, <title>. Wrap the whole page in <page>. Tag
every heading at its level and every paragraph with <p>. Describe images in
<img>. Do not invent content that is not on the page.
`

// fullSummaryTemplate produces the document-wide summary and keywords from
// the concatenated page scans.
const fullSummaryTemplate = `Summarize the document below in one paragraph
and list its keywords.

<document>{{.Document}}</document>
`

var (
	metaScanTmpl    = template.Must(template.New("meta_scan").Parse(metaScanTemplate))
	fullSummaryTmpl = template.Must(template.New("full_summary").Parse(fullSummaryTemplate))
)

func renderMetaScan(filePath, fileName string) string {
	var b strings.Builder
	_ = metaScanTmpl.Execute(&b, struct{ FilePath, FileName string }{filePath, fileName})
	return b.String()
}

func renderFullSummary(document string) string {
	var b strings.Builder
	_ = fullSummaryTmpl.Execute(&b, struct{ Document string }{document})
	return b.String()
}
