package sense

import "strings"

// maxChunkSize is the length above which a chunk is split at the next tag
// level.
const maxChunkSize = 1200

// splitTags is the recursive split order: a chunk too large is split by the
// next tag level down until every leaf fits.
var splitTags = []string{"section", "h1", "h3"}

// chunk is one leaf of the document split: its text plus the enclosing tag
// titles collected on the way down.
type chunk struct {
	text    string
	context map[string]string
}

// chunkDocument splits the concatenated annotated page text into leaf
// chunks no larger than maxChunkSize, attaching the enclosing section/h1/h3
// text as context keys. A leaf still over the size once no split tag is
// left is kept whole. Inline tags (<p>, <img>, <page>, ...) stay verbatim
// in the leaf text; only the split-level tags are consumed into context.
func chunkDocument(text string) []chunk {
	return split(text, 0, map[string]string{})
}

func split(text string, level int, context map[string]string) []chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChunkSize || level >= len(splitTags) {
		return []chunk{{text: text, context: copyContext(context)}}
	}

	tag := splitTags[level]
	parts := splitByTag(text, tag)
	if len(parts) <= 1 {
		// Tag absent at this level, or one segment only: try the next one
		// down, keeping a lone segment's title as context.
		if len(parts) == 1 && parts[0].title != "" {
			sub := copyContext(context)
			sub[tag] = parts[0].title
			return split(parts[0].body, level+1, sub)
		}
		return split(text, level+1, context)
	}

	var out []chunk
	for _, part := range parts {
		sub := copyContext(context)
		if part.title != "" {
			sub[tag] = part.title
		}
		out = append(out, split(part.body, level+1, sub)...)
	}
	return out
}

type tagged struct {
	title string
	body  string
}

// splitByTag cuts text at every <tag> occurrence. The tag's own inner text
// becomes the title of the following segment; text before the first tag is
// kept with no title.
func splitByTag(text, tag string) []tagged {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"

	var parts []tagged
	rest := text
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			if strings.TrimSpace(rest) != "" {
				parts = append(parts, tagged{body: rest})
			}
			return parts
		}
		if head := rest[:start]; strings.TrimSpace(head) != "" {
			parts = append(parts, tagged{body: head})
		}
		rest = rest[start+len(open):]

		title := ""
		if end := strings.Index(rest, closing); end >= 0 {
			title = strings.TrimSpace(rest[:end])
			rest = rest[end+len(closing):]
		}

		// The segment runs until the next same-level tag.
		next := strings.Index(rest, open)
		body := rest
		if next >= 0 {
			body = rest[:next]
			rest = rest[next:]
		} else {
			rest = ""
		}
		parts = append(parts, tagged{title: title, body: body})
		if rest == "" {
			return parts
		}
	}
}

func copyContext(context map[string]string) map[string]string {
	out := make(map[string]string, len(context))
	for k, v := range context {
		out[k] = v
	}
	return out
}
