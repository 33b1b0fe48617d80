package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPreviewBytes is the hard cap on preview text size. Previews are
// what travels in headers and capability results, so this bound is the
// mechanism by which large content is never re-transmitted.
const MaxPreviewBytes = 2048

// derivePreview builds a bounded, type-aware preview of content.
// JSON gets a structural summary plus a bounded excerpt; text types get
// a character prefix truncated on a line boundary; anything that is not
// valid UTF-8 gets a byte-count marker only.
func derivePreview(content []byte, typ Type) Preview {
	p := Preview{Size: int64(len(content))}

	if typ == TypeBinary || !utf8.Valid(content) {
		p.Text = fmt.Sprintf("[binary, %d bytes]", len(content))
		p.Truncated = len(content) > 0
		return p
	}

	if typ == TypeJSON {
		summarizeJSON(content, &p)
	}

	text := sanitizePreview(string(content))
	p.LineCount = strings.Count(text, "\n") + 1
	p.Text, p.Truncated = truncateText(text, MaxPreviewBytes)
	return p
}

// summarizeJSON records top-level structure counts for JSON content.
func summarizeJSON(content []byte, p *Preview) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		p.Keys = len(t)
	case []any:
		p.Items = len(t)
	}
}

// truncateText caps s at limit bytes, preferring a line boundary so the
// preview does not end mid-sentence.
func truncateText(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	const ellipsis = "\n..."
	cut := s[:limit-len(ellipsis)]
	if idx := strings.LastIndex(cut, "\n"); idx > 0 {
		cut = cut[:idx]
	}
	return cut + ellipsis, true
}

// Preview text is pasted into model prompts downstream, so strip the
// common prompt-injection markers before it leaves the store.
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all instructions",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"[INST]",
	"[/INST]",
	"###instruction",
	"###system",
}

func sanitizePreview(text string) string {
	lower := strings.ToLower(text)
	for _, pattern := range injectionPatterns {
		for {
			idx := strings.Index(lower, pattern)
			if idx < 0 {
				break
			}
			text = text[:idx] + "[sanitized]" + text[idx+len(pattern):]
			lower = strings.ToLower(text)
		}
	}
	return text
}
