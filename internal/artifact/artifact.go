// Package artifact implements the content-addressed artifact store.
// Artifacts are immutable blobs referenced by a hash of their bytes:
// storing identical content twice yields the same ref and exactly one
// stored copy. Callers exchange refs and bounded previews instead of
// re-transmitting content.
package artifact

import "time"

// Type is the declared content type tag of an artifact.
type Type string

const (
	TypeToolOutput Type = "tool_output"
	TypeMarkdown   Type = "markdown"
	TypeJSON       Type = "json"
	TypeHTML       Type = "html"
	TypeText       Type = "text"
	TypeBinary     Type = "binary"
)

// Artifact is the metadata record for a stored blob. Content is kept
// separately and never leaves the store except through Content().
type Artifact struct {
	Ref       string    `json:"ref"`
	ThreadID  string    `json:"thread_id"`
	Type      Type      `json:"type"`
	Mime      string    `json:"mime"`
	Name      string    `json:"name,omitempty"`
	Size      int64     `json:"size"`
	Preview   Preview   `json:"preview"`
	CreatedBy string    `json:"created_by,omitempty"` // "api" or a capability name
	CreatedAt time.Time `json:"created_at"`
}

// Preview is a bounded, content-type-aware summary of artifact content.
// It never exceeds MaxPreviewBytes regardless of input size; the bound
// is what lets headers and capability results stay small.
type Preview struct {
	Text      string `json:"text,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
	// Keys and Items summarize JSON content: top-level object key
	// count and top-level array length.
	Keys      int   `json:"keys,omitempty"`
	Items     int   `json:"items,omitempty"`
	Truncated bool  `json:"truncated"`
	Size      int64 `json:"size"`
}

// SearchResult is one full-text match over a thread's text artifacts.
type SearchResult struct {
	Ref     string `json:"ref"`
	Type    Type   `json:"type"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}
