package client

import (
	"encoding/json"
	"time"
)

// Thread is a thread registry entry with live counters.
type Thread struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Version       int       `json:"version"`
	StateRef      string    `json:"state_ref"`
	HopCount      int       `json:"hop_count"`
	ArtifactCount int       `json:"artifact_count"`
	EventCount    int       `json:"event_count"`
}

// PatchOp is one structural patch operation.
type PatchOp struct {
	Op    string `json:"op"`   // add | remove | replace | test
	Path  string `json:"path"` // JSON-Pointer
	Value any    `json:"value,omitempty"`
}

// PatchResult is the outcome of a successful patch.
type PatchResult struct {
	Version  int    `json:"version"`
	StateRef string `json:"state_ref"`
}

// Header is the bounded state projection for prompt assembly. The
// collection fields stay raw JSON so the SDK never chases the daemon's
// document schema.
type Header struct {
	Schema         string          `json:"$schema"`
	ThreadID       string          `json:"thread_id"`
	Version        int             `json:"version"`
	StateRef       string          `json:"state_ref"`
	TopFacts       json.RawMessage `json:"top_facts,omitempty"`
	TopConstraints json.RawMessage `json:"top_constraints,omitempty"`
	OpenQuestions  json.RawMessage `json:"open_questions,omitempty"`
	NextSteps      json.RawMessage `json:"next_steps,omitempty"`
	ArtifactRefs   json.RawMessage `json:"artifact_refs,omitempty"`
	LastActions    json.RawMessage `json:"last_actions,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
}

// Artifact is stored artifact metadata.
type Artifact struct {
	Ref       string    `json:"ref"`
	ThreadID  string    `json:"thread_id"`
	Type      string    `json:"type"`
	Mime      string    `json:"mime"`
	Name      string    `json:"name,omitempty"`
	Size      int64     `json:"size"`
	Preview   Preview   `json:"preview"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Preview is the bounded digest of an artifact's content.
type Preview struct {
	Text      string `json:"text,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
	Keys      int    `json:"keys,omitempty"`
	Items     int    `json:"items,omitempty"`
	Truncated bool   `json:"truncated"`
	Size      int64  `json:"size"`
}

// PutArtifactRequest uploads content. Content carries UTF-8 text;
// ContentBase64 carries binary and wins when both are set.
type PutArtifactRequest struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Mime          string `json:"mime,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

// Event is one append-only log entry.
type Event struct {
	ID        uint64          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// InvokeRequest invokes a capability in a thread.
type InvokeRequest struct {
	ThreadID       string          `json:"thread_id"`
	Capability     string          `json:"capability"`
	Args           json.RawMessage `json:"args,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Scope          string          `json:"scope,omitempty"`
}

// InvokeResult is the invocation outcome, cached or fresh.
type InvokeResult struct {
	Capability  string  `json:"capability"`
	Preview     Preview `json:"preview"`
	ArtifactRef string  `json:"artifact_ref"`
	CacheHit    bool    `json:"cache_hit"`
	Fingerprint string  `json:"fingerprint"`
	DurationMs  int64   `json:"duration_ms"`
}

// Capability describes a registered capability.
type Capability struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	ArgsSchema  json.RawMessage `json:"args_schema,omitempty"`
	Cacheable   bool            `json:"cacheable"`
}

// Report is the report generation result.
type Report struct {
	ThreadID    string  `json:"thread_id"`
	Format      string  `json:"format"`
	ArtifactRef string  `json:"artifact_ref"`
	Size        int64   `json:"size"`
	Savings     Savings `json:"token_savings"`
	GeneratedAt string  `json:"generated_at"`
}

// Savings is the token savings estimate.
type Savings struct {
	NaiveTokens   int `json:"naive_tokens"`
	ActualTokens  int `json:"actual_tokens"`
	AvoidedTokens int `json:"avoided_tokens"`
}
