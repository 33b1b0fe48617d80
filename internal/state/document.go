// Package state implements the per-thread versioned state document:
// structural patch application, the bounded header projection, and the
// versioned store with optimistic concurrency.
package state

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"
)

// SchemaVersion identifies the document shape on the wire.
const SchemaVersion = "com.relay.state.v1"

// Document is the canonical memory for a thread. Mutation happens
// exclusively through patch application; no field is ever overwritten
// directly.
type Document struct {
	Schema        string        `json:"$schema"`
	ThreadID      string        `json:"thread_id"`
	Version       int           `json:"version"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Facts         []Fact        `json:"facts"`
	Constraints   []Constraint  `json:"constraints"`
	OpenQuestions []Question    `json:"open_questions"`
	Decisions     []Decision    `json:"decisions"`
	Plan          []PlanStep    `json:"plan"`
	Artifacts     []ArtifactRef `json:"artifacts"`
	LastActions   []Action      `json:"last_actions"`
	Metrics       Metrics       `json:"metrics"`

	// SessionSummary is set by compaction to note what was pruned.
	SessionSummary string `json:"session_summary,omitempty"`
}

type Fact struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
	At    string `json:"at,omitempty"`
}

type Constraint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // hard | soft
}

type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Status   string `json:"status"` // open | resolved
}

type Decision struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	EvidenceRef []string `json:"evidence_refs,omitempty"`
	Confidence  float64  `json:"confidence"`
	At          string   `json:"at,omitempty"`
}

type PlanStep struct {
	ID     string `json:"id"`
	Step   string `json:"step"`
	Status string `json:"status"` // pending | done | skipped
}

// ArtifactRef points at a stored artifact. State carries references
// only, never content.
type ArtifactRef struct {
	Ref  string `json:"ref"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type Action struct {
	At          string `json:"at"`
	Description string `json:"description"`
	ResultRef   string `json:"result_ref,omitempty"`
}

type Metrics struct {
	CacheHits      int `json:"cache_hits"`
	CacheMisses    int `json:"cache_misses"`
	TokensEstimate int `json:"tokens_estimate"`
	TokensAvoided  int `json:"tokens_avoided"`
	HopCount       int `json:"hop_count"`
}

// New returns an empty version-1 document for a thread.
func New(threadID string) *Document {
	return &Document{
		Schema:        SchemaVersion,
		ThreadID:      threadID,
		Version:       1,
		UpdatedAt:     time.Now().UTC(),
		Facts:         []Fact{},
		Constraints:   []Constraint{},
		OpenQuestions: []Question{},
		Decisions:     []Decision{},
		Plan:          []PlanStep{},
		Artifacts:     []ArtifactRef{},
		LastActions:   []Action{},
	}
}

// stateDomainKey separates state refs from artifact refs and capability
// fingerprints in the BLAKE3 keyed-hash domain scheme.
var stateDomainKey = [32]byte{
	'r', 'e', 'l', 'a', 'y', '.', 's', 't', 'a', 't', 'e', 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Ref computes the content-addressed state reference: a keyed BLAKE3
// hash of the canonical serialization. Canonical here means the JSON
// encoding of the typed struct, which has a fixed field order, with the
// UpdatedAt timestamp and the derived Metrics zeroed so the ref depends
// on patched content and version only.
func (d *Document) Ref() string {
	canon := *d
	canon.UpdatedAt = time.Time{}
	canon.Metrics = Metrics{}
	data, err := json.Marshal(&canon)
	if err != nil {
		// Document fields are all JSON-representable; this cannot fail
		// outside of a programming error.
		panic("state: marshal document: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(stateDomainKey[:])
	if err != nil {
		panic("state: blake3 keyed init: " + err.Error())
	}
	hasher.Write(data)
	sum := hasher.Sum(nil)
	return "st-" + hex.EncodeToString(sum[:16])
}
