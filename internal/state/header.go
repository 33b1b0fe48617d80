package state

import "encoding/json"

// Header bounds. These are the documented truncation constants for the
// header projection: the header carries the MaxHeaderFacts most
// recently added facts (in insertion order), the first
// MaxHeaderPlanSteps plan entries whose status is not "done", the
// oldest MaxHeaderConstraints constraints (standing rules come first),
// up to MaxHeaderQuestions open questions, and the newest artifact refs
// and actions.
const (
	MaxHeaderFacts       = 10
	MaxHeaderConstraints = 5
	MaxHeaderQuestions   = 5
	MaxHeaderPlanSteps   = 5
	MaxHeaderArtifacts   = 10
	MaxHeaderActions     = 5
)

// MaxHeaderBytes is the hard JSON size cap for a rendered header.
const MaxHeaderBytes = 2048

// Header is the derived, read-only, size-bounded projection of a state
// document. It is computed on read and never persisted independently.
type Header struct {
	Schema         string        `json:"$schema"`
	ThreadID       string        `json:"thread_id"`
	Version        int           `json:"version"`
	StateRef       string        `json:"state_ref"`
	TopFacts       []Fact        `json:"top_facts"`
	TopConstraints []Constraint  `json:"top_constraints"`
	OpenQuestions  []Question    `json:"open_questions"`
	NextSteps      []PlanStep    `json:"next_steps"`
	ArtifactRefs   []ArtifactRef `json:"artifact_refs"`
	LastActions    []Action      `json:"last_actions"`
	Metrics        Metrics       `json:"metrics"`
	// Truncated is set when facts had to be dropped beyond the count
	// bounds to satisfy MaxHeaderBytes.
	Truncated bool `json:"truncated,omitempty"`
}

// Header computes the bounded projection. It runs in time proportional
// to the bounds, not the document size: every collection is truncated
// by slicing, and only the pending-step and open-question scans touch
// more than the bounded prefix (they stop as soon as the bound fills).
// The projection is deterministic: repeated reads of unchanged state
// return identical headers. StateRef is left empty; the store fills it
// in from the ref cached at commit time.
func (d *Document) Header() *Header {
	h := &Header{
		Schema:   SchemaVersion,
		ThreadID: d.ThreadID,
		Version:  d.Version,
		Metrics:  d.Metrics,
	}

	// Newest facts, preserved in insertion order.
	facts := d.Facts
	if len(facts) > MaxHeaderFacts {
		facts = facts[len(facts)-MaxHeaderFacts:]
	}
	h.TopFacts = facts

	// Oldest constraints: standing rules outrank late additions.
	constraints := d.Constraints
	if len(constraints) > MaxHeaderConstraints {
		constraints = constraints[:MaxHeaderConstraints]
	}
	h.TopConstraints = constraints

	for _, q := range d.OpenQuestions {
		if q.Status == "open" || q.Status == "" {
			h.OpenQuestions = append(h.OpenQuestions, q)
			if len(h.OpenQuestions) >= MaxHeaderQuestions {
				break
			}
		}
	}

	// First K plan steps that still need work, in plan order.
	for _, p := range d.Plan {
		if p.Status != "done" {
			h.NextSteps = append(h.NextSteps, p)
			if len(h.NextSteps) >= MaxHeaderPlanSteps {
				break
			}
		}
	}

	artifacts := d.Artifacts
	if len(artifacts) > MaxHeaderArtifacts {
		artifacts = artifacts[len(artifacts)-MaxHeaderArtifacts:]
	}
	h.ArtifactRefs = artifacts

	actions := d.LastActions
	if len(actions) > MaxHeaderActions {
		actions = actions[len(actions)-MaxHeaderActions:]
	}
	h.LastActions = actions

	// Hard size cap: drop oldest facts one at a time until the JSON
	// encoding fits.
	for len(h.TopFacts) > 0 {
		data, err := json.Marshal(h)
		if err != nil || len(data) <= MaxHeaderBytes {
			break
		}
		h.TopFacts = h.TopFacts[1:]
		h.Truncated = true
	}

	return h
}
