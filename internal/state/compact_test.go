package state_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/relaymesh/relay/internal/state"
)

func TestCompactCollapsesRepeatedActions(t *testing.T) {
	d := state.New("t1")
	for i := 0; i < 4; i++ {
		d.LastActions = append(d.LastActions, state.Action{At: "now", Description: "polled status"})
	}
	d.LastActions = append(d.LastActions, state.Action{At: "now", Description: "shipped"})

	if err := state.CompactDocument(d); err != nil {
		t.Fatalf("CompactDocument() error = %v", err)
	}
	if len(d.LastActions) != 2 {
		t.Fatalf("len(LastActions) = %d, want 2", len(d.LastActions))
	}
	if d.LastActions[0].Description != "polled status (x4)" {
		t.Errorf("collapsed description = %q, want %q", d.LastActions[0].Description, "polled status (x4)")
	}
	if d.LastActions[1].Description != "shipped" {
		t.Errorf("LastActions[1].Description = %q, want %q", d.LastActions[1].Description, "shipped")
	}
	if d.SessionSummary == "" {
		t.Error("SessionSummary not set after pruning")
	}
}

func TestCompactTrimsActionBacklog(t *testing.T) {
	d := state.New("t1")
	for i := 0; i < state.MaxActionsKeep+10; i++ {
		d.LastActions = append(d.LastActions, state.Action{At: "now", Description: fmt.Sprintf("step %d", i)})
	}
	if err := state.CompactDocument(d); err != nil {
		t.Fatalf("CompactDocument() error = %v", err)
	}
	if len(d.LastActions) != state.MaxActionsKeep {
		t.Fatalf("len(LastActions) = %d, want %d", len(d.LastActions), state.MaxActionsKeep)
	}
	if d.LastActions[0].Description != "step 10" {
		t.Errorf("LastActions[0] = %q, want %q", d.LastActions[0].Description, "step 10")
	}
}

func TestCompactPrunesArtifactsKeepingReferenced(t *testing.T) {
	d := state.New("t1")
	n := state.MaxArtifactsKeep + 50
	for i := 0; i < n; i++ {
		d.Artifacts = append(d.Artifacts, state.ArtifactRef{Ref: fmt.Sprintf("art-%032d", i), Type: "json"})
	}
	// Reference an artifact old enough to fall past the cutoff.
	pinned := d.Artifacts[3].Ref
	d.LastActions = []state.Action{{At: "now", Description: "used evidence", ResultRef: pinned}}

	if err := state.CompactDocument(d); err != nil {
		t.Fatalf("CompactDocument() error = %v", err)
	}
	if len(d.Artifacts) != state.MaxArtifactsKeep+1 {
		t.Fatalf("len(Artifacts) = %d, want %d", len(d.Artifacts), state.MaxArtifactsKeep+1)
	}
	found := false
	for _, a := range d.Artifacts {
		if a.Ref == pinned {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("referenced artifact %s was pruned", pinned)
	}
	if !strings.Contains(d.SessionSummary, "compacted") {
		t.Errorf("SessionSummary = %q, want compaction note", d.SessionSummary)
	}
}

func TestCompactNoopLeavesSummaryEmpty(t *testing.T) {
	d := state.New("t1")
	d.LastActions = []state.Action{{At: "now", Description: "one thing"}}
	d.Artifacts = []state.ArtifactRef{{Ref: "art-a", Type: "json"}}

	if err := state.CompactDocument(d); err != nil {
		t.Fatalf("CompactDocument() error = %v", err)
	}
	if d.SessionSummary != "" {
		t.Errorf("SessionSummary = %q, want empty for a no-op compaction", d.SessionSummary)
	}
	if len(d.LastActions) != 1 || len(d.Artifacts) != 1 {
		t.Errorf("no-op compaction changed sizes: %d actions, %d artifacts", len(d.LastActions), len(d.Artifacts))
	}
}

func TestCompactNilDocument(t *testing.T) {
	if err := state.CompactDocument(nil); err != nil {
		t.Fatalf("CompactDocument(nil) error = %v", err)
	}
}
