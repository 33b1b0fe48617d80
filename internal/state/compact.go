package state

import (
	"fmt"
	"strings"
)

const (
	// MaxActionsKeep bounds last_actions after compaction.
	MaxActionsKeep = 50
	// MaxArtifactsKeep bounds the artifacts list after compaction.
	MaxArtifactsKeep = 200
)

// CompactDocument reduces unbounded growth in a document while keeping
// it useful:
//   - collapses runs of identical actions into a single "(xN)" entry
//     and keeps the last MaxActionsKeep,
//   - keeps the last MaxArtifactsKeep artifact refs plus any ref still
//     named by a surviving action,
//   - records a session summary line when anything was pruned.
//
// Referential closure holds afterwards: no surviving action references
// a pruned artifact.
func CompactDocument(d *Document) error {
	if d == nil {
		return nil
	}

	originalActions := len(d.LastActions)
	originalArtifacts := len(d.Artifacts)
	before := make(map[string]bool, len(d.Artifacts))
	for _, a := range d.Artifacts {
		before[a.Ref] = true
	}

	if len(d.LastActions) > 0 {
		d.LastActions = collapseActions(d.LastActions)
		if len(d.LastActions) > MaxActionsKeep {
			d.LastActions = d.LastActions[len(d.LastActions)-MaxActionsKeep:]
		}
	}

	if len(d.Artifacts) > MaxArtifactsKeep {
		keep := referencedArtifacts(d.LastActions)
		d.Artifacts = compactArtifacts(d.Artifacts, keep)
	}

	if len(d.LastActions) != originalActions || len(d.Artifacts) != originalArtifacts {
		d.SessionSummary = fmt.Sprintf("compacted: actions %d->%d, artifacts %d->%d",
			originalActions, len(d.LastActions), originalArtifacts, len(d.Artifacts))
	}

	return ensureReferentialClosure(d.LastActions, d.Artifacts, before)
}

// collapseActions merges consecutive identical actions into one entry
// with a repetition count.
func collapseActions(actions []Action) []Action {
	out := make([]Action, 0, len(actions))
	cur := actions[0]
	count := 1

	flush := func(a Action, n int) {
		if n > 1 {
			a.Description = fmt.Sprintf("%s (x%d)", strings.TrimSpace(a.Description), n)
		}
		out = append(out, a)
	}

	for _, a := range actions[1:] {
		if a.Description == cur.Description && a.ResultRef == cur.ResultRef {
			count++
			continue
		}
		flush(cur, count)
		cur = a
		count = 1
	}
	flush(cur, count)
	return out
}

func referencedArtifacts(actions []Action) map[string]bool {
	refs := make(map[string]bool)
	for _, a := range actions {
		if a.ResultRef != "" {
			refs[a.ResultRef] = true
		}
	}
	return refs
}

// compactArtifacts keeps the newest MaxArtifactsKeep refs, plus any
// older ref still referenced by a surviving action.
func compactArtifacts(arts []ArtifactRef, keep map[string]bool) []ArtifactRef {
	cutoff := len(arts) - MaxArtifactsKeep
	out := make([]ArtifactRef, 0, MaxArtifactsKeep+len(keep))
	for i, a := range arts {
		if i >= cutoff || keep[a.Ref] {
			out = append(out, a)
		}
	}
	return out
}

// ensureReferentialClosure verifies that no surviving action lost the
// artifact ref it points at. Refs that were never in the artifacts list
// (e.g. a result_ref recorded without a matching list entry) are not
// the compactor's to enforce.
func ensureReferentialClosure(actions []Action, arts []ArtifactRef, before map[string]bool) error {
	present := make(map[string]bool, len(arts))
	for _, a := range arts {
		present[a.Ref] = true
	}
	for _, a := range actions {
		if a.ResultRef != "" && before[a.ResultRef] && !present[a.ResultRef] {
			return fmt.Errorf("compaction broke referential closure: action references pruned artifact %s", a.ResultRef)
		}
	}
	return nil
}
