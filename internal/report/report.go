// Package report renders per-thread activity reports and the token
// savings estimate that motivates keeping content behind references.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/state"
)

// Formats accepted by Generate.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// Report is the generation result. The rendered document itself lives
// in the artifact store under ArtifactRef.
type Report struct {
	ThreadID    string  `json:"thread_id"`
	Format      string  `json:"format"`
	ArtifactRef string  `json:"artifact_ref"`
	Size        int64   `json:"size"`
	Savings     Savings `json:"token_savings"`
	GeneratedAt string  `json:"generated_at"`
}

// Generator renders reports from the live stores.
type Generator struct {
	states    *state.Store
	artifacts *artifact.Store
	events    *event.Log
}

func NewGenerator(states *state.Store, artifacts *artifact.Store, events *event.Log) *Generator {
	return &Generator{states: states, artifacts: artifacts, events: events}
}

// Generate renders a report for the thread, stores it as an artifact,
// and emits a report_generated event. Unknown formats are rejected.
func (g *Generator) Generate(threadID, format string) (*Report, error) {
	switch format {
	case "":
		format = FormatMarkdown
	case FormatMarkdown, FormatJSON:
	default:
		return nil, relayerr.Validation("unsupported report format %q (want %q or %q)", format, FormatMarkdown, FormatJSON)
	}

	doc, err := g.states.Get(threadID)
	if err != nil {
		return nil, err
	}
	header, err := g.states.Header(threadID)
	if err != nil {
		return nil, err
	}
	arts := g.artifacts.List(threadID)
	evs := g.events.List(threadID, 0)

	savings := g.savings(threadID, doc, header, evs)
	now := time.Now().UTC()

	var content []byte
	typ := artifact.TypeMarkdown
	switch format {
	case FormatJSON:
		typ = artifact.TypeJSON
		content, err = json.MarshalIndent(map[string]any{
			"thread_id":      threadID,
			"generated_at":   now.Format(time.RFC3339),
			"state":          doc,
			"artifact_count": len(arts),
			"event_count":    len(evs),
			"token_savings":  savings,
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
	default:
		content = []byte(renderMarkdown(threadID, now, doc, arts, evs, savings))
	}

	meta, err := g.artifacts.Put(threadID, "report."+format, typ, "", content, "relay.report")
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	_, _ = g.events.Append(threadID, event.TypeReportGenerated, map[string]any{
		"artifact_ref":   meta.Ref,
		"format":         format,
		"avoided_tokens": savings.AvoidedTokens,
	})

	return &Report{
		ThreadID:    threadID,
		Format:      format,
		ArtifactRef: meta.Ref,
		Size:        meta.Size,
		Savings:     savings,
		GeneratedAt: now.Format(time.RFC3339),
	}, nil
}

// savings computes the token comparison. Naive counts every artifact
// reference in state and event payloads at the full content size, so an
// artifact referenced three times is charged three times, the way it
// would be if pasted inline each turn. Actual charges the header
// serialization once plus, per reference, the ref string and preview.
func (g *Generator) savings(threadID string, doc *state.Document, header *state.Header, evs []event.Event) Savings {
	refs := collectRefs(doc)
	for _, ev := range evs {
		var payload any
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			walkRefs(payload, refs)
		}
	}

	var s Savings
	headerJSON, err := json.Marshal(header)
	if err == nil {
		s.ActualTokens += EstimateTokens(len(headerJSON))
	}
	for ref, count := range refs {
		meta, err := g.artifacts.Get(threadID, ref)
		if err != nil {
			// Reference to an artifact this thread cannot resolve;
			// nothing would have been pasted either way.
			continue
		}
		s.NaiveTokens += count * EstimateTokens(int(meta.Size))
		s.ActualTokens += count * EstimateTokens(len(ref)+len(meta.Preview.Text))
	}
	s.AvoidedTokens = s.NaiveTokens - s.ActualTokens
	if s.AvoidedTokens < 0 {
		s.AvoidedTokens = 0
	}
	return s
}

// collectRefs tallies artifact references in the state document,
// counted per occurrence.
func collectRefs(doc *state.Document) map[string]int {
	refs := make(map[string]int)
	data, err := json.Marshal(doc)
	if err != nil {
		return refs
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return refs
	}
	walkRefs(tree, refs)
	return refs
}

func walkRefs(node any, refs map[string]int) {
	switch v := node.(type) {
	case string:
		if artifact.IsRef(v) {
			refs[v]++
		}
	case []any:
		for _, item := range v {
			walkRefs(item, refs)
		}
	case map[string]any:
		for _, item := range v {
			walkRefs(item, refs)
		}
	}
}

func renderMarkdown(threadID string, now time.Time, doc *state.Document, arts []artifact.Artifact, evs []event.Event, savings Savings) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Relay Report: %s\n\n", threadID)
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.Format(time.RFC3339))

	sb.WriteString("## State Summary\n\n")
	fmt.Fprintf(&sb, "- Version: %d\n", doc.Version)
	fmt.Fprintf(&sb, "- Facts: %d\n", len(doc.Facts))
	fmt.Fprintf(&sb, "- Constraints: %d\n", len(doc.Constraints))
	fmt.Fprintf(&sb, "- Open Questions: %d\n", len(doc.OpenQuestions))
	fmt.Fprintf(&sb, "- Plan Steps: %d\n", len(doc.Plan))
	sb.WriteString("\n")

	if doc.SessionSummary != "" {
		fmt.Fprintf(&sb, "> %s\n\n", doc.SessionSummary)
	}

	if len(doc.Facts) > 0 {
		sb.WriteString("### Key Facts\n\n")
		for _, f := range doc.Facts {
			fmt.Fprintf(&sb, "- **%s**: %v\n", f.Key, f.Value)
		}
		sb.WriteString("\n")
	}

	if len(doc.Decisions) > 0 {
		sb.WriteString("### Decisions\n\n")
		for _, d := range doc.Decisions {
			fmt.Fprintf(&sb, "- %s (confidence: %.2f)\n", d.Description, d.Confidence)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Artifacts\n\n")
	fmt.Fprintf(&sb, "Total artifacts: %d\n\n", len(arts))
	for _, a := range arts {
		fmt.Fprintf(&sb, "- `%s` — %s (%d bytes)\n", a.Ref, a.Type, a.Size)
	}
	sb.WriteString("\n")

	sb.WriteString("## Token Savings\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Naive tokens (if pasted) | %d |\n", savings.NaiveTokens)
	fmt.Fprintf(&sb, "| Actual tokens (refs+previews) | %d |\n", savings.ActualTokens)
	fmt.Fprintf(&sb, "| Tokens avoided | %d |\n", savings.AvoidedTokens)
	if savings.NaiveTokens > 0 {
		pct := float64(savings.AvoidedTokens) / float64(savings.NaiveTokens) * 100
		fmt.Fprintf(&sb, "| Reduction %% | %.1f%% |\n", pct)
	}
	sb.WriteString("\n")

	sb.WriteString("## Event Timeline\n\n")
	for _, ev := range evs {
		payload := string(ev.Payload)
		if len(payload) > 80 {
			payload = payload[:80] + "..."
		}
		fmt.Fprintf(&sb, "- `%s` [%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, payload)
	}
	return sb.String()
}
