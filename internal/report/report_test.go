package report_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/report"
	"github.com/relaymesh/relay/internal/state"
)

type reportFixture struct {
	states    *state.Store
	artifacts *artifact.Store
	events    *event.Log
	gen       *report.Generator
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	events := event.NewLog()
	artifacts := artifact.NewStore(events)
	states := state.NewStore(artifacts, events)
	if _, err := states.Create("t1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return &reportFixture{
		states:    states,
		artifacts: artifacts,
		events:    events,
		gen:       report.NewGenerator(states, artifacts, events),
	}
}

// seedArtifact stores content and links it into the state document.
func (f *reportFixture) seedArtifact(t *testing.T, content string) artifact.Artifact {
	t.Helper()
	meta, err := f.artifacts.Put("t1", "data.txt", artifact.TypeText, "", []byte(content), "test")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	ops := []state.Op{{
		Op:    "add",
		Path:  "/artifacts/-",
		Value: json.RawMessage(`{"ref":"` + meta.Ref + `","type":"text","name":"data.txt"}`),
	}}
	if _, err := f.states.Patch("t1", ops, -1); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	return meta
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		bytes, want int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{4096, 1024},
	}
	for _, c := range cases {
		if got := report.EstimateTokens(c.bytes); got != c.want {
			t.Errorf("EstimateTokens(%d) = %d, want %d", c.bytes, got, c.want)
		}
	}
}

func TestGenerateMarkdown(t *testing.T) {
	f := newReportFixture(t)
	meta := f.seedArtifact(t, strings.Repeat("measurement data\n", 100))

	rep, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if rep.Format != report.FormatMarkdown {
		t.Errorf("default Format = %q, want md", rep.Format)
	}

	stored, err := f.artifacts.Content("t1", rep.ArtifactRef)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	body := string(stored)
	for _, want := range []string{"# Relay Report: t1", "## Token Savings", "## Event Timeline", meta.Ref} {
		if !strings.Contains(body, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestGenerateJSON(t *testing.T) {
	f := newReportFixture(t)
	f.seedArtifact(t, "some content")

	rep, err := f.gen.Generate("t1", report.FormatJSON)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	stored, err := f.artifacts.Content("t1", rep.ArtifactRef)
	if err != nil {
		t.Fatalf("Content() error = %v", err)
	}
	var payload struct {
		ThreadID      string         `json:"thread_id"`
		ArtifactCount int            `json:"artifact_count"`
		EventCount    int            `json:"event_count"`
		Savings       report.Savings `json:"token_savings"`
	}
	if err := json.Unmarshal(stored, &payload); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if payload.ThreadID != "t1" {
		t.Errorf("thread_id = %q, want t1", payload.ThreadID)
	}
	if payload.ArtifactCount != 1 {
		t.Errorf("artifact_count = %d, want 1", payload.ArtifactCount)
	}
}

func TestGenerateUnknownFormat(t *testing.T) {
	f := newReportFixture(t)
	if _, err := f.gen.Generate("t1", "pdf"); !relayerr.IsKind(err, relayerr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestGenerateUnknownThread(t *testing.T) {
	f := newReportFixture(t)
	if _, err := f.gen.Generate("nope", ""); !relayerr.IsKind(err, relayerr.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestGenerateEmitsEvent(t *testing.T) {
	f := newReportFixture(t)
	rep, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var found bool
	for _, ev := range f.events.List("t1", 0) {
		if ev.Type != event.TypeReportGenerated {
			continue
		}
		found = true
		var payload struct {
			ArtifactRef string `json:"artifact_ref"`
			Format      string `json:"format"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.ArtifactRef != rep.ArtifactRef {
			t.Errorf("event artifact_ref = %q, want %q", payload.ArtifactRef, rep.ArtifactRef)
		}
		if payload.Format != "md" {
			t.Errorf("event format = %q, want md", payload.Format)
		}
	}
	if !found {
		t.Error("no report_generated event emitted")
	}
}

func TestSavingsNeverNegative(t *testing.T) {
	f := newReportFixture(t)
	// Tiny artifact: the preview equals the content, so referencing it
	// saves nothing.
	f.seedArtifact(t, "x")

	rep, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if rep.Savings.AvoidedTokens < 0 {
		t.Errorf("AvoidedTokens = %d, want >= 0", rep.Savings.AvoidedTokens)
	}
}

func TestSavingsGrowWithLargeContent(t *testing.T) {
	f := newReportFixture(t)
	f.seedArtifact(t, strings.Repeat("long body that would otherwise be pasted inline\n", 2000))

	rep, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if rep.Savings.NaiveTokens <= rep.Savings.ActualTokens {
		t.Errorf("naive %d <= actual %d for a large referenced artifact",
			rep.Savings.NaiveTokens, rep.Savings.ActualTokens)
	}
	if rep.Savings.AvoidedTokens == 0 {
		t.Error("AvoidedTokens = 0 for a large referenced artifact")
	}
}

func TestSavingsCountRepeatedReferences(t *testing.T) {
	f := newReportFixture(t)
	meta := f.seedArtifact(t, strings.Repeat("repeated reference body\n", 2000))

	once, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Reference the same artifact again from an action entry.
	ops := []state.Op{{
		Op:    "add",
		Path:  "/last_actions/-",
		Value: json.RawMessage(`{"at":"now","description":"reused","result_ref":"` + meta.Ref + `"}`),
	}}
	if _, err := f.states.Patch("t1", ops, -1); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}

	twice, err := f.gen.Generate("t1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if twice.Savings.NaiveTokens <= once.Savings.NaiveTokens {
		t.Errorf("naive tokens did not grow with a second reference: %d then %d",
			once.Savings.NaiveTokens, twice.Savings.NaiveTokens)
	}
}
