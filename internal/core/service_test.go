package core_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/capability"
	"github.com/relaymesh/relay/internal/core"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/policy"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/state"
)

func newTestService(t *testing.T, opts core.Options) *core.Service {
	t.Helper()
	svc, err := core.NewService(opts)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestCreateAndGetThread(t *testing.T) {
	svc := newTestService(t, core.Options{})
	info, err := svc.CreateThread("research")
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	if info.ID == "" {
		t.Fatal("thread has no ID")
	}
	if info.Version != 1 {
		t.Errorf("Version = %d, want 1", info.Version)
	}
	if info.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1 (thread_created)", info.EventCount)
	}

	got, err := svc.GetThread(info.ID)
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if got.Name != "research" {
		t.Errorf("Name = %q, want research", got.Name)
	}
}

func TestGetThreadUnknown(t *testing.T) {
	svc := newTestService(t, core.Options{})
	_, err := svc.GetThread("nope")
	re, ok := relayerr.AsError(err)
	if !ok || re.Kind != relayerr.KindNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
	if re.Entity != "thread" {
		t.Errorf("Entity = %q, want thread", re.Entity)
	}
}

func TestListThreadsNewestFirst(t *testing.T) {
	svc := newTestService(t, core.Options{})
	first, _ := svc.CreateThread("first")
	time.Sleep(2 * time.Millisecond)
	second, _ := svc.CreateThread("second")

	threads, err := svc.ListThreads()
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}
	if threads[0].ID != second.ID || threads[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first", threads[0].Name, threads[1].Name)
	}
}

func TestPutArtifactPayloadLimit(t *testing.T) {
	svc := newTestService(t, core.Options{Limits: policy.Limits{MaxPayloadBytes: 16}})
	info, _ := svc.CreateThread("t")

	if _, err := svc.PutArtifact(info.ID, "small", artifact.TypeText, "", []byte("ok"), "test"); err != nil {
		t.Fatalf("small PutArtifact() error = %v", err)
	}
	_, err := svc.PutArtifact(info.ID, "big", artifact.TypeText, "", []byte(strings.Repeat("x", 17)), "test")
	if !relayerr.IsKind(err, relayerr.KindLimit) {
		t.Fatalf("oversized PutArtifact() err = %v, want limit", err)
	}
}

func TestPatchStateWithArtifactRef(t *testing.T) {
	svc := newTestService(t, core.Options{})
	info, _ := svc.CreateThread("t")
	meta, err := svc.PutArtifact(info.ID, "data", artifact.TypeText, "", []byte("finding"), "test")
	if err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}

	ops := []state.Op{{
		Op:    "add",
		Path:  "/artifacts/-",
		Value: json.RawMessage(`{"ref":"` + meta.Ref + `","type":"text","name":"data"}`),
	}}
	res, err := svc.PatchState(info.ID, ops, 1)
	if err != nil {
		t.Fatalf("PatchState() error = %v", err)
	}
	if res.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Version)
	}

	h, err := svc.GetHeader(info.ID)
	if err != nil {
		t.Fatalf("GetHeader() error = %v", err)
	}
	if len(h.ArtifactRefs) != 1 || h.ArtifactRefs[0].Ref != meta.Ref {
		t.Errorf("header ArtifactRefs = %+v, want the stored ref", h.ArtifactRefs)
	}
}

func TestInvokeUpdatesMetrics(t *testing.T) {
	svc := newTestService(t, core.Options{})
	info, _ := svc.CreateThread("t")

	err := svc.Registry().Register(capability.Capability{Name: "echo", Cacheable: true},
		capability.HandlerFunc(func(ctx context.Context, req capability.Request) (*capability.Output, error) {
			return &capability.Output{Type: artifact.TypeJSON, Content: req.Args}, nil
		}))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	req := capability.Request{ThreadID: info.ID, Capability: "echo", Args: json.RawMessage(`{"q":1}`)}
	first, err := svc.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("first Invoke() error = %v", err)
	}
	if first.CacheHit {
		t.Error("first invocation reported a cache hit")
	}
	second, err := svc.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("second Invoke() error = %v", err)
	}
	if !second.CacheHit {
		t.Error("second identical invocation missed the cache")
	}

	doc, _ := svc.GetState(info.ID)
	if doc.Metrics.HopCount != 2 {
		t.Errorf("HopCount = %d, want 2", doc.Metrics.HopCount)
	}
	if doc.Metrics.CacheHits != 1 || doc.Metrics.CacheMisses != 1 {
		t.Errorf("cache counters = %d hits / %d misses, want 1 / 1",
			doc.Metrics.CacheHits, doc.Metrics.CacheMisses)
	}
}

func TestInvokeHopLimit(t *testing.T) {
	svc := newTestService(t, core.Options{Limits: policy.Limits{MaxHops: 2}})
	info, _ := svc.CreateThread("t")

	if err := svc.Registry().Register(capability.Capability{Name: "step"},
		capability.HandlerFunc(func(ctx context.Context, req capability.Request) (*capability.Output, error) {
			return &capability.Output{Type: artifact.TypeText, Content: []byte(req.IdempotencyKey)}, nil
		})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Invoke(context.Background(), capability.Request{
			ThreadID: info.ID, Capability: "step",
		}); err != nil {
			t.Fatalf("Invoke() %d error = %v", i, err)
		}
	}
	_, err := svc.Invoke(context.Background(), capability.Request{ThreadID: info.ID, Capability: "step"})
	if !relayerr.IsKind(err, relayerr.KindLimit) {
		t.Fatalf("err = %v, want limit after hop budget", err)
	}
}

func TestCompactStateMarksCheckpoint(t *testing.T) {
	svc := newTestService(t, core.Options{})
	info, _ := svc.CreateThread("t")

	if _, err := svc.CompactState(info.ID); err != nil {
		t.Fatalf("CompactState() error = %v", err)
	}

	evs, _ := svc.Events(info.ID, 0)
	var checkpoint bool
	for _, ev := range evs {
		if ev.Type == event.TypeCheckpointCreated {
			checkpoint = true
		}
	}
	if !checkpoint {
		t.Error("no checkpoint event before compaction")
	}
}

func TestReportFoldsMetrics(t *testing.T) {
	svc := newTestService(t, core.Options{})
	info, _ := svc.CreateThread("t")
	meta, _ := svc.PutArtifact(info.ID, "data", artifact.TypeText, "", []byte(strings.Repeat("body\n", 2000)), "test")
	ops := []state.Op{{
		Op:    "add",
		Path:  "/artifacts/-",
		Value: json.RawMessage(`{"ref":"` + meta.Ref + `","type":"text"}`),
	}}
	if _, err := svc.PatchState(info.ID, ops, -1); err != nil {
		t.Fatalf("PatchState() error = %v", err)
	}

	rep, err := svc.Report(info.ID, "md")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if rep.ArtifactRef == "" {
		t.Fatal("report has no artifact ref")
	}

	doc, _ := svc.GetState(info.ID)
	if doc.Metrics.TokensEstimate != rep.Savings.ActualTokens {
		t.Errorf("TokensEstimate = %d, want %d", doc.Metrics.TokensEstimate, rep.Savings.ActualTokens)
	}
	if doc.Metrics.TokensAvoided != rep.Savings.AvoidedTokens {
		t.Errorf("TokensAvoided = %d, want %d", doc.Metrics.TokensAvoided, rep.Savings.AvoidedTokens)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	svc, err := core.NewService(core.Options{DataDir: dir})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	info, err := svc.CreateThread("durable")
	if err != nil {
		t.Fatalf("CreateThread() error = %v", err)
	}
	meta, err := svc.PutArtifact(info.ID, "data", artifact.TypeText, "", []byte("kept"), "test")
	if err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}
	ops := []state.Op{{Op: "add", Path: "/facts/-", Value: json.RawMessage(`{"id":"f1","key":"k","value":1}`)}}
	if _, err := svc.PatchState(info.ID, ops, -1); err != nil {
		t.Fatalf("PatchState() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestService(t, core.Options{DataDir: dir})
	got, err := reopened.GetThread(info.ID)
	if err != nil {
		t.Fatalf("GetThread() after reopen error = %v", err)
	}
	if got.Name != "durable" || got.Version != 2 {
		t.Errorf("restored thread name %q version %d, want durable and 2", got.Name, got.Version)
	}
	content, err := reopened.ArtifactContent(info.ID, meta.Ref)
	if err != nil {
		t.Fatalf("ArtifactContent() after reopen error = %v", err)
	}
	if string(content) != "kept" {
		t.Errorf("restored content = %q, want kept", content)
	}
	evs, _ := reopened.Events(info.ID, 0)
	if len(evs) == 0 {
		t.Error("event log lost across restart")
	}
}

func TestCloseIdempotent(t *testing.T) {
	svc := newTestService(t, core.Options{DataDir: t.TempDir()})
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
