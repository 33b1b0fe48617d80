package state_test

import (
	"sync"
	"testing"

	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/state"
)

// fakeResolver resolves refs from a fixed set, ignoring thread scope.
type fakeResolver map[string]bool

func (f fakeResolver) Has(threadID, ref string) bool { return f[ref] }

func newTestStore(t *testing.T, refs ...string) *state.Store {
	t.Helper()
	r := fakeResolver{}
	for _, ref := range refs {
		r[ref] = true
	}
	s := state.NewStore(r, event.NewLog())
	if _, err := s.Create("t1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	d, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Version != 1 {
		t.Errorf("Version = %d, want 1", d.Version)
	}
	if d.ThreadID != "t1" {
		t.Errorf("ThreadID = %q, want %q", d.ThreadID, "t1")
	}
	if d.Facts == nil || d.Plan == nil {
		t.Error("new document has nil collections")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("t1"); !relayerr.IsKind(err, relayerr.KindValidation) {
		t.Fatalf("duplicate Create() err = %v, want validation", err)
	}
}

func TestGetUnknownThread(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	re, ok := relayerr.AsError(err)
	if !ok || re.Kind != relayerr.KindNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
	if re.Key != "missing" {
		t.Errorf("Key = %q, want %q", re.Key, "missing")
	}
}

func TestPatchIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}

	res, err := s.Patch("t1", ops, -1)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if res.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Version)
	}
	if res.StateRef == "" || res.StateRef[:3] != "st-" {
		t.Errorf("StateRef = %q, want st- prefix", res.StateRef)
	}

	d, _ := s.Get("t1")
	if d.Version != 2 || len(d.Facts) != 1 {
		t.Errorf("document version %d with %d facts, want 2 and 1", d.Version, len(d.Facts))
	}
}

func TestPatchOptimisticConcurrency(t *testing.T) {
	s := newTestStore(t)
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}

	if _, err := s.Patch("t1", ops, 1); err != nil {
		t.Fatalf("Patch(expected=1) error = %v", err)
	}

	_, err := s.Patch("t1", ops, 1)
	re, ok := relayerr.AsError(err)
	if !ok || re.Kind != relayerr.KindConflict {
		t.Fatalf("stale Patch err = %v, want conflict", err)
	}
	if re.CurrentVersion != 2 {
		t.Errorf("CurrentVersion = %d, want 2", re.CurrentVersion)
	}

	d, _ := s.Get("t1")
	if d.Version != 2 {
		t.Errorf("conflict advanced version to %d, want 2", d.Version)
	}
}

func TestPatchUnresolvedRefRejected(t *testing.T) {
	s := newTestStore(t)
	ops := []state.Op{
		{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)},
		{Op: state.OpAdd, Path: "/artifacts/-", Value: raw(`{"ref":"art-missing","type":"json"}`)},
	}

	_, err := s.Patch("t1", ops, -1)
	re, ok := relayerr.AsError(err)
	if !ok || re.Kind != relayerr.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if re.OpIndex != 1 {
		t.Errorf("OpIndex = %d, want 1", re.OpIndex)
	}

	// Nothing committed, not even the passing first op.
	d, _ := s.Get("t1")
	if d.Version != 1 || len(d.Facts) != 0 {
		t.Errorf("rejected patch left version %d with %d facts", d.Version, len(d.Facts))
	}
}

func TestPatchResolvedRefAccepted(t *testing.T) {
	s := newTestStore(t, "art-known")
	ops := []state.Op{{Op: state.OpAdd, Path: "/artifacts/-", Value: raw(`{"ref":"art-known","type":"json"}`)}}
	if _, err := s.Patch("t1", ops, -1); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	d, _ := s.Get("t1")
	if len(d.Artifacts) != 1 || d.Artifacts[0].Ref != "art-known" {
		t.Errorf("Artifacts = %+v, want one entry art-known", d.Artifacts)
	}
}

func TestPatchEmptyOps(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Patch("t1", nil, -1); !relayerr.IsKind(err, relayerr.KindValidation) {
		t.Fatalf("empty Patch err = %v, want validation", err)
	}
}

func TestStateRefDeterministic(t *testing.T) {
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}

	a := newTestStore(t)
	b := newTestStore(t)
	ra, err := a.Patch("t1", ops, -1)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	rb, err := b.Patch("t1", ops, -1)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if ra.StateRef != rb.StateRef {
		t.Errorf("same content, different refs: %q vs %q", ra.StateRef, rb.StateRef)
	}
}

func TestUpdateMetricsDoesNotChangeVersionOrRef(t *testing.T) {
	s := newTestStore(t)
	before, err := s.Header("t1")
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}

	if err := s.UpdateMetrics("t1", func(m *state.Metrics) {
		m.HopCount++
		m.CacheHits += 3
	}); err != nil {
		t.Fatalf("UpdateMetrics() error = %v", err)
	}

	after, _ := s.Header("t1")
	if after.Version != before.Version {
		t.Errorf("Version changed %d -> %d", before.Version, after.Version)
	}
	if after.StateRef != before.StateRef {
		t.Errorf("StateRef changed %q -> %q", before.StateRef, after.StateRef)
	}
	if after.Metrics.HopCount != 1 || after.Metrics.CacheHits != 3 {
		t.Errorf("Metrics = %+v, want hop 1 cache hits 3", after.Metrics)
	}
}

// Run with -race: metrics writers and readers share a thread, and every
// metrics update must publish a fresh document rather than mutate the
// one readers hold.
func TestConcurrentMetricsAndReads(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	const bumps = 100

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < bumps; j++ {
				if err := s.UpdateMetrics("t1", func(m *state.Metrics) { m.HopCount++ }); err != nil {
					t.Errorf("UpdateMetrics() error = %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < bumps; j++ {
				if _, err := s.Get("t1"); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				if _, err := s.Header("t1"); err != nil {
					t.Errorf("Header() error = %v", err)
					return
				}
				s.Snapshot()
			}
		}()
	}
	wg.Wait()

	d, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got, want := d.Metrics.HopCount, writers*bumps; got != want {
		t.Errorf("HopCount = %d, want %d (lost updates)", got, want)
	}
}

func TestHeaderUsesCommittedRef(t *testing.T) {
	s := newTestStore(t)
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}

	res, err := s.Patch("t1", ops, -1)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}

	h, err := s.Header("t1")
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if h.StateRef != res.StateRef {
		t.Errorf("Header StateRef = %q, want committed ref %q", h.StateRef, res.StateRef)
	}

	// Restore rebuilds the cached refs from the snapshot.
	restored := state.NewStore(fakeResolver{}, event.NewLog())
	restored.Restore(s.Snapshot())
	rh, err := restored.Header("t1")
	if err != nil {
		t.Fatalf("Header() after Restore error = %v", err)
	}
	if rh.StateRef != res.StateRef {
		t.Errorf("restored StateRef = %q, want %q", rh.StateRef, res.StateRef)
	}
}

func TestPatchEmitsEvent(t *testing.T) {
	events := event.NewLog()
	s := state.NewStore(fakeResolver{}, events)
	if _, err := s.Create("t1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}
	if _, err := s.Patch("t1", ops, -1); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}

	evs := events.List("t1", 0)
	if len(evs) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(evs))
	}
	if evs[0].Type != event.TypeStatePatched {
		t.Errorf("event type = %q, want %q", evs[0].Type, event.TypeStatePatched)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestStore(t)
	ops := []state.Op{{Op: state.OpAdd, Path: "/facts/-", Value: raw(`{"id":"f1","key":"k","value":1}`)}}
	if _, err := s.Patch("t1", ops, -1); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}

	restored := state.NewStore(fakeResolver{}, event.NewLog())
	restored.Restore(s.Snapshot())

	d, err := restored.Get("t1")
	if err != nil {
		t.Fatalf("Get() after Restore error = %v", err)
	}
	if d.Version != 2 || len(d.Facts) != 1 {
		t.Errorf("restored document version %d with %d facts, want 2 and 1", d.Version, len(d.Facts))
	}

	// Restored threads accept patches.
	if _, err := restored.Patch("t1", ops, 2); err != nil {
		t.Errorf("Patch() after Restore error = %v", err)
	}
}
