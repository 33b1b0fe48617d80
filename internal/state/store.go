package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
)

// RefResolver answers whether an artifact ref exists for a thread. The
// artifact store implements it; the indirection keeps this package free
// of a dependency on the artifact package.
type RefResolver interface {
	Has(threadID, ref string) bool
}

// PatchResult is returned by a successful patch.
type PatchResult struct {
	Version  int    `json:"version"`
	StateRef string `json:"state_ref"`
}

// Store holds the current state document for every thread. Patch
// application is serialized per thread; reads and cross-thread
// operations never contend on more than the map lock.
//
// Documents are copy-on-write: every mutation, metrics included,
// publishes a fresh document under the map lock, so a reader holding a
// document pointer never observes concurrent modification.
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*Document
	stateRefs map[string]string      // thread_id -> ref of the committed document
	locks     map[string]*sync.Mutex // per-thread patch serialization

	refs   RefResolver
	events *event.Log
}

// NewStore creates an empty state store.
func NewStore(refs RefResolver, events *event.Log) *Store {
	return &Store{
		docs:      make(map[string]*Document),
		stateRefs: make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
		refs:      refs,
		events:    events,
	}
}

// Create allocates the empty version-1 document for a new thread.
func (s *Store) Create(threadID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[threadID]; exists {
		return nil, relayerr.Validation("state already exists for thread %s", threadID)
	}
	d := New(threadID)
	s.docs[threadID] = d
	s.stateRefs[threadID] = d.Ref()
	s.locks[threadID] = &sync.Mutex{}
	return d.clone(), nil
}

// Get returns a deep copy of the full state document. Deliberately the
// expensive path: agents should read the header instead.
func (s *Store) Get(threadID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[threadID]
	if !ok {
		return nil, relayerr.NotFound("thread state", threadID)
	}
	return d.clone(), nil
}

// Header computes the bounded projection of the current document. The
// state ref is the one cached at commit time, so the projection never
// re-hashes the full document on a read.
func (s *Store) Header(threadID string) (*Header, error) {
	s.mu.RLock()
	d, ok := s.docs[threadID]
	ref := s.stateRefs[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, relayerr.NotFound("thread state", threadID)
	}
	h := d.Header()
	h.StateRef = ref
	return h, nil
}

// Ref returns the state ref cached at the last commit.
func (s *Store) Ref(threadID string) (string, error) {
	s.mu.RLock()
	ref, ok := s.stateRefs[threadID]
	s.mu.RUnlock()
	if !ok {
		return "", relayerr.NotFound("thread state", threadID)
	}
	return ref, nil
}

// Patch applies ops atomically and commits the next document version.
// With expectedVersion >= 0, a mismatch fails with a conflict error
// carrying the current version, and nothing changes. Any artifact ref
// introduced by the patch must resolve in the artifact store at commit
// time; an unresolved ref fails the op that introduced it.
func (s *Store) Patch(threadID string, ops []Op, expectedVersion int) (*PatchResult, error) {
	if len(ops) == 0 {
		return nil, relayerr.Validation("patch contains no operations")
	}

	lock, err := s.threadLock(threadID)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur := s.docs[threadID]
	s.mu.RUnlock()
	if cur == nil {
		return nil, relayerr.NotFound("thread state", threadID)
	}

	if expectedVersion >= 0 && expectedVersion != cur.Version {
		return nil, relayerr.Conflict(expectedVersion, cur.Version)
	}

	next, newRefs, err := Apply(cur, ops)
	if err != nil {
		return nil, err
	}

	for _, r := range newRefs {
		if !s.refs.Has(threadID, r.Ref) {
			return nil, relayerr.ValidationAt(r.OpIndex, "op %d: ref %q does not resolve to an artifact in this thread", r.OpIndex, r.Ref)
		}
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	stateRef := next.Ref()

	s.mu.Lock()
	s.docs[threadID] = next
	s.stateRefs[threadID] = stateRef
	s.mu.Unlock()

	if _, err := s.events.Append(threadID, event.TypeStatePatched, map[string]any{
		"version":   next.Version,
		"state_ref": stateRef,
		"ops":       len(ops),
	}); err != nil {
		return nil, err
	}

	log.Debug().Str("thread", threadID).Int("version", next.Version).Int("ops", len(ops)).Msg("state patched")
	return &PatchResult{Version: next.Version, StateRef: stateRef}, nil
}

// UpdateMetrics updates the derived metrics counters. Metrics are
// bookkeeping, not patched content: the version and state ref do not
// change and no event is emitted. Like Patch, the update is
// copy-on-write — the mutated clone is swapped in under the map lock
// so concurrent readers never see a document change under them.
func (s *Store) UpdateMetrics(threadID string, fn func(*Metrics)) error {
	lock, err := s.threadLock(threadID)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	d := s.docs[threadID]
	s.mu.RUnlock()
	if d == nil {
		return relayerr.NotFound("thread state", threadID)
	}
	next := d.clone()
	fn(&next.Metrics)

	s.mu.Lock()
	s.docs[threadID] = next
	s.mu.Unlock()
	return nil
}

// Compact prunes unbounded growth (repeated actions, stale artifact
// refs) while preserving referential closure, and commits the result as
// a new version. See Compact in compact.go for the policy.
func (s *Store) Compact(threadID string) (*PatchResult, error) {
	lock, err := s.threadLock(threadID)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur := s.docs[threadID]
	s.mu.RUnlock()
	if cur == nil {
		return nil, relayerr.NotFound("thread state", threadID)
	}

	next := cur.clone()
	if err := CompactDocument(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	stateRef := next.Ref()

	s.mu.Lock()
	s.docs[threadID] = next
	s.stateRefs[threadID] = stateRef
	s.mu.Unlock()

	if _, err := s.events.Append(threadID, event.TypeStatePatched, map[string]any{
		"version":   next.Version,
		"state_ref": stateRef,
		"compacted": true,
	}); err != nil {
		return nil, err
	}
	return &PatchResult{Version: next.Version, StateRef: stateRef}, nil
}

func (s *Store) threadLock(threadID string) (*sync.Mutex, error) {
	s.mu.RLock()
	lock, ok := s.locks[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, relayerr.NotFound("thread state", threadID)
	}
	return lock, nil
}

// Snapshot returns a deep copy of all documents for persistence.
func (s *Store) Snapshot() map[string]*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Document, len(s.docs))
	for tid, d := range s.docs {
		out[tid] = d.clone()
	}
	return out
}

// Restore replaces the store contents from a snapshot. Refs are
// recomputed once here rather than persisted, so a snapshot edited by
// hand can never smuggle in a stale ref.
func (s *Store) Restore(snap map[string]*Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]*Document, len(snap))
	s.stateRefs = make(map[string]string, len(snap))
	s.locks = make(map[string]*sync.Mutex, len(snap))
	for tid, d := range snap {
		c := d.clone()
		s.docs[tid] = c
		s.stateRefs[tid] = c.Ref()
		s.locks[tid] = &sync.Mutex{}
	}
}

// clone is a deep copy through the JSON form. Fact values are arbitrary
// JSON, so a field-by-field copy would not be any cheaper to keep
// correct.
func (d *Document) clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		panic("state: marshal document: " + err.Error())
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic("state: unmarshal document: " + err.Error())
	}
	return &out
}
