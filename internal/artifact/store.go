package artifact

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
)

// Store is the in-memory content-addressed artifact store. Refs are
// scoped per thread: the same bytes stored under two threads are
// independent artifacts (with the same hash-derived ref).
//
// Safe for concurrent use. Two simultaneous Puts of identical content
// converge on one stored copy; the metadata of the first committed
// write wins.
type Store struct {
	mu       sync.RWMutex
	byThread map[string]map[string]*entry // thread_id -> ref -> entry
	order    map[string][]string          // thread_id -> refs in creation order

	events *event.Log
}

type entry struct {
	meta    Artifact
	content []byte
}

// NewStore creates an empty artifact store that records artifact_stored
// events on the given log.
func NewStore(events *event.Log) *Store {
	return &Store{
		byThread: make(map[string]map[string]*entry),
		order:    make(map[string][]string),
		events:   events,
	}
}

// Put stores content under a deterministic content-derived ref. If the
// thread already holds an artifact with that ref the existing metadata
// is returned unchanged — repeated identical writes are no-ops aside
// from the event record. Every successful Put emits artifact_stored;
// the dedup path is flagged in the payload.
func (s *Store) Put(threadID, name string, typ Type, mime string, content []byte, createdBy string) (Artifact, error) {
	if typ == "" {
		typ = TypeText
	}
	if mime == "" {
		mime = mimeForType(typ)
	}
	ref := RefFor(content)

	s.mu.Lock()
	threadArts := s.byThread[threadID]
	if threadArts == nil {
		threadArts = make(map[string]*entry)
		s.byThread[threadID] = threadArts
	}

	existing, dedup := threadArts[ref]
	var meta Artifact
	if dedup {
		meta = existing.meta
	} else {
		meta = Artifact{
			Ref:       ref,
			ThreadID:  threadID,
			Type:      typ,
			Mime:      mime,
			Name:      name,
			Size:      int64(len(content)),
			Preview:   derivePreview(content, typ),
			CreatedBy: createdBy,
			CreatedAt: time.Now().UTC(),
		}
		stored := make([]byte, len(content))
		copy(stored, content)
		threadArts[ref] = &entry{meta: meta, content: stored}
		s.order[threadID] = append(s.order[threadID], ref)
	}
	s.mu.Unlock()

	if _, err := s.events.Append(threadID, event.TypeArtifactStored, map[string]any{
		"ref":   ref,
		"type":  meta.Type,
		"size":  meta.Size,
		"dedup": dedup,
	}); err != nil {
		return Artifact{}, err
	}

	if !dedup {
		log.Debug().Str("thread", threadID).Str("ref", ref).Int64("size", meta.Size).Msg("artifact stored")
	}
	return meta, nil
}

// Get returns artifact metadata, or a not_found error if the ref is
// unknown to the thread.
func (s *Store) Get(threadID, ref string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byThread[threadID][ref]
	if !ok {
		return Artifact{}, relayerr.NotFound("artifact", ref)
	}
	return e.meta, nil
}

// Content returns the raw bytes of an artifact.
func (s *Store) Content(threadID, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byThread[threadID][ref]
	if !ok {
		return nil, relayerr.NotFound("artifact", ref)
	}
	out := make([]byte, len(e.content))
	copy(out, e.content)
	return out, nil
}

// Has reports whether the thread holds an artifact with the given ref.
// Used by the state store for referential-integrity checks at patch
// commit time.
func (s *Store) Has(threadID, ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byThread[threadID][ref]
	return ok
}

// List returns all artifacts for a thread in creation order.
func (s *Store) List(threadID string) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.order[threadID]
	out := make([]Artifact, 0, len(refs))
	for _, ref := range refs {
		out = append(out, s.byThread[threadID][ref].meta)
	}
	return out
}

// Search performs a case-insensitive full-text search over the thread's
// text artifacts, returning bounded snippets around the first match.
func (s *Store) Search(threadID, query string, limit int) []SearchResult {
	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, ref := range s.order[threadID] {
		e := s.byThread[threadID][ref]
		if e.meta.Type == TypeBinary {
			continue
		}
		lower := strings.ToLower(string(e.content))
		idx := strings.Index(lower, query)
		if idx < 0 {
			continue
		}
		start := idx - 100
		if start < 0 {
			start = 0
		}
		end := idx + 200
		if end > len(lower) {
			end = len(lower)
		}
		results = append(results, SearchResult{
			Ref:     e.meta.Ref,
			Type:    e.meta.Type,
			Name:    e.meta.Name,
			Snippet: strings.TrimSpace(string(e.content)[start:end]),
			Score:   strings.Count(lower, query),
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

// StoredArtifact is the JSON-serializable form used in snapshots.
type StoredArtifact struct {
	Meta    Artifact `json:"meta"`
	Content []byte   `json:"content"`
}

// Snapshot returns a deep copy of the store contents for persistence,
// keyed by thread, in creation order.
func (s *Store) Snapshot() map[string][]StoredArtifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]StoredArtifact, len(s.order))
	for tid, refs := range s.order {
		arts := make([]StoredArtifact, 0, len(refs))
		for _, ref := range refs {
			e := s.byThread[tid][ref]
			content := make([]byte, len(e.content))
			copy(content, e.content)
			arts = append(arts, StoredArtifact{Meta: e.meta, Content: content})
		}
		out[tid] = arts
	}
	return out
}

// Restore replaces the store contents from a snapshot.
func (s *Store) Restore(snap map[string][]StoredArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byThread = make(map[string]map[string]*entry, len(snap))
	s.order = make(map[string][]string, len(snap))
	for tid, arts := range snap {
		threadArts := make(map[string]*entry, len(arts))
		for _, a := range arts {
			content := make([]byte, len(a.Content))
			copy(content, a.Content)
			threadArts[a.Meta.Ref] = &entry{meta: a.Meta, content: content}
			s.order[tid] = append(s.order[tid], a.Meta.Ref)
		}
		s.byThread[tid] = threadArts
	}
}

func mimeForType(typ Type) string {
	switch typ {
	case TypeMarkdown:
		return "text/markdown"
	case TypeJSON, TypeToolOutput:
		return "application/json"
	case TypeHTML:
		return "text/html"
	case TypeBinary:
		return "application/octet-stream"
	default:
		return "text/plain"
	}
}
