// Package event implements the append-only, per-thread event log.
// Every state mutation, artifact write, and capability invocation in
// the daemon is recorded here; the log is the sole source of truth for
// the tailing /events endpoint.
package event

import (
	"encoding/json"
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeThreadCreated     Type = "thread_created"
	TypeArtifactStored    Type = "artifact_stored"
	TypeStatePatched      Type = "state_patched"
	TypeCapabilityInvoked Type = "capability_invoked"
	TypeReportGenerated   Type = "report_generated"
	TypeCheckpointCreated Type = "checkpoint_created"
)

// Event is an immutable log entry. The ID is a per-thread monotonic
// sequence number, so "list everything after ID x" is exact even under
// concurrent appenders.
type Event struct {
	ID        uint64          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Log is an in-memory append-only event log. Safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	events map[string][]Event // thread_id -> ordered events
	seq    map[string]uint64  // thread_id -> last assigned ID
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{
		events: make(map[string][]Event),
		seq:    make(map[string]uint64),
	}
}

// Append records a new event for the thread and returns it. The payload
// is marshaled once at append time; payloads reference entities (refs,
// versions, capability names), never full content.
func (l *Log) Append(threadID string, typ Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq[threadID]++
	ev := Event{
		ID:        l.seq[threadID],
		ThreadID:  threadID,
		Type:      typ,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}
	l.events[threadID] = append(l.events[threadID], ev)
	return ev, nil
}

// List returns events for a thread with ID strictly greater than after,
// in ascending ID order. after=0 returns everything. Repeated calls
// using the last returned ID as the new cursor never replay or skip.
func (l *Log) List(threadID string, after uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	evs := l.events[threadID]

	// Events are appended with consecutive IDs starting at 1, so the
	// cursor is an index, not a scan.
	if after >= uint64(len(evs)) {
		return []Event{}
	}
	out := make([]Event, len(evs)-int(after))
	copy(out, evs[after:])
	return out
}

// MarkCheckpoint appends a labeled checkpoint marker to the thread.
func (l *Log) MarkCheckpoint(threadID, label string) (Event, error) {
	return l.Append(threadID, TypeCheckpointCreated, map[string]string{"label": label})
}

// Count returns the number of events recorded for a thread.
func (l *Log) Count(threadID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events[threadID])
}

// Snapshot returns a deep copy of the log contents for persistence.
func (l *Log) Snapshot() map[string][]Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Event, len(l.events))
	for tid, evs := range l.events {
		cp := make([]Event, len(evs))
		copy(cp, evs)
		out[tid] = cp
	}
	return out
}

// Restore replaces the log contents from a snapshot.
func (l *Log) Restore(snap map[string][]Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make(map[string][]Event, len(snap))
	l.seq = make(map[string]uint64, len(snap))
	for tid, evs := range snap {
		cp := make([]Event, len(evs))
		copy(cp, evs)
		l.events[tid] = cp
		if n := len(cp); n > 0 {
			l.seq[tid] = cp[n-1].ID
		}
	}
}
