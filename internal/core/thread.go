package core

import "time"

// Thread is the registry entry for a conversation. The interesting
// data (state, artifacts, events) lives in the component stores; the
// registry only knows the thread exists.
type Thread struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadInfo is the API-facing view: registry entry plus the live
// numbers pulled from the state document.
type ThreadInfo struct {
	Thread
	Version       int    `json:"version"`
	StateRef      string `json:"state_ref"`
	HopCount      int    `json:"hop_count"`
	ArtifactCount int    `json:"artifact_count"`
	EventCount    int    `json:"event_count"`
}
