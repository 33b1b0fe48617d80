// Package capability implements the pluggable capability registry and
// the memoizing invoker. Capabilities are opaque named functions from
// (thread, args) to (preview, artifact); the invoker guarantees
// at-most-one physical execution per fingerprint within the cache's
// retention window.
package capability

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/relayerr"
)

// Capability describes a registered capability. Version participates in
// the fingerprint, so bumping it invalidates all cached results.
type Capability struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"args_schema,omitempty"`
	Cacheable   bool            `json:"cacheable"`
	CacheTTL    time.Duration   `json:"-"`
}

// Request is the input to one invocation.
type Request struct {
	ThreadID   string          `json:"thread_id"`
	Capability string          `json:"capability"`
	Args       json.RawMessage `json:"args"`

	// IdempotencyKey, when set, replaces argument hashing for
	// deduplication: same key, same cached result.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Scope widens or narrows cache sharing. Empty means the thread:
	// results are private to it. A declared scope (e.g. "global")
	// shares cached results across threads.
	Scope string `json:"scope,omitempty"`
}

// Output is what a capability hands back: full content destined for the
// artifact store. The invoker derives the preview; handlers never
// produce one themselves.
type Output struct {
	Name    string
	Type    artifact.Type
	Mime    string
	Content []byte
}

// Handler is the single-method interface a capability implements. New
// capabilities are added by registering implementations, never by
// branching on name inside core logic.
type Handler interface {
	Invoke(ctx context.Context, req Request) (*Output, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (*Output, error)

func (f HandlerFunc) Invoke(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}

// Registry maps capability names to their descriptors and handlers.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]Capability
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[string]Capability),
		handlers: make(map[string]Handler),
	}
}

// Register adds a capability. Names are unique; registering a duplicate
// is a programming error surfaced as a validation error.
func (r *Registry) Register(cap Capability, handler Handler) error {
	if cap.Name == "" {
		return relayerr.Validation("capability name is required")
	}
	if cap.Version == "" {
		cap.Version = "v1"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[cap.Name]; exists {
		return relayerr.Validation("capability %q already registered", cap.Name)
	}
	r.caps[cap.Name] = cap
	r.handlers[cap.Name] = handler
	return nil
}

// Get returns the capability descriptor and handler for a name.
func (r *Registry) Get(name string) (Capability, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[name]
	if !ok {
		return Capability{}, nil, relayerr.NotFound("capability", name)
	}
	return cap, r.handlers[name], nil
}

// List returns all registered capabilities sorted by name.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
