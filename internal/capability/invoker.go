package capability

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/relayerr"
)

const (
	// DefaultCacheSize bounds the invocation cache.
	DefaultCacheSize = 1024
	// DefaultCacheTTL is the retention window for cached results when
	// the capability does not declare its own.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultTimeout is the execution budget per invocation when the
	// config does not override it.
	DefaultTimeout = 30 * time.Second
)

// Result is the outcome of an invocation, cached or fresh.
type Result struct {
	Capability  string           `json:"capability"`
	Preview     artifact.Preview `json:"preview"`
	ArtifactRef string           `json:"artifact_ref"`
	CacheHit    bool             `json:"cache_hit"`
	Fingerprint string           `json:"fingerprint"`
	DurationMs  int64            `json:"duration_ms"`
}

type cacheEntry struct {
	preview     artifact.Preview
	artifactRef string
	createdAt   time.Time
	ttl         time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

// MetricsSink receives per-invocation bookkeeping. The core service
// uses it to maintain thread cache-hit counters and hop counts.
type MetricsSink interface {
	RecordInvocation(threadID string, cacheHit bool)
}

// Invoker executes capabilities through the memoization cache. Cached
// results are returned without re-invocation even for non-deterministic
// or side-effecting capabilities: at most one physical execution per
// fingerprint within the retention window. Concurrent invocations with
// the same fingerprint block until the first completes and then observe
// its result as a cache hit.
type Invoker struct {
	registry  *Registry
	artifacts *artifact.Store
	events    *event.Log
	metrics   MetricsSink

	cache   *lru.Cache[string, *cacheEntry]
	flight  singleflight.Group
	timeout time.Duration
}

// NewInvoker wires an invoker. metrics may be nil. cacheSize <= 0 and
// timeout <= 0 fall back to the defaults.
func NewInvoker(reg *Registry, arts *artifact.Store, events *event.Log, metrics MetricsSink, cacheSize int, timeout time.Duration) *Invoker {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, err := lru.New[string, *cacheEntry](cacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic("capability: lru init: " + err.Error())
	}
	return &Invoker{
		registry:  reg,
		artifacts: arts,
		events:    events,
		metrics:   metrics,
		cache:     cache,
		timeout:   timeout,
	}
}

// Invoke resolves the capability, consults the cache, and executes on a
// miss. Failures and timeouts never populate the cache; a subsequent
// identical invocation attempts a fresh execution.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	cap, handler, err := inv.registry.Get(req.Capability)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(req, cap.Version)
	if err != nil {
		return nil, err
	}

	if cap.Cacheable {
		if res, ok := inv.lookup(fp); ok {
			inv.finish(req, res, true)
			return res, nil
		}

		v, err, shared := inv.flight.Do(fp, func() (any, error) {
			// A waiter that raced the winner into Do gets here after
			// completion; re-check so it does not execute again.
			if res, ok := inv.lookup(fp); ok {
				return res, nil
			}
			return inv.execute(ctx, cap, handler, req, fp)
		})
		if err != nil {
			return nil, err
		}
		res := *(v.(*Result))
		if shared {
			// Blocked-until-first-completes policy: everyone except
			// the executing caller observes a cache hit.
			res.CacheHit = true
			res.DurationMs = 0
		}
		inv.finish(req, &res, res.CacheHit)
		return &res, nil
	}

	res, err := inv.execute(ctx, cap, handler, req, fp)
	if err != nil {
		return nil, err
	}
	inv.finish(req, res, false)
	return res, nil
}

func (inv *Invoker) lookup(fp string) (*Result, bool) {
	entry, ok := inv.cache.Get(fp)
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		inv.cache.Remove(fp)
		return nil, false
	}
	return &Result{
		Preview:     entry.preview,
		ArtifactRef: entry.artifactRef,
		CacheHit:    true,
		Fingerprint: fp,
	}, true
}

// execute runs the capability under the configured time budget, stores
// its output as an artifact, and populates the cache on success only.
func (inv *Invoker) execute(ctx context.Context, cap Capability, handler Handler, req Request, fp string) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	out, err := handler.Invoke(execCtx, req)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded {
			return nil, relayerr.Timeout(cap.Name, "invocation exceeded "+inv.timeout.String())
		}
		return nil, relayerr.Capability(cap.Name, err)
	}
	if out == nil {
		return nil, relayerr.Capability(cap.Name, errors.New("capability returned no output"))
	}

	name := out.Name
	if name == "" {
		name = cap.Name + ".out"
	}
	meta, err := inv.artifacts.Put(req.ThreadID, name, out.Type, out.Mime, out.Content, cap.Name)
	if err != nil {
		return nil, err
	}

	if cap.Cacheable {
		ttl := cap.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		inv.cache.Add(fp, &cacheEntry{
			preview:     meta.Preview,
			artifactRef: meta.Ref,
			createdAt:   time.Now(),
			ttl:         ttl,
		})
	}

	log.Debug().
		Str("capability", cap.Name).
		Str("thread", req.ThreadID).
		Dur("duration", duration).
		Str("artifact", meta.Ref).
		Msg("capability executed")

	return &Result{
		Capability:  cap.Name,
		Preview:     meta.Preview,
		ArtifactRef: meta.Ref,
		Fingerprint: fp,
		DurationMs:  duration.Milliseconds(),
	}, nil
}

// finish records the event and metrics for a completed invocation.
func (inv *Invoker) finish(req Request, res *Result, hit bool) {
	res.Capability = req.Capability
	_, _ = inv.events.Append(req.ThreadID, event.TypeCapabilityInvoked, map[string]any{
		"capability":   req.Capability,
		"cache_hit":    hit,
		"artifact_ref": res.ArtifactRef,
		"duration_ms":  res.DurationMs,
	})
	if inv.metrics != nil {
		inv.metrics.RecordInvocation(req.ThreadID, hit)
	}
}
