// Package core wires the component stores into a single Service owning
// the thread registry and snapshot persistence. No package globals: a
// test can run any number of isolated instances.
package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/capability"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/policy"
	"github.com/relaymesh/relay/internal/relayerr"
	"github.com/relaymesh/relay/internal/report"
	"github.com/relaymesh/relay/internal/state"
)

// Options configures a Service. The zero value is usable: no
// persistence, default limits, default cache sizing.
type Options struct {
	// DataDir enables snapshot persistence when non-empty.
	DataDir string
	// Limits is normalized before use.
	Limits policy.Limits
	// CacheSize and InvokeTimeout feed the capability invoker.
	CacheSize     int
	InvokeTimeout time.Duration
}

// Service owns every component store plus the thread registry.
type Service struct {
	mu      sync.RWMutex
	threads map[string]*Thread

	states    *state.Store
	artifacts *artifact.Store
	events    *event.Log
	registry  *capability.Registry
	invoker   *capability.Invoker
	reports   *report.Generator
	limits    policy.Limits

	persist *persister
}

// NewService builds a fully wired service. Built-in capabilities are
// registered; callers add their own through Registry before serving.
func NewService(opts Options) (*Service, error) {
	events := event.NewLog()
	artifacts := artifact.NewStore(events)
	states := state.NewStore(artifacts, events)
	registry := capability.NewRegistry()

	s := &Service{
		threads:   make(map[string]*Thread),
		states:    states,
		artifacts: artifacts,
		events:    events,
		registry:  registry,
		limits:    opts.Limits.Normalize(),
	}
	s.invoker = capability.NewInvoker(registry, artifacts, events, s, opts.CacheSize, opts.InvokeTimeout)
	s.reports = report.NewGenerator(states, artifacts, events)

	if err := capability.RegisterBuiltins(registry, artifacts); err != nil {
		return nil, err
	}

	p, err := newPersister(opts.DataDir, s)
	if err != nil {
		return nil, err
	}
	s.persist = p
	return s, nil
}

// Registry exposes the capability registry for custom registrations.
func (s *Service) Registry() *capability.Registry { return s.registry }

// Close stops the persistence goroutine and flushes a final snapshot.
// Safe to call more than once.
func (s *Service) Close() error {
	return s.persist.close()
}

// CreateThread registers a new thread and its version-1 state document.
func (s *Service) CreateThread(name string) (*ThreadInfo, error) {
	t := &Thread{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.threads[t.ID] = t
	s.mu.Unlock()

	if _, err := s.states.Create(t.ID); err != nil {
		return nil, err
	}
	_, _ = s.events.Append(t.ID, event.TypeThreadCreated, map[string]any{
		"thread_id": t.ID,
		"name":      name,
	})

	log.Info().Str("thread", t.ID).Str("name", name).Msg("thread created")
	s.persist.request()
	return s.info(t)
}

// GetThread returns the registry entry plus live counters.
func (s *Service) GetThread(threadID string) (*ThreadInfo, error) {
	t, err := s.thread(threadID)
	if err != nil {
		return nil, err
	}
	return s.info(t)
}

// ListThreads returns every thread, newest first.
func (s *Service) ListThreads() ([]*ThreadInfo, error) {
	s.mu.RLock()
	all := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		all = append(all, t)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	out := make([]*ThreadInfo, 0, len(all))
	for _, t := range all {
		info, err := s.info(t)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// GetState returns the full state document.
func (s *Service) GetState(threadID string) (*state.Document, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	return s.states.Get(threadID)
}

// GetHeader returns the bounded header projection.
func (s *Service) GetHeader(threadID string) (*state.Header, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	return s.states.Header(threadID)
}

// PatchState applies ops atomically under optimistic concurrency.
// expectedVersion < 0 skips the version check.
func (s *Service) PatchState(threadID string, ops []state.Op, expectedVersion int) (*state.PatchResult, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	res, err := s.states.Patch(threadID, ops, expectedVersion)
	if err != nil {
		return nil, err
	}
	s.persist.request()
	return res, nil
}

// CompactState prunes old actions and unreferenced artifacts from the
// state document. A checkpoint marker is recorded first so the event
// log shows where history was compacted.
func (s *Service) CompactState(threadID string) (*state.PatchResult, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	_, _ = s.events.MarkCheckpoint(threadID, "pre-compaction")
	res, err := s.states.Compact(threadID)
	if err != nil {
		return nil, err
	}
	s.persist.request()
	return res, nil
}

// PutArtifact stores content and returns its metadata. Deduplicated by
// content hash within the thread.
func (s *Service) PutArtifact(threadID, name string, typ artifact.Type, mime string, content []byte, createdBy string) (artifact.Artifact, error) {
	if _, err := s.thread(threadID); err != nil {
		return artifact.Artifact{}, err
	}
	if err := s.limits.CheckPayload(len(content)); err != nil {
		return artifact.Artifact{}, err
	}
	meta, err := s.artifacts.Put(threadID, name, typ, mime, content, createdBy)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.persist.request()
	return meta, nil
}

// GetArtifact returns artifact metadata.
func (s *Service) GetArtifact(threadID, ref string) (artifact.Artifact, error) {
	if _, err := s.thread(threadID); err != nil {
		return artifact.Artifact{}, err
	}
	return s.artifacts.Get(threadID, ref)
}

// ArtifactContent returns the raw stored bytes.
func (s *Service) ArtifactContent(threadID, ref string) ([]byte, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	return s.artifacts.Content(threadID, ref)
}

// ListArtifacts returns artifact metadata in creation order.
func (s *Service) ListArtifacts(threadID string) ([]artifact.Artifact, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	return s.artifacts.List(threadID), nil
}

// Events tails the thread's event log: everything with ID strictly
// greater than after.
func (s *Service) Events(threadID string, after uint64) ([]event.Event, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	return s.events.List(threadID, after), nil
}

// Invoke runs a capability through the memoization cache, enforcing
// the thread's hop budget and the payload cap first.
func (s *Service) Invoke(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if _, err := s.thread(req.ThreadID); err != nil {
		return nil, err
	}
	doc, err := s.states.Get(req.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := s.limits.CheckHops(doc.Metrics.HopCount); err != nil {
		return nil, err
	}
	if err := s.limits.CheckPayload(len(req.Args)); err != nil {
		return nil, err
	}
	res, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	s.persist.request()
	return res, nil
}

// RecordInvocation is the invoker's metrics sink: bumps the hop count
// and the cache counters on the thread's state document.
func (s *Service) RecordInvocation(threadID string, cacheHit bool) {
	_ = s.states.UpdateMetrics(threadID, func(m *state.Metrics) {
		m.HopCount++
		if cacheHit {
			m.CacheHits++
		} else {
			m.CacheMisses++
		}
	})
}

// Capabilities lists the registered capabilities sorted by name.
func (s *Service) Capabilities() []capability.Capability {
	return s.registry.List()
}

// Report generates a report, stores it as an artifact, and folds the
// token estimate into the thread's metrics.
func (s *Service) Report(threadID, format string) (*report.Report, error) {
	if _, err := s.thread(threadID); err != nil {
		return nil, err
	}
	rep, err := s.reports.Generate(threadID, format)
	if err != nil {
		return nil, err
	}
	_ = s.states.UpdateMetrics(threadID, func(m *state.Metrics) {
		m.TokensEstimate = rep.Savings.ActualTokens
		m.TokensAvoided = rep.Savings.AvoidedTokens
	})
	s.persist.request()
	return rep, nil
}

func (s *Service) thread(threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, relayerr.NotFound("thread", threadID)
	}
	return t, nil
}

func (s *Service) info(t *Thread) (*ThreadInfo, error) {
	doc, err := s.states.Get(t.ID)
	if err != nil {
		return nil, err
	}
	ref, err := s.states.Ref(t.ID)
	if err != nil {
		return nil, err
	}
	return &ThreadInfo{
		Thread:        *t,
		Version:       doc.Version,
		StateRef:      ref,
		HopCount:      doc.Metrics.HopCount,
		ArtifactCount: len(s.artifacts.List(t.ID)),
		EventCount:    s.events.Count(t.ID),
	}, nil
}
