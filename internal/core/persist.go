package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaymesh/relay/internal/artifact"
	"github.com/relaymesh/relay/internal/event"
	"github.com/relaymesh/relay/internal/state"
)

// snapshot is the JSON shape written to disk. Everything the daemon
// holds in memory round-trips through here.
type snapshot struct {
	Threads   map[string]*Thread                  `json:"threads"`
	States    map[string]*state.Document          `json:"states"`
	Artifacts map[string][]artifact.StoredArtifact `json:"artifacts"`
	Events    map[string][]event.Event            `json:"events"`
}

// persister debounces snapshot writes: mutations signal it, at most
// one disk flush happens per debounce window, a final flush runs on
// close. An empty dir disables persistence entirely.
type persister struct {
	svc  *Service
	path string

	saveMu sync.Mutex
	saveCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

const saveDebounce = 500 * time.Millisecond

func newPersister(dir string, svc *Service) (*persister, error) {
	p := &persister{
		svc:    svc,
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	if dir == "" {
		return p, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	p.path = filepath.Join(dir, "relay.json")
	p.load()

	p.wg.Add(1)
	go p.loop()
	log.Info().Str("snapshot", p.path).Msg("snapshot persistence enabled")
	return p, nil
}

// request signals that state changed. Non-blocking: rapid mutations
// coalesce into one flush.
func (p *persister) request() {
	if p.path == "" {
		return
	}
	select {
	case p.saveCh <- struct{}{}:
	default:
	}
}

func (p *persister) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.doneCh:
			return
		case <-p.saveCh:
			time.Sleep(saveDebounce)
			p.save()
		}
	}
}

func (p *persister) save() {
	svc := p.svc
	svc.mu.RLock()
	threads := make(map[string]*Thread, len(svc.threads))
	for id, t := range svc.threads {
		copy := *t
		threads[id] = &copy
	}
	svc.mu.RUnlock()

	snap := snapshot{
		Threads:   threads,
		States:    svc.states.Snapshot(),
		Artifacts: svc.artifacts.Snapshot(),
		Events:    svc.events.Snapshot(),
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		log.Error().Err(err).Msg("marshal snapshot")
		return
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	// Write to a temp file then rename so a crash mid-write never
	// leaves a truncated snapshot.
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("write snapshot")
		return
	}
	if err := os.Rename(tmp, p.path); err != nil {
		log.Error().Err(err).Str("path", p.path).Msg("rename snapshot")
		return
	}
	log.Debug().Str("path", p.path).Msg("snapshot saved")
}

func (p *persister) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", p.path).Msg("no snapshot found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", p.path).Msg("read snapshot")
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", p.path).Msg("parse snapshot, starting fresh")
		return
	}

	svc := p.svc
	if snap.Threads != nil {
		svc.mu.Lock()
		svc.threads = snap.Threads
		svc.mu.Unlock()
	}
	svc.states.Restore(snap.States)
	svc.artifacts.Restore(snap.Artifacts)
	svc.events.Restore(snap.Events)

	log.Info().
		Int("threads", len(snap.Threads)).
		Str("path", p.path).
		Msg("snapshot loaded")
}

// close stops the loop and flushes once more. Idempotent.
func (p *persister) close() error {
	select {
	case <-p.doneCh:
		return nil
	default:
		close(p.doneCh)
	}
	p.wg.Wait()
	if p.path != "" {
		p.save()
	}
	return nil
}
