// Package bridges implements the Pipeline Orchestrator's (C7) typed
// adapters to the rest of the platform (C8 Workflow Store, the model
// provider port, an external scoring service, and the C11-C13 mesh
// layer). Every bridge works identically whether its remote is reachable
// or not: unreachable remotes fall back to an in-memory or heuristic
// local implementation, so tests and offline pipelines exercise the same
// interface a live deployment does.
package bridges

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Bridge is the lifecycle every adapter in this package implements.
type Bridge interface {
	Initialize() error
	Close() error
	IsConnected() bool
	Statistics() map[string]interface{}
}

// Set aggregates the four bridges (Data, Model, Scoring, Mesh) so the
// composition root can initialize and tear them down together.
// Initialize/Close fan out concurrently, mirroring the original
// asyncio.gather over each bridge's own init/close coroutine.
type Set struct {
	Data    *DataBridge
	Model   *ModelBridge
	Scoring *ScoringBridge
	Mesh    *MeshBridge
}

func (s *Set) all() []Bridge {
	return []Bridge{s.Data, s.Model, s.Scoring, s.Mesh}
}

// Initialize starts all four bridges concurrently, returning the first
// error encountered (if any); the others still run to completion.
func (s *Set) Initialize() error {
	var g errgroup.Group
	for _, b := range s.all() {
		b := b
		g.Go(b.Initialize)
	}
	return g.Wait()
}

// Close tears down all four bridges concurrently.
func (s *Set) Close() error {
	var g errgroup.Group
	for _, b := range s.all() {
		b := b
		g.Go(b.Close)
	}
	return g.Wait()
}

// Statistics returns each bridge's call/fallback/error counters keyed
// by bridge name.
func (s *Set) Statistics() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"data":    s.Data.Statistics(),
		"model":   s.Model.Statistics(),
		"scoring": s.Scoring.Statistics(),
		"mesh":    s.Mesh.Statistics(),
	}
}

// statTracker centralizes the call/fallback/error counters every bridge
// reports through Statistics().
type statTracker struct {
	mu        sync.Mutex
	calls     int64
	fallbacks int64
	errors    int64
}

func (t *statTracker) recordCall() {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
}

func (t *statTracker) recordFallback() {
	t.mu.Lock()
	t.fallbacks++
	t.mu.Unlock()
}

func (t *statTracker) recordError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
}

func (t *statTracker) snapshot() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"calls":     t.calls,
		"fallbacks": t.fallbacks,
		"errors":    t.errors,
	}
}
