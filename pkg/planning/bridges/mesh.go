package bridges

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/pkg/mesh/breaker"
	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/mesh/saga"
	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
)

// eventRouterPort is the slice of the Event Router (C12) the Mesh
// Bridge needs.
type eventRouterPort interface {
	Route(ctx context.Context, event meshtypes.Event)
}

// MeshBridge adapts the orchestrator's EventPort onto the C9-C13 mesh
// layer: publishing lifecycle events through the Event Router,
// delegating saga creation/execution to the Saga Orchestrator, and
// exposing circuit breaker state for the targets it calls through.
// When no Event Router is wired, events are recorded in memory so
// pipelines run the same with or without a live mesh.
type MeshBridge struct {
	events  eventRouterPort
	sagas   *saga.Orchestrator
	circuit *breaker.Registry
	log     *logrus.Entry
	stats   statTracker

	mu          sync.Mutex
	connected   bool
	localEvents []plantypes.LifecycleEvent
}

// NewMeshBridge builds a Mesh Bridge. events/sagas/circuit may each be
// nil to run that concern in local-fallback-only mode.
func NewMeshBridge(events eventRouterPort, sagas *saga.Orchestrator, circuit *breaker.Registry, log *logrus.Entry) *MeshBridge {
	return &MeshBridge{
		events:    events,
		sagas:     sagas,
		circuit:   circuit,
		log:       log,
		connected: events != nil,
	}
}

func (m *MeshBridge) Initialize() error {
	return nil
}

func (m *MeshBridge) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *MeshBridge) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MeshBridge) Statistics() map[string]interface{} {
	return m.stats.snapshot()
}

// Publish implements orchestrator.EventPort: it translates a planning
// lifecycle event into the mesh's Event envelope and routes it, or
// records it locally when no Event Router is wired.
func (m *MeshBridge) Publish(ctx context.Context, event plantypes.LifecycleEvent) error {
	m.stats.recordCall()

	if m.IsConnected() {
		m.events.Route(ctx, toMeshEvent(event))
		return nil
	}

	m.stats.recordFallback()
	m.mu.Lock()
	m.localEvents = append(m.localEvents, event)
	m.mu.Unlock()
	return nil
}

// LocalEvents returns the events recorded while no Event Router was
// wired, for tests and offline pipeline runs to inspect.
func (m *MeshBridge) LocalEvents() []plantypes.LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]plantypes.LifecycleEvent, len(m.localEvents))
	copy(out, m.localEvents)
	return out
}

func toMeshEvent(event plantypes.LifecycleEvent) meshtypes.Event {
	return meshtypes.Event{
		EventType:     string(event.Type),
		AggregateType: meshtypes.AggregatePlan,
		AggregateID:   event.PlanID,
		Payload: map[string]interface{}{
			"unit_id":        event.UnitID,
			"correlation_id": event.CorrelationID,
			"counts":         event.Counts,
			"score":          event.Score,
			"error":          event.Error,
		},
		Timestamp: event.Timestamp,
	}
}

// CreateSaga delegates to the Saga Orchestrator (C13). It returns
// ErrNoSagaOrchestrator when none is wired: a saga's compensation logic
// has no safe in-memory default, so this bridge does not fall back.
func (m *MeshBridge) CreateSaga(name string, steps []saga.Step, correlationID string) (*saga.Saga, error) {
	if m.sagas == nil {
		return nil, ErrNoSagaOrchestrator
	}
	return m.sagas.CreateSaga(name, steps, correlationID), nil
}

// ExecuteSaga delegates to the Saga Orchestrator.
func (m *MeshBridge) ExecuteSaga(ctx context.Context, sagaID string) (*saga.Saga, error) {
	if m.sagas == nil {
		return nil, ErrNoSagaOrchestrator
	}
	return m.sagas.ExecuteSaga(ctx, sagaID)
}

// CircuitOpen reports whether the named downstream target's circuit is
// currently open. Without a wired Registry it always reports closed
// (calls proceed), matching "no circuit breaker configured".
func (m *MeshBridge) CircuitOpen(target string) bool {
	if m.circuit == nil {
		return false
	}
	return m.circuit.IsCircuitOpen(target)
}

type errString string

func (e errString) Error() string { return string(e) }

// ErrNoSagaOrchestrator is returned by CreateSaga/ExecuteSaga when the
// bridge has no Saga Orchestrator wired.
const ErrNoSagaOrchestrator = errString("mesh bridge: no saga orchestrator configured")
