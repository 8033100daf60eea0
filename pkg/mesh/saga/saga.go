// Package saga implements the Saga Orchestrator (C13): executing an
// ordered list of steps with reverse-order compensation on failure.
package saga

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/agentflow/controlplane/pkg/planning/types"
)

// StepStatus is one saga step's lifecycle state.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepRunning     StepStatus = "running"
	StepCompleted   StepStatus = "completed"
	StepCompensated StepStatus = "compensated"
	StepFailed      StepStatus = "failed"
)

// Status is the saga's overall lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusFailed       Status = "failed"
)

// Action runs a step; Compensation reverses it. Both receive the step's
// opaque input.
type Action func(ctx context.Context, input interface{}) (interface{}, error)

// Step is one unit of a Saga.
type Step struct {
	StepID        string
	Name          string
	Input         interface{}
	Action        Action
	Compensation  Action
	Status        StepStatus
	Result        interface{}
	Error         string
}

// Saga is an ordered list of compensable steps, per the Saga data model
// entry.
type Saga struct {
	SagaID        string
	Name          string
	Steps         []Step
	Status        Status
	CurrentStep   int
	CorrelationID string
}

// EventPort is the subset of the planning pipeline's lifecycle event
// vocabulary the Saga Orchestrator reuses to announce saga start/finish.
type EventPort interface {
	Publish(ctx context.Context, event types.LifecycleEvent) error
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, types.LifecycleEvent) error { return nil }

// Orchestrator runs sagas to completion, persisting nothing itself —
// callers that need durability store Saga through the Workflow Store.
type Orchestrator struct {
	log    logr.Logger
	events EventPort

	mu    sync.Mutex
	sagas map[string]*Saga
}

// New builds an Orchestrator. events may be nil to discard lifecycle
// events (e.g. in unit tests).
func New(events EventPort, log logr.Logger) *Orchestrator {
	if events == nil {
		events = noopEvents{}
	}
	return &Orchestrator{log: log, events: events, sagas: make(map[string]*Saga)}
}

// CreateSaga records a new saga, with all steps pending, in the
// orchestrator's in-memory map; it is not written to the Workflow Store.
func (o *Orchestrator) CreateSaga(name string, steps []Step, correlationID string) *Saga {
	for i := range steps {
		steps[i].Status = StepPending
	}
	s := &Saga{
		SagaID:        uuid.NewString(),
		Name:          name,
		Steps:         steps,
		Status:        StatusPending,
		CorrelationID: correlationID,
	}
	o.mu.Lock()
	o.sagas[s.SagaID] = s
	o.mu.Unlock()
	return s
}

// Get returns a previously created saga.
func (o *Orchestrator) Get(sagaID string) (*Saga, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sagas[sagaID]
	return s, ok
}

// ExecuteSaga runs sagaID's steps sequentially, compensating in reverse
// on any step failure.
func (o *Orchestrator) ExecuteSaga(ctx context.Context, sagaID string) (*Saga, error) {
	o.mu.Lock()
	s, ok := o.sagas[sagaID]
	o.mu.Unlock()
	if !ok {
		return nil, errSagaNotFound(sagaID)
	}

	s.Status = StatusRunning
	_ = o.events.Publish(ctx, types.LifecycleEvent{Type: types.EventPlanStarted, CorrelationID: s.SagaID, Timestamp: time.Now().UTC()})

	failedAt := -1
	for i := range s.Steps {
		s.CurrentStep = i
		s.Steps[i].Status = StepRunning
		result, err := s.Steps[i].Action(ctx, s.Steps[i].Input)
		if err != nil {
			s.Steps[i].Status = StepFailed
			s.Steps[i].Error = err.Error()
			failedAt = i
			break
		}
		s.Steps[i].Status = StepCompleted
		s.Steps[i].Result = result
	}

	if failedAt == -1 {
		s.Status = StatusCompleted
		_ = o.events.Publish(ctx, types.LifecycleEvent{Type: types.EventPlanCompleted, CorrelationID: s.SagaID, Timestamp: time.Now().UTC()})
		return s, nil
	}

	s.Status = StatusCompensating
	for i := failedAt - 1; i >= 0; i-- {
		if s.Steps[i].Status != StepCompleted {
			continue
		}
		if s.Steps[i].Compensation == nil {
			continue
		}
		if _, err := s.Steps[i].Compensation(ctx, s.Steps[i].Input); err != nil {
			o.log.Info("compensation failed, continuing sweep", "saga_id", s.SagaID, "step_id", s.Steps[i].StepID, "error", err.Error())
			continue
		}
		s.Steps[i].Status = StepCompensated
	}

	s.Status = StatusFailed
	_ = o.events.Publish(ctx, types.LifecycleEvent{Type: types.EventPlanFailed, CorrelationID: s.SagaID, Error: s.Steps[failedAt].Error, Timestamp: time.Now().UTC()})
	return s, nil
}

type errSagaNotFound string

func (e errSagaNotFound) Error() string { return "saga not found: " + string(e) }
