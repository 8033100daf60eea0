// Package breaker implements the Circuit Breaker (C10): one
// closed/open/half-open state machine per logical target, wrapping
// sony/gobreaker with the exact state names and predicate the Request
// Orchestrator (C11) consults.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
)

// State mirrors the circuit breaker's state enum with the names the
// mesh layer expects callers to see.
type State string

const (
	CircuitStateClosed   State = "closed"
	CircuitStateOpen     State = "open"
	CircuitStateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return CircuitStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitStateHalfOpen
	default:
		return CircuitStateClosed
	}
}

// Config tunes every breaker the registry creates.
type Config struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// DefaultConfig holds the circuit breaker's default thresholds.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second}
}

// CircuitInfo is a point-in-time snapshot of one breaker's state,
// mirroring the CircuitState data model entry.
type CircuitInfo struct {
	Name             string
	State            State
	FailureCount     uint32
	SuccessCount     uint32
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	LastFailureTime  time.Time
}

// Registry owns one gobreaker.CircuitBreaker per logical target name,
// created lazily on first use and guarded by a single mutex.
type Registry struct {
	cfg Config
	log logr.Logger

	mu              sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker
	lastFailureTime map[string]time.Time
}

// New builds a Registry. log may be the zero value (logr.Discard()).
func New(cfg Config, log logr.Logger) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Registry{
		cfg:             cfg,
		log:             log,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
		lastFailureTime: make(map[string]time.Time),
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			r.log.V(1).Info("circuit breaker state change", "name", breakerName, "from", fromGobreaker(from), "to", fromGobreaker(to))
			if to == gobreaker.StateOpen {
				r.mu.Lock()
				r.lastFailureTime[breakerName] = time.Now().UTC()
				r.mu.Unlock()
			}
		},
	})
	r.breakers[name] = cb
	return cb
}

// IsCircuitOpen is the single predicate the Request Orchestrator
// consults before forwarding a call to name.
func (r *Registry) IsCircuitOpen(name string) bool {
	return r.get(name).State() == gobreaker.StateOpen
}

// RecordSuccess marks a successful call against name.
func (r *Registry) RecordSuccess(name string) {
	_, _ = r.get(name).Execute(func() (interface{}, error) { return nil, nil })
}

// RecordFailure marks a failed call against name.
func (r *Registry) RecordFailure(name string) {
	_, _ = r.get(name).Execute(func() (interface{}, error) { return nil, errRecordedFailure })
}

var errRecordedFailure = errors.New("recorded failure")

// GetState returns name's current breaker state.
func (r *Registry) GetState(name string) State {
	return fromGobreaker(r.get(name).State())
}

// GetFailureRate returns the fraction of recorded calls against name
// that failed, over all calls the breaker has counted in its current
// generation.
func (r *Registry) GetFailureRate(name string) float64 {
	counts := r.get(name).Counts()
	if counts.Requests == 0 {
		return 0
	}
	return float64(counts.TotalFailures) / float64(counts.Requests)
}

// Info returns a full snapshot of name's breaker, per the CircuitState
// data model entry.
func (r *Registry) Info(name string) CircuitInfo {
	cb := r.get(name)
	counts := cb.Counts()
	r.mu.Lock()
	lastFailure := r.lastFailureTime[name]
	r.mu.Unlock()
	return CircuitInfo{
		Name:             name,
		State:            fromGobreaker(cb.State()),
		FailureCount:     counts.ConsecutiveFailures,
		SuccessCount:     counts.ConsecutiveSuccesses,
		FailureThreshold: r.cfg.FailureThreshold,
		RecoveryTimeout:  r.cfg.RecoveryTimeout,
		LastFailureTime:  lastFailure,
	}
}
