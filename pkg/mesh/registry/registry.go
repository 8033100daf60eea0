// Package registry implements the Service Registry (C9): an in-memory
// map of service_name to live instances with health, last-seen and
// idempotent registration.
package registry

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Status is a ServiceInstance's health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Instance is one registered service endpoint, mirroring the
// ServiceInstance data model entry.
type Instance struct {
	ServiceID     string
	ServiceName   string
	Endpoint      string
	Status        Status
	LastHeartbeat time.Time
}

// Registry tracks live instances per service name. Read-heavy lookups
// take a copy-on-write snapshot of the relevant slice so callers never
// hold the registry's lock while using the result.
type Registry struct {
	log logr.Logger

	mu        sync.RWMutex
	instances map[string]map[string]Instance // service_name -> service_id -> Instance
}

// New builds an empty Registry.
func New(log logr.Logger) *Registry {
	return &Registry{log: log, instances: make(map[string]map[string]Instance)}
}

// Register records or updates instance, keyed on ServiceID. Idempotent:
// registering the same ServiceID again overwrites the prior entry.
func (r *Registry) Register(instance Instance) {
	if instance.Status == "" {
		instance.Status = StatusHealthy
	}
	if instance.LastHeartbeat.IsZero() {
		instance.LastHeartbeat = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.instances[instance.ServiceName]
	if !ok {
		byID = make(map[string]Instance)
		r.instances[instance.ServiceName] = byID
	}
	byID[instance.ServiceID] = instance
	r.log.V(1).Info("service registered", "service_name", instance.ServiceName, "service_id", instance.ServiceID)
}

// Deregister removes an instance. Idempotent: deregistering an unknown
// id is a no-op.
func (r *Registry) Deregister(serviceName, serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byID, ok := r.instances[serviceName]; ok {
		delete(byID, serviceID)
		if len(byID) == 0 {
			delete(r.instances, serviceName)
		}
	}
}

// Heartbeat updates an existing instance's LastHeartbeat and status.
// No-op if the instance isn't registered.
func (r *Registry) Heartbeat(serviceName, serviceID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.instances[serviceName]
	if !ok {
		return
	}
	inst, ok := byID[serviceID]
	if !ok {
		return
	}
	inst.LastHeartbeat = time.Now().UTC()
	if status != "" {
		inst.Status = status
	}
	byID[serviceID] = inst
}

// Lookup returns instances for serviceName filtered to
// {healthy, degraded} unless includeAll is set, in a defensive copy.
func (r *Registry) Lookup(serviceName string, includeAll bool) []Instance {
	r.mu.RLock()
	byID := r.instances[serviceName]
	snapshot := make([]Instance, 0, len(byID))
	for _, inst := range byID {
		snapshot = append(snapshot, inst)
	}
	r.mu.RUnlock()

	if includeAll {
		return snapshot
	}

	out := make([]Instance, 0, len(snapshot))
	for _, inst := range snapshot {
		if inst.Status == StatusHealthy || inst.Status == StatusDegraded {
			out = append(out, inst)
		}
	}
	return out
}

// FirstHealthy returns the first usable instance for serviceName,
// implementing the "first-healthy" load-balancing strategy; callers
// wanting round-robin layer it on top of Lookup themselves.
func (r *Registry) FirstHealthy(serviceName string) (Instance, bool) {
	instances := r.Lookup(serviceName, false)
	if len(instances) == 0 {
		return Instance{}, false
	}
	return instances[0], true
}
