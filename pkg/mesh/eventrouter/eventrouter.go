// Package eventrouter implements the Event Router (C12): consuming
// change events from the Workflow Store's pub/sub bus and routing them
// by aggregate type to downstream target layers, with a bounded
// dead-letter queue and retry on failure.
package eventrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
)

// targetsByAggregate maps aggregate_type to the downstream target layer
// name used in the `POST /events/{kind}` path. Aggregate types absent
// from this map are not routed.
var targetsByAggregate = map[meshtypes.AggregateType]string{
	meshtypes.AggregateAgent:           "agent",
	meshtypes.AggregateTool:            "tool",
	meshtypes.AggregateToolExecution:   "tool",
	meshtypes.AggregatePlan:            "plan",
	meshtypes.AggregateDataset:         "training",
	meshtypes.AggregateTrainingExample: "training",
	meshtypes.AggregateSession:         "session",
}

// Config tunes the Event Router.
type Config struct {
	DLQMaxSize      int
	RetryOnStartup  bool
	DeliveryTimeout time.Duration
	BaseURL         func(target string) string
}

// Router consumes events and delivers them to target layers, parking
// failed deliveries on a per-target bounded DLQ.
type Router struct {
	cfg    Config
	client *http.Client
	log    logr.Logger

	mu              sync.Mutex
	dlqs            map[string][]meshtypes.Event
	droppedByTarget map[string]int64
	eventsReceived  int64
	eventsRouted    int64
	eventsByType    map[string]int64

	metricsReceived prometheus.Counter
	metricsRouted   prometheus.Counter
	metricsByType   *prometheus.CounterVec
	metricsDLQSize  *prometheus.GaugeVec
}

// New builds a Router. reg may be nil to skip Prometheus registration
// (e.g. in unit tests that don't care about metrics).
func New(cfg Config, log logr.Logger, reg prometheus.Registerer) *Router {
	if cfg.DLQMaxSize <= 0 {
		cfg.DLQMaxSize = 100
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if cfg.BaseURL == nil {
		cfg.BaseURL = func(target string) string { return "http://" + target }
	}

	r := &Router{
		cfg:             cfg,
		client:          &http.Client{Timeout: cfg.DeliveryTimeout},
		log:             log,
		dlqs:            make(map[string][]meshtypes.Event),
		droppedByTarget: make(map[string]int64),
		eventsByType:    make(map[string]int64),
		metricsReceived: prometheus.NewCounter(prometheus.CounterOpts{Name: "event_router_events_received_total"}),
		metricsRouted:   prometheus.NewCounter(prometheus.CounterOpts{Name: "event_router_events_routed_total"}),
		metricsByType:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "event_router_events_by_type_total"}, []string{"aggregate_type"}),
		metricsDLQSize:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "event_router_dlq_size"}, []string{"target"}),
	}
	if reg != nil {
		reg.MustRegister(r.metricsReceived, r.metricsRouted, r.metricsByType, r.metricsDLQSize)
	}
	return r
}

// Route consumes one event, delivering it to its target layer if the
// aggregate type is recognized; unrecognized types are counted but not
// forwarded.
func (r *Router) Route(ctx context.Context, event meshtypes.Event) {
	r.mu.Lock()
	r.eventsReceived++
	r.eventsByType[string(event.AggregateType)]++
	r.mu.Unlock()
	r.metricsReceived.Inc()
	r.metricsByType.WithLabelValues(string(event.AggregateType)).Inc()

	target, ok := targetsByAggregate[event.AggregateType]
	if !ok {
		r.log.V(1).Info("unrouted aggregate type", "aggregate_type", event.AggregateType)
		return
	}

	if err := r.deliver(ctx, target, event); err != nil {
		r.log.Info("event delivery failed, enqueueing to dlq", "target", target, "event_id", event.EventID, "error", err.Error())
		r.enqueueDLQ(target, event)
		return
	}

	r.mu.Lock()
	r.eventsRouted++
	r.mu.Unlock()
	r.metricsRouted.Inc()
}

func (r *Router) deliver(ctx context.Context, target string, event meshtypes.Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, r.cfg.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, r.cfg.BaseURL(target)+"/events/"+target, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errDeliveryFailed(resp.StatusCode)
	}
	return nil
}

func (r *Router) enqueueDLQ(target string, event meshtypes.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.dlqs[target]
	if len(queue) >= r.cfg.DLQMaxSize {
		queue = queue[1:]
		r.droppedByTarget[target]++
	}
	queue = append(queue, event)
	r.dlqs[target] = queue
	r.metricsDLQSize.WithLabelValues(target).Set(float64(len(queue)))
}

// RetryResult is one target's retry_dlq() outcome.
type RetryResult struct {
	Total     int
	Retried   int
	Succeeded int
	Failed    int
}

// RetryDLQ drains every target's DLQ, retrying each queued event once.
func (r *Router) RetryDLQ(ctx context.Context) map[string]RetryResult {
	r.mu.Lock()
	snapshot := make(map[string][]meshtypes.Event, len(r.dlqs))
	for target, queue := range r.dlqs {
		snapshot[target] = append([]meshtypes.Event(nil), queue...)
	}
	r.mu.Unlock()

	results := make(map[string]RetryResult, len(snapshot))
	for target, queue := range snapshot {
		result := RetryResult{Total: len(queue)}
		var remaining []meshtypes.Event
		for _, event := range queue {
			result.Retried++
			if err := r.deliver(ctx, target, event); err != nil {
				result.Failed++
				remaining = append(remaining, event)
				continue
			}
			result.Succeeded++
			r.mu.Lock()
			r.eventsRouted++
			r.mu.Unlock()
			r.metricsRouted.Inc()
		}
		r.mu.Lock()
		r.dlqs[target] = remaining
		r.metricsDLQSize.WithLabelValues(target).Set(float64(len(remaining)))
		r.mu.Unlock()
		results[target] = result
	}
	return results
}

// Metrics is the Event Router's observable counter/gauge surface.
type Metrics struct {
	EventsReceived int64
	EventsRouted   int64
	EventsByType   map[string]int64
	DLQSizes       map[string]int
	Dropped        map[string]int64
}

func (r *Router) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := make(map[string]int64, len(r.eventsByType))
	for k, v := range r.eventsByType {
		byType[k] = v
	}
	dlqSizes := make(map[string]int, len(r.dlqs))
	for k, v := range r.dlqs {
		dlqSizes[k] = len(v)
	}
	dropped := make(map[string]int64, len(r.droppedByTarget))
	for k, v := range r.droppedByTarget {
		dropped[k] = v
	}
	return Metrics{
		EventsReceived: r.eventsReceived,
		EventsRouted:   r.eventsRouted,
		EventsByType:   byType,
		DLQSizes:       dlqSizes,
		Dropped:        dropped,
	}
}

// Healthy reports {healthy: success_rate_percent >= 95 || events_received < threshold}.
func (r *Router) Healthy(lowVolumeThreshold int64) bool {
	r.mu.Lock()
	received, routed := r.eventsReceived, r.eventsRouted
	r.mu.Unlock()
	if received < lowVolumeThreshold {
		return true
	}
	return float64(routed)/float64(received)*100 >= 95
}

type errDeliveryFailed int

func (e errDeliveryFailed) Error() string {
	return "delivery returned non-2xx status"
}
