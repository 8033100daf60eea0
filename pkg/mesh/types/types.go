// Package types holds data shapes shared across the mesh layer (C9-C13):
// the ambient request context propagated on every outbound call, and the
// dotted-event envelope published on the store's change-notification bus.
package types

import "time"

// RequestContext carries the trace/correlation identifiers propagated on
// every outbound mesh call.
type RequestContext struct {
	TraceID       string
	CorrelationID string
	RequestID     string
	UserID        string
	SessionID     string
}

// Headers renders ctx as the five propagated HTTP headers.
func (ctx RequestContext) Headers() map[string]string {
	return map[string]string{
		"X-Trace-ID":       ctx.TraceID,
		"X-Correlation-ID": ctx.CorrelationID,
		"X-Request-ID":     ctx.RequestID,
		"X-User-ID":        ctx.UserID,
		"X-Session-ID":     ctx.SessionID,
	}
}

// AggregateType is the Event envelope's routing key.
type AggregateType string

const (
	AggregateAgent           AggregateType = "agent"
	AggregateTool            AggregateType = "tool"
	AggregateToolExecution   AggregateType = "tool_execution"
	AggregatePlan            AggregateType = "plan"
	AggregateDataset         AggregateType = "dataset"
	AggregateTrainingExample AggregateType = "training_example"
	AggregateSession         AggregateType = "session"
	AggregateWorkflow        AggregateType = "workflow"
	AggregateSaga            AggregateType = "saga"
)

// Event is the change-notification envelope published on l01:events.
type Event struct {
	EventID       string
	EventType     string
	AggregateType AggregateType
	AggregateID   string
	Payload       map[string]interface{}
	Metadata      map[string]interface{}
	Version       int
	Timestamp     time.Time
}
