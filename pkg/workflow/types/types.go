// Package types holds the Workflow Store's (C8) persisted aggregates:
// workflow definitions, executions, node executions, triggers, approval
// requests and saga compensation bookkeeping.
package types

import "time"

// WorkflowStatus is a WorkflowDefinition's discovery lifecycle state.
// archived is terminal for discovery, though the row itself is never
// deleted. The order of transitions is not enforced: the store's
// UpdateWorkflowStatus writes whatever status it is given.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowArchived WorkflowStatus = "archived"
)

// WorkflowDefinition is a versioned, named graph of nodes and edges.
type WorkflowDefinition struct {
	WorkflowID string
	UUID       string
	Name       string
	Version    string
	Definition WorkflowGraph
	Category   string
	Tags       []string
	Status     WorkflowStatus
	Visibility string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkflowGraph is the opaque definition payload.
type WorkflowGraph struct {
	Paradigm   string
	Nodes      []map[string]interface{}
	Edges      []map[string]interface{}
	EntryNodeID string
	Parameters map[string]interface{}
}

// ExecutionStatus is a WorkflowExecution's lifecycle state.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCompensating    ExecutionStatus = "compensating"
)

// CompensationStatus tracks saga-style rollback progress for an
// execution.
type CompensationStatus string

const (
	CompensationNone      CompensationStatus = "none"
	CompensationPending   CompensationStatus = "pending"
	CompensationCompleted CompensationStatus = "completed"
)

// WorkflowExecution is one run of a WorkflowDefinition.
type WorkflowExecution struct {
	ExecutionID          string
	WorkflowID           string
	WorkflowVersion      string
	InputParameters      map[string]interface{}
	OutputResult         map[string]interface{}
	Status               ExecutionStatus
	CurrentNodeID        string
	ExecutionState       map[string]interface{}
	CheckpointID         string
	CompensationRequired bool
	CompensationStatus   CompensationStatus
	CompensatedNodes     []string
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DurationMs           int64
	TraceID              string
}

// NodeExecutionStatus is one node attempt's lifecycle state.
type NodeExecutionStatus string

const (
	NodeExecPending     NodeExecutionStatus = "pending"
	NodeExecRunning     NodeExecutionStatus = "running"
	NodeExecCompleted   NodeExecutionStatus = "completed"
	NodeExecFailed      NodeExecutionStatus = "failed"
	NodeExecCompensated NodeExecutionStatus = "compensated"
)

// WorkflowNodeExecution is one row per node attempt within an execution.
type WorkflowNodeExecution struct {
	NodeExecutionID    string
	ExecutionID        string
	NodeID             string
	NodeType           string
	Status             NodeExecutionStatus
	InputData          map[string]interface{}
	OutputData         map[string]interface{}
	ErrorCode          string
	ErrorMessage       string
	RetryCount         int
	MaxRetries         int
	CompensationAction string
	Compensated        bool
	StartedAt          *time.Time
	CompletedAt        *time.Time
	DurationMs         int64
}

// TriggerType classifies how a WorkflowTrigger fires.
type TriggerType string

const (
	TriggerEvent    TriggerType = "event"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
)

// WorkflowTrigger is a configured activation rule for a workflow.
type WorkflowTrigger struct {
	TriggerID       string
	WorkflowID      string
	TriggerType     TriggerType
	TriggerConfig   map[string]interface{}
	Enabled         bool
	LastTriggeredAt *time.Time
	TriggerCount    int64
}

// ApprovalStatus is an ApprovalRequest's lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is a two-gate human approval gate on one execution
// node.
type ApprovalRequest struct {
	ApprovalID     string
	ExecutionID    string
	NodeID         string
	RequestType    string
	RequestMessage string
	RequestData    map[string]interface{}
	Status         ApprovalStatus
	RespondedBy    string
	ResponseData   map[string]interface{}
	RespondedAt    *time.Time
	ExpiresAt      time.Time
}
