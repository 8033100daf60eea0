package bridges

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
	wftypes "github.com/agentflow/controlplane/pkg/workflow/types"
)

// workflowStorePort is the slice of the Workflow Store (C8) the Data
// Bridge needs. *store.Store satisfies it structurally.
type workflowStorePort interface {
	CreateWorkflowDefinition(ctx context.Context, def *wftypes.WorkflowDefinition) error
	CreateExecution(ctx context.Context, exec *wftypes.WorkflowExecution) error
	CreateNodeExecution(ctx context.Context, node *wftypes.WorkflowNodeExecution) error
	CompleteNodeExecution(ctx context.Context, nodeExecutionID string, status wftypes.NodeExecutionStatus, output map[string]interface{}, errCode, errMessage string) error
}

// Result reports whether a Data Bridge write landed on the remote store
// or fell back to the in-memory local copy.
type Result struct {
	Success bool
	Remote  bool
}

// DataBridge adapts the orchestrator's StorePort onto the Workflow Store
// (C8). When remote is nil, or a remote call errors, writes fall back to
// an in-memory record (StoreExecution excepted, see there) so the
// pipeline never blocks on store availability.
type DataBridge struct {
	remote workflowStorePort
	log    *logrus.Entry
	stats  statTracker

	mu          sync.Mutex
	connected   bool
	localPlans  map[string]*wftypes.WorkflowDefinition
	localUnits  map[string]plantypes.AtomicUnit
	localValids map[string]plantypes.ValidationResult
	// nodeExecutionIDs maps "executionID/unitID" to the node_execution_id
	// CreateNodeExecution assigned, so a later StoreValidation can
	// complete the same row instead of creating a new one.
	nodeExecutionIDs map[string]string
}

// NewDataBridge builds a Data Bridge over remote, which may be nil to
// run purely in local fallback mode.
func NewDataBridge(remote workflowStorePort, log *logrus.Entry) *DataBridge {
	return &DataBridge{
		remote:           remote,
		log:              log,
		connected:        remote != nil,
		localPlans:       make(map[string]*wftypes.WorkflowDefinition),
		localUnits:       make(map[string]plantypes.AtomicUnit),
		localValids:      make(map[string]plantypes.ValidationResult),
		nodeExecutionIDs: make(map[string]string),
	}
}

// Initialize marks the bridge ready. The Workflow Store connects
// eagerly in store.New, so there is nothing further to do here beyond
// recording connectivity.
func (d *DataBridge) Initialize() error {
	d.mu.Lock()
	d.connected = d.remote != nil
	d.mu.Unlock()
	return nil
}

// Close releases the bridge's view of the remote; it does not own the
// remote's connections (the composition root does).
func (d *DataBridge) Close() error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

// IsConnected reports whether the bridge currently has a remote to call.
func (d *DataBridge) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Statistics exposes call/fallback/error counters.
func (d *DataBridge) Statistics() map[string]interface{} {
	return d.stats.snapshot()
}

// StorePlan persists a workflow definition, falling back to memory on
// error.
func (d *DataBridge) StorePlan(ctx context.Context, def *wftypes.WorkflowDefinition) Result {
	d.stats.recordCall()
	if d.IsConnected() {
		if err := d.remote.CreateWorkflowDefinition(ctx, def); err == nil {
			return Result{Success: true, Remote: true}
		}
		d.stats.recordError()
	}
	d.stats.recordFallback()
	d.mu.Lock()
	d.localPlans[def.WorkflowID] = def
	d.mu.Unlock()
	return Result{Success: true, Remote: false}
}

// StoreExecution persists a workflow execution. When the remote is
// unavailable or errors it counts a fallback and still reports success
// with Remote false, but keeps no local copy of the execution.
func (d *DataBridge) StoreExecution(ctx context.Context, exec *wftypes.WorkflowExecution) Result {
	d.stats.recordCall()
	if d.IsConnected() {
		if err := d.remote.CreateExecution(ctx, exec); err == nil {
			return Result{Success: true, Remote: true}
		}
		d.stats.recordError()
	}
	d.stats.recordFallback()
	return Result{Success: true, Remote: false}
}

// StoreUnit implements orchestrator.StorePort: it records an atomic
// unit's start as a node execution row (or, on any failure, an
// in-memory record), keyed by executionID+unit.ID so a later
// StoreValidation call can complete the same row.
func (d *DataBridge) StoreUnit(ctx context.Context, executionID string, unit plantypes.AtomicUnit) error {
	d.stats.recordCall()
	key := executionID + "/" + unit.ID

	if d.IsConnected() {
		node := &wftypes.WorkflowNodeExecution{
			ExecutionID: executionID,
			NodeID:      unit.ID,
			NodeType:    string(unit.Complexity),
			InputData: map[string]interface{}{
				"title": unit.Title, "files": unit.Files, "phase": unit.Phase,
			},
		}
		if err := d.remote.CreateNodeExecution(ctx, node); err == nil {
			d.mu.Lock()
			d.nodeExecutionIDs[key] = node.NodeExecutionID
			d.mu.Unlock()
			return nil
		}
		d.stats.recordError()
	}

	d.stats.recordFallback()
	d.mu.Lock()
	d.localUnits[key] = unit
	d.mu.Unlock()
	return nil
}

// StoreValidation implements orchestrator.StorePort: it completes the
// node execution row StoreUnit created for the same unit, or records the
// validation result in memory when there is no such row (remote was
// unavailable at StoreUnit time, or never called).
func (d *DataBridge) StoreValidation(ctx context.Context, executionID, unitID string, result plantypes.ValidationResult) error {
	d.stats.recordCall()
	key := executionID + "/" + unitID

	d.mu.Lock()
	nodeExecutionID, hasNode := d.nodeExecutionIDs[key]
	d.mu.Unlock()

	if d.IsConnected() && hasNode {
		status := wftypes.NodeExecCompleted
		if !result.Passed {
			status = wftypes.NodeExecFailed
		}
		output := map[string]interface{}{
			"quality_score": result.QualityScore, "duration_ms": result.TotalDurationMs,
		}
		errMsg := ""
		if failed := result.FailedCriteria(); len(failed) > 0 {
			errMsg = failed[0].Error
		}
		if err := d.remote.CompleteNodeExecution(ctx, nodeExecutionID, status, output, "", errMsg); err == nil {
			return nil
		}
		d.stats.recordError()
	}

	d.stats.recordFallback()
	d.mu.Lock()
	d.localValids[key] = result
	d.mu.Unlock()
	return nil
}
