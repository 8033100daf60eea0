package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

// CreateExecution starts a new pending execution of a workflow definition.
func (s *Store) CreateExecution(ctx context.Context, exec *types.WorkflowExecution) error {
	if exec.ExecutionID == "" {
		exec.ExecutionID = uuid.NewString()
	}
	if exec.Status == "" {
		exec.Status = types.ExecutionPending
	}
	if exec.CompensationStatus == "" {
		exec.CompensationStatus = types.CompensationNone
	}

	inputParams, err := toJSON(exec.InputParameters)
	if err != nil {
		return errors.DatabaseError("marshal input_parameters", "workflow_execution", err)
	}
	execState, err := toJSON(exec.ExecutionState)
	if err != nil {
		return errors.DatabaseError("marshal execution_state", "workflow_execution", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(execution_id, workflow_id, workflow_version, input_parameters, status, execution_state,
			 compensation_required, compensation_status, compensated_nodes, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ExecutionID, exec.WorkflowID, exec.WorkflowVersion, inputParams, exec.Status, execState,
		exec.CompensationRequired, exec.CompensationStatus, pq.Array(exec.CompensatedNodes), exec.TraceID)
	if err != nil {
		return errors.DatabaseError("create", "workflow_execution", err)
	}

	s.publish(ctx, "execution_created", meshtypes.AggregateWorkflow, exec.ExecutionID, map[string]interface{}{
		"workflow_id": exec.WorkflowID,
	})
	return nil
}

type executionRow struct {
	ExecutionID          string         `db:"execution_id"`
	WorkflowID           string         `db:"workflow_id"`
	WorkflowVersion      string         `db:"workflow_version"`
	InputParameters      []byte         `db:"input_parameters"`
	OutputResult         []byte         `db:"output_result"`
	Status               string         `db:"status"`
	CurrentNodeID        sql.NullString `db:"current_node_id"`
	ExecutionState       []byte         `db:"execution_state"`
	CheckpointID         sql.NullString `db:"checkpoint_id"`
	CompensationRequired bool           `db:"compensation_required"`
	CompensationStatus   string         `db:"compensation_status"`
	CompensatedNodes     pq.StringArray `db:"compensated_nodes"`
	StartedAt            sql.NullTime   `db:"started_at"`
	CompletedAt          sql.NullTime   `db:"completed_at"`
	DurationMs           sql.NullInt64  `db:"duration_ms"`
	TraceID              sql.NullString `db:"trace_id"`
}

func (r executionRow) toDomain() (*types.WorkflowExecution, error) {
	exec := &types.WorkflowExecution{
		ExecutionID:          r.ExecutionID,
		WorkflowID:           r.WorkflowID,
		WorkflowVersion:      r.WorkflowVersion,
		Status:               types.ExecutionStatus(r.Status),
		CurrentNodeID:        r.CurrentNodeID.String,
		CheckpointID:         r.CheckpointID.String,
		CompensationRequired: r.CompensationRequired,
		CompensationStatus:   types.CompensationStatus(r.CompensationStatus),
		CompensatedNodes:     []string(r.CompensatedNodes),
		TraceID:              r.TraceID.String,
	}
	if err := fromJSON(r.InputParameters, &exec.InputParameters); err != nil {
		return nil, err
	}
	if err := fromJSON(r.OutputResult, &exec.OutputResult); err != nil {
		return nil, err
	}
	if err := fromJSON(r.ExecutionState, &exec.ExecutionState); err != nil {
		return nil, err
	}
	if r.StartedAt.Valid {
		exec.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		exec.CompletedAt = &r.CompletedAt.Time
	}
	if r.DurationMs.Valid {
		exec.DurationMs = r.DurationMs.Int64
	}
	return exec, nil
}

// GetExecution looks up one execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*types.WorkflowExecution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT execution_id, workflow_id, workflow_version, input_parameters, output_result, status,
		       current_node_id, execution_state, checkpoint_id, compensation_required, compensation_status,
		       compensated_nodes, started_at, completed_at, duration_ms, trace_id
		FROM workflow_executions WHERE execution_id = $1`, executionID)
	if err == sql.ErrNoRows {
		return nil, errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow execution not found", err)
	}
	if err != nil {
		return nil, errors.DatabaseError("get", "workflow_execution", err)
	}
	return row.toDomain()
}

// StartExecution marks a pending execution running and stamps StartedAt.
func (s *Store) StartExecution(ctx context.Context, executionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $1, started_at = $2 WHERE execution_id = $3`,
		types.ExecutionRunning, now, executionID)
	if err != nil {
		return errors.DatabaseError("start", "workflow_execution", err)
	}
	s.publish(ctx, "execution_started", meshtypes.AggregateWorkflow, executionID, nil)
	return nil
}

// CompleteExecution terminates an execution as completed or failed,
// recording the output/duration, and publishes execution_completed or
// execution_failed.
func (s *Store) CompleteExecution(ctx context.Context, executionID string, status types.ExecutionStatus, output map[string]interface{}) error {
	if status != types.ExecutionCompleted && status != types.ExecutionFailed {
		return errors.NewBusinessLogicError("complete_execution", "status must be completed or failed")
	}

	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var durationMs int64
	if exec.StartedAt != nil {
		durationMs = now.Sub(*exec.StartedAt).Milliseconds()
	}

	outputJSON, err := toJSON(output)
	if err != nil {
		return errors.DatabaseError("marshal output_result", "workflow_execution", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $1, output_result = $2, completed_at = $3, duration_ms = $4
		 WHERE execution_id = $5`,
		status, outputJSON, now, durationMs, executionID)
	if err != nil {
		return errors.DatabaseError("complete", "workflow_execution", err)
	}

	eventType := "execution_completed"
	if status == types.ExecutionFailed {
		eventType = "execution_failed"
	}
	s.publish(ctx, eventType, meshtypes.AggregateWorkflow, executionID, map[string]interface{}{
		"duration_ms": durationMs,
	})
	return nil
}

// SaveCheckpoint records the execution's resumable state and current
// node, so a crashed worker can rehydrate from the last checkpoint
// instead of restarting the whole execution.
func (s *Store) SaveCheckpoint(ctx context.Context, executionID, checkpointID, currentNodeID string, state map[string]interface{}) error {
	stateJSON, err := toJSON(state)
	if err != nil {
		return errors.DatabaseError("marshal execution_state", "workflow_execution", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET checkpoint_id = $1, current_node_id = $2, execution_state = $3
		 WHERE execution_id = $4`,
		checkpointID, currentNodeID, stateJSON, executionID)
	if err != nil {
		return errors.DatabaseError("save_checkpoint", "workflow_execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow execution not found", nil)
	}

	s.publish(ctx, "checkpoint_saved", meshtypes.AggregateWorkflow, executionID, map[string]interface{}{
		"checkpoint_id": checkpointID, "current_node_id": currentNodeID,
	})
	return nil
}

// MarkForCompensation flags an execution as requiring saga-style rollback
// and moves it to compensating, the first step of the compensation
// sequence.
func (s *Store) MarkForCompensation(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $1, compensation_required = true, compensation_status = $2
		 WHERE execution_id = $3`,
		types.ExecutionCompensating, types.CompensationPending, executionID)
	if err != nil {
		return errors.DatabaseError("mark_for_compensation", "workflow_execution", err)
	}
	s.publish(ctx, "compensation_started", meshtypes.AggregateWorkflow, executionID, nil)
	return nil
}

// RecordCompensatedNode appends nodeID to the execution's compensated-node
// list and marks the referenced WorkflowNodeExecution row compensated, in
// the same transaction, idempotently.
func (s *Store) RecordCompensatedNode(ctx context.Context, executionID, nodeID string) error {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	for _, n := range exec.CompensatedNodes {
		if n == nodeID {
			return nil
		}
	}
	updated := append(append([]string{}, exec.CompensatedNodes...), nodeID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin", "workflow_execution", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE workflow_executions SET compensated_nodes = $1 WHERE execution_id = $2`,
		pq.Array(updated), executionID)
	if err != nil {
		return errors.DatabaseError("record_compensated_node", "workflow_execution", err)
	}

	var nodeExecutionID string
	err = tx.GetContext(ctx, &nodeExecutionID, `
		SELECT node_execution_id FROM workflow_node_executions
		WHERE execution_id = $1 AND node_id = $2
		ORDER BY started_at DESC NULLS LAST LIMIT 1`, executionID, nodeID)
	if err == sql.ErrNoRows {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow node execution not found", err)
	}
	if err != nil {
		return errors.DatabaseError("find_node_execution", "workflow_node_execution", err)
	}

	if err := markNodeCompensated(ctx, tx, nodeExecutionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit", "workflow_execution", err)
	}

	s.publish(ctx, "node_compensated", meshtypes.AggregateWorkflow, executionID, map[string]interface{}{
		"node_id": nodeID,
	})
	return nil
}

// CompleteCompensation marks the execution's compensation sweep finished
// and the execution itself failed (a compensated execution never becomes
// completed).
func (s *Store) CompleteCompensation(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $1, compensation_status = $2 WHERE execution_id = $3`,
		types.ExecutionFailed, types.CompensationCompleted, executionID)
	if err != nil {
		return errors.DatabaseError("complete_compensation", "workflow_execution", err)
	}
	s.publish(ctx, "compensation_completed", meshtypes.AggregateWorkflow, executionID, nil)
	return nil
}
