package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

// CreateNodeExecution records a new, pending attempt at one workflow
// node.
func (s *Store) CreateNodeExecution(ctx context.Context, node *types.WorkflowNodeExecution) error {
	if node.NodeExecutionID == "" {
		node.NodeExecutionID = uuid.NewString()
	}
	if node.Status == "" {
		node.Status = types.NodeExecPending
	}

	inputData, err := toJSON(node.InputData)
	if err != nil {
		return errors.DatabaseError("marshal input_data", "workflow_node_execution", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_node_executions
			(node_execution_id, execution_id, node_id, node_type, status, input_data, max_retries, compensation_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		node.NodeExecutionID, node.ExecutionID, node.NodeID, node.NodeType, node.Status, inputData,
		node.MaxRetries, node.CompensationAction)
	if err != nil {
		return errors.DatabaseError("create", "workflow_node_execution", err)
	}

	s.publish(ctx, "node_execution_created", meshtypes.AggregateWorkflow, node.ExecutionID, map[string]interface{}{
		"node_id": node.NodeID,
	})
	return nil
}

type nodeExecutionRow struct {
	NodeExecutionID    string         `db:"node_execution_id"`
	ExecutionID        string         `db:"execution_id"`
	NodeID             string         `db:"node_id"`
	NodeType           string         `db:"node_type"`
	Status             string         `db:"status"`
	InputData          []byte         `db:"input_data"`
	OutputData         []byte         `db:"output_data"`
	ErrorCode          sql.NullString `db:"error_code"`
	ErrorMessage       sql.NullString `db:"error_message"`
	RetryCount         int            `db:"retry_count"`
	MaxRetries         int            `db:"max_retries"`
	CompensationAction sql.NullString `db:"compensation_action"`
	Compensated        bool           `db:"compensated"`
	StartedAt          sql.NullTime   `db:"started_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
	DurationMs         sql.NullInt64  `db:"duration_ms"`
}

func (r nodeExecutionRow) toDomain() (*types.WorkflowNodeExecution, error) {
	node := &types.WorkflowNodeExecution{
		NodeExecutionID:    r.NodeExecutionID,
		ExecutionID:        r.ExecutionID,
		NodeID:             r.NodeID,
		NodeType:           r.NodeType,
		Status:             types.NodeExecutionStatus(r.Status),
		ErrorCode:          r.ErrorCode.String,
		ErrorMessage:       r.ErrorMessage.String,
		RetryCount:         r.RetryCount,
		MaxRetries:         r.MaxRetries,
		CompensationAction: r.CompensationAction.String,
		Compensated:        r.Compensated,
	}
	if err := fromJSON(r.InputData, &node.InputData); err != nil {
		return nil, err
	}
	if err := fromJSON(r.OutputData, &node.OutputData); err != nil {
		return nil, err
	}
	if r.StartedAt.Valid {
		node.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		node.CompletedAt = &r.CompletedAt.Time
	}
	if r.DurationMs.Valid {
		node.DurationMs = r.DurationMs.Int64
	}
	return node, nil
}

// ListNodeExecutions returns every node attempt recorded for an
// execution, ordered by StartedAt, with attempts not yet started first.
func (s *Store) ListNodeExecutions(ctx context.Context, executionID string) ([]*types.WorkflowNodeExecution, error) {
	var rows []nodeExecutionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT node_execution_id, execution_id, node_id, node_type, status, input_data, output_data,
		       error_code, error_message, retry_count, max_retries, compensation_action, compensated,
		       started_at, completed_at, duration_ms
		FROM workflow_node_executions WHERE execution_id = $1 ORDER BY started_at NULLS FIRST`, executionID)
	if err != nil {
		return nil, errors.DatabaseError("list", "workflow_node_execution", err)
	}

	nodes := make([]*types.WorkflowNodeExecution, 0, len(rows))
	for _, row := range rows {
		node, err := row.toDomain()
		if err != nil {
			return nil, errors.DatabaseError("decode", "workflow_node_execution", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// StartNodeExecution marks a node attempt running and stamps StartedAt.
func (s *Store) StartNodeExecution(ctx context.Context, nodeExecutionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE workflow_node_executions SET status = $1, started_at = $2 WHERE node_execution_id = $3`,
		types.NodeExecRunning, now, nodeExecutionID)
	if err != nil {
		return errors.DatabaseError("start", "workflow_node_execution", err)
	}
	return nil
}

// CompleteNodeExecution terminates a node attempt as completed or
// failed, recording output/error and duration.
func (s *Store) CompleteNodeExecution(ctx context.Context, nodeExecutionID string, status types.NodeExecutionStatus, output map[string]interface{}, errCode, errMessage string) error {
	if status != types.NodeExecCompleted && status != types.NodeExecFailed {
		return errors.NewBusinessLogicError("complete_node_execution", "status must be completed or failed")
	}

	var row nodeExecutionRow
	err := s.db.GetContext(ctx, &row, `SELECT started_at FROM workflow_node_executions WHERE node_execution_id = $1`, nodeExecutionID)
	if err == sql.ErrNoRows {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow node execution not found", err)
	}
	if err != nil {
		return errors.DatabaseError("get", "workflow_node_execution", err)
	}

	now := time.Now().UTC()
	var durationMs int64
	if row.StartedAt.Valid {
		durationMs = now.Sub(row.StartedAt.Time).Milliseconds()
	}

	outputJSON, err := toJSON(output)
	if err != nil {
		return errors.DatabaseError("marshal output_data", "workflow_node_execution", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE workflow_node_executions
		 SET status = $1, output_data = $2, error_code = $3, error_message = $4, completed_at = $5, duration_ms = $6
		 WHERE node_execution_id = $7`,
		status, outputJSON, nullableString(errCode), nullableString(errMessage), now, durationMs, nodeExecutionID)
	if err != nil {
		return errors.DatabaseError("complete", "workflow_node_execution", err)
	}
	return nil
}

// IncrementRetryCount bumps a node attempt's retry counter, returning the
// new count.
func (s *Store) IncrementRetryCount(ctx context.Context, nodeExecutionID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE workflow_node_executions SET retry_count = retry_count + 1
		WHERE node_execution_id = $1 RETURNING retry_count`, nodeExecutionID)
	if err != nil {
		return 0, errors.DatabaseError("increment_retry_count", "workflow_node_execution", err)
	}
	return count, nil
}

// MarkNodeCompensated flags a node attempt as compensated, matching a
// RecordCompensatedNode call on its parent execution.
func (s *Store) MarkNodeCompensated(ctx context.Context, nodeExecutionID string) error {
	return markNodeCompensated(ctx, s.db, nodeExecutionID)
}

// markNodeCompensated is shared by MarkNodeCompensated and
// RecordCompensatedNode, which needs the same update run inside its own
// transaction so the execution's compensated_nodes array and the node
// row's compensated flag land atomically.
func markNodeCompensated(ctx context.Context, q sqlx.ExecerContext, nodeExecutionID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE workflow_node_executions SET status = $1, compensated = true WHERE node_execution_id = $2`,
		types.NodeExecCompensated, nodeExecutionID)
	if err != nil {
		return errors.DatabaseError("mark_compensated", "workflow_node_execution", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
