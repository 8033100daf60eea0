package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/policy"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

// CreateApproval opens a pending human approval gate on one execution
// node, atomically moving the parent execution to waiting_approval, and
// posts a best-effort Slack notification.
func (s *Store) CreateApproval(ctx context.Context, approval *types.ApprovalRequest) error {
	if approval.ApprovalID == "" {
		approval.ApprovalID = uuid.NewString()
	}
	if approval.Status == "" {
		approval.Status = types.ApprovalPending
	}
	if approval.ExpiresAt.IsZero() {
		approval.ExpiresAt = time.Now().UTC().Add(24 * time.Hour)
	}

	requestData, err := toJSON(approval.RequestData)
	if err != nil {
		return errors.DatabaseError("marshal request_data", "approval_request", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin", "approval_request", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_approval_requests
			(approval_id, execution_id, node_id, request_type, request_message, request_data, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		approval.ApprovalID, approval.ExecutionID, approval.NodeID, approval.RequestType,
		approval.RequestMessage, requestData, approval.Status, approval.ExpiresAt)
	if err != nil {
		return errors.DatabaseError("create", "approval_request", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $1 WHERE execution_id = $2`,
		types.ExecutionWaitingApproval, approval.ExecutionID)
	if err != nil {
		return errors.DatabaseError("mark_waiting_approval", "approval_request", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow execution not found", nil)
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit", "approval_request", err)
	}

	s.publish(ctx, "approval_requested", meshtypes.AggregateWorkflow, approval.ExecutionID, map[string]interface{}{
		"approval_id": approval.ApprovalID, "node_id": approval.NodeID, "request_type": approval.RequestType,
	})
	s.notifier.NotifyApprovalPending(ctx, approval.ExecutionID, approval.NodeID, approval.RequestType, approval.RequestMessage)
	return nil
}

type approvalRow struct {
	ApprovalID     string         `db:"approval_id"`
	ExecutionID    string         `db:"execution_id"`
	NodeID         string         `db:"node_id"`
	RequestType    string         `db:"request_type"`
	RequestMessage sql.NullString `db:"request_message"`
	RequestData    []byte         `db:"request_data"`
	Status         string         `db:"status"`
	RespondedBy    sql.NullString `db:"responded_by"`
	ResponseData   []byte         `db:"response_data"`
	RespondedAt    sql.NullTime   `db:"responded_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
}

func (r approvalRow) toDomain() (*types.ApprovalRequest, error) {
	approval := &types.ApprovalRequest{
		ApprovalID:     r.ApprovalID,
		ExecutionID:    r.ExecutionID,
		NodeID:         r.NodeID,
		RequestType:    r.RequestType,
		RequestMessage: r.RequestMessage.String,
		Status:         types.ApprovalStatus(r.Status),
		RespondedBy:    r.RespondedBy.String,
		ExpiresAt:      r.ExpiresAt,
	}
	if err := fromJSON(r.RequestData, &approval.RequestData); err != nil {
		return nil, err
	}
	if err := fromJSON(r.ResponseData, &approval.ResponseData); err != nil {
		return nil, err
	}
	if r.RespondedAt.Valid {
		approval.RespondedAt = &r.RespondedAt.Time
	}
	return approval, nil
}

// GetApproval looks up one approval request by ID.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*types.ApprovalRequest, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT approval_id, execution_id, node_id, request_type, request_message, request_data, status,
		       responded_by, response_data, responded_at, expires_at
		FROM workflow_approval_requests WHERE approval_id = $1`, approvalID)
	if err == sql.ErrNoRows {
		return nil, errors.NewIntegrationError(errors.CodeServiceNotFound, "approval request not found", err)
	}
	if err != nil {
		return nil, errors.DatabaseError("get", "approval_request", err)
	}
	return row.toDomain()
}

// RespondToApproval records a human decision on a pending approval,
// authorizing it against the attached policy.Evaluator first (when one
// is attached; unattached means unconditionally allowed), and on
// approval moves the parent execution back to running.
func (s *Store) RespondToApproval(ctx context.Context, approvalID, respondedBy, responderRole string, approved bool, responseData map[string]interface{}) error {
	approval, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if approval.Status != types.ApprovalPending {
		return errors.NewBusinessLogicError("respond_to_approval", "approval is not pending")
	}

	if s.policy != nil && !s.policy.Authorize(ctx, policy.Input{Role: responderRole, RequestType: approval.RequestType}) {
		return errors.NewBusinessLogicError("respond_to_approval", "responder role is not authorized for this request type")
	}

	status := types.ApprovalRejected
	if approved {
		status = types.ApprovalApproved
	}

	responseJSON, err := toJSON(responseData)
	if err != nil {
		return errors.DatabaseError("marshal response_data", "approval_request", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin", "approval_request", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_approval_requests
		SET status = $1, responded_by = $2, response_data = $3, responded_at = $4
		WHERE approval_id = $5`,
		status, respondedBy, responseJSON, now, approvalID)
	if err != nil {
		return errors.DatabaseError("respond", "approval_request", err)
	}

	if approved {
		_, err = tx.ExecContext(ctx,
			`UPDATE workflow_executions SET status = $1 WHERE execution_id = $2`,
			types.ExecutionRunning, approval.ExecutionID)
		if err != nil {
			return errors.DatabaseError("resume_execution", "approval_request", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("commit", "approval_request", err)
	}

	eventType := "approval_rejected"
	if approved {
		eventType = "approval_approved"
	}
	s.publish(ctx, eventType, meshtypes.AggregateWorkflow, approval.ExecutionID, map[string]interface{}{
		"approval_id": approvalID, "responded_by": respondedBy,
	})
	return nil
}

// ExpireOldApprovals transitions every still-pending approval whose
// expiry has passed to expired, returning the number affected. It does
// not touch the parent execution's status — an expired approval leaves
// the execution in waiting_approval for an operator to notice and act on.
func (s *Store) ExpireOldApprovals(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_approval_requests SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		types.ApprovalExpired, types.ApprovalPending, time.Now().UTC())
	if err != nil {
		return 0, errors.DatabaseError("expire_old_approvals", "approval_request", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
