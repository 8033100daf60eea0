package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

// CreateTrigger registers a new activation rule for a workflow.
func (s *Store) CreateTrigger(ctx context.Context, trigger *types.WorkflowTrigger) error {
	if trigger.TriggerID == "" {
		trigger.TriggerID = uuid.NewString()
	}

	config, err := toJSON(trigger.TriggerConfig)
	if err != nil {
		return errors.DatabaseError("marshal trigger_config", "workflow_trigger", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_triggers (trigger_id, workflow_id, trigger_type, trigger_config, enabled)
		VALUES ($1, $2, $3, $4, $5)`,
		trigger.TriggerID, trigger.WorkflowID, trigger.TriggerType, config, trigger.Enabled)
	if err != nil {
		return errors.DatabaseError("create", "workflow_trigger", err)
	}

	s.publish(ctx, "trigger_created", meshtypes.AggregateWorkflow, trigger.WorkflowID, map[string]interface{}{
		"trigger_id": trigger.TriggerID, "trigger_type": trigger.TriggerType,
	})
	return nil
}

type triggerRow struct {
	TriggerID       string       `db:"trigger_id"`
	WorkflowID      string       `db:"workflow_id"`
	TriggerType     string       `db:"trigger_type"`
	TriggerConfig   []byte       `db:"trigger_config"`
	Enabled         bool         `db:"enabled"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at"`
	TriggerCount    int64        `db:"trigger_count"`
}

func (r triggerRow) toDomain() (*types.WorkflowTrigger, error) {
	trigger := &types.WorkflowTrigger{
		TriggerID:    r.TriggerID,
		WorkflowID:   r.WorkflowID,
		TriggerType:  types.TriggerType(r.TriggerType),
		Enabled:      r.Enabled,
		TriggerCount: r.TriggerCount,
	}
	if err := fromJSON(r.TriggerConfig, &trigger.TriggerConfig); err != nil {
		return nil, err
	}
	if r.LastTriggeredAt.Valid {
		trigger.LastTriggeredAt = &r.LastTriggeredAt.Time
	}
	return trigger, nil
}

// ListTriggers returns every trigger configured for a workflow.
func (s *Store) ListTriggers(ctx context.Context, workflowID string) ([]*types.WorkflowTrigger, error) {
	var rows []triggerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT trigger_id, workflow_id, trigger_type, trigger_config, enabled, last_triggered_at, trigger_count
		FROM workflow_triggers WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, errors.DatabaseError("list", "workflow_trigger", err)
	}

	triggers := make([]*types.WorkflowTrigger, 0, len(rows))
	for _, row := range rows {
		trigger, err := row.toDomain()
		if err != nil {
			return nil, errors.DatabaseError("decode", "workflow_trigger", err)
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

// SetTriggerEnabled toggles a trigger's active state.
func (s *Store) SetTriggerEnabled(ctx context.Context, triggerID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_triggers SET enabled = $1 WHERE trigger_id = $2`, enabled, triggerID)
	if err != nil {
		return errors.DatabaseError("set_enabled", "workflow_trigger", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow trigger not found", nil)
	}
	return nil
}

// RecordTriggerFired bumps a trigger's fire count and stamps
// LastTriggeredAt.
func (s *Store) RecordTriggerFired(ctx context.Context, triggerID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_triggers SET trigger_count = trigger_count + 1, last_triggered_at = $1 WHERE trigger_id = $2`,
		now, triggerID)
	if err != nil {
		return errors.DatabaseError("record_trigger_fired", "workflow_trigger", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow trigger not found", nil)
	}
	return nil
}
