package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

// CreateWorkflowDefinition inserts a new, draft-status workflow definition
// and publishes a workflow_created event.
func (s *Store) CreateWorkflowDefinition(ctx context.Context, def *types.WorkflowDefinition) error {
	if def.WorkflowID == "" {
		def.WorkflowID = uuid.NewString()
	}
	if def.Status == "" {
		def.Status = types.WorkflowDraft
	}
	if def.Visibility == "" {
		def.Visibility = "private"
	}
	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now

	definition, err := toJSON(def.Definition)
	if err != nil {
		return errors.DatabaseError("marshal definition", "workflow_definition", err)
	}
	metadata, err := toJSON(def.Metadata)
	if err != nil {
		return errors.DatabaseError("marshal metadata", "workflow_definition", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions
			(workflow_id, name, version, definition, category, tags, status, visibility, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		def.WorkflowID, def.Name, def.Version, definition, def.Category, pq.Array(def.Tags),
		def.Status, def.Visibility, metadata, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return errors.DatabaseError("create", "workflow_definition", err)
	}

	s.publish(ctx, "workflow_created", meshtypes.AggregateWorkflow, def.WorkflowID, map[string]interface{}{
		"name": def.Name, "version": def.Version,
	})
	return nil
}

type workflowRow struct {
	WorkflowID string         `db:"workflow_id"`
	Name       string         `db:"name"`
	Version    string         `db:"version"`
	Definition []byte         `db:"definition"`
	Category   sql.NullString `db:"category"`
	Tags       pq.StringArray `db:"tags"`
	Status     string         `db:"status"`
	Visibility string         `db:"visibility"`
	Metadata   []byte         `db:"metadata"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r workflowRow) toDomain() (*types.WorkflowDefinition, error) {
	def := &types.WorkflowDefinition{
		WorkflowID: r.WorkflowID,
		Name:       r.Name,
		Version:    r.Version,
		Category:   r.Category.String,
		Tags:       []string(r.Tags),
		Status:     types.WorkflowStatus(r.Status),
		Visibility: r.Visibility,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := fromJSON(r.Definition, &def.Definition); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Metadata, &def.Metadata); err != nil {
		return nil, err
	}
	return def, nil
}

// GetWorkflowDefinition looks up one workflow definition by ID.
func (s *Store) GetWorkflowDefinition(ctx context.Context, workflowID string) (*types.WorkflowDefinition, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, `
		SELECT workflow_id, name, version, definition, category, tags, status, visibility, metadata, created_at, updated_at
		FROM workflow_definitions WHERE workflow_id = $1`, workflowID)
	if err == sql.ErrNoRows {
		return nil, errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow definition not found", err)
	}
	if err != nil {
		return nil, errors.DatabaseError("get", "workflow_definition", err)
	}
	return row.toDomain()
}

// ListWorkflowDefinitionsParams narrows the discovery query. Zero values
// are treated as "no filter" on that field.
type ListWorkflowDefinitionsParams struct {
	Category string
	Status   types.WorkflowStatus
	Limit    int
	Offset   int
}

// ListWorkflowDefinitions returns definitions matching the given filters,
// newest first.
func (s *Store) ListWorkflowDefinitions(ctx context.Context, params ListWorkflowDefinitionsParams) ([]*types.WorkflowDefinition, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT workflow_id, name, version, definition, category, tags, status, visibility, metadata, created_at, updated_at
		FROM workflow_definitions WHERE 1=1`
	args := []interface{}{}
	if params.Category != "" {
		args = append(args, params.Category)
		query += " AND category = $" + strconv.Itoa(len(args))
	}
	if params.Status != "" {
		args = append(args, string(params.Status))
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, params.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.DatabaseError("list", "workflow_definition", err)
	}

	defs := make([]*types.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toDomain()
		if err != nil {
			return nil, errors.DatabaseError("decode", "workflow_definition", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// UpdateWorkflowStatus transitions a definition's discovery status and
// publishes a workflow_status_changed event. archived is terminal for
// discovery purposes but the row is never removed.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, workflowID string, status types.WorkflowStatus) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET status = $1, updated_at = $2 WHERE workflow_id = $3`,
		status, now, workflowID)
	if err != nil {
		return errors.DatabaseError("update status", "workflow_definition", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewIntegrationError(errors.CodeServiceNotFound, "workflow definition not found", nil)
	}

	s.publish(ctx, "workflow_status_changed", meshtypes.AggregateWorkflow, workflowID, map[string]interface{}{
		"status": status,
	})
	return nil
}

// ArchiveWorkflowDefinition soft-deletes a definition by moving it to the
// archived status; it remains readable by GetWorkflowDefinition.
func (s *Store) ArchiveWorkflowDefinition(ctx context.Context, workflowID string) error {
	return s.UpdateWorkflowStatus(ctx, workflowID, types.WorkflowArchived)
}
