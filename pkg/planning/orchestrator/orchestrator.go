// Package orchestrator implements the Pipeline Orchestrator (C7): the
// state machine of record for one plan execution, driving the parser,
// decomposer, executor, validator and checkpoint manager in sequence and
// publishing lifecycle events as it goes.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/pkg/planning/checkpoint"
	"github.com/agentflow/controlplane/pkg/planning/decomposer"
	"github.com/agentflow/controlplane/pkg/planning/executor"
	"github.com/agentflow/controlplane/pkg/planning/parser"
	"github.com/agentflow/controlplane/pkg/planning/types"
	"github.com/agentflow/controlplane/pkg/planning/validator"
)

// StorePort is the slice of the Workflow Store (C8) the orchestrator
// needs: recording units and their validation outcomes against an
// execution. A failing call is logged and surfaced in
// PipelineResult.Metadata rather than aborting the run.
type StorePort interface {
	StoreUnit(ctx context.Context, executionID string, unit types.AtomicUnit) error
	StoreValidation(ctx context.Context, executionID string, unitID string, result types.ValidationResult) error
}

// EventPort is the slice of the Event Router (C12) the orchestrator
// publishes lifecycle events to.
type EventPort interface {
	Publish(ctx context.Context, event types.LifecycleEvent) error
}

// ScoringPort computes a unit's quality score from its validation result,
// normally backed by the Scoring Bridge (which defers to the external
// scoring service and falls back to a local heuristic over the validation
// result when that service is unavailable).
type ScoringPort interface {
	ScoreUnit(ctx context.Context, unit types.AtomicUnit, val types.ValidationResult) (float64, error)
}

// noopStore, noopEvents and heuristicScoring give Orchestrator usable
// defaults when a caller has no C8/C12/C14 wiring yet (e.g. in tests or
// a dry-run CLI).
type noopStore struct{}

func (noopStore) StoreUnit(context.Context, string, types.AtomicUnit) error { return nil }
func (noopStore) StoreValidation(context.Context, string, string, types.ValidationResult) error {
	return nil
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, types.LifecycleEvent) error { return nil }

type heuristicScoring struct{}

func (heuristicScoring) ScoreUnit(_ context.Context, _ types.AtomicUnit, val types.ValidationResult) (float64, error) {
	return val.QualityScore, nil
}

// Config wires the orchestrator's collaborators and default behavior.
type Config struct {
	Parser      *parser.Parser
	Decomposer  *decomposer.Decomposer
	Executor    *executor.Executor
	Validator   *validator.Validator
	Checkpoints *checkpoint.Manager
	Store       StorePort
	Events      EventPort
	Scoring     ScoringPort
}

// Orchestrator drives one plan end to end through the pipeline state
// machine described by the Pipeline Orchestrator component.
type Orchestrator struct {
	cfg Config
	log *logrus.Entry
}

// New builds an Orchestrator, substituting default collaborators for any
// left unset in cfg, except Checkpoints, which has no default and must be
// set.
func New(cfg Config, logger *logrus.Logger) *Orchestrator {
	if cfg.Parser == nil {
		cfg.Parser = parser.New(logger)
	}
	if cfg.Decomposer == nil {
		cfg.Decomposer = decomposer.New(logger)
	}
	if cfg.Executor == nil {
		cfg.Executor = executor.New(executor.Config{}, logger)
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New(validator.Config{}, logger)
	}
	if cfg.Store == nil {
		cfg.Store = noopStore{}
	}
	if cfg.Events == nil {
		cfg.Events = noopEvents{}
	}
	if cfg.Scoring == nil {
		cfg.Scoring = heuristicScoring{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{cfg: cfg, log: logger.WithField("component", "pipeline_orchestrator")}
}

// Run executes planMarkdown under execCtx, returning a PipelineResult
// whose Status always reflects a terminal state (completed/failed).
func (o *Orchestrator) Run(ctx context.Context, planMarkdown string, execCtx types.ExecutionContext) types.PipelineResult {
	executionID := uuid.NewString()
	started := time.Now().UTC()
	metadata := map[string]interface{}{}

	result := types.PipelineResult{
		ExecutionID: executionID,
		Status:      types.PipelinePending,
		StartedAt:   started,
		Metadata:    metadata,
	}

	result.Status = types.PipelineParsing
	plan, err := o.cfg.Parser.Parse(planMarkdown)
	if err != nil {
		result.Status = types.PipelineFailed
		metadata["parse_error"] = err.Error()
		return o.finish(result, started)
	}
	result.PlanID = plan.PlanID

	o.publish(ctx, types.LifecycleEvent{Type: types.EventPlanStarted, PlanID: plan.PlanID, CorrelationID: executionID, Timestamp: time.Now().UTC()}, metadata)

	result.Status = types.PipelineDecomposing
	units := o.cfg.Decomposer.Decompose(plan)
	order := o.cfg.Decomposer.ExecutionOrder(units)
	result.TotalUnits = len(units)

	result.Status = types.PipelineExecuting
	stopped := false
	for _, id := range order {
		if stopped {
			result.SkippedUnits++
			continue
		}
		unit, ok := decomposer.UnitByID(units, id)
		if !ok {
			continue
		}

		if err := o.cfg.Store.StoreUnit(ctx, executionID, unit); err != nil {
			o.log.WithField("unit_id", unit.ID).WithField("error", err).Warn("store_unit failed, continuing")
			metadata[fmt.Sprintf("store_unit_error:%s", unit.ID)] = err.Error()
		}
		o.publish(ctx, types.LifecycleEvent{Type: types.EventUnitStarted, PlanID: plan.PlanID, UnitID: unit.ID, CorrelationID: executionID, Timestamp: time.Now().UTC()}, metadata)

		cp, cpErr := o.cfg.Checkpoints.CreateCheckpoint(execCtx.WorkingDir, unit.ID, nil)
		if cpErr != nil {
			o.log.WithField("unit_id", unit.ID).WithField("error", cpErr).Warn("checkpoint creation failed, continuing")
			metadata[fmt.Sprintf("checkpoint_error:%s", unit.ID)] = cpErr.Error()
		} else {
			o.publish(ctx, types.LifecycleEvent{Type: types.EventCheckpointCreated, PlanID: plan.PlanID, UnitID: unit.ID, CorrelationID: executionID, Timestamp: time.Now().UTC()}, metadata)
		}

		exec := o.cfg.Executor.Execute(ctx, unit, execCtx)

		if exec.Status != types.StatusSuccess && !execCtx.DryRun {
			result.FailedUnits++
			o.publish(ctx, types.LifecycleEvent{Type: types.EventUnitFailed, PlanID: plan.PlanID, UnitID: unit.ID, CorrelationID: executionID, Error: exec.Error, Timestamp: time.Now().UTC()}, metadata)
			result.UnitResults = append(result.UnitResults, types.UnitResult{UnitID: unit.ID, ExecutionResult: exec, CheckpointHash: cp.Hash, CheckpointID: cp.CheckpointID})
			if execCtx.StopOnFailure {
				stopped = true
			}
			continue
		}

		val := o.cfg.Validator.Validate(ctx, unit, execCtx.WorkingDir)
		score, scoreErr := o.cfg.Scoring.ScoreUnit(ctx, unit, val)
		if scoreErr != nil {
			o.log.WithField("unit_id", unit.ID).WithField("error", scoreErr).Warn("score_unit failed, falling back to validator score")
			metadata[fmt.Sprintf("score_error:%s", unit.ID)] = scoreErr.Error()
			score = val.QualityScore
		}

		if err := o.cfg.Store.StoreValidation(ctx, executionID, unit.ID, val); err != nil {
			o.log.WithField("unit_id", unit.ID).WithField("error", err).Warn("store_validation failed, continuing")
			metadata[fmt.Sprintf("store_validation_error:%s", unit.ID)] = err.Error()
		}

		ur := types.UnitResult{UnitID: unit.ID, ExecutionResult: exec, ValidationResult: val, Score: score, CheckpointHash: cp.Hash, CheckpointID: cp.CheckpointID}
		result.UnitResults = append(result.UnitResults, ur)

		if val.Passed && score >= execCtx.QualityThreshold {
			result.PassedUnits++
			o.publish(ctx, types.LifecycleEvent{Type: types.EventUnitCompleted, PlanID: plan.PlanID, UnitID: unit.ID, CorrelationID: executionID, Score: score, Timestamp: time.Now().UTC()}, metadata)
		} else {
			result.FailedUnits++
			o.publish(ctx, types.LifecycleEvent{Type: types.EventUnitFailed, PlanID: plan.PlanID, UnitID: unit.ID, CorrelationID: executionID, Score: score, Timestamp: time.Now().UTC()}, metadata)
			if execCtx.StopOnFailure {
				stopped = true
			}
		}
	}

	result.Status = types.PipelineScoring
	result.AverageScore = averageScore(result.UnitResults)
	result.OverallAssessment = types.AssessmentFor(result.AverageScore)

	if result.FailedUnits == 0 || result.PassedUnits > 0 {
		result.Status = types.PipelineCompleted
		o.publish(ctx, types.LifecycleEvent{Type: types.EventPlanCompleted, PlanID: plan.PlanID, CorrelationID: executionID, Counts: counts(result), Score: result.AverageScore, Timestamp: time.Now().UTC()}, metadata)
	} else {
		result.Status = types.PipelineFailed
		o.publish(ctx, types.LifecycleEvent{Type: types.EventPlanFailed, PlanID: plan.PlanID, CorrelationID: executionID, Counts: counts(result), Timestamp: time.Now().UTC()}, metadata)
	}

	return o.finish(result, started)
}

func (o *Orchestrator) finish(result types.PipelineResult, started time.Time) types.PipelineResult {
	result.CompletedAt = time.Now().UTC()
	result.DurationMs = result.CompletedAt.Sub(started).Milliseconds()
	return result
}

func (o *Orchestrator) publish(ctx context.Context, event types.LifecycleEvent, metadata map[string]interface{}) {
	if err := o.cfg.Events.Publish(ctx, event); err != nil {
		o.log.WithField("event_type", event.Type).WithField("error", err).Warn("publish failed, continuing")
		metadata[fmt.Sprintf("publish_error:%s", event.Type)] = err.Error()
	}
}

// averageScore averages Score over unit results that actually produced
// one (validation ran), ignoring units that failed execution before
// validation.
func averageScore(results []types.UnitResult) float64 {
	total, count := 0.0, 0
	for _, r := range results {
		if r.ValidationResult.UnitID == "" {
			continue
		}
		total += r.Score
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func counts(result types.PipelineResult) map[string]int {
	return map[string]int{
		"total":   result.TotalUnits,
		"passed":  result.PassedUnits,
		"failed":  result.FailedUnits,
		"skipped": result.SkippedUnits,
	}
}

// RollbackToCheckpoint restores workingDir from checkpointID, publishing
// ROLLBACK_STARTED/ROLLBACK_COMPLETED around the restore.
func (o *Orchestrator) RollbackToCheckpoint(ctx context.Context, planID, workingDir, checkpointID string) error {
	o.publish(ctx, types.LifecycleEvent{Type: types.EventRollbackStarted, PlanID: planID, Timestamp: time.Now().UTC()}, map[string]interface{}{})
	if err := o.cfg.Checkpoints.RestoreCheckpoint(workingDir, checkpointID); err != nil {
		return err
	}
	o.publish(ctx, types.LifecycleEvent{Type: types.EventRollbackCompleted, PlanID: planID, Timestamp: time.Now().UTC()}, map[string]interface{}{})
	return nil
}
