// Package types holds the planning pipeline's data model: the types shared
// by the Plan Parser, Spec Decomposer, Unit Executor, Unit Validator,
// Checkpoint Manager, Model Router and Pipeline Orchestrator.
package types

import "time"

// FormatType identifies which markdown dialect a plan was parsed from.
type FormatType string

const (
	FormatSimpleSteps FormatType = "SIMPLE_STEPS"
	FormatPhaseBased  FormatType = "PHASE_BASED"
)

// ParsedStep is one step recognized by the Plan Parser, before
// decomposition into an AtomicUnit.
type ParsedStep struct {
	ID                 string
	Title              string
	Description        string
	Files              []string
	Dependencies       []string
	Tags               []string
	AcceptanceCriteria []string
	Phase              string
	Parallelizable     bool
}

// ParsedPlan is the normalized output of the Plan Parser (C1). Immutable
// after parse.
type ParsedPlan struct {
	PlanID     string
	Title      string
	Overview   string
	FormatType FormatType
	Steps      []ParsedStep
}

// Complexity classifies an AtomicUnit's estimated difficulty.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Criterion is one shell-executable acceptance check attached to a unit.
type Criterion struct {
	ID                string
	Description       string
	ValidationCommand string
	ExpectedResult    string
	TimeoutSeconds    int
}

// ManualVerificationSentinel is the validation command used for criteria
// that cannot be automatically checked; the Validator marks these skipped
// rather than running them.
const ManualVerificationSentinel = "Manual verification required"

// AtomicUnit is the smallest independently validatable piece of a plan,
// produced by the Spec Decomposer (C2).
type AtomicUnit struct {
	ID                 string
	Title              string
	Description        string
	Files              []string
	Dependencies       []string
	AcceptanceCriteria []Criterion
	Phase              string
	Complexity         Complexity
	EstimatedMinutes    int
	CompensationAction string
}

// ExecutionStatus is the outcome of running one unit or command.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusTimeout ExecutionStatus = "timeout"
	StatusSkipped ExecutionStatus = "skipped"
)

// ExecutionType classifies what kind of action a unit execution performed.
type ExecutionType string

const (
	ExecTypeFileCreate ExecutionType = "file_create"
	ExecTypeFileModify ExecutionType = "file_modify"
	ExecTypeFileDelete ExecutionType = "file_delete"
	ExecTypeCommand    ExecutionType = "command"
	ExecTypeTest       ExecutionType = "test"
	ExecTypeComposite  ExecutionType = "composite"
)

// CommandResult is the outcome of running one shell command.
type CommandResult struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	TimedOut  bool
	DurationMs int64
}

// ExecutionResult is the Unit Executor's (C3) per-unit outcome.
type ExecutionResult struct {
	UnitID        string
	Status        ExecutionStatus
	ExecutionType ExecutionType
	Output        string
	Error         string
	FilesCreated  []string
	FilesChanged  []string
	FilesDeleted  []string
	CommandsRun   []CommandResult
	DurationMs    int64
	DryRun        bool
}

// CriterionResult is the outcome of checking one Criterion.
type CriterionResult struct {
	CriterionID string
	Status      ExecutionStatus
	Command     string
	Output      string
	Error       string
	DurationMs  int64
}

// ValidationResult is the Unit Validator's (C4) per-unit outcome.
type ValidationResult struct {
	UnitID           string
	Passed           bool
	Status           ExecutionStatus
	CriterionResults []CriterionResult
	TotalDurationMs  int64
	QualityScore     float64
}

// FailedCriteria returns the criteria whose status is neither passed nor
// skipped.
func (v ValidationResult) FailedCriteria() []CriterionResult {
	var out []CriterionResult
	for _, cr := range v.CriterionResults {
		if cr.Status != StatusSuccess && cr.Status != StatusSkipped {
			out = append(out, cr)
		}
	}
	return out
}

// PassedCriteria returns the criteria that passed or were skipped.
func (v ValidationResult) PassedCriteria() []CriterionResult {
	var out []CriterionResult
	for _, cr := range v.CriterionResults {
		if cr.Status == StatusSuccess || cr.Status == StatusSkipped {
			out = append(out, cr)
		}
	}
	return out
}

// Checkpoint is a working-tree snapshot taken before a unit executes,
// owned by the Checkpoint Manager (C5).
type Checkpoint struct {
	CheckpointID string
	Hash         string
	UnitID       string
	State        map[string]interface{}
	CreatedAt    time.Time
}

// PipelineStatus is the Pipeline Orchestrator's (C7) state-machine status.
type PipelineStatus string

const (
	PipelinePending     PipelineStatus = "pending"
	PipelineParsing     PipelineStatus = "parsing"
	PipelineDecomposing PipelineStatus = "decomposing"
	PipelineExecuting   PipelineStatus = "executing"
	PipelineValidating  PipelineStatus = "validating"
	PipelineScoring     PipelineStatus = "scoring"
	PipelineRecovering  PipelineStatus = "recovering"
	PipelineCompleted   PipelineStatus = "completed"
	PipelineFailed      PipelineStatus = "failed"
	PipelineRolledBack  PipelineStatus = "rolled_back"
)

// Assessment buckets a PipelineResult's average score.
type Assessment string

const (
	AssessmentExcellent Assessment = "excellent"
	AssessmentGood       Assessment = "good"
	AssessmentAcceptable Assessment = "acceptable"
	AssessmentWarning    Assessment = "warning"
	AssessmentCritical   Assessment = "critical"
)

// UnitResult bundles one unit's execution, validation and score together
// for the PipelineResult's history.
type UnitResult struct {
	UnitID           string
	ExecutionResult  ExecutionResult
	ValidationResult ValidationResult
	Score            float64
	CheckpointHash   string
	CheckpointID     string
}

// PipelineResult is the Orchestrator's (C7) record of one execution.
type PipelineResult struct {
	ExecutionID      string
	PlanID           string
	Status           PipelineStatus
	UnitResults      []UnitResult
	TotalUnits       int
	PassedUnits      int
	FailedUnits      int
	SkippedUnits     int
	AverageScore     float64
	OverallAssessment Assessment
	StartedAt        time.Time
	CompletedAt      time.Time
	DurationMs       int64
	Metadata         map[string]interface{}
}

// Success reports whether the execution completed with no failed units.
func (p PipelineResult) Success() bool {
	return p.Status == PipelineCompleted && p.FailedUnits == 0
}

// ExecutionContext configures one pipeline run.
type ExecutionContext struct {
	WorkingDir         string
	DryRun             bool
	Sandbox            bool
	StopOnFailure      bool
	ParallelValidation bool
	QualityThreshold   float64
	Variables          map[string]interface{}
}

// DefaultExecutionContext returns the baseline execution defaults: sandbox
// confinement on, stop on first failed unit, a 70-point quality bar.
func DefaultExecutionContext(workingDir string) ExecutionContext {
	return ExecutionContext{
		WorkingDir:       workingDir,
		DryRun:           false,
		Sandbox:          true,
		StopOnFailure:    true,
		QualityThreshold: 70.0,
		Variables:        map[string]interface{}{},
	}
}

// AssessmentFor buckets an average score into a human-facing assessment.
func AssessmentFor(averageScore float64) Assessment {
	switch {
	case averageScore >= 90:
		return AssessmentExcellent
	case averageScore >= 80:
		return AssessmentGood
	case averageScore >= 70:
		return AssessmentAcceptable
	case averageScore >= 60:
		return AssessmentWarning
	default:
		return AssessmentCritical
	}
}

// EventType is the planning pipeline's lifecycle event vocabulary emitted
// to the Event Router (C12) via the Mesh Bridge (C14). Extended beyond the
// spec's minimal set with the richer vocabulary the original Python
// l11_bridge.py carried (VALIDATION_PASSED/FAILED, ROLLBACK_STARTED).
type EventType string

const (
	EventPlanStarted        EventType = "PLAN_STARTED"
	EventPlanCompleted      EventType = "PLAN_COMPLETED"
	EventPlanFailed         EventType = "PLAN_FAILED"
	EventUnitStarted        EventType = "UNIT_STARTED"
	EventUnitCompleted      EventType = "UNIT_COMPLETED"
	EventUnitFailed         EventType = "UNIT_FAILED"
	EventValidationPassed   EventType = "VALIDATION_PASSED"
	EventValidationFailed   EventType = "VALIDATION_FAILED"
	EventRollbackStarted    EventType = "ROLLBACK_STARTED"
	EventRollbackCompleted  EventType = "ROLLBACK_COMPLETED"
	EventCheckpointCreated  EventType = "CHECKPOINT_CREATED"
)

// LifecycleEvent is the payload shape published for every EventType above.
type LifecycleEvent struct {
	Type          EventType
	PlanID        string
	UnitID        string
	CorrelationID string
	Counts        map[string]int
	Score         float64
	Error         string
	Timestamp     time.Time
}
