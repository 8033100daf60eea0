// Package decomposer implements the Spec Decomposer (C2): turning a
// ParsedPlan into a dependency-ordered list of AtomicUnits.
package decomposer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/pkg/planning/types"
)

const maxInferredCriteria = 3

var estimatedMinutesByComplexity = map[types.Complexity]int{
	types.ComplexityLow:    10,
	types.ComplexityMedium: 20,
	types.ComplexityHigh:   30,
}

// Decomposer turns ParsedSteps into AtomicUnits.
type Decomposer struct {
	log *logrus.Entry
}

// New builds a Decomposer.
func New(logger *logrus.Logger) *Decomposer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Decomposer{log: logger.WithField("component", "spec_decomposer")}
}

// Decompose produces one AtomicUnit per ParsedStep, scrubbing dependency
// ids that don't resolve within the batch.
func (d *Decomposer) Decompose(plan *types.ParsedPlan) []types.AtomicUnit {
	units := make([]types.AtomicUnit, 0, len(plan.Steps))
	validIDs := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		validIDs[s.ID] = true
	}

	for _, step := range plan.Steps {
		units = append(units, d.stepToUnit(step, validIDs))
	}
	return units
}

func (d *Decomposer) stepToUnit(step types.ParsedStep, validIDs map[string]bool) types.AtomicUnit {
	deps := make([]string, 0, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if validIDs[dep] {
			deps = append(deps, dep)
		} else {
			d.log.WithField("step_id", step.ID).WithField("dependency", dep).Warn("dropping unresolved dependency")
		}
	}

	complexity := estimateComplexity(step)

	return types.AtomicUnit{
		ID:                 step.ID,
		Title:              step.Title,
		Description:        step.Description,
		Files:              step.Files,
		Dependencies:       deps,
		AcceptanceCriteria: generateAcceptanceCriteria(step),
		Phase:              step.Phase,
		Complexity:         complexity,
		EstimatedMinutes:   estimatedMinutesByComplexity[complexity],
		CompensationAction: generateCompensation(step),
	}
}

func estimateComplexity(step types.ParsedStep) types.Complexity {
	switch {
	case len(step.Files) > 3 || len(step.Description) > 500 || len(step.Dependencies) > 2:
		return types.ComplexityHigh
	case len(step.Files) > 1 || len(step.Description) > 200 || len(step.Dependencies) > 0:
		return types.ComplexityMedium
	default:
		return types.ComplexityLow
	}
}

func generateCompensation(step types.ParsedStep) string {
	if len(step.Files) == 0 {
		return "git checkout -- ."
	}
	return fmt.Sprintf("git checkout -- %s", strings.Join(step.Files, " "))
}

func generateAcceptanceCriteria(step types.ParsedStep) []types.Criterion {
	if len(step.AcceptanceCriteria) > 0 {
		criteria := make([]types.Criterion, 0, len(step.AcceptanceCriteria))
		for i, desc := range step.AcceptanceCriteria {
			criteria = append(criteria, types.Criterion{
				ID:                fmt.Sprintf("%s-criterion-%d", step.ID, i+1),
				Description:       desc,
				ValidationCommand: inferValidationCommand(desc),
				ExpectedResult:    "success",
				TimeoutSeconds:    30,
			})
		}
		return criteria
	}

	if len(step.Files) > 0 {
		n := len(step.Files)
		if n > maxInferredCriteria {
			n = maxInferredCriteria
		}
		criteria := make([]types.Criterion, 0, n)
		for i := 0; i < n; i++ {
			f := step.Files[i]
			criteria = append(criteria, types.Criterion{
				ID:                fmt.Sprintf("%s-criterion-%d", step.ID, i+1),
				Description:       fmt.Sprintf("File %s exists and is valid", f),
				ValidationCommand: inferValidationCommandForFile(f),
				ExpectedResult:    "success",
				TimeoutSeconds:    30,
			})
		}
		return criteria
	}

	return []types.Criterion{{
		ID:                fmt.Sprintf("%s-criterion-1", step.ID),
		Description:       types.ManualVerificationSentinel,
		ValidationCommand: types.ManualVerificationSentinel,
		ExpectedResult:    "success",
		TimeoutSeconds:    0,
	}}
}

func inferValidationCommandForFile(f string) string {
	if filepath.Ext(f) == ".py" {
		return fmt.Sprintf("python -m py_compile %s", f)
	}
	return fmt.Sprintf("test -f %s", f)
}

func inferValidationCommand(description string) string {
	fields := strings.Fields(description)
	for _, f := range fields {
		if filepath.Ext(f) != "" {
			return inferValidationCommandForFile(f)
		}
	}
	return types.ManualVerificationSentinel
}

// ExecutionOrder returns a topological sort of units. Cycles are broken by
// processing the first unvisited unit in input order (logged, not fatal),
// which guarantees termination even on a malformed dependency graph.
func (d *Decomposer) ExecutionOrder(units []types.AtomicUnit) []string {
	byID := make(map[string]types.AtomicUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	visited := make(map[string]bool, len(units))
	inStack := make(map[string]bool, len(units))
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		if inStack[id] {
			d.log.WithField("unit_id", id).Warn("dependency cycle detected, breaking at this unit")
			return
		}
		inStack[id] = true
		if u, ok := byID[id]; ok {
			for _, dep := range u.Dependencies {
				visit(dep)
			}
		}
		inStack[id] = false
		visited[id] = true
		order = append(order, id)
	}

	for _, u := range units {
		visit(u.ID)
	}
	return order
}

// UnitByID returns the unit with the given id, if present.
func UnitByID(units []types.AtomicUnit, id string) (types.AtomicUnit, bool) {
	for _, u := range units {
		if u.ID == id {
			return u, true
		}
	}
	return types.AtomicUnit{}, false
}
