package decomposer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/controlplane/pkg/planning/types"
)

func TestDecompose_DependencyScrubbing(t *testing.T) {
	plan := &types.ParsedPlan{
		Steps: []types.ParsedStep{
			{ID: "step-1", Title: "First"},
			{ID: "step-2", Title: "Second", Dependencies: []string{"step-1", "step-99"}},
		},
	}
	units := New(nil).Decompose(plan)
	require.Len(t, units, 2)
	assert.Equal(t, []string{"step-1"}, units[1].Dependencies)
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name string
		step types.ParsedStep
		want types.Complexity
	}{
		{"low", types.ParsedStep{}, types.ComplexityLow},
		{"medium files", types.ParsedStep{Files: []string{"a", "b"}}, types.ComplexityMedium},
		{"medium description", types.ParsedStep{Description: string(make([]byte, 250))}, types.ComplexityMedium},
		{"medium deps", types.ParsedStep{Dependencies: []string{"step-1"}}, types.ComplexityMedium},
		{"high files", types.ParsedStep{Files: []string{"a", "b", "c", "d"}}, types.ComplexityHigh},
		{"high description", types.ParsedStep{Description: string(make([]byte, 600))}, types.ComplexityHigh},
		{"high deps", types.ParsedStep{Dependencies: []string{"step-1", "step-2", "step-3"}}, types.ComplexityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateComplexity(tt.step))
		})
	}
}

func TestGenerateAcceptanceCriteria_Explicit(t *testing.T) {
	step := types.ParsedStep{ID: "step-1", AcceptanceCriteria: []string{"Does the thing", "Also this"}}
	criteria := generateAcceptanceCriteria(step)
	require.Len(t, criteria, 2)
	assert.Equal(t, "Does the thing", criteria[0].Description)
}

func TestGenerateAcceptanceCriteria_FromFilesCappedAtThree(t *testing.T) {
	step := types.ParsedStep{ID: "step-1", Files: []string{"a.py", "b.py", "c.py", "d.py"}}
	criteria := generateAcceptanceCriteria(step)
	require.Len(t, criteria, 3)
	assert.Equal(t, "python -m py_compile a.py", criteria[0].ValidationCommand)
}

func TestGenerateAcceptanceCriteria_ManualFallback(t *testing.T) {
	step := types.ParsedStep{ID: "step-1"}
	criteria := generateAcceptanceCriteria(step)
	require.Len(t, criteria, 1)
	assert.Equal(t, types.ManualVerificationSentinel, criteria[0].Description)
}

func TestGenerateCompensation(t *testing.T) {
	assert.Equal(t, "git checkout -- .", generateCompensation(types.ParsedStep{}))
	assert.Equal(t, "git checkout -- a.py b.py", generateCompensation(types.ParsedStep{Files: []string{"a.py", "b.py"}}))
}

func TestExecutionOrder_Topological(t *testing.T) {
	units := []types.AtomicUnit{
		{ID: "step-1"},
		{ID: "step-2", Dependencies: []string{"step-1"}},
	}
	order := New(nil).ExecutionOrder(units)
	assert.Equal(t, []string{"step-1", "step-2"}, order)
}

func TestExecutionOrder_BreaksCycle(t *testing.T) {
	// S2: step-1 depends on step-2 and vice versa.
	units := []types.AtomicUnit{
		{ID: "step-1", Dependencies: []string{"step-2"}},
		{ID: "step-2", Dependencies: []string{"step-1"}},
	}
	order := New(nil).ExecutionOrder(units)
	assert.ElementsMatch(t, []string{"step-1", "step-2"}, order)
	assert.Len(t, order, 2)
}
