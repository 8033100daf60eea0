// Package validator implements the Unit Validator (C4): running each
// unit's acceptance criteria and collecting pass/fail/timeout/skipped
// outcomes.
package validator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow/controlplane/pkg/planning/types"
)

// Config tunes the Unit Validator.
type Config struct {
	WorkingDir     string
	DefaultTimeout time.Duration
}

// Validator runs acceptance criteria commands and assembles a
// ValidationResult.
type Validator struct {
	cfg Config
	log *logrus.Entry

	mu           sync.Mutex
	totalUnits   int64
	passedUnits  int64
}

// New builds a Validator.
func New(cfg Config, logger *logrus.Logger) *Validator {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Validator{cfg: cfg, log: logger.WithField("component", "unit_validator")}
}

// Validate runs every criterion for unit and returns the aggregated
// result. workingDir overrides Config.WorkingDir when non-empty.
func (v *Validator) Validate(ctx context.Context, unit types.AtomicUnit, workingDir string) types.ValidationResult {
	if workingDir == "" {
		workingDir = v.cfg.WorkingDir
	}

	start := time.Now()
	results := make([]types.CriterionResult, 0, len(unit.AcceptanceCriteria))
	for _, c := range unit.AcceptanceCriteria {
		results = append(results, v.validateCriterion(ctx, c, workingDir))
	}

	passed := true
	for _, r := range results {
		if r.Status != types.StatusSuccess && r.Status != types.StatusSkipped {
			passed = false
			break
		}
	}

	status := types.StatusSuccess
	if !passed {
		status = types.StatusFailed
	}

	v.mu.Lock()
	v.totalUnits++
	if passed {
		v.passedUnits++
	}
	v.mu.Unlock()

	return types.ValidationResult{
		UnitID:           unit.ID,
		Passed:           passed,
		Status:           status,
		CriterionResults: results,
		TotalDurationMs:  time.Since(start).Milliseconds(),
		QualityScore:     computeQualityScore(results),
	}
}

// ValidateAsync validates unit exactly as Validate does, QualityScore
// included — kept as a distinct entry point mirroring the original
// async/sync split.
func (v *Validator) ValidateAsync(ctx context.Context, unit types.AtomicUnit, workingDir string) types.ValidationResult {
	return v.Validate(ctx, unit, workingDir)
}

func (v *Validator) validateCriterion(ctx context.Context, c types.Criterion, workingDir string) types.CriterionResult {
	if c.ValidationCommand == types.ManualVerificationSentinel {
		return types.CriterionResult{
			CriterionID: c.ID,
			Status:      types.StatusSkipped,
			Command:     c.ValidationCommand,
		}
	}

	timeout := v.cfg.DefaultTimeout
	if c.TimeoutSeconds > 0 {
		timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", c.ValidationCommand)
	cmd.Dir = workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if cctx.Err() == context.DeadlineExceeded {
		return types.CriterionResult{
			CriterionID: c.ID,
			Status:      types.StatusTimeout,
			Command:     c.ValidationCommand,
			Output:      stdout.String(),
			DurationMs:  duration,
		}
	}

	success := false
	if c.ExpectedResult == "" || c.ExpectedResult == "success" {
		success = err == nil
	} else {
		success = strings.Contains(stdout.String(), c.ExpectedResult) || strings.Contains(stderr.String(), c.ExpectedResult)
	}

	if success {
		return types.CriterionResult{
			CriterionID: c.ID,
			Status:      types.StatusSuccess,
			Command:     c.ValidationCommand,
			Output:      stdout.String(),
			DurationMs:  duration,
		}
	}

	errText := stderr.String()
	if errText == "" && err != nil {
		errText = err.Error()
	}
	return types.CriterionResult{
		CriterionID: c.ID,
		Status:      types.StatusFailed,
		Command:     c.ValidationCommand,
		Output:      stdout.String(),
		Error:       errText,
		DurationMs:  duration,
	}
}

// computeQualityScore maps criterion outcomes to a 0-100 score: the share
// of non-skipped criteria that passed, scaled to 100; a unit whose only
// criteria are skipped scores 100 (nothing to fail).
func computeQualityScore(results []types.CriterionResult) float64 {
	total, passed := 0, 0
	for _, r := range results {
		if r.Status == types.StatusSkipped {
			continue
		}
		total++
		if r.Status == types.StatusSuccess {
			passed++
		}
	}
	if total == 0 {
		return 100.0
	}
	return float64(passed) / float64(total) * 100
}

// ValidateBatch validates units sequentially, or concurrently when
// parallel is true (ExecutionContext.parallel_validation).
func (v *Validator) ValidateBatch(ctx context.Context, units []types.AtomicUnit, workingDir string, parallel bool) []types.ValidationResult {
	results := make([]types.ValidationResult, len(units))

	if !parallel {
		for i, u := range units {
			results[i] = v.Validate(ctx, u, workingDir)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			results[i] = v.Validate(gctx, u, workingDir)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Statistics reports validation counters.
type Statistics struct {
	TotalUnits  int64
	PassedUnits int64
	PassRate    float64
}

func (v *Validator) Statistics() Statistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	rate := 0.0
	if v.totalUnits > 0 {
		rate = float64(v.passedUnits) / float64(v.totalUnits) * 100
	}
	return Statistics{TotalUnits: v.totalUnits, PassedUnits: v.passedUnits, PassRate: rate}
}

// ResetStatistics clears accumulated counters.
func (v *Validator) ResetStatistics() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalUnits = 0
	v.passedUnits = 0
}
