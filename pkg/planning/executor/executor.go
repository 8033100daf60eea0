// Package executor implements the Unit Executor (C3): performing real
// file/command/test actions for a unit with backup-and-restore, sandbox
// confinement, timeouts and dry-run.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow/controlplane/pkg/planning/types"
)

// Config tunes the Unit Executor.
type Config struct {
	WorkingDir     string
	BackupDir      string
	Sandbox        bool
	DefaultTimeout time.Duration
	TestCommand    string
}

// backupOp records one file operation so restore_from_backup can reverse
// it later.
type backupOp struct {
	path       string
	backupPath string
}

// Executor runs AtomicUnits against the filesystem and subprocesses.
type Executor struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex
	backups map[string][]backupOp // path -> ops, most recent last

	totalExecuted int64
	totalSucceeded int64
}

// New builds an Executor.
func New(cfg Config, logger *logrus.Logger) *Executor {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.TestCommand == "" {
		cfg.TestCommand = "pytest"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		cfg:     cfg,
		log:     logger.WithField("component", "unit_executor"),
		backups: make(map[string][]backupOp),
	}
}

var testNameRe = regexp.MustCompile(`(?i)test`)

// determineExecutionType infers the kind of action a unit performs from
// its files and description. A description keyword naming an explicit
// file mutation (modify/delete) takes precedence over the bare "files
// present" default so that a unit like "modify f.txt" is executed as
// file_modify (back up then overwrite) rather than file_create's
// skip-if-exists behavior.
func determineExecutionType(unit types.AtomicUnit) types.ExecutionType {
	for _, f := range unit.Files {
		if testNameRe.MatchString(filepath.Base(f)) {
			return types.ExecTypeTest
		}
	}
	desc := strings.ToLower(unit.Description)
	switch {
	case strings.Contains(desc, "delete") || strings.Contains(desc, "remove"):
		return types.ExecTypeFileDelete
	case strings.Contains(desc, "modify") || strings.Contains(desc, "update"):
		return types.ExecTypeFileModify
	case len(unit.Files) > 0:
		return types.ExecTypeFileCreate
	case strings.Contains(desc, "test"):
		return types.ExecTypeTest
	case strings.Contains(desc, "command") || strings.Contains(desc, "run"):
		return types.ExecTypeCommand
	default:
		return types.ExecTypeComposite
	}
}

// Execute runs one unit, in dry-run or real mode depending on execCtx.DryRun.
// execCtx.Variables carries values referenced as context.content / context.test_command.
func (e *Executor) Execute(ctx context.Context, unit types.AtomicUnit, execCtx types.ExecutionContext) types.ExecutionResult {
	start := time.Now()
	e.mu.Lock()
	e.totalExecuted++
	e.mu.Unlock()

	execType := determineExecutionType(unit)

	var result types.ExecutionResult
	if execCtx.DryRun {
		result = e.executeDryRun(unit, execType)
	} else {
		result = e.executeReal(ctx, unit, execType, execCtx)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if result.Status == types.StatusSuccess {
		e.mu.Lock()
		e.totalSucceeded++
		e.mu.Unlock()
	}
	return result
}

func (e *Executor) executeDryRun(unit types.AtomicUnit, execType types.ExecutionType) types.ExecutionResult {
	return types.ExecutionResult{
		UnitID:        unit.ID,
		Status:        types.StatusSuccess,
		ExecutionType: execType,
		Output:        fmt.Sprintf("dry_run: would execute unit %s (%s)", unit.ID, execType),
		DryRun:        true,
	}
}

func (e *Executor) executeReal(ctx context.Context, unit types.AtomicUnit, execType types.ExecutionType, execCtx types.ExecutionContext) types.ExecutionResult {
	result := types.ExecutionResult{UnitID: unit.ID, ExecutionType: execType, Status: types.StatusRunning}

	workingDir := execCtx.WorkingDir
	if workingDir == "" {
		workingDir = e.cfg.WorkingDir
	}

	content, _ := execCtx.Variables["content"].(string)

	for _, f := range unit.Files {
		resolved, err := e.resolvePath(workingDir, f)
		if err != nil {
			return e.failed(result, "outside sandbox", unit.ID)
		}

		switch execType {
		case types.ExecTypeFileDelete:
			if err := e.backupFile(resolved); err != nil {
				return e.failed(result, err.Error(), unit.ID)
			}
			if err := os.Remove(resolved); err != nil && !os.IsNotExist(err) {
				return e.failed(result, err.Error(), unit.ID)
			}
			result.FilesDeleted = append(result.FilesDeleted, f)
		case types.ExecTypeFileModify:
			if _, err := os.Stat(resolved); err == nil {
				if err := e.backupFile(resolved); err != nil {
					return e.failed(result, err.Error(), unit.ID)
				}
			}
			if err := e.writeFile(resolved, content); err != nil {
				return e.failed(result, err.Error(), unit.ID)
			}
			result.FilesChanged = append(result.FilesChanged, f)
		default:
			if _, err := os.Stat(resolved); err == nil {
				result.Output += fmt.Sprintf("Exists: %s\n", f)
				continue
			}
			if err := e.writeFile(resolved, content); err != nil {
				return e.failed(result, err.Error(), unit.ID)
			}
			result.FilesCreated = append(result.FilesCreated, f)
		}
	}

	if execType == types.ExecTypeTest {
		testCmd, _ := execCtx.Variables["test_command"].(string)
		if testCmd == "" {
			testCmd = e.cfg.TestCommand
		}
		cmdLine := testCmd + " " + strings.Join(unit.Files, " ")
		cr := e.runCommand(ctx, cmdLine, workingDir, e.cfg.DefaultTimeout)
		result.CommandsRun = append(result.CommandsRun, cr)
		if cr.ExitCode != 0 || cr.TimedOut {
			return e.failed(result, "test command failed", unit.ID)
		}
	}

	for _, c := range unit.AcceptanceCriteria {
		if c.ValidationCommand == types.ManualVerificationSentinel {
			continue
		}
		timeout := e.cfg.DefaultTimeout
		if c.TimeoutSeconds > 0 {
			timeout = time.Duration(c.TimeoutSeconds) * time.Second
		}
		cr := e.runCommand(ctx, c.ValidationCommand, workingDir, timeout)
		result.CommandsRun = append(result.CommandsRun, cr)
		if cr.ExitCode != 0 {
			return e.failed(result, fmt.Sprintf("criterion command failed: %s", c.Description), unit.ID)
		}
	}

	result.Status = types.StatusSuccess
	return result
}

func (e *Executor) failed(result types.ExecutionResult, msg, unitID string) types.ExecutionResult {
	result.Status = types.StatusFailed
	result.Error = msg
	e.log.WithField("unit_id", unitID).WithField("error", msg).Warn("unit execution failed")
	return result
}

// resolvePath resolves a possibly-relative path under workingDir and, when
// sandbox confinement is enabled, rejects anything outside it.
func (e *Executor) resolvePath(workingDir, path string) (string, error) {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(workingDir, path)
	}
	abs = filepath.Clean(abs)

	if e.cfg.Sandbox {
		base, err := filepath.Abs(workingDir)
		if err != nil {
			return "", err
		}
		absResolved, err := filepath.Abs(abs)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(base, absResolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("outside sandbox")
		}
	}
	return abs, nil
}

func (e *Executor) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// backupFile copies path to backupDir/<name>.<yyyymmdd-hhmmss>.bak and
// records the operation so restoreFromBackup can reverse it.
func (e *Executor) backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	backupDir := e.cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(path), ".backups")
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}

	name := filepath.Base(path)
	stamp := time.Now().UTC().Format("20060102-150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", name, stamp))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return err
	}

	e.mu.Lock()
	e.backups[path] = append(e.backups[path], backupOp{path: path, backupPath: backupPath})
	e.mu.Unlock()
	return nil
}

// RestoreFromBackup replaces path with its most recent backup. Returns
// false if no backup is recorded for path.
func (e *Executor) RestoreFromBackup(path string) bool {
	e.mu.Lock()
	ops := e.backups[path]
	e.mu.Unlock()
	if len(ops) == 0 {
		return false
	}
	last := ops[len(ops)-1]
	data, err := os.ReadFile(last.backupPath)
	if err != nil {
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false
	}
	return true
}

// ClearBackups discards recorded backup operations. Idempotent.
func (e *Executor) ClearBackups() {
	e.mu.Lock()
	e.backups = make(map[string][]backupOp)
	e.mu.Unlock()
}

// runCommand executes cmdLine through a shell with workingDir as cwd,
// killing the process on timeout.
func (e *Executor) runCommand(ctx context.Context, cmdLine, workingDir string, timeout time.Duration) types.CommandResult {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", cmdLine)
	cmd.Dir = workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	timedOut := cctx.Err() == context.DeadlineExceeded

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return types.CommandResult{
		Command:    cmdLine,
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		TimedOut:   timedOut,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// ExecuteBatch runs units sequentially, or concurrently (one errgroup
// goroutine per unit, with no concurrency limit) when parallel is true. Order of the returned slice matches
// the input order regardless of mode.
func (e *Executor) ExecuteBatch(ctx context.Context, units []types.AtomicUnit, execCtx types.ExecutionContext, parallel bool) []types.ExecutionResult {
	results := make([]types.ExecutionResult, len(units))

	if !parallel {
		for i, u := range units {
			results[i] = e.Execute(ctx, u, execCtx)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			results[i] = e.Execute(gctx, u, execCtx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Statistics reports execution counters accumulated across Execute calls,
// supplementing the original get_statistics().
type Statistics struct {
	TotalExecuted  int64
	TotalSucceeded int64
	SuccessRate    float64
}

func (e *Executor) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	rate := 0.0
	if e.totalExecuted > 0 {
		rate = float64(e.totalSucceeded) / float64(e.totalExecuted) * 100
	}
	return Statistics{
		TotalExecuted:  e.totalExecuted,
		TotalSucceeded: e.totalSucceeded,
		SuccessRate:    rate,
	}
}
