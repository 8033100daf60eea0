package store_test

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/workflow/store"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

var _ = Describe("WorkflowExecution CRUD", func() {
	var (
		ctx context.Context
		db  *sqlx.DB
		mck sqlmock.Sqlmock
		s   *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mck = mockSQL
		s = store.NewWithConnections(db, nil, logr.Discard())
	})

	AfterEach(func() {
		Expect(mck.ExpectationsWereMet()).To(Succeed())
	})

	It("creates a pending execution with a generated ID", func() {
		mck.ExpectExec(`INSERT INTO workflow_executions`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		exec := &types.WorkflowExecution{WorkflowID: "wf-1", WorkflowVersion: "v1"}
		Expect(s.CreateExecution(ctx, exec)).To(Succeed())
		Expect(exec.ExecutionID).NotTo(BeEmpty())
		Expect(exec.Status).To(Equal(types.ExecutionPending))
	})

	It("rejects CompleteExecution with a non-terminal status", func() {
		err := s.CompleteExecution(ctx, "exec-1", types.ExecutionRunning, nil)
		Expect(err).To(HaveOccurred())
	})

	It("completes a started execution and computes duration from StartedAt", func() {
		started := time.Now().UTC().Add(-5 * time.Second)
		rows := sqlmock.NewRows([]string{
			"execution_id", "workflow_id", "workflow_version", "input_parameters", "output_result", "status",
			"current_node_id", "execution_state", "checkpoint_id", "compensation_required", "compensation_status",
			"compensated_nodes", "started_at", "completed_at", "duration_ms", "trace_id",
		}).AddRow("exec-1", "wf-1", "v1", []byte(`{}`), nil, "running",
			nil, []byte(`{}`), nil, false, "none", "{}", started, nil, nil, nil)
		mck.ExpectQuery(`SELECT .* FROM workflow_executions WHERE execution_id = \$1`).
			WithArgs("exec-1").WillReturnRows(rows)
		mck.ExpectExec(`UPDATE workflow_executions SET status = \$1, output_result = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.CompleteExecution(ctx, "exec-1", types.ExecutionCompleted, map[string]interface{}{"ok": true})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("compensation lifecycle", func() {
		It("marks an execution for compensation", func() {
			mck.ExpectExec(`UPDATE workflow_executions SET status = \$1, compensation_required = true`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			Expect(s.MarkForCompensation(ctx, "exec-1")).To(Succeed())
		})

		It("records a compensated node idempotently", func() {
			rows := sqlmock.NewRows([]string{
				"execution_id", "workflow_id", "workflow_version", "input_parameters", "output_result", "status",
				"current_node_id", "execution_state", "checkpoint_id", "compensation_required", "compensation_status",
				"compensated_nodes", "started_at", "completed_at", "duration_ms", "trace_id",
			}).AddRow("exec-1", "wf-1", "v1", []byte(`{}`), nil, "compensating",
				nil, []byte(`{}`), nil, true, "pending", "{node-a}", nil, nil, nil, nil)
			mck.ExpectQuery(`SELECT .* FROM workflow_executions WHERE execution_id = \$1`).
				WithArgs("exec-1").WillReturnRows(rows)

			// already compensated -> no UPDATE expected
			Expect(s.RecordCompensatedNode(ctx, "exec-1", "node-a")).To(Succeed())
		})

		It("finishes the compensation sweep", func() {
			mck.ExpectExec(`UPDATE workflow_executions SET status = \$1, compensation_status = \$2`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			Expect(s.CompleteCompensation(ctx, "exec-1")).To(Succeed())
		})
	})
})
