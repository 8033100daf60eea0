package store_test

import (
	"context"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/workflow/store"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

var _ = Describe("WorkflowNodeExecution CRUD", func() {
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

	It("creates a pending node execution", func() {
		mck.ExpectExec(`INSERT INTO workflow_node_executions`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		node := &types.WorkflowNodeExecution{ExecutionID: "exec-1", NodeID: "n1", NodeType: "task"}
		Expect(s.CreateNodeExecution(ctx, node)).To(Succeed())
		Expect(node.NodeExecutionID).NotTo(BeEmpty())
		Expect(node.Status).To(Equal(types.NodeExecPending))
	})

	It("rejects CompleteNodeExecution with a non-terminal status", func() {
		err := s.CompleteNodeExecution(ctx, "ne-1", types.NodeExecRunning, nil, "", "")
		Expect(err).To(HaveOccurred())
	})

	It("increments the retry counter via RETURNING", func() {
		mck.ExpectQuery(`UPDATE workflow_node_executions SET retry_count = retry_count \+ 1`).
			WithArgs("ne-1").
			WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

		count, err := s.IncrementRetryCount(ctx, "ne-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})

	It("marks a node compensated", func() {
		mck.ExpectExec(`UPDATE workflow_node_executions SET status = \$1, compensated = true`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		Expect(s.MarkNodeCompensated(ctx, "ne-1")).To(Succeed())
	})
})
