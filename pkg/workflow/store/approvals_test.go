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

var _ = Describe("ApprovalRequest CRUD", func() {
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

	It("creates an approval and moves the parent execution to waiting_approval, in one transaction", func() {
		mck.ExpectBegin()
		mck.ExpectExec(`INSERT INTO workflow_approval_requests`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mck.ExpectExec(`UPDATE workflow_executions SET status = \$1 WHERE execution_id = \$2`).
			WithArgs(types.ExecutionWaitingApproval, "exec-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mck.ExpectCommit()

		approval := &types.ApprovalRequest{ExecutionID: "exec-1", NodeID: "n1", RequestType: "plan_review"}
		Expect(s.CreateApproval(ctx, approval)).To(Succeed())
		Expect(approval.ApprovalID).NotTo(BeEmpty())
		Expect(approval.ExpiresAt.After(time.Now())).To(BeTrue())
	})

	It("rolls back when the parent execution row is missing", func() {
		mck.ExpectBegin()
		mck.ExpectExec(`INSERT INTO workflow_approval_requests`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mck.ExpectExec(`UPDATE workflow_executions SET status = \$1 WHERE execution_id = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mck.ExpectRollback()

		approval := &types.ApprovalRequest{ExecutionID: "missing", NodeID: "n1", RequestType: "plan_review"}
		Expect(s.CreateApproval(ctx, approval)).To(HaveOccurred())
	})

	Describe("RespondToApproval", func() {
		approvalRow := func(status string) *sqlmock.Rows {
			return sqlmock.NewRows([]string{
				"approval_id", "execution_id", "node_id", "request_type", "request_message", "request_data",
				"status", "responded_by", "response_data", "responded_at", "expires_at",
			}).AddRow("a1", "exec-1", "n1", "plan_review", "", []byte(`{}`),
				status, nil, nil, nil, time.Now().Add(time.Hour))
		}

		It("rejects a response to an already-decided approval", func() {
			mck.ExpectQuery(`SELECT .* FROM workflow_approval_requests WHERE approval_id = \$1`).
				WithArgs("a1").WillReturnRows(approvalRow("approved"))

			err := s.RespondToApproval(ctx, "a1", "alice", "operator", true, nil)
			Expect(err).To(HaveOccurred())
		})

		It("approves and resumes the parent execution", func() {
			mck.ExpectQuery(`SELECT .* FROM workflow_approval_requests WHERE approval_id = \$1`).
				WithArgs("a1").WillReturnRows(approvalRow("pending"))
			mck.ExpectBegin()
			mck.ExpectExec(`UPDATE workflow_approval_requests`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mck.ExpectExec(`UPDATE workflow_executions SET status = \$1 WHERE execution_id = \$2`).
				WithArgs(types.ExecutionRunning, "exec-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mck.ExpectCommit()

			err := s.RespondToApproval(ctx, "a1", "alice", "operator", true, map[string]interface{}{"note": "lgtm"})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	It("expires stale pending approvals", func() {
		mck.ExpectExec(`UPDATE workflow_approval_requests SET status = \$1`).
			WithArgs(types.ApprovalExpired, types.ApprovalPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := s.ExpireOldApprovals(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))
	})
})
