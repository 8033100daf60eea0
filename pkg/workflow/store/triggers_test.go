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

var _ = Describe("WorkflowTrigger CRUD", func() {
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

	It("creates a trigger with a generated ID", func() {
		mck.ExpectExec(`INSERT INTO workflow_triggers`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		trigger := &types.WorkflowTrigger{WorkflowID: "wf-1", TriggerType: types.TriggerSchedule, Enabled: true}
		Expect(s.CreateTrigger(ctx, trigger)).To(Succeed())
		Expect(trigger.TriggerID).NotTo(BeEmpty())
	})

	It("lists triggers for a workflow", func() {
		rows := sqlmock.NewRows([]string{
			"trigger_id", "workflow_id", "trigger_type", "trigger_config", "enabled", "last_triggered_at", "trigger_count",
		}).AddRow("t1", "wf-1", "event", []byte(`{}`), true, nil, 3)
		mck.ExpectQuery(`SELECT .* FROM workflow_triggers WHERE workflow_id = \$1`).
			WithArgs("wf-1").WillReturnRows(rows)

		triggers, err := s.ListTriggers(ctx, "wf-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(triggers).To(HaveLen(1))
		Expect(triggers[0].TriggerCount).To(Equal(int64(3)))
	})

	It("records a trigger fire and reports not-found on a stale ID", func() {
		mck.ExpectExec(`UPDATE workflow_triggers SET trigger_count = trigger_count \+ 1`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.RecordTriggerFired(ctx, "missing")
		Expect(err).To(HaveOccurred())
	})
})
