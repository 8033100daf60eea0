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

var _ = Describe("WorkflowDefinition CRUD", func() {
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

	Describe("CreateWorkflowDefinition", func() {
		It("inserts a draft definition and defaults ID/status/visibility", func() {
			mck.ExpectExec(`INSERT INTO workflow_definitions`).
				WillReturnResult(sqlmock.NewResult(1, 1))

			def := &types.WorkflowDefinition{Name: "demo", Version: "v1"}
			err := s.CreateWorkflowDefinition(ctx, def)

			Expect(err).NotTo(HaveOccurred())
			Expect(def.WorkflowID).NotTo(BeEmpty())
			Expect(def.Status).To(Equal(types.WorkflowDraft))
			Expect(def.Visibility).To(Equal("private"))
		})

		It("propagates a database error", func() {
			mck.ExpectExec(`INSERT INTO workflow_definitions`).
				WillReturnError(sqlmock.ErrCancelled)

			err := s.CreateWorkflowDefinition(ctx, &types.WorkflowDefinition{Name: "demo", Version: "v1"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetWorkflowDefinition", func() {
		It("decodes JSONB columns back into the domain type", func() {
			nowT := time.Now().UTC()
			rows := sqlmock.NewRows([]string{
				"workflow_id", "name", "version", "definition", "category", "tags",
				"status", "visibility", "metadata", "created_at", "updated_at",
			}).AddRow("wf-1", "demo", "v1", []byte(`{"paradigm":"dag"}`), "ops", "{a,b}",
				"active", "private", []byte(`{"owner":"team-a"}`), nowT, nowT)
			mck.ExpectQuery(`SELECT .* FROM workflow_definitions WHERE workflow_id = \$1`).
				WithArgs("wf-1").WillReturnRows(rows)

			def, err := s.GetWorkflowDefinition(ctx, "wf-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(def.Definition.Paradigm).To(Equal("dag"))
			Expect(def.Metadata["owner"]).To(Equal("team-a"))
		})

		It("returns a not-found IntegrationError on no rows", func() {
			mck.ExpectQuery(`SELECT .* FROM workflow_definitions WHERE workflow_id = \$1`).
				WithArgs("missing").WillReturnRows(sqlmock.NewRows(nil))

			_, err := s.GetWorkflowDefinition(ctx, "missing")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ArchiveWorkflowDefinition", func() {
		It("moves a definition to archived", func() {
			mck.ExpectExec(`UPDATE workflow_definitions SET status = \$1`).
				WithArgs(types.WorkflowArchived, sqlmock.AnyArg(), "wf-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(s.ArchiveWorkflowDefinition(ctx, "wf-1")).To(Succeed())
		})

		It("reports not found when no row was updated", func() {
			mck.ExpectExec(`UPDATE workflow_definitions SET status = \$1`).
				WithArgs(types.WorkflowArchived, sqlmock.AnyArg(), "missing").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := s.ArchiveWorkflowDefinition(ctx, "missing")
			Expect(err).To(HaveOccurred())
		})
	})
})
