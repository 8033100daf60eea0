package store_test

import (
	"context"
	"encoding/json"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/agentflow/controlplane/pkg/workflow/store"
	"github.com/agentflow/controlplane/pkg/workflow/types"
)

var _ = Describe("change event publication", func() {
	var (
		ctx       context.Context
		db        *sqlx.DB
		mck       sqlmock.Sqlmock
		miniRedis *miniredis.Miniredis
		rdb       *redis.Client
		s         *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mck = mockSQL

		miniRedis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})

		s = store.NewWithConnections(db, rdb, logr.Discard())
	})

	AfterEach(func() {
		Expect(mck.ExpectationsWereMet()).To(Succeed())
		_ = rdb.Close()
		miniRedis.Close()
	})

	It("publishes a workflow_created event on l01:events after a successful create", func() {
		sub := rdb.Subscribe(ctx, store.EventChannel)
		defer sub.Close()
		_, err := sub.Receive(ctx)
		Expect(err).NotTo(HaveOccurred())

		mck.ExpectExec(`INSERT INTO workflow_definitions`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		Expect(s.CreateWorkflowDefinition(ctx, &types.WorkflowDefinition{Name: "demo", Version: "v1"})).To(Succeed())

		msg, err := sub.ReceiveMessage(ctx)
		Expect(err).NotTo(HaveOccurred())

		var event map[string]interface{}
		Expect(json.Unmarshal([]byte(msg.Payload), &event)).To(Succeed())
		Expect(event["EventType"]).To(Equal("workflow_created"))
		Expect(event["AggregateType"]).To(Equal("workflow"))
	})

	It("does not fail the write when Redis is unavailable after the write commits", func() {
		miniRedis.Close() // publish target now unreachable

		mck.ExpectExec(`INSERT INTO workflow_definitions`).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := s.CreateWorkflowDefinition(ctx, &types.WorkflowDefinition{Name: "demo", Version: "v1"})
		Expect(err).NotTo(HaveOccurred())
	})
})
