package bridges_test

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/planning/bridges"
	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
	wftypes "github.com/agentflow/controlplane/pkg/workflow/types"
)

type fakeStore struct {
	failCreateNode    bool
	failCompleteNode  bool
	createdNodes      []*wftypes.WorkflowNodeExecution
	completedStatuses []wftypes.NodeExecutionStatus
}

func (f *fakeStore) CreateWorkflowDefinition(context.Context, *wftypes.WorkflowDefinition) error {
	return nil
}
func (f *fakeStore) CreateExecution(context.Context, *wftypes.WorkflowExecution) error { return nil }

func (f *fakeStore) CreateNodeExecution(_ context.Context, node *wftypes.WorkflowNodeExecution) error {
	if f.failCreateNode {
		return errors.New("store unreachable")
	}
	node.NodeExecutionID = "node-1"
	f.createdNodes = append(f.createdNodes, node)
	return nil
}

func (f *fakeStore) CompleteNodeExecution(_ context.Context, _ string, status wftypes.NodeExecutionStatus, _ map[string]interface{}, _, _ string) error {
	if f.failCompleteNode {
		return errors.New("store unreachable")
	}
	f.completedStatuses = append(f.completedStatuses, status)
	return nil
}

var _ = Describe("DataBridge", func() {
	var log *logrus.Entry

	BeforeEach(func() {
		log = logrus.NewEntry(logrus.New())
	})

	It("reports disconnected and falls back to memory with a nil remote", func() {
		db := bridges.NewDataBridge(nil, log)
		Expect(db.IsConnected()).To(BeFalse())

		Expect(db.StoreUnit(context.Background(), "exec-1", plantypes.AtomicUnit{ID: "u1"})).To(Succeed())
		Expect(db.Statistics()["fallbacks"]).To(Equal(int64(1)))
	})

	It("routes StoreUnit/StoreValidation to the remote store when connected", func() {
		fs := &fakeStore{}
		db := bridges.NewDataBridge(fs, log)
		Expect(db.IsConnected()).To(BeTrue())

		Expect(db.StoreUnit(context.Background(), "exec-1", plantypes.AtomicUnit{ID: "u1"})).To(Succeed())
		Expect(fs.createdNodes).To(HaveLen(1))

		Expect(db.StoreValidation(context.Background(), "exec-1", "u1", plantypes.ValidationResult{Passed: true})).To(Succeed())
		Expect(fs.completedStatuses).To(ConsistOf(wftypes.NodeExecCompleted))

		stats := db.Statistics()
		Expect(stats["calls"]).To(Equal(int64(2)))
		Expect(stats["fallbacks"]).To(Equal(int64(0)))
	})

	It("falls back to a local record when the remote errors on StoreUnit", func() {
		fs := &fakeStore{failCreateNode: true}
		db := bridges.NewDataBridge(fs, log)

		Expect(db.StoreUnit(context.Background(), "exec-1", plantypes.AtomicUnit{ID: "u1"})).To(Succeed())
		stats := db.Statistics()
		Expect(stats["errors"]).To(Equal(int64(1)))
		Expect(stats["fallbacks"]).To(Equal(int64(1)))
	})

	It("falls back to a local record for StoreValidation when no matching node exists", func() {
		fs := &fakeStore{}
		db := bridges.NewDataBridge(fs, log)

		Expect(db.StoreValidation(context.Background(), "exec-1", "never-started", plantypes.ValidationResult{Passed: false})).To(Succeed())
		Expect(fs.completedStatuses).To(BeEmpty())
		Expect(db.Statistics()["fallbacks"]).To(Equal(int64(1)))
	})
})
