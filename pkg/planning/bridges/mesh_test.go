package bridges_test

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/breaker"
	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/mesh/saga"
	"github.com/agentflow/controlplane/pkg/planning/bridges"
	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
)

type fakeEventRouter struct {
	routed []meshtypes.Event
}

func (f *fakeEventRouter) Route(_ context.Context, event meshtypes.Event) {
	f.routed = append(f.routed, event)
}

var _ = Describe("MeshBridge", func() {
	var log *logrus.Entry

	BeforeEach(func() {
		log = logrus.NewEntry(logrus.New())
	})

	It("records events locally when no Event Router is wired", func() {
		mb := bridges.NewMeshBridge(nil, nil, nil, log)
		Expect(mb.IsConnected()).To(BeFalse())

		Expect(mb.Publish(context.Background(), plantypes.LifecycleEvent{Type: plantypes.EventPlanStarted, PlanID: "p1"})).To(Succeed())
		Expect(mb.LocalEvents()).To(HaveLen(1))
		Expect(mb.Statistics()["fallbacks"]).To(Equal(int64(1)))
	})

	It("routes events through the Event Router when wired", func() {
		fer := &fakeEventRouter{}
		mb := bridges.NewMeshBridge(fer, nil, nil, log)
		Expect(mb.IsConnected()).To(BeTrue())

		Expect(mb.Publish(context.Background(), plantypes.LifecycleEvent{Type: plantypes.EventUnitCompleted, PlanID: "p1", UnitID: "u1"})).To(Succeed())
		Expect(fer.routed).To(HaveLen(1))
		Expect(fer.routed[0].EventType).To(Equal(string(plantypes.EventUnitCompleted)))
		Expect(fer.routed[0].AggregateType).To(Equal(meshtypes.AggregatePlan))
	})

	It("errors on CreateSaga/ExecuteSaga without a wired Saga Orchestrator", func() {
		mb := bridges.NewMeshBridge(nil, nil, nil, log)
		_, err := mb.CreateSaga("demo", nil, "corr-1")
		Expect(err).To(MatchError(bridges.ErrNoSagaOrchestrator))
		_, err = mb.ExecuteSaga(context.Background(), "any-saga")
		Expect(err).To(MatchError(bridges.ErrNoSagaOrchestrator))
	})

	It("delegates saga creation/execution to a wired Saga Orchestrator", func() {
		orch := saga.New(nil, logr.Discard())
		mb := bridges.NewMeshBridge(nil, orch, nil, log)

		s, err := mb.CreateSaga("demo", []saga.Step{
			{Name: "step1", Action: func(context.Context, interface{}) (interface{}, error) { return nil, nil }},
		}, "corr-1")
		Expect(err).NotTo(HaveOccurred())

		result, err := mb.ExecuteSaga(context.Background(), s.SagaID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(saga.StatusCompleted))
	})

	It("reports circuit state through a wired Registry", func() {
		reg := breaker.New(breaker.Config{FailureThreshold: 1}, logr.Discard())
		mb := bridges.NewMeshBridge(nil, nil, reg, log)
		Expect(mb.CircuitOpen("target-a")).To(BeFalse())

		reg.RecordFailure("target-a")
		Expect(mb.CircuitOpen("target-a")).To(BeTrue())
	})

	It("always reports circuits closed without a wired Registry", func() {
		mb := bridges.NewMeshBridge(nil, nil, nil, log)
		Expect(mb.CircuitOpen("anything")).To(BeFalse())
	})
})
