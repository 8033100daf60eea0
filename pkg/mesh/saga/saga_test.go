package saga_test

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/saga"
)

var _ = Describe("Orchestrator", func() {
	It("completes when every step succeeds", func() {
		orch := saga.New(nil, logr.Discard())
		s := orch.CreateSaga("demo", []saga.Step{
			{StepID: "s1", Action: func(ctx context.Context, input interface{}) (interface{}, error) { return "ok", nil }},
			{StepID: "s2", Action: func(ctx context.Context, input interface{}) (interface{}, error) { return "ok", nil }},
		}, "corr-1")

		result, err := orch.ExecuteSaga(context.Background(), s.SagaID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(saga.StatusCompleted))
		Expect(result.Steps[0].Status).To(Equal(saga.StepCompleted))
		Expect(result.Steps[1].Status).To(Equal(saga.StepCompleted))
	})

	It("compensates completed steps in reverse order on a later failure", func() {
		var compensated []string
		orch := saga.New(nil, logr.Discard())
		s := orch.CreateSaga("demo", []saga.Step{
			{StepID: "s1",
				Action:       func(ctx context.Context, input interface{}) (interface{}, error) { return "ok", nil },
				Compensation: func(ctx context.Context, input interface{}) (interface{}, error) { compensated = append(compensated, "s1"); return nil, nil }},
			{StepID: "s2",
				Action:       func(ctx context.Context, input interface{}) (interface{}, error) { return "ok", nil },
				Compensation: func(ctx context.Context, input interface{}) (interface{}, error) { compensated = append(compensated, "s2"); return nil, nil }},
			{StepID: "s3",
				Action: func(ctx context.Context, input interface{}) (interface{}, error) { return nil, errors.New("boom") }},
		}, "corr-2")

		result, err := orch.ExecuteSaga(context.Background(), s.SagaID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(saga.StatusFailed))
		Expect(result.Steps[2].Status).To(Equal(saga.StepFailed))
		Expect(result.Steps[0].Status).To(Equal(saga.StepCompensated))
		Expect(result.Steps[1].Status).To(Equal(saga.StepCompensated))
		Expect(compensated).To(Equal([]string{"s2", "s1"}))
	})

	It("continues the compensation sweep when one compensation fails", func() {
		orch := saga.New(nil, logr.Discard())
		s := orch.CreateSaga("demo", []saga.Step{
			{StepID: "s1",
				Action:       func(ctx context.Context, input interface{}) (interface{}, error) { return "ok", nil },
				Compensation: func(ctx context.Context, input interface{}) (interface{}, error) { return nil, errors.New("comp failed") }},
			{StepID: "s2",
				Action: func(ctx context.Context, input interface{}) (interface{}, error) { return nil, errors.New("boom") }},
		}, "corr-3")

		result, err := orch.ExecuteSaga(context.Background(), s.SagaID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(saga.StatusFailed))
		Expect(result.Steps[0].Status).To(Equal(saga.StepCompleted))
	})
})
