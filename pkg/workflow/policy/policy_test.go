package policy_test

import (
	"context"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/workflow/policy"
)

var _ = Describe("Evaluator", func() {
	var (
		ctx context.Context
		ev  *policy.Evaluator
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		ev, err = policy.NewEvaluator(ctx, policy.Config{}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})

	It("allows an operator to respond to any request type", func() {
		Expect(ev.Authorize(ctx, policy.Input{Role: "operator", RequestType: "destructive_action"})).To(BeTrue())
	})

	It("allows a reviewer only for plan_review", func() {
		Expect(ev.Authorize(ctx, policy.Input{Role: "reviewer", RequestType: "plan_review"})).To(BeTrue())
		Expect(ev.Authorize(ctx, policy.Input{Role: "reviewer", RequestType: "destructive_action"})).To(BeFalse())
	})

	It("denies an unrecognized role", func() {
		Expect(ev.Authorize(ctx, policy.Input{Role: "guest", RequestType: "plan_review"})).To(BeFalse())
	})

	It("respects a custom policy module when one is configured", func() {
		custom, err := policy.NewEvaluator(ctx, policy.Config{Module: `
package workflow.approval

default allow = false

allow {
	input.role == "guest"
}
`}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		Expect(custom.Authorize(ctx, policy.Input{Role: "guest", RequestType: "anything"})).To(BeTrue())
		Expect(custom.Authorize(ctx, policy.Input{Role: "operator", RequestType: "anything"})).To(BeFalse())
	})
})
