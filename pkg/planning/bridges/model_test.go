package bridges_test

import (
	"context"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/planning/bridges"
)

var _ = Describe("ModelBridge", func() {
	var log *logrus.Entry

	BeforeEach(func() {
		log = logrus.NewEntry(logrus.New())
	})

	It("falls back to the local template with no providers configured", func() {
		mb, err := bridges.NewModelBridge(context.Background(), bridges.ModelBridgeConfig{}, log)
		Expect(err).NotTo(HaveOccurred())
		Expect(mb.IsConnected()).To(BeFalse())

		content, err := mb.Generate(context.Background(), "anthropic", "claude-3-sonnet", "write a plan")
		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(ContainSubstring("generated locally"))
		Expect(mb.Statistics()["fallbacks"]).To(Equal(int64(1)))
	})

	It("falls back for an unrecognized provider", func() {
		mb, err := bridges.NewModelBridge(context.Background(), bridges.ModelBridgeConfig{}, log)
		Expect(err).NotTo(HaveOccurred())

		content, err := mb.Generate(context.Background(), "openai", "gpt-4", "write a plan")
		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(ContainSubstring("generated locally"))
	})

	It("builds a Generation with accounting fields from GeneratePlan", func() {
		mb, err := bridges.NewModelBridge(context.Background(), bridges.ModelBridgeConfig{}, log)
		Expect(err).NotTo(HaveOccurred())

		gen, err := mb.GeneratePlan(context.Background(), "add a health endpoint", map[string]interface{}{"phase": "1"}, "claude-3-sonnet", "anthropic")
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.PlanID).To(HaveLen(8))
		Expect(gen.Content).To(ContainSubstring("generated locally"))
		Expect(gen.TokensUsed).To(BeNumerically(">", 0))
	})
})
