package registry_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/registry"
)

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New(logr.Discard())
	})

	It("is idempotent on repeated registration of the same service_id", func() {
		reg.Register(registry.Instance{ServiceID: "a1", ServiceName: "svc", Endpoint: "http://a1"})
		reg.Register(registry.Instance{ServiceID: "a1", ServiceName: "svc", Endpoint: "http://a1-updated"})
		instances := reg.Lookup("svc", true)
		Expect(instances).To(HaveLen(1))
		Expect(instances[0].Endpoint).To(Equal("http://a1-updated"))
	})

	It("excludes unhealthy instances from Lookup by default", func() {
		reg.Register(registry.Instance{ServiceID: "a1", ServiceName: "svc", Status: registry.StatusHealthy})
		reg.Register(registry.Instance{ServiceID: "a2", ServiceName: "svc", Status: registry.StatusUnhealthy})
		Expect(reg.Lookup("svc", false)).To(HaveLen(1))
		Expect(reg.Lookup("svc", true)).To(HaveLen(2))
	})

	It("FirstHealthy returns a usable instance", func() {
		reg.Register(registry.Instance{ServiceID: "a1", ServiceName: "svc", Status: registry.StatusDegraded})
		inst, ok := reg.FirstHealthy("svc")
		Expect(ok).To(BeTrue())
		Expect(inst.ServiceID).To(Equal("a1"))
	})

	It("reports no instance for an unregistered service", func() {
		_, ok := reg.FirstHealthy("unknown")
		Expect(ok).To(BeFalse())
	})

	It("deregister is idempotent", func() {
		reg.Register(registry.Instance{ServiceID: "a1", ServiceName: "svc"})
		reg.Deregister("svc", "a1")
		reg.Deregister("svc", "a1")
		Expect(reg.Lookup("svc", true)).To(BeEmpty())
	})
})
