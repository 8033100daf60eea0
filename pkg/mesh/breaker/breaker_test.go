package breaker_test

import (
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/breaker"
)

var _ = Describe("Registry", func() {
	var reg *breaker.Registry

	BeforeEach(func() {
		reg = breaker.New(breaker.Config{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond}, logr.Discard())
	})

	It("starts closed", func() {
		Expect(reg.IsCircuitOpen("svc-a")).To(BeFalse())
		Expect(reg.GetState("svc-a")).To(Equal(breaker.CircuitStateClosed))
	})

	It("opens after failure_threshold consecutive failures", func() {
		for i := 0; i < 3; i++ {
			reg.RecordFailure("svc-b")
		}
		Expect(reg.IsCircuitOpen("svc-b")).To(BeTrue())
	})

	It("resets failure_count to zero on a success while closed", func() {
		reg.RecordFailure("svc-c")
		reg.RecordFailure("svc-c")
		reg.RecordSuccess("svc-c")
		info := reg.Info("svc-c")
		Expect(info.FailureCount).To(Equal(uint32(0)))
		Expect(info.State).To(Equal(breaker.CircuitStateClosed))
	})

	It("transitions open to half_open after recovery_timeout elapses", func() {
		for i := 0; i < 3; i++ {
			reg.RecordFailure("svc-d")
		}
		Expect(reg.GetState("svc-d")).To(Equal(breaker.CircuitStateOpen))
		Eventually(func() breaker.State {
			return reg.GetState("svc-d")
		}, time.Second, 10*time.Millisecond).Should(Equal(breaker.CircuitStateHalfOpen))
	})

	It("returns to closed on a successful half_open probe", func() {
		for i := 0; i < 3; i++ {
			reg.RecordFailure("svc-e")
		}
		Eventually(func() breaker.State {
			return reg.GetState("svc-e")
		}, time.Second, 10*time.Millisecond).Should(Equal(breaker.CircuitStateHalfOpen))
		reg.RecordSuccess("svc-e")
		Expect(reg.GetState("svc-e")).To(Equal(breaker.CircuitStateClosed))
	})

	It("re-opens on a failed half_open probe", func() {
		for i := 0; i < 3; i++ {
			reg.RecordFailure("svc-f")
		}
		Eventually(func() breaker.State {
			return reg.GetState("svc-f")
		}, time.Second, 10*time.Millisecond).Should(Equal(breaker.CircuitStateHalfOpen))
		reg.RecordFailure("svc-f")
		Expect(reg.GetState("svc-f")).To(Equal(breaker.CircuitStateOpen))
	})
})
