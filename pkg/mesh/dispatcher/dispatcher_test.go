package dispatcher_test

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/breaker"
	"github.com/agentflow/controlplane/pkg/mesh/dispatcher"
	"github.com/agentflow/controlplane/pkg/mesh/registry"
	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
)

var _ = Describe("Dispatcher", func() {
	var (
		reg *registry.Registry
		brk *breaker.Registry
		d   *dispatcher.Dispatcher
	)

	BeforeEach(func() {
		reg = registry.New(logr.Discard())
		brk = breaker.New(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Second}, logr.Discard())
		d = dispatcher.New(reg, brk, logr.Discard())
	})

	It("returns E11001 when the service has no healthy instance", func() {
		_, err := d.RouteRequest(context.Background(), "missing", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		var integErr *errors.IntegrationError
		Expect(stderrors.As(err, &integErr)).To(BeTrue())
		Expect(integErr.Code).To(Equal(errors.CodeServiceNotFound))
	})

	It("decodes a 2xx JSON response and records breaker success", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("X-Trace-ID")).NotTo(BeEmpty())
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		reg.Register(registry.Instance{ServiceID: "s1", ServiceName: "svc", Endpoint: srv.URL, Status: registry.StatusHealthy})

		resp, err := d.RouteRequest(context.Background(), "svc", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp["ok"]).To(Equal(true))
	})

	It("maps a 5xx response to E11300 and records a breaker failure", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		reg.Register(registry.Instance{ServiceID: "s1", ServiceName: "svc2", Endpoint: srv.URL, Status: registry.StatusHealthy})

		_, err := d.RouteRequest(context.Background(), "svc2", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		var integErr *errors.IntegrationError
		Expect(stderrors.As(err, &integErr)).To(BeTrue())
		Expect(integErr.Code).To(Equal(errors.CodeRemote5xx))
	})

	It("rejects with E11101 once the circuit is open for that service", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		reg.Register(registry.Instance{ServiceID: "s1", ServiceName: "svc3", Endpoint: srv.URL, Status: registry.StatusHealthy})

		_, _ = d.RouteRequest(context.Background(), "svc3", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		_, _ = d.RouteRequest(context.Background(), "svc3", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)

		_, err := d.RouteRequest(context.Background(), "svc3", http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		var integErr *errors.IntegrationError
		Expect(stderrors.As(err, &integErr)).To(BeTrue())
		Expect(integErr.Code).To(Equal(errors.CodeCircuitOpen))
	})

	It("broadcasts to all named services and captures per-service errors", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()
		reg.Register(registry.Instance{ServiceID: "s1", ServiceName: "good", Endpoint: srv.URL, Status: registry.StatusHealthy})

		results := d.BroadcastRequest(context.Background(), []string{"good", "bad"}, http.MethodGet, "/x", nil, meshtypes.RequestContext{}, 0)
		Expect(results["good"].Error).NotTo(HaveOccurred())
		Expect(results["bad"].Error).To(HaveOccurred())
	})
})
