package eventrouter_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/mesh/eventrouter"
	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
)

var _ = Describe("Router", func() {
	It("does not forward unknown aggregate types but still counts them", func() {
		r := eventrouter.New(eventrouter.Config{}, logr.Discard(), nil)
		r.Route(context.Background(), meshtypes.Event{EventID: "e1", AggregateType: "workflow"})
		metrics := r.Metrics()
		Expect(metrics.EventsReceived).To(Equal(int64(1)))
		Expect(metrics.EventsRouted).To(Equal(int64(0)))
		Expect(metrics.EventsByType["workflow"]).To(Equal(int64(1)))
	})

	It("delivers recognized aggregate types and increments events_routed", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/events/plan"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := eventrouter.New(eventrouter.Config{BaseURL: func(string) string { return srv.URL }}, logr.Discard(), nil)
		r.Route(context.Background(), meshtypes.Event{EventID: "e1", AggregateType: meshtypes.AggregatePlan})
		Expect(r.Metrics().EventsRouted).To(Equal(int64(1)))
	})

	It("enqueues failed deliveries to the target's DLQ and retry_dlq drains it", func() {
		attempts := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := eventrouter.New(eventrouter.Config{BaseURL: func(string) string { return srv.URL }}, logr.Discard(), nil)
		r.Route(context.Background(), meshtypes.Event{EventID: "e1", AggregateType: meshtypes.AggregatePlan})
		Expect(r.Metrics().DLQSizes["plan"]).To(Equal(1))

		results := r.RetryDLQ(context.Background())
		Expect(results["plan"].Succeeded).To(Equal(1))
		Expect(r.Metrics().DLQSizes["plan"]).To(Equal(0))
	})

	It("bounds the DLQ at dlq_max_size and increments dropped on overflow", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := eventrouter.New(eventrouter.Config{DLQMaxSize: 2, BaseURL: func(string) string { return srv.URL }}, logr.Discard(), nil)
		for i := 0; i < 3; i++ {
			r.Route(context.Background(), meshtypes.Event{EventID: "e", AggregateType: meshtypes.AggregatePlan})
		}
		metrics := r.Metrics()
		Expect(metrics.DLQSizes["plan"]).To(Equal(2))
		Expect(metrics.Dropped["plan"]).To(Equal(int64(1)))
	})
})
