package bridges_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentflow/controlplane/pkg/planning/bridges"
	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
)

var _ = Describe("ScoringBridge", func() {
	var log *logrus.Entry

	BeforeEach(func() {
		log = logrus.NewEntry(logrus.New())
	})

	It("runs the local heuristic when no scoring service is configured", func() {
		sb := bridges.NewScoringBridge("", log)
		Expect(sb.IsConnected()).To(BeFalse())

		score, err := sb.ScoreUnit(context.Background(), plantypes.AtomicUnit{ID: "u1"}, plantypes.ValidationResult{Passed: true, QualityScore: 90})
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(BeNumerically("~", 90, 0.001))
	})

	It("penalizes failed criteria and halves the score on an overall failure", func() {
		sb := bridges.NewScoringBridge("", log)
		val := plantypes.ValidationResult{
			Passed:       false,
			QualityScore: 80,
			CriterionResults: []plantypes.CriterionResult{
				{CriterionID: "c1", Status: plantypes.StatusFailed},
				{CriterionID: "c2", Status: plantypes.StatusFailed},
			},
		}
		score, err := sb.ScoreUnit(context.Background(), plantypes.AtomicUnit{ID: "u1"}, val)
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(BeNumerically("~", 36, 0.001))
	})

	It("calls the remote scoring service when configured and reachable", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/score"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"score": 0.77, "assessment": "good"})
		}))
		defer srv.Close()

		sb := bridges.NewScoringBridge(srv.URL, log)
		Expect(sb.IsConnected()).To(BeTrue())

		score, err := sb.ScoreUnit(context.Background(), plantypes.AtomicUnit{ID: "u1"}, plantypes.ValidationResult{Passed: true, QualityScore: 0.5})
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(Equal(0.77))
	})

	It("falls back to the local heuristic when the remote errors", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sb := bridges.NewScoringBridge(srv.URL, log)
		score, err := sb.ScoreUnit(context.Background(), plantypes.AtomicUnit{ID: "u1"}, plantypes.ValidationResult{Passed: true, QualityScore: 60})
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(BeNumerically("~", 60, 0.001))
		Expect(sb.Statistics()["errors"]).To(Equal(int64(1)))
	})
})
