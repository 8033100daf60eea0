package bridges

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	plantypes "github.com/agentflow/controlplane/pkg/planning/types"
)

// ScoringBridge implements orchestrator.ScoringPort. It calls an
// external scoring service (L06) when one is configured and reachable,
// and otherwise falls back to a local heuristic derived from the
// validation result's own quality score and pass rate.
type ScoringBridge struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
	stats   statTracker

	mu        sync.Mutex
	connected bool
}

// NewScoringBridge builds a bridge over an L06 scoring service at
// baseURL. baseURL may be empty to run in local-heuristic-only mode.
func NewScoringBridge(baseURL string, log *logrus.Entry) *ScoringBridge {
	return &ScoringBridge{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 5 * time.Second},
		log:       log,
		connected: baseURL != "",
	}
}

func (b *ScoringBridge) Initialize() error {
	return nil
}

func (b *ScoringBridge) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *ScoringBridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && b.baseURL != ""
}

func (b *ScoringBridge) Statistics() map[string]interface{} {
	return b.stats.snapshot()
}

type scoreRequest struct {
	UnitID           string                      `json:"unit_id"`
	Complexity       string                      `json:"complexity"`
	Passed           bool                        `json:"passed"`
	QualityScore     float64                     `json:"quality_score"`
	CriterionResults []plantypes.CriterionResult `json:"criterion_results"`
}

type scoreResponse struct {
	Score           float64 `json:"score"`
	Assessment      string  `json:"assessment"`
	ValidationScore float64 `json:"validation_score"`
}

// ScoreUnit implements orchestrator.ScoringPort.
func (b *ScoringBridge) ScoreUnit(ctx context.Context, unit plantypes.AtomicUnit, val plantypes.ValidationResult) (float64, error) {
	b.stats.recordCall()

	if b.IsConnected() {
		score, err := b.callRemote(ctx, unit, val)
		if err == nil {
			return score, nil
		}
		b.log.WithField("error", err).Warn("scoring service unreachable, falling back to local heuristic")
		b.stats.recordError()
	}

	b.stats.recordFallback()
	return localScore(val), nil
}

func (b *ScoringBridge) callRemote(ctx context.Context, unit plantypes.AtomicUnit, val plantypes.ValidationResult) (float64, error) {
	reqBody, err := json.Marshal(scoreRequest{
		UnitID:           unit.ID,
		Complexity:       string(unit.Complexity),
		Passed:           val.Passed,
		QualityScore:     val.QualityScore,
		CriterionResults: val.CriterionResults,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/score", bytes.NewReader(reqBody))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scoring service returned %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Score, nil
}

// localScore is the offline scoring heuristic: it starts from the
// validator's own quality score (0-100, matching computeQualityScore),
// halves it when validation did not pass, and subtracts 2 points for
// every failed criterion, clamped to 0-100,
// since a unit that narrowly passed shouldn't score the same as one
// that passed cleanly.
func localScore(val plantypes.ValidationResult) float64 {
	score := val.QualityScore
	if !val.Passed {
		score *= 0.5
	}
	penalty := 2.0 * float64(len(val.FailedCriteria()))
	score -= penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
