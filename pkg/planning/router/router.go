// Package router implements the Model Router (C6): classifying task
// complexity/category, choosing a model under a cost/quality/latency/
// balanced strategy, and escalating up a fixed chain until a quality
// threshold is met. Grounded on the original Python model_router.py.
package router

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/pkg/shared/errors"
)

// Complexity classifies a routed task.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// Category classifies what kind of task is being routed.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryGeneration   Category = "generation"
	CategoryAnalysis     Category = "analysis"
	CategoryDecomposition Category = "decomposition"
	CategoryPlanning     Category = "planning"
)

// Provider identifies the backend a model is served from.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Strategy selects how Route picks among candidate models.
type Strategy string

const (
	StrategyCost     Strategy = "cost"
	StrategyQuality  Strategy = "quality"
	StrategyLatency  Strategy = "latency"
	StrategyBalanced Strategy = "balanced"
)

// ModelSpec describes one routable model, mirroring MODEL_CONFIGS in the
// original Python router.
type ModelSpec struct {
	Provider         Provider
	Model            string
	CostFactor       float64
	LatencyMs        int
	QualityThreshold float64
	Complexities     []Complexity
	Categories       []Category
}

// RouteDecision is the outcome of Route: which model to call.
type RouteDecision struct {
	Provider   Provider
	Model      string
	Complexity Complexity
	Category   Category
	Strategy   Strategy
}

// defaultModels mirrors the original router's MODEL_CONFIGS: an Ollama
// (local) tier and an Anthropic (cloud) tier at three quality levels.
func defaultModels() []ModelSpec {
	return []ModelSpec{
		{Provider: ProviderOllama, Model: "codellama", CostFactor: 0, LatencyMs: 400, QualityThreshold: 0.55,
			Complexities: []Complexity{ComplexitySimple, ComplexityModerate}, Categories: []Category{CategoryGeneration, CategoryDecomposition}},
		{Provider: ProviderOllama, Model: "mistral", CostFactor: 0, LatencyMs: 300, QualityThreshold: 0.5,
			Complexities: []Complexity{ComplexitySimple, ComplexityModerate}, Categories: []Category{CategoryGeneration, CategoryValidation, CategoryPlanning}},
		{Provider: ProviderOllama, Model: "llama2", CostFactor: 0, LatencyMs: 350, QualityThreshold: 0.5,
			Complexities: []Complexity{ComplexitySimple}, Categories: []Category{CategoryAnalysis}},
		{Provider: ProviderAnthropic, Model: "claude-3-haiku", CostFactor: 0.25, LatencyMs: 600, QualityThreshold: 0.7,
			Complexities: []Complexity{ComplexitySimple, ComplexityModerate}, Categories: []Category{CategoryGeneration, CategoryValidation}},
		{Provider: ProviderAnthropic, Model: "claude-3-sonnet", CostFactor: 1.0, LatencyMs: 1200, QualityThreshold: 0.85,
			Complexities: []Complexity{ComplexityModerate, ComplexityComplex}, Categories: []Category{CategoryGeneration, CategoryAnalysis, CategoryPlanning}},
		{Provider: ProviderAnthropic, Model: "claude-3-opus", CostFactor: 5.0, LatencyMs: 2500, QualityThreshold: 0.95,
			Complexities: []Complexity{ComplexityComplex, ComplexityCritical}, Categories: []Category{CategoryAnalysis, CategoryPlanning, CategoryDecomposition}},
	}
}

// escalationChain is the fixed chain generate_with_escalation walks,
// independent of the strategy-selected starting point.
func escalationChain() []ModelSpec {
	models := defaultModels()
	byName := map[string]ModelSpec{}
	for _, m := range models {
		byName[string(m.Provider)+"/"+m.Model] = m
	}
	order := []string{"ollama/mistral", "anthropic/claude-3-haiku", "anthropic/claude-3-sonnet", "anthropic/claude-3-opus"}
	chain := make([]ModelSpec, 0, len(order))
	for _, k := range order {
		if m, ok := byName[k]; ok {
			chain = append(chain, m)
		}
	}
	return chain
}

// Generator is the opaque "text generator" port the spec treats model
// providers as; C14's Model Bridge supplies a concrete implementation.
type Generator interface {
	Generate(ctx context.Context, provider, model, prompt string) (string, error)
}

// Config tunes default routing behavior.
type Config struct {
	DefaultStrategy Strategy
	QualityThreshold float64
	PreferLocal      bool
}

// Router classifies tasks and selects models for them.
type Router struct {
	cfg    Config
	models []ModelSpec
	gen    Generator
	log    *logrus.Entry

	mu               sync.Mutex
	routeCount       int64
	escalationCount  int64
	totalCost        float64
	ollamaCount      int64
	confidenceSum    float64
}

// New builds a Router. gen may be nil for pure routing decisions without
// generation (e.g. tests exercising Route/Classify alone).
func New(cfg Config, gen Generator, logger *logrus.Logger) *Router {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyBalanced
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = 0.7
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Router{cfg: cfg, models: defaultModels(), gen: gen, log: logger.WithField("component", "model_router")}
}

var fileExtRe = regexp.MustCompile(`\.[A-Za-z0-9]{1,6}\b`)

// AnalyzeComplexity classifies task text on keyword/length/extension
// signals, tie-breaking toward simple.
func AnalyzeComplexity(task string) Complexity {
	lower := strings.ToLower(task)
	exts := map[string]bool{}
	for _, m := range fileExtRe.FindAllString(task, -1) {
		exts[m] = true
	}

	score := 0
	if len(task) > 500 {
		score += 2
	}
	if len(exts) > 5 {
		score += 2
	}
	for _, kw := range []string{"critical", "security", "production", "urgent"} {
		if strings.Contains(lower, kw) {
			score += 3
		}
	}
	for _, kw := range []string{"refactor", "architecture", "migrate", "integration"} {
		if strings.Contains(lower, kw) {
			score += 1
		}
	}

	switch {
	case score >= 5:
		return ComplexityCritical
	case score >= 3:
		return ComplexityComplex
	case score >= 1:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// AnalyzeCategory classifies task text by keyword, defaulting to
// generation.
func AnalyzeCategory(task string) Category {
	lower := strings.ToLower(task)
	switch {
	case strings.Contains(lower, "valid") || strings.Contains(lower, "verify") || strings.Contains(lower, "check"):
		return CategoryValidation
	case strings.Contains(lower, "analy") || strings.Contains(lower, "review"):
		return CategoryAnalysis
	case strings.Contains(lower, "decompos") || strings.Contains(lower, "break down") || strings.Contains(lower, "split"):
		return CategoryDecomposition
	case strings.Contains(lower, "plan"):
		return CategoryPlanning
	default:
		return CategoryGeneration
	}
}

// Route selects a model for task under the router's default strategy.
func (r *Router) Route(task string) RouteDecision {
	return r.RouteWithStrategy(task, r.cfg.DefaultStrategy)
}

// RouteWithStrategy selects a model for task under an explicit strategy.
func (r *Router) RouteWithStrategy(task string, strategy Strategy) RouteDecision {
	complexity := AnalyzeComplexity(task)
	category := AnalyzeCategory(task)

	var spec ModelSpec
	switch strategy {
	case StrategyCost:
		spec = r.routeForCost(complexity, category)
	case StrategyQuality:
		spec = r.routeForQuality(complexity)
	case StrategyLatency:
		spec = r.routeForLatency(complexity)
	default:
		spec = r.routeBalanced(complexity, category)
	}

	r.mu.Lock()
	r.routeCount++
	if spec.Provider == ProviderOllama {
		r.ollamaCount++
	}
	r.mu.Unlock()

	return RouteDecision{Provider: spec.Provider, Model: spec.Model, Complexity: complexity, Category: category, Strategy: strategy}
}

func (r *Router) findLocal(complexity Complexity, category Category) (ModelSpec, bool) {
	for _, m := range r.models {
		if m.Provider != ProviderOllama {
			continue
		}
		if !containsComplexity(m.Complexities, complexity) {
			continue
		}
		if category != "" && !containsCategory(m.Categories, category) {
			continue
		}
		return m, true
	}
	return ModelSpec{}, false
}

func (r *Router) cheapestCloud() ModelSpec {
	best := ModelSpec{CostFactor: -1}
	for _, m := range r.models {
		if m.Provider == ProviderOllama {
			continue
		}
		if best.CostFactor < 0 || m.CostFactor < best.CostFactor {
			best = m
		}
	}
	return best
}

func (r *Router) fastestLocal() ModelSpec {
	return r.fastest(ProviderOllama)
}

func (r *Router) fastestCloud() ModelSpec {
	return r.fastest("")
}

func (r *Router) fastest(onlyProvider Provider) ModelSpec {
	best := ModelSpec{LatencyMs: -1}
	for _, m := range r.models {
		if onlyProvider != "" && m.Provider != onlyProvider {
			continue
		}
		if onlyProvider == "" && m.Provider == ProviderOllama {
			continue
		}
		if best.LatencyMs < 0 || m.LatencyMs < best.LatencyMs {
			best = m
		}
	}
	return best
}

func (r *Router) cloudByName(name string) ModelSpec {
	for _, m := range r.models {
		if m.Model == name {
			return m
		}
	}
	return r.cheapestCloud()
}

func (r *Router) routeForCost(complexity Complexity, category Category) ModelSpec {
	if m, ok := r.findLocal(complexity, category); ok {
		return m
	}
	return r.cheapestCloud()
}

func (r *Router) routeForQuality(complexity Complexity) ModelSpec {
	switch complexity {
	case ComplexityCritical:
		return r.cloudByName("claude-3-opus")
	case ComplexityComplex:
		return r.cloudByName("claude-3-sonnet")
	default:
		return r.cloudByName("claude-3-haiku")
	}
}

func (r *Router) routeForLatency(complexity Complexity) ModelSpec {
	if complexity == ComplexitySimple {
		return r.fastestLocal()
	}
	return r.fastestCloud()
}

func (r *Router) routeBalanced(complexity Complexity, category Category) ModelSpec {
	switch complexity {
	case ComplexitySimple:
		if r.cfg.PreferLocal {
			if m, ok := r.findLocal(complexity, category); ok {
				return m
			}
		}
		return r.cloudByName("claude-3-haiku")
	case ComplexityModerate:
		if m, ok := r.findLocal(complexity, category); ok && m.Model == "mistral" {
			return m
		}
		return r.cloudByName("claude-3-haiku")
	case ComplexityComplex:
		return r.cloudByName("claude-3-sonnet")
	default:
		return r.cloudByName("claude-3-opus")
	}
}

func containsComplexity(list []Complexity, c Complexity) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func containsCategory(list []Category, c Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// EscalationResult is the outcome of generate_with_escalation.
type EscalationResult struct {
	Content         string
	Provider        Provider
	Model           string
	Quality         float64
	Escalations     int
	Cost            float64
}

// GenerateWithEscalation walks the fixed escalation chain starting at the
// strategy-selected model, stopping when the heuristic quality estimate
// meets minQuality or the chain is exhausted. The heuristic is a
// provisional signal only — when the scoring bridge is online its result
// overrides this estimate, and the escalation loop must not double-score.
func (r *Router) GenerateWithEscalation(ctx context.Context, task string, minQuality float64, maxEscalations int) (EscalationResult, error) {
	if r.gen == nil {
		return EscalationResult{}, errors.FailedTo("generate with escalation", errors.NewBusinessLogicError("generate_with_escalation", "no generator configured"))
	}

	start := r.Route(task)
	chain := escalationChain()

	startIdx := 0
	for i, m := range chain {
		if m.Provider == start.Provider && m.Model == start.Model {
			startIdx = i
			break
		}
	}

	var last EscalationResult
	escalations := 0
	for i := startIdx; i < len(chain) && escalations <= maxEscalations; i++ {
		m := chain[i]
		content, err := r.gen.Generate(ctx, string(m.Provider), m.Model, task)
		if err != nil {
			r.log.WithField("model", m.Model).WithField("error", err).Warn("generation attempt failed")
			escalations++
			continue
		}
		quality := estimateQuality(content)
		last = EscalationResult{Content: content, Provider: m.Provider, Model: m.Model, Quality: quality, Escalations: escalations, Cost: m.CostFactor}

		r.mu.Lock()
		r.totalCost += m.CostFactor
		r.confidenceSum += quality
		r.mu.Unlock()

		if quality >= minQuality {
			return last, nil
		}
		escalations++
		r.mu.Lock()
		r.escalationCount++
		r.mu.Unlock()
	}
	return last, nil
}

// estimateQuality derives a heuristic quality score in [0,1] from length
// buckets, structural markers, and acceptance-criteria-ish keywords —
// mirroring the original _estimate_quality heuristic.
func estimateQuality(content string) float64 {
	score := 0.0
	length := len(content)
	switch {
	case length > 1000:
		score += 0.4
	case length > 300:
		score += 0.25
	case length > 50:
		score += 0.1
	}
	if strings.Contains(content, "##") || strings.Contains(content, "###") {
		score += 0.2
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "acceptance") || strings.Contains(lower, "criteria") {
		score += 0.2
	}
	if fileExtRe.MatchString(content) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Statistics reports routing history counters, supplementing the
// original get_statistics().
type Statistics struct {
	RouteCount       int64
	EscalationCount  int64
	TotalCost        float64
	OllamaPercentage float64
	AverageConfidence float64
}

func (r *Router) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Statistics{RouteCount: r.routeCount, EscalationCount: r.escalationCount, TotalCost: r.totalCost}
	if r.routeCount > 0 {
		stats.OllamaPercentage = float64(r.ollamaCount) / float64(r.routeCount) * 100
	}
	if r.escalationCount+r.routeCount > 0 {
		stats.AverageConfidence = r.confidenceSum / float64(r.routeCount)
	}
	return stats
}
