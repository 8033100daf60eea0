package bridges

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"

	"github.com/agentflow/controlplane/pkg/planning/router"
)

// Generation is what ModelBridge.GeneratePlan returns: the text content
// plus the accounting an escalation decision needs.
type Generation struct {
	PlanID     string
	Content    string
	Model      string
	Provider   string
	TokensUsed int
	LatencyMs  int64
}

// llmClient is the subset of langchaingo's llms.Model every provider
// backend implements.
type llmClient interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error)
}

// ModelBridge fronts the external model providers with a single
// Generate/GeneratePlan surface. It satisfies router.Generator so the
// Model Router (C6) can escalate through it, and falls back to a
// deterministic local template whenever no provider client is
// configured for the requested provider, or a live call errors.
type ModelBridge struct {
	anthropicClient llmClient
	bedrockClient   llmClient
	log             *logrus.Entry
	stats           statTracker

	mu        sync.Mutex
	connected bool
}

// ModelBridgeConfig names the credentials/regions needed to build the
// provider clients. Either may be left zero-valued to run that
// provider in local-fallback-only mode.
type ModelBridgeConfig struct {
	AnthropicAPIKey string
	AWSRegion       string
}

// NewModelBridge constructs provider clients for whichever of
// cfg.AnthropicAPIKey/cfg.AWSRegion are set. A bridge with neither set
// still works: every call falls back to the local template.
func NewModelBridge(ctx context.Context, cfg ModelBridgeConfig, log *logrus.Entry) (*ModelBridge, error) {
	mb := &ModelBridge{log: log}

	if cfg.AnthropicAPIKey != "" {
		client, err := anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey))
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		mb.anthropicClient = client
		mb.connected = true
	}

	if cfg.AWSRegion != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client, err := bedrock.New(bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)))
		if err != nil {
			return nil, fmt.Errorf("bedrock client: %w", err)
		}
		mb.bedrockClient = client
		mb.connected = true
	}

	return mb, nil
}

func (m *ModelBridge) Initialize() error {
	return nil
}

func (m *ModelBridge) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *ModelBridge) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *ModelBridge) Statistics() map[string]interface{} {
	return m.stats.snapshot()
}

// Generate implements router.Generator: it answers a single prompt for
// the given provider/model, falling back to the local template when
// that provider has no configured client or the call fails.
func (m *ModelBridge) Generate(ctx context.Context, provider, model, prompt string) (string, error) {
	m.stats.recordCall()

	client := m.clientFor(router.Provider(provider))
	if client != nil {
		resp, err := client.GenerateContent(ctx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		}, llms.WithModel(model))
		if err == nil && len(resp.Choices) > 0 {
			return resp.Choices[0].Content, nil
		}
		m.stats.recordError()
	}

	m.stats.recordFallback()
	return localTemplate(prompt), nil
}

// GeneratePlan is the Model Bridge's plan_id/tokens_used/latency_ms
// richer surface layered over Generate, grounded on the original
// L04Bridge.generate_plan contract.
func (m *ModelBridge) GeneratePlan(ctx context.Context, task string, planContext map[string]interface{}, model, provider string) (Generation, error) {
	start := time.Now()
	prompt := buildPlanPrompt(task, planContext)

	content, err := m.Generate(ctx, provider, model, prompt)
	if err != nil {
		return Generation{}, err
	}

	return Generation{
		PlanID:     uuid.NewString()[:8],
		Content:    content,
		Model:      model,
		Provider:   provider,
		TokensUsed: estimateTokens(content),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (m *ModelBridge) clientFor(provider router.Provider) llmClient {
	switch provider {
	case router.ProviderAnthropic:
		return m.anthropicClient
	case router.ProviderBedrock:
		return m.bedrockClient
	default:
		return nil
	}
}

func buildPlanPrompt(task string, planContext map[string]interface{}) string {
	prompt := fmt.Sprintf("Task: %s\n\n", task)
	for k, v := range planContext {
		prompt += fmt.Sprintf("%s: %v\n", k, v)
	}
	return prompt
}

// estimateTokens is a rough word-count proxy; GeneratePlan uses it for
// every generation, live or local, since Generate returns only text.
func estimateTokens(content string) int {
	count := 0
	inWord := false
	for _, r := range content {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

// localTemplate is the deterministic offline tier: a fixed-structure
// plan skeleton standing in for the Ollama local-model tier when no
// cloud provider is reachable.
func localTemplate(prompt string) string {
	return fmt.Sprintf(`## Phase 1: Implementation

### Step 1.1: Setup
Set up the initial project structure for the requested task.

**Acceptance**: files exist and the change compiles.

---
_generated locally; no model provider was reachable for this request_
_prompt length: %d chars_
`, len(prompt))
}
