// Package policy evaluates the trust-envelope authorization decision for
// approval responses: whether a given responder role may approve or
// reject a given ApprovalRequest.request_type.
package policy

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/open-policy-agent/opa/rego"
)

// defaultModule is the embedded fallback policy: operators and
// incident-commanders may respond to anything; reviewers are restricted
// to low-risk request types.
const defaultModule = `
package workflow.approval

default allow = false

allow {
	input.role == "operator"
}

allow {
	input.role == "incident_commander"
}

allow {
	input.role == "reviewer"
	input.request_type == "plan_review"
}
`

// Config selects the rego source the Evaluator runs. An empty Module
// falls back to defaultModule.
type Config struct {
	Module string
}

// Input is the decision input: who is responding, and to what kind of
// approval request.
type Input struct {
	Role        string `json:"role"`
	RequestType string `json:"request_type"`
}

// Evaluator wraps a single compiled/prepared rego query for repeated,
// cheap evaluation.
type Evaluator struct {
	prepared rego.PreparedEvalQuery
	log      logr.Logger
}

// NewEvaluator compiles and prepares the policy module for evaluation.
func NewEvaluator(ctx context.Context, cfg Config, log logr.Logger) (*Evaluator, error) {
	module := cfg.Module
	if module == "" {
		module = defaultModule
	}

	prepared, err := rego.New(
		rego.Query("data.workflow.approval.allow"),
		rego.Module("approval.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &Evaluator{prepared: prepared, log: log}, nil
}

// Authorize evaluates whether in.Role may respond to an approval request
// of in.RequestType. A policy evaluation error fails closed (denies),
// logging the cause.
func (e *Evaluator) Authorize(ctx context.Context, in Input) bool {
	results, err := e.prepared.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":         in.Role,
		"request_type": in.RequestType,
	}))
	if err != nil {
		e.log.Info("policy evaluation failed, denying", "role", in.Role, "request_type", in.RequestType, "error", err.Error())
		return false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed
}
