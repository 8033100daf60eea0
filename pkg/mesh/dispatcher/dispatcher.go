// Package dispatcher implements the Request Orchestrator (C11): routing
// typed RPCs to services resolved through the Service Registry (C9) and
// guarded by the Circuit Breaker (C10), propagating trace context and
// optionally a client-credentials bearer token.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/agentflow/controlplane/pkg/mesh/breaker"
	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/mesh/registry"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/shared/httpclient"
)

const defaultTimeout = 30 * time.Second

// Dispatcher routes requests to registered services via C9+C10.
type Dispatcher struct {
	reg     *registry.Registry
	brk     *breaker.Registry
	client  *http.Client
	log     logr.Logger

	mu          sync.RWMutex
	oauthConfig map[string]*clientcredentials.Config
}

// New builds a Dispatcher over reg and brk.
func New(reg *registry.Registry, brk *breaker.Registry, log logr.Logger) *Dispatcher {
	return &Dispatcher{
		reg:         reg,
		brk:         brk,
		client:      httpclient.NewDefaultClient(),
		log:         log,
		oauthConfig: make(map[string]*clientcredentials.Config),
	}
}

// RegisterOAuth marks serviceName as OAuth-protected: route_request will
// obtain a client-credentials bearer token via cfg before each call,
// propagating the trust envelope rather than issuing auth itself.
func (d *Dispatcher) RegisterOAuth(serviceName string, cfg clientcredentials.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oauthConfig[serviceName] = &cfg
}

// RouteRequest implements route_request: resolve → circuit-check →
// propagate trace context → issue HTTP → record breaker outcome.
func (d *Dispatcher) RouteRequest(ctx context.Context, serviceName, method, path string, data interface{}, reqCtx meshtypes.RequestContext, timeout time.Duration) (map[string]interface{}, error) {
	instance, ok := d.reg.FirstHealthy(serviceName)
	if !ok {
		return nil, errors.NewIntegrationError(errors.CodeServiceNotFound, fmt.Sprintf("no healthy instance for %s", serviceName), nil)
	}

	if d.brk.IsCircuitOpen(serviceName) {
		return nil, errors.NewIntegrationError(errors.CodeCircuitOpen, fmt.Sprintf("circuit open for %s", serviceName), nil)
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx = fillRequestContext(reqCtx)

	var body io.Reader
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, errors.FailedTo("encode request body", err)
		}
		body = bytes.NewReader(encoded)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, method, instance.Endpoint+path, body)
	if err != nil {
		return nil, errors.FailedTo("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range reqCtx.Headers() {
		req.Header.Set(k, v)
	}

	if token, err := d.bearerToken(cctx, serviceName); err != nil {
		d.log.V(1).Info("oauth token fetch failed, proceeding without bearer token", "service", serviceName, "error", err.Error())
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.brk.RecordFailure(serviceName)
		if cctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewIntegrationError(errors.CodeTimeout, err.Error(), err)
		}
		return nil, errors.NewIntegrationError(errors.CodeConnectFailure, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.brk.RecordSuccess(serviceName)
		if len(raw) == 0 {
			return map[string]interface{}{}, nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, errors.FailedTo("decode response body", err)
		}
		return decoded, nil
	}

	d.brk.RecordFailure(serviceName)
	if resp.StatusCode >= 500 {
		return nil, errors.NewIntegrationError(errors.CodeRemote5xx, fmt.Sprintf("%s returned %d", serviceName, resp.StatusCode), nil)
	}
	return nil, errors.NewIntegrationError(errors.CodeRemote4xx, fmt.Sprintf("%s returned %d", serviceName, resp.StatusCode), nil)
}

// BroadcastRequest fans RouteRequest out to every named service
// concurrently; per-service errors are captured and never abort
// siblings.
func (d *Dispatcher) BroadcastRequest(ctx context.Context, names []string, method, path string, data interface{}, reqCtx meshtypes.RequestContext, timeout time.Duration) map[string]BroadcastResult {
	results := make(map[string]BroadcastResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.RouteRequest(ctx, name, method, path, data, reqCtx, timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = BroadcastResult{Error: err}
				return
			}
			results[name] = BroadcastResult{Response: resp}
		}()
	}
	wg.Wait()
	return results
}

// BroadcastResult is one service's outcome from BroadcastRequest.
type BroadcastResult struct {
	Response map[string]interface{}
	Error    error
}

func (d *Dispatcher) bearerToken(ctx context.Context, serviceName string) (string, error) {
	d.mu.RLock()
	cfg, ok := d.oauthConfig[serviceName]
	d.mu.RUnlock()
	if !ok {
		return "", nil
	}
	token, err := cfg.Token(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func fillRequestContext(ctx meshtypes.RequestContext) meshtypes.RequestContext {
	if ctx.TraceID == "" {
		ctx.TraceID = uuid.NewString()
	}
	if ctx.CorrelationID == "" {
		ctx.CorrelationID = uuid.NewString()
	}
	if ctx.RequestID == "" {
		ctx.RequestID = uuid.NewString()
	}
	return ctx
}
