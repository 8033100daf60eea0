// Command controlplane is the agentic workforce platform's control
// plane: it wires the planning pipeline (C1-C7), the Workflow Store
// (C8), the service mesh core (C9-C13) and the bridges between them
// (C14), then serves health probes and a thin event-ingestion surface.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/agentflow/controlplane/internal/config"
	"github.com/agentflow/controlplane/pkg/mesh/breaker"
	"github.com/agentflow/controlplane/pkg/mesh/dispatcher"
	"github.com/agentflow/controlplane/pkg/mesh/eventrouter"
	"github.com/agentflow/controlplane/pkg/mesh/registry"
	"github.com/agentflow/controlplane/pkg/mesh/saga"
	"github.com/agentflow/controlplane/pkg/planning/bridges"
	"github.com/agentflow/controlplane/pkg/planning/checkpoint"
	"github.com/agentflow/controlplane/pkg/planning/decomposer"
	"github.com/agentflow/controlplane/pkg/planning/executor"
	"github.com/agentflow/controlplane/pkg/planning/orchestrator"
	"github.com/agentflow/controlplane/pkg/planning/parser"
	"github.com/agentflow/controlplane/pkg/planning/router"
	"github.com/agentflow/controlplane/pkg/planning/types"
	"github.com/agentflow/controlplane/pkg/planning/validator"
	"github.com/agentflow/controlplane/pkg/shared/logging"
	"github.com/agentflow/controlplane/pkg/workflow/notify"
	"github.com/agentflow/controlplane/pkg/workflow/policy"
	"github.com/agentflow/controlplane/pkg/workflow/store"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	planningLog := newPlanningLogger(cfg.Logging)
	meshLog, err := logging.NewMeshLogger(cfg.Logging.Format != "json")
	if err != nil {
		planningLog.WithError(err).Fatal("failed to build mesh logger")
	}

	app, err := build(cfg, planningLog, meshLog)
	if err != nil {
		planningLog.WithError(err).Fatal("failed to wire control plane")
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: app.router()}
	go func() {
		planningLog.WithField("addr", srv.Addr).Info("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			planningLog.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	planningLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newPlanningLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// application holds every wired component the composition root needs to
// start serving and shut down cleanly.
type application struct {
	planningLog *logrus.Logger
	meshLog     logr.Logger

	workflowStore *store.Store
	serviceReg    *registry.Registry
	circuitReg    *breaker.Registry
	dispatch      *dispatcher.Dispatcher
	eventRouter   *eventrouter.Router
	sagaOrch      *saga.Orchestrator
	bridgeSet     *bridges.Set
	modelRouter   *router.Router
	orch          *orchestrator.Orchestrator

	planningDefaultWorkingDir string
	planningQualityThreshold  float64
}

func build(cfg *config.Config, planningLog *logrus.Logger, meshLog logr.Logger) (*application, error) {
	var policyEval *policy.Evaluator
	if cfg.Policy.PolicyPath != "" {
		module, err := os.ReadFile(cfg.Policy.PolicyPath)
		if err != nil {
			return nil, err
		}
		policyEval, err = policy.NewEvaluator(context.Background(), policy.Config{Module: string(module)}, meshLog)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		policyEval, err = policy.NewEvaluator(context.Background(), policy.Config{}, meshLog)
		if err != nil {
			return nil, err
		}
	}

	var notifier *notify.SlackNotifier
	if cfg.Slack.Enabled {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, meshLog)
	}

	wfStore, err := store.New(store.Config{
		DSN:           cfg.Store.DSN,
		MigrationsDir: cfg.Store.MigrationsDir,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisChannel:  cfg.Store.RedisChannel,
	}, meshLog)
	if err != nil {
		return nil, err
	}
	wfStore = wfStore.WithPolicy(policyEval).WithNotifier(notifier)

	serviceReg := registry.New(meshLog)
	circuitReg := breaker.New(breaker.Config{
		FailureThreshold: uint32(cfg.Mesh.FailureThreshold),
		RecoveryTimeout:  cfg.Mesh.RecoveryTimeout,
	}, meshLog)
	dispatch := dispatcher.New(serviceReg, circuitReg, meshLog)

	evRouter := eventrouter.New(eventrouter.Config{
		DLQMaxSize:     cfg.Mesh.DLQMaxSize,
		RetryOnStartup: cfg.Mesh.RetryOnStartup,
	}, meshLog, nil)

	sagaOrch := saga.New(nil, meshLog)

	modelBridge, err := bridges.NewModelBridge(context.Background(), bridges.ModelBridgeConfig{
		AnthropicAPIKey: cfg.Router.AnthropicAPIKey,
		AWSRegion:       cfg.Router.BedrockRegion,
	}, planningLog.WithField("component", "model_bridge"))
	if err != nil {
		return nil, err
	}

	dataBridge := bridges.NewDataBridge(wfStore, planningLog.WithField("component", "data_bridge"))
	scoringBridge := bridges.NewScoringBridge("", planningLog.WithField("component", "scoring_bridge"))
	meshBridge := bridges.NewMeshBridge(evRouter, sagaOrch, circuitReg, planningLog.WithField("component", "mesh_bridge"))

	bridgeSet := &bridges.Set{Data: dataBridge, Model: modelBridge, Scoring: scoringBridge, Mesh: meshBridge}
	if err := bridgeSet.Initialize(); err != nil {
		return nil, err
	}

	mdlRouter := router.New(router.Config{
		DefaultStrategy:  router.Strategy(cfg.Router.DefaultStrategy),
		QualityThreshold: cfg.Router.QualityThreshold,
		PreferLocal:      cfg.Router.PreferLocal,
	}, modelBridge, planningLog)

	orch := orchestrator.New(orchestrator.Config{
		Parser:      parser.New(planningLog),
		Decomposer:  decomposer.New(planningLog),
		Executor:    executor.New(executor.Config{Sandbox: cfg.Planning.SandboxEnabled, BackupDir: cfg.Planning.BackupDir, WorkingDir: cfg.Planning.DefaultWorkingDir, DefaultTimeout: cfg.Planning.DefaultTimeout}, planningLog),
		Validator:   validator.New(validator.Config{}, planningLog),
		Checkpoints: checkpoint.New(cfg.Planning.BackupDir, planningLog),
		Store:       dataBridge,
		Events:      meshBridge,
		Scoring:     scoringBridge,
	}, planningLog)

	return &application{
		planningLog:               planningLog,
		meshLog:                   meshLog,
		workflowStore:             wfStore,
		serviceReg:                serviceReg,
		circuitReg:                circuitReg,
		dispatch:                  dispatch,
		eventRouter:               evRouter,
		sagaOrch:                  sagaOrch,
		bridgeSet:                 bridgeSet,
		modelRouter:               mdlRouter,
		orch:                      orch,
		planningDefaultWorkingDir: cfg.Planning.DefaultWorkingDir,
		planningQualityThreshold:  cfg.Planning.QualityThreshold,
	}, nil
}

func (a *application) Close() {
	if err := a.bridgeSet.Close(); err != nil {
		a.planningLog.WithError(err).Warn("error closing bridges")
	}
}

func (a *application) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"live"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if !a.eventRouter.Healthy(1000) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/health/startup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"started"}`))
	})

	r.Post("/events/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/plans", a.handleRunPlan)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleRunPlan runs a plan's markdown body through the full pipeline
// and returns the resulting PipelineResult as JSON.
func (a *application) handleRunPlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := a.orch.Run(r.Context(), string(body), types.ExecutionContext{
		WorkingDir:       a.planningDefaultWorkingDir,
		QualityThreshold: a.planningQualityThreshold,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		a.planningLog.WithError(err).Error("failed to encode pipeline result")
	}
}
