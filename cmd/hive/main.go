// Command hive runs the task-graph orchestration engine: it wires the
// communication bus, graph manager, worker registry, router, scheduler, and
// result processor together, spawns one worker per configured role, and
// creates a seed graph from a CLI-provided goal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carabistouflette/hive/config"
	"github.com/carabistouflette/hive/core/multiagent"
	"github.com/carabistouflette/hive/llm"
	"github.com/carabistouflette/hive/observability"
)

func main() {
	goal := flag.String("goal", "", "top-level objective for the seed task graph (execute_agent_task's prompt)")
	agentRole := flag.String("agent", string(multiagent.RolePlanner), "role tag for the root task's worker (execute_agent_task's agent)")
	llmModel := flag.String("llm-model", "", "optional model override for the root task's worker (execute_agent_task's llm_model)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	obs, err := observability.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	logger := obs.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open persistence store", observability.Err(err))
		os.Exit(1)
	}

	catalog, err := multiagent.LoadCapabilityCatalog(cfg.Orchestration.CapabilityCatalogDir)
	if err != nil {
		logger.Error("failed to load capability catalog", observability.Err(err))
		os.Exit(1)
	}
	invoker := multiagent.NewCapabilityInvoker(catalog, llm.CreateDefaultProviders())

	bus := multiagent.NewCommunicationBus(logger)
	graphs := multiagent.NewGraphManager(store, logger)
	if err := graphs.LoadFromStore(ctx); err != nil {
		logger.Error("failed to load existing graphs from store", observability.Err(err))
		os.Exit(1)
	}

	registryConfig := &multiagent.RegistryConfig{
		HealthCheckInterval: cfg.Orchestration.HeartbeatInterval,
		HeartbeatTimeout:    cfg.Orchestration.HeartbeatTimeout,
	}
	registry := multiagent.NewWorkerRegistry(bus, registryConfig, logger)
	registry.StartHealthMonitor()
	defer registry.Shutdown()

	for _, role := range []multiagent.AgentRole{
		multiagent.RolePlanner,
		multiagent.RoleResearcher,
		multiagent.RoleWriter,
		multiagent.RoleCoder,
		multiagent.RoleValidator,
		multiagent.RoleSimpleWorker,
	} {
		if _, err := registry.Spawn(ctx, multiagent.AgentConfig{Role: role}, invoker); err != nil {
			logger.Error("failed to spawn worker", observability.String("role", string(role)), observability.Err(err))
			os.Exit(1)
		}
	}

	router := multiagent.NewOrchestratorRouter(bus, registry, graphs, logger)
	scheduler := multiagent.NewScheduler(
		&multiagent.SchedulerConfig{Interval: cfg.Orchestration.SchedulerInterval},
		graphs, registry, bus, logger,
	)
	processor := multiagent.NewResultProcessor(router, graphs, bus, registry, logger)

	go router.Run(ctx)
	go scheduler.Run(ctx)
	go processor.Run(ctx)

	if *goal != "" {
		taskID, err := executeAgentTask(ctx, graphs, registry, invoker, *goal, multiagent.AgentRole(*agentRole), *llmModel)
		if err != nil {
			logger.Error("failed to create seed graph", observability.Err(err))
			os.Exit(1)
		}
		fmt.Println(taskID)
	}

	logger.Info("hive orchestration engine running",
		observability.String("persistence_backend", cfg.Orchestration.PersistenceBackend),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := obs.Close(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error during observability shutdown: %v\n", err)
	}
}

// openStore selects the persistence backend named by
// orchestration.persistence_backend ("postgres" or "memory").
func openStore(ctx context.Context, cfg *config.Config, logger observability.Logger) (multiagent.PersistenceStore, error) {
	if cfg.Orchestration.PersistenceBackend == "memory" {
		logger.Info("using in-memory persistence store")
		return multiagent.NewInMemoryStore(), nil
	}

	pgConfig := multiagent.DefaultPostgresConfig()
	pgConfig.Host = cfg.Database.Host
	pgConfig.Port = cfg.Database.Port
	pgConfig.Database = cfg.Database.Name
	pgConfig.User = cfg.Database.User
	pgConfig.Password = cfg.Database.Password
	pgConfig.SSLMode = cfg.Database.SSLMode
	pgConfig.MaxOpenConns = cfg.Database.MaxConnections
	pgConfig.MaxIdleConns = cfg.Database.MaxIdleConnections
	pgConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime

	logger.Info("using PostgreSQL persistence store",
		observability.String("host", pgConfig.Host),
		observability.String("database", pgConfig.Database),
	)
	return multiagent.NewPostgresStore(ctx, pgConfig)
}

// executeAgentTask is the shell surface's single inbound command: it
// spawns one worker of role agent, creates a fresh TaskGraph named after
// prompt, and adds a root node whose
// TaskSpecification carries description=prompt, context=prompt,
// task_type=Generic, required_role=agent, returning the new node's id.
// llmModel is accepted for a future ContextOverrides.Model override on the
// eventual capability invocation; today the worker resolves its model from
// its own AgentConfig instead.
func executeAgentTask(ctx context.Context, graphs *multiagent.GraphManager, registry *multiagent.WorkerRegistry, invoker *multiagent.CapabilityInvoker, prompt string, agent multiagent.AgentRole, llmModel string) (string, error) {
	if _, err := registry.Spawn(ctx, multiagent.AgentConfig{Role: agent}, invoker); err != nil {
		return "", fmt.Errorf("spawn %s worker: %w", agent, err)
	}

	graphID, err := graphs.CreateGraph(prompt, "seeded from command line", prompt)
	if err != nil {
		return "", fmt.Errorf("create graph: %w", err)
	}

	spec := multiagent.TaskSpecification{
		Name:         prompt,
		Description:  prompt,
		RequiredRole: agent,
		Context:      &prompt,
		TaskType:     multiagent.TaskTypeGeneric,
	}
	taskID, err := graphs.AddNode(ctx, graphID, spec, "", nil)
	if err != nil {
		return "", fmt.Errorf("add root node: %w", err)
	}
	graphs.PromoteReady(ctx, graphID)
	return taskID, nil
}
