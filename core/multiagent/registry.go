package multiagent

import (
	"context"
	"sync"
	"time"

	"github.com/carabistouflette/hive/observability"
)

// RegistryConfig configures the WorkerRegistry's optional liveness
// supervisor. The supervisor, when enabled, marks a worker Failed after a
// missed-heartbeat window but never retargets a node it was executing —
// a failed worker's in-flight node is left for an operator or a future
// retry policy to notice and reassign, rather than guessed at here.
type RegistryConfig struct {
	HealthCheckInterval time.Duration
	HeartbeatTimeout    time.Duration
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		HealthCheckInterval: 30 * time.Second,
		HeartbeatTimeout:    2 * time.Minute,
	}
}

// registeredWorker pairs a live Worker with its last-seen heartbeat.
type registeredWorker struct {
	worker    Worker
	heartbeat time.Time
}

// WorkerRegistry is the spawn/find/get contract: it constructs
// workers of a requested role, subscribes each to the downstream bus,
// spawns its run-loop as an independent goroutine, and tracks it in a
// name-to-worker map guarded by one mutex.
type WorkerRegistry struct {
	config *RegistryConfig
	bus    *CommunicationBus
	logger observability.Logger
	metrics *observability.MetricsCollector

	mu      sync.RWMutex
	workers map[string]*registeredWorker

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerRegistry creates a registry wired to bus.
func NewWorkerRegistry(bus *CommunicationBus, config *RegistryConfig, logger observability.Logger) *WorkerRegistry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerRegistry{
		config:  config,
		bus:     bus,
		logger:  logger,
		metrics: observability.GetMetrics(),
		workers: make(map[string]*registeredWorker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartHealthMonitor launches the optional heartbeat supervisor.
func (r *WorkerRegistry) StartHealthMonitor() {
	go r.healthLoop()
}

// Shutdown stops the health monitor. It does not stop spawned workers;
// those terminate on their own context cancellation or bus closure.
func (r *WorkerRegistry) Shutdown() {
	r.cancel()
}

// Spawn constructs a worker of the requested role, subscribes it to the
// downstream bus, gives it an upstream submitter, starts its run-loop as an
// independent goroutine, and inserts it into the registry.
func (r *WorkerRegistry) Spawn(ctx context.Context, config AgentConfig, invoker *CapabilityInvoker) (Worker, error) {
	if config.ID == "" {
		config.ID = newID()
	}

	worker, err := newWorkerForRole(config, invoker, r.logger)
	if err != nil {
		return nil, err
	}

	subID, downstream := r.bus.Subscribe()
	go worker.Start(r.ctx, downstream, r.bus)

	r.mu.Lock()
	r.workers[config.ID] = &registeredWorker{worker: worker, heartbeat: time.Now()}
	r.mu.Unlock()

	r.logger.Info("spawned worker",
		observability.String("worker_id", config.ID),
		observability.String("role", string(config.Role)),
	)
	if r.metrics != nil {
		r.metrics.RecordMultiagentWorkerIdle()
	}

	_ = subID // subscription id is only needed for a future explicit Unsubscribe (shutdown path)
	return worker, nil
}

// FindAvailable scans the registry for the first worker whose status is
// Idle or Ready and whose role matches (if specified). Scan order over a
// Go map is unspecified; callers must not depend on which available worker
// of several gets picked.
func (r *WorkerRegistry) FindAvailable(taskID string, requiredRole *AgentRole) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rw := range r.workers {
		status := rw.worker.GetStatus()
		if !status.IsAvailable() {
			continue
		}
		if requiredRole != nil && rw.worker.GetConfig().Role != *requiredRole {
			continue
		}
		return rw.worker, true
	}
	return nil, false
}

// Get returns a worker by id.
func (r *WorkerRegistry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	return rw.worker, true
}

// Heartbeat records liveness for id, used by worker loops that choose to
// report activity to the supervisor.
func (r *WorkerRegistry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rw, ok := r.workers[id]; ok {
		rw.heartbeat = time.Now()
	}
}

func (r *WorkerRegistry) healthLoop() {
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.checkHealth()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *WorkerRegistry) checkHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, rw := range r.workers {
		if now.Sub(rw.heartbeat) <= r.config.HeartbeatTimeout {
			continue
		}
		if rw.worker.GetStatus() == AgentStatusFailed {
			continue
		}
		r.logger.Warn("worker heartbeat timeout, marking Failed",
			observability.String("worker_id", id),
			observability.Duration("since_last_heartbeat", now.Sub(rw.heartbeat)),
		)
		rw.worker.SetStatus(AgentStatusFailed)
		if r.metrics != nil {
			r.metrics.RecordMultiagentError("worker_registry", "heartbeat_timeout")
		}
		// Deliberately does not retarget any node the worker was executing;
		// that node is left Executing against a now-failed worker for an
		// operator or a future retry policy to notice.
	}
}

// RegistryStats is a point-in-time snapshot for health checks and metrics export.
type RegistryStats struct {
	TotalWorkers int
	ByRole       map[AgentRole]int
	ByStatus     map[AgentStatus]int
}

func (r *WorkerRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalWorkers: len(r.workers),
		ByRole:       make(map[AgentRole]int),
		ByStatus:     make(map[AgentStatus]int),
	}
	for _, rw := range r.workers {
		stats.ByRole[rw.worker.GetConfig().Role]++
		stats.ByStatus[rw.worker.GetStatus()]++
	}
	return stats
}
