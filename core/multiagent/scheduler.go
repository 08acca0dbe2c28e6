package multiagent

import (
	"context"
	"sort"
	"time"

	hiveerrors "github.com/carabistouflette/hive/errors"
	"github.com/carabistouflette/hive/observability"
)

// SchedulerConfig configures the periodic scan cadence.
type SchedulerConfig struct {
	Interval time.Duration
}

// DefaultSchedulerConfig returns the suggested 1s cadence.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{Interval: time.Second}
}

// Scheduler periodically scans every graph for ReadyToExecute nodes,
// resolves their inputs, finds an available worker, and assigns them. An
// input-binding failure is deliberately not routed through the retry/backoff
// path: a producer's already-committed output cannot change on retry, so a
// binding failure here is immediately terminal.
type Scheduler struct {
	config   *SchedulerConfig
	graphs   *GraphManager
	registry *WorkerRegistry
	bus      *CommunicationBus
	logger   observability.Logger
}

// NewScheduler builds a scheduler wired to the graph manager, registry,
// and bus.
func NewScheduler(config *SchedulerConfig, graphs *GraphManager, registry *WorkerRegistry, bus *CommunicationBus, logger observability.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &Scheduler{config: config, graphs: graphs, registry: registry, bus: bus, logger: logger}
}

// Run ticks every config.Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle is one scan-resolve-assign pass.
func (s *Scheduler) cycle(ctx context.Context) {
	candidates := s.snapshotReady()
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, cand := range candidates {
		s.processCandidate(ctx, cand)
	}
}

// readyCandidate is a cloned, lock-free view of a ReadyToExecute node plus
// the graph it belongs to, produced by step 1's snapshot.
type readyCandidate struct {
	graphID string
	node    TaskNode
}

func (s *Scheduler) snapshotReady() []readyCandidate {
	var out []readyCandidate
	s.graphs.WithGraphsRLock(func(graphs map[string]*TaskGraph) {
		for graphID, graph := range graphs {
			for _, node := range graph.Nodes {
				if node.Status == TaskStatusReadyToExecute {
					out = append(out, readyCandidate{graphID: graphID, node: *node})
				}
			}
		}
	})
	return out
}

func (s *Scheduler) processCandidate(ctx context.Context, cand readyCandidate) {
	resolved, bindErr := s.resolveInputs(cand.graphID, &cand.node)
	if bindErr != nil {
		s.failBinding(ctx, cand.graphID, cand.node.ID, bindErr.Error())
		return
	}

	requiredRole := cand.node.AgentRoleType
	if cand.node.TaskSpec.RequiredAgentRole != nil {
		requiredRole = cand.node.TaskSpec.RequiredAgentRole
	}
	worker, ok := s.registry.FindAvailable(cand.node.ID, requiredRole)
	if !ok {
		// Leave ReadyToExecute; retried next cycle.
		return
	}

	s.assign(ctx, cand.graphID, cand.node.ID, resolved, worker)
}

// resolveInputs matches each InputMapping against its producer node's
// outputs: the producer's Deliverable whose matchKey()
// equals DeliverableKey is bound to TargetInputName. A producer or
// matching deliverable that cannot be found is a binding failure.
func (s *Scheduler) resolveInputs(graphID string, node *TaskNode) (map[string]string, error) {
	resolved := make(map[string]string, len(node.TaskSpec.InputMappings))
	if len(node.TaskSpec.InputMappings) == 0 {
		return resolved, nil
	}

	graph, ok := s.graphs.Graph(graphID)
	if !ok {
		return nil, hiveerrors.NewInputBindingFailure(node.ID, "", "")
	}

	for _, mapping := range node.TaskSpec.InputMappings {
		producer, ok := graph.Nodes[mapping.SourceTaskID]
		if !ok {
			return nil, hiveerrors.NewInputBindingFailure(node.ID, mapping.DeliverableKey, mapping.SourceTaskID)
		}
		found := false
		for _, d := range producer.Outputs {
			if d.matchKey() == mapping.DeliverableKey {
				resolved[mapping.TargetInputName] = d.Content
				found = true
				break
			}
		}
		if !found {
			return nil, hiveerrors.NewInputBindingFailure(node.ID, mapping.DeliverableKey, mapping.SourceTaskID)
		}
	}
	return resolved, nil
}

// failBinding marks node Failed immediately, with no retry consultation: a
// producer's already-committed output cannot change on retry, so retrying
// a binding failure would just fail the same way again.
func (s *Scheduler) failBinding(ctx context.Context, graphID, nodeID, message string) {
	s.graphs.WithGraphLock(func() {
		graph, ok := s.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[nodeID]
		if !ok {
			return
		}
		node.Status = TaskStatusFailed
		node.ErrorMessage = message
		if err := s.graphs.PersistNode(ctx, node); err != nil {
			s.logger.Error("failed to persist input-binding failure", observability.String("task_id", nodeID), observability.Err(err))
		}
	})
}

// assign sets the node Executing, records its resolved inputs and assigned
// worker, persists, and publishes a directed TaskAssignment.
func (s *Scheduler) assign(ctx context.Context, graphID, nodeID string, resolved map[string]string, worker Worker) {
	var assignedNode *TaskNode
	s.graphs.WithGraphLock(func() {
		graph, ok := s.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[nodeID]
		if !ok || node.Status != TaskStatusReadyToExecute {
			return
		}
		node.Inputs = resolved
		node.Status = TaskStatusExecuting
		node.AssignedAgentID = worker.GetConfig().ID
		if err := s.graphs.PersistNode(ctx, node); err != nil {
			s.logger.Error("failed to persist task assignment", observability.String("task_id", nodeID), observability.Err(err))
			return
		}
		cp := *node
		assignedNode = &cp
	})

	if assignedNode == nil {
		return
	}
	s.bus.publishDirected("scheduler", worker.GetConfig().ID, MessageContent{
		Kind:           ContentTaskAssignment,
		TaskAssignment: assignedNode,
	})
}
