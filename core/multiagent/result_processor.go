package multiagent

import (
	"context"
	"time"

	hiveerrors "github.com/carabistouflette/hive/errors"
	"github.com/carabistouflette/hive/observability"
	"github.com/carabistouflette/hive/retry"
)

// ResultProcessor drains the router's result channel and applies each
// outcome to the graph: completions, retries/terminal failures, and
// subtask-decomposition batches. retry_delay_ms and backoff_strategy are
// honored via a deferred re-queue rather than an immediate
// ReadyToExecute transition.
type ResultProcessor struct {
	graphs  *GraphManager
	bus     *CommunicationBus
	registry *WorkerRegistry
	logger  observability.Logger
	metrics *observability.MetricsCollector

	results <-chan ResultEvent
}

// NewResultProcessor builds a processor draining router's result channel.
func NewResultProcessor(router *OrchestratorRouter, graphs *GraphManager, bus *CommunicationBus, registry *WorkerRegistry, logger observability.Logger) *ResultProcessor {
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &ResultProcessor{
		graphs:   graphs,
		bus:      bus,
		registry: registry,
		logger:   logger,
		metrics:  observability.GetMetrics(),
		results:  router.Results(),
	}
}

// Run drains the result channel until it closes or ctx is cancelled.
func (p *ResultProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.results:
			if !ok {
				return
			}
			p.apply(ctx, ev)
		}
	}
}

func (p *ResultProcessor) apply(ctx context.Context, ev ResultEvent) {
	switch ev.Kind {
	case ResultTaskCompleted:
		p.handleCompleted(ctx, ev.TaskID, ev.AgentResponse)
	case ResultTaskFailed:
		p.handleFailed(ctx, ev.TaskID, ev.AgentResponse)
	case ResultSubTasksGenerated:
		p.handleSubTasksGenerated(ctx, ev.TaskID, ev.SubTasksGenerated)
	}
}

// handleCompleted marks the node Completed, clears its error (keeping its
// retry count), and — if it was a delegated validation sub-task — notifies the
// delegating worker so a Coder-style parent can complete.
func (p *ResultProcessor) handleCompleted(ctx context.Context, taskID string, resp *AgentResponse) {
	if resp == nil {
		return
	}
	graphID, ok := p.graphs.FindGraphForTask(taskID)
	if !ok {
		p.logger.Warn("TaskCompleted for unknown task", observability.String("task_id", taskID))
		return
	}

	var notifyAgentID, parentTaskID string
	var taskType TaskType
	var duration time.Duration
	p.graphs.WithGraphLock(func() {
		graph, ok := p.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[taskID]
		if !ok {
			return
		}
		taskType = node.TaskSpec.TaskType
		duration = time.Since(node.UpdatedAt)
		node.Status = TaskStatusCompleted
		node.Outputs = append(node.Outputs, resp.Deliverable)
		node.ErrorMessage = ""
		// RetryCount is deliberately left as-is rather than reset to zero: it
		// records how many attempts a node needed, which stays meaningful
		// after success rather than being thrown away by it.
		if err := p.graphs.PersistNode(ctx, node); err != nil {
			p.logger.Error("failed to persist completion", observability.String("task_id", taskID), observability.Err(err))
			return
		}

		for _, e := range graph.Edges {
			if e.ToNodeID == taskID {
				parentTaskID = e.FromNodeID
				break
			}
		}
	})
	if p.metrics != nil {
		p.metrics.RecordMultiagentTaskCompleted(string(taskType), duration)
	}
	// A completed node may be the last unmet dependency for one or more
	// children still sitting in PendingDependencies; re-evaluate readiness
	// now rather than waiting on an unrelated trigger.
	p.graphs.PromoteReady(ctx, graphID)

	agentID, ok := p.graphs.DelegationTake(taskID)
	if !ok || parentTaskID == "" {
		return
	}
	notifyAgentID = agentID

	worker, ok := p.registry.Get(notifyAgentID)
	if !ok || worker.GetStatus() != AgentStatusWaitingForDelegatedTask {
		return
	}
	p.bus.publishDirected("result_processor", notifyAgentID, MessageContent{
		Kind: ContentDelegatedTaskCompletedNotify,
		DelegatedNotify: &DelegatedTaskCompletedNotification{
			CompletedSubTaskID: taskID,
			ParentTaskID:       parentTaskID,
		},
	})
}

// handleFailed applies the retry policy: terminal failure past max
// retries, otherwise a deferred re-queue at the policy's computed delay.
func (p *ResultProcessor) handleFailed(ctx context.Context, taskID string, resp *AgentResponse) {
	if resp == nil {
		return
	}
	graphID, ok := p.graphs.FindGraphForTask(taskID)
	if !ok {
		p.logger.Warn("TaskFailed for unknown task", observability.String("task_id", taskID))
		return
	}

	var retryCount uint32
	var policy *TaskRetryPolicy
	var terminal bool
	var taskType TaskType
	var duration time.Duration
	p.graphs.WithGraphLock(func() {
		graph, ok := p.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[taskID]
		if !ok {
			return
		}
		taskType = node.TaskSpec.TaskType
		duration = time.Since(node.UpdatedAt)
		policy = node.RetryPolicy
		maxRetries := uint32(0)
		if policy != nil {
			maxRetries = policy.MaxRetries
		}
		if node.RetryCount >= maxRetries {
			node.Status = TaskStatusFailed
			node.ErrorMessage = resp.Error
			terminal = true
		} else {
			retryCount = node.RetryCount
			node.RetryCount++
			node.ErrorMessage = resp.Error
			node.Status = TaskStatusFailed // held here until the deferred re-queue flips it
		}
		if err := p.graphs.PersistNode(ctx, node); err != nil {
			p.logger.Error("failed to persist task failure", observability.String("task_id", taskID), observability.Err(err))
		}
	})
	if p.metrics != nil {
		p.metrics.RecordMultiagentTaskFailed(string(taskType), duration)
	}

	if terminal || policy == nil {
		return
	}

	delay := backoffDelay(policy, retryCount)
	go p.requeueAfter(ctx, graphID, taskID, delay)
}

// requeueAfter waits delay (or ctx cancellation) then flips the node back
// to ReadyToExecute, implementing the deferred re-queue.
func (p *ResultProcessor) requeueAfter(ctx context.Context, graphID, taskID string, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	p.graphs.WithGraphLock(func() {
		graph, ok := p.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[taskID]
		if !ok || node.Status != TaskStatusFailed {
			return
		}
		node.Status = TaskStatusReadyToExecute
		if err := p.graphs.PersistNode(ctx, node); err != nil {
			p.logger.Error("failed to persist re-queue", observability.String("task_id", taskID), observability.Err(err))
		}
	})
}

// backoffDelay fast-forwards a fresh retry.Backoff to priorRetryCount and
// returns the delay for the next attempt, so a persisted RetryCount can be
// replayed deterministically after a process restart rather than needing
// in-memory Backoff state to survive it.
func backoffDelay(policy *TaskRetryPolicy, priorRetryCount uint32) time.Duration {
	multiplier := 1.0
	if policy.BackoffStrategy == BackoffExponential {
		multiplier = 2.0
	}
	b := retry.NewBackoff(
		retry.WithInitialDelay(time.Duration(policy.RetryDelayMS)*time.Millisecond),
		retry.WithMultiplier(multiplier),
		retry.WithJitter(0),
		retry.WithMaxRetries(int(policy.MaxRetries)),
	)
	for i := uint32(0); i < priorRetryCount; i++ {
		b.Next()
	}
	return b.Next()
}

// handleSubTasksGenerated applies a Planner's decomposition batch
// atomically: every sub-node and sub-edge is added, or none are.
func (p *ResultProcessor) handleSubTasksGenerated(ctx context.Context, originalTaskID string, gen *SubTasksGenerated) {
	if gen == nil {
		return
	}
	graphID, ok := p.graphs.FindGraphForTask(originalTaskID)
	if !ok {
		p.logger.Warn("SubTasksGenerated for unknown task", observability.String("task_id", originalTaskID))
		return
	}

	tempToNew := make(map[string]string, len(gen.SubTasks))
	var addedNodes []string
	var addedEdges []string

	rollback := func() {
		for _, edgeID := range addedEdges {
			_ = p.graphs.RemoveEdge(graphID, edgeID)
		}
		for _, nodeID := range addedNodes {
			_ = p.graphs.RemoveNode(graphID, nodeID)
		}
	}

	fail := func(cause error) {
		rollback()
		decompErr := hiveerrors.NewDecompositionFailure(originalTaskID, cause)
		p.graphs.WithGraphLock(func() {
			graph, ok := p.graphs.graphs[graphID]
			if !ok {
				return
			}
			node, ok := graph.Nodes[originalTaskID]
			if !ok {
				return
			}
			node.Status = TaskStatusFailed
			node.ErrorMessage = decompErr.Error()
			_ = p.graphs.PersistNode(ctx, node)
		})
	}

	for _, def := range gen.SubTasks {
		newID, err := p.graphs.AddNode(ctx, graphID, def.Spec, "", nil)
		if err != nil {
			fail(err)
			return
		}
		tempToNew[def.TempID] = newID
		addedNodes = append(addedNodes, newID)
	}

	for _, edgeDef := range gen.Edges {
		fromID, ok := tempToNew[edgeDef.FromTempID]
		if !ok {
			fail(hiveerrors.ErrInvalidInput)
			return
		}
		toID, ok := tempToNew[edgeDef.ToTempID]
		if !ok {
			fail(hiveerrors.ErrInvalidInput)
			return
		}
		edgeID, err := p.graphs.AddEdge(ctx, graphID, fromID, toID, nil, nil)
		if err != nil {
			fail(err)
			return
		}
		addedEdges = append(addedEdges, edgeID)
	}

	// The original node is marked Completed directly; its own outputs stay
	// empty, downstream consumers bind to the new sub-nodes' outputs
	// through their own InputMappings.
	p.graphs.WithGraphLock(func() {
		graph, ok := p.graphs.graphs[graphID]
		if !ok {
			return
		}
		node, ok := graph.Nodes[originalTaskID]
		if !ok {
			return
		}
		node.Status = TaskStatusCompleted
		_ = p.graphs.PersistNode(ctx, node)
	})
	// Sub-nodes with no incoming edge within the batch (e.g. a decomposition's
	// first step) are ready immediately; others wait on PromoteReady's later
	// calls as their own producers complete.
	p.graphs.PromoteReady(ctx, graphID)
}
