package multiagent

import (
	"context"

	"github.com/carabistouflette/hive/observability"
)

// ResultEventKind discriminates the three outcomes the router forwards to
// the Result Processor.
type ResultEventKind string

const (
	ResultTaskCompleted     ResultEventKind = "TaskCompleted"
	ResultTaskFailed        ResultEventKind = "TaskFailed"
	ResultSubTasksGenerated ResultEventKind = "SubTasksGenerated"
)

// ResultEvent is one item on the result channel between the router and the
// Result Processor.
type ResultEvent struct {
	Kind              ResultEventKind
	TaskID            string
	AgentResponse     *AgentResponse     // set for TaskCompleted/TaskFailed
	SubTasksGenerated *SubTasksGenerated // set for SubTasksGenerated
}

// OrchestratorRouter is the single consumer of the bus's upstream queue. It
// is single-threaded over that queue and translates each
// BusRequest per the routing table: terminal outcomes go to the result
// channel, information/delegation traffic is republished as a directed
// downstream message.
type OrchestratorRouter struct {
	bus      *CommunicationBus
	registry *WorkerRegistry
	graphs   *GraphManager
	logger   observability.Logger
	metrics  *observability.MetricsCollector

	results chan ResultEvent
}

// NewOrchestratorRouter builds a router wired to bus/registry/graphs. The
// result channel is buffered to DefaultBusCapacity, matching the bus's own
// suggested capacity.
func NewOrchestratorRouter(bus *CommunicationBus, registry *WorkerRegistry, graphs *GraphManager, logger observability.Logger) *OrchestratorRouter {
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &OrchestratorRouter{
		bus:      bus,
		registry: registry,
		graphs:   graphs,
		logger:   logger,
		metrics:  observability.GetMetrics(),
		results:  make(chan ResultEvent, DefaultBusCapacity),
	}
}

// Results exposes the receive side for the Result Processor.
func (r *OrchestratorRouter) Results() <-chan ResultEvent {
	return r.results
}

// Run drains the bus's upstream queue until ctx is cancelled. It is the
// queue's single consumer; callers must not also read bus.Upstream()
// elsewhere.
func (r *OrchestratorRouter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-r.bus.Upstream():
			if !ok {
				return
			}
			r.route(ctx, req)
		}
	}
}

func (r *OrchestratorRouter) route(ctx context.Context, req BusRequest) {
	switch req.Kind {
	case BusRequestAgentResponse:
		r.routeAgentResponse(req.AgentResponse)
	case BusRequestGeneralMessage:
		r.routeMessageContent(ctx, req.Message)
	}
}

func (r *OrchestratorRouter) routeAgentResponse(resp *AgentResponse) {
	if resp == nil {
		return
	}
	switch resp.Kind {
	case AgentResponseTaskCompleted:
		r.emit(ResultEvent{Kind: ResultTaskCompleted, TaskID: resp.TaskID, AgentResponse: resp})
	case AgentResponseTaskFailed:
		r.emit(ResultEvent{Kind: ResultTaskFailed, TaskID: resp.TaskID, AgentResponse: resp})
	}
}

func (r *OrchestratorRouter) routeMessageContent(ctx context.Context, msg Message) {
	switch msg.Content.Kind {
	case ContentSubTasksGenerated:
		gen := msg.Content.SubTasksGenerated
		if gen == nil {
			return
		}
		r.emit(ResultEvent{Kind: ResultSubTasksGenerated, TaskID: gen.OriginalTaskID, SubTasksGenerated: gen})

	case ContentRequestInformation:
		req := msg.Content.RequestInformation
		if req == nil {
			return
		}
		worker, ok := r.registry.FindAvailable(req.OriginalTaskID, rolePtr(RoleResearcher))
		if !ok {
			r.logger.Warn("no researcher available for information request",
				observability.String("task_id", req.OriginalTaskID))
			return
		}
		r.bus.publishDirected(msg.SenderID, worker.GetConfig().ID, msg.Content)

	case ContentReturnInformation:
		resp := msg.Content.ReturnInformation
		if resp == nil {
			return
		}
		r.bus.publishDirected(msg.SenderID, resp.OriginalRequestingAgentID, msg.Content)

	case ContentDelegateSubTask:
		r.routeDelegateSubTask(ctx, msg.Content.DelegateSubTask)

	default:
		// Others ignored, per the routing table.
	}
}

// routeDelegateSubTask implements the add_node/add_edge/delegation-map
// sequence: a sub-task delegated by a worker gets its own node and an edge
// from the parent, and the delegation map records which agent is waiting on
// it so the eventual completion can notify that agent rather than just the
// scheduler. The parent->sub-task edge exists to link the two nodes for that
// notification lookup, not to gate scheduling on the parent's own
// completion: the delegating parent is still Executing (waiting on this
// very sub-task), so the sub-task is marked ready directly instead of going
// through PromoteReady's producer-Completed check, which it could never
// satisfy.
func (r *OrchestratorRouter) routeDelegateSubTask(ctx context.Context, req *SubTaskDelegationRequest) {
	if req == nil {
		return
	}
	fail := func(message string) {
		r.emit(ResultEvent{
			Kind:   ResultTaskFailed,
			TaskID: req.ParentTaskID,
			AgentResponse: &AgentResponse{
				Kind:    AgentResponseTaskFailed,
				TaskID:  req.ParentTaskID,
				AgentID: req.DelegatingAgentID,
				Error:   message,
			},
		})
	}

	graphID, ok := r.graphs.FindGraphForTask(req.ParentTaskID)
	if !ok {
		fail("parent task's graph not found for delegated sub-task")
		return
	}

	newID, err := r.graphs.AddNode(ctx, graphID, req.SubTaskSpec, "", nil)
	if err != nil {
		fail(err.Error())
		return
	}
	if _, err := r.graphs.AddEdge(ctx, graphID, req.ParentTaskID, newID, nil, nil); err != nil {
		_ = r.graphs.RemoveNode(graphID, newID)
		fail(err.Error())
		return
	}

	r.graphs.DelegationPut(newID, req.DelegatingAgentID)
	if err := r.graphs.MarkNodeReady(ctx, graphID, newID); err != nil {
		fail(err.Error())
		return
	}
}

func (r *OrchestratorRouter) emit(ev ResultEvent) {
	r.results <- ev
}

func rolePtr(role AgentRole) *AgentRole {
	return &role
}
