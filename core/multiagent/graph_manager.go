package multiagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	hiveerrors "github.com/carabistouflette/hive/errors"
	"github.com/carabistouflette/hive/observability"
)

// GraphManager owns every TaskGraph and Sprint in the system plus the
// delegation map, gated by one writer lock per kind. Every
// mutating operation is write-through to the PersistenceStore: the
// persistence call happens before (or as part of) the in-memory mutation,
// so a PersistenceError always leaves the in-memory state unadvanced.
type GraphManager struct {
	store  PersistenceStore
	logger observability.Logger

	graphsMu sync.RWMutex
	graphs   map[string]*TaskGraph

	sprintsMu sync.RWMutex
	sprints   map[string]*Sprint

	delegationMu sync.Mutex
	delegation   map[string]string // sub-task id -> delegating agent id
}

// NewGraphManager creates an empty manager backed by store.
func NewGraphManager(store PersistenceStore, logger observability.Logger) *GraphManager {
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &GraphManager{
		store:      store,
		logger:     logger,
		graphs:     make(map[string]*TaskGraph),
		sprints:    make(map[string]*Sprint),
		delegation: make(map[string]string),
	}
}

// CreateGraph starts a new, empty, Pending graph.
func (g *GraphManager) CreateGraph(name, description, goal string) (string, error) {
	now := time.Now()
	graph := &TaskGraph{
		ID:          newID(),
		Name:        name,
		Description: description,
		Goal:        goal,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      GraphStatusPending,
		Nodes:       make(map[string]*TaskNode),
	}

	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()
	g.graphs[graph.ID] = graph
	return graph.ID, nil
}

// AddNode persists a new node first, then inserts it into the graph.
func (g *GraphManager) AddNode(ctx context.Context, graphID string, spec TaskSpecification, sprintID string, estimatedDurationMS *uint64) (string, error) {
	now := time.Now()
	node := &TaskNode{
		ID:                  newID(),
		Name:                spec.Name,
		Description:         spec.Description,
		TaskSpec:            spec,
		Status:              TaskStatusPendingDependencies,
		CapabilityID:        "",
		Inputs:              make(map[string]string),
		Priority:            spec.Priority,
		EstimatedDurationMS: estimatedDurationMS,
		CreatedAt:           now,
		UpdatedAt:           now,
		SprintID:            sprintID,
	}
	if spec.RequiredAgentRole != nil {
		node.AgentRoleType = spec.RequiredAgentRole
	} else {
		role := spec.RequiredRole
		node.AgentRoleType = &role
	}

	if err := g.store.SaveTask(ctx, node); err != nil {
		return "", hiveerrors.NewPersistenceError("task", "save", err)
	}

	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()
	graph, ok := g.graphs[graphID]
	if !ok {
		return "", fmt.Errorf("graph %s not found", graphID)
	}
	graph.Nodes[node.ID] = node
	// A freshly added node has no incoming edges yet, so it starts as a
	// root candidate; AddEdge drops it from RootNodeIDs the moment some
	// edge targets it.
	graph.RootNodeIDs = append(graph.RootNodeIDs, node.ID)
	graph.UpdatedAt = now
	return node.ID, nil
}

// AddEdge rejects the call if either endpoint is missing from the graph.
func (g *GraphManager) AddEdge(ctx context.Context, graphID, fromID, toID string, condition *string, dataMapping map[string]string) (string, error) {
	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()

	graph, ok := g.graphs[graphID]
	if !ok {
		return "", fmt.Errorf("graph %s not found", graphID)
	}
	if _, ok := graph.Nodes[fromID]; !ok {
		return "", fmt.Errorf("edge endpoint %s not found in graph %s", fromID, graphID)
	}
	if _, ok := graph.Nodes[toID]; !ok {
		return "", fmt.Errorf("edge endpoint %s not found in graph %s", toID, graphID)
	}

	edge := &TaskEdge{
		ID:          newID(),
		FromNodeID:  fromID,
		ToNodeID:    toID,
		EdgeType:    EdgeTypeDependency,
		Condition:   condition,
		DataMapping: dataMapping,
	}

	if err := g.store.SaveEdge(ctx, edge); err != nil {
		return "", hiveerrors.NewPersistenceError("edge", "save", err)
	}

	graph.Edges = append(graph.Edges, edge)
	// toID now has an incoming edge; drop it from RootNodeIDs if present.
	filtered := graph.RootNodeIDs[:0]
	for _, id := range graph.RootNodeIDs {
		if id != toID {
			filtered = append(filtered, id)
		}
	}
	graph.RootNodeIDs = filtered
	graph.UpdatedAt = time.Now()

	return edge.ID, nil
}

// RemoveNode and RemoveEdge are used only by the subtask-decomposition
// cleanup path when a batch partially fails.
func (g *GraphManager) RemoveNode(graphID, nodeID string) error {
	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()
	graph, ok := g.graphs[graphID]
	if !ok {
		return fmt.Errorf("graph %s not found", graphID)
	}
	delete(graph.Nodes, nodeID)
	return nil
}

func (g *GraphManager) RemoveEdge(graphID, edgeID string) error {
	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()
	graph, ok := g.graphs[graphID]
	if !ok {
		return fmt.Errorf("graph %s not found", graphID)
	}
	out := graph.Edges[:0]
	for _, e := range graph.Edges {
		if e.ID != edgeID {
			out = append(out, e)
		}
	}
	graph.Edges = out
	return nil
}

// FindGraphForTask does a linear scan across graphs for the one owning
// nodeID.
func (g *GraphManager) FindGraphForTask(nodeID string) (string, bool) {
	g.graphsMu.RLock()
	defer g.graphsMu.RUnlock()
	for id, graph := range g.graphs {
		if _, ok := graph.Nodes[nodeID]; ok {
			return id, true
		}
	}
	return "", false
}

// Graph returns a direct pointer to the graph for callers (scheduler,
// router) that need to read/mutate node state under their own care; callers
// must still coordinate via GraphManager's lock helpers below.
func (g *GraphManager) Graph(graphID string) (*TaskGraph, bool) {
	g.graphsMu.RLock()
	defer g.graphsMu.RUnlock()
	graph, ok := g.graphs[graphID]
	return graph, ok
}

// WithGraphsRLock runs fn while holding the graphs read lock, for callers
// that must snapshot across every graph consistently (the scheduler's
// per-cycle scan).
func (g *GraphManager) WithGraphsRLock(fn func(graphs map[string]*TaskGraph)) {
	g.graphsMu.RLock()
	defer g.graphsMu.RUnlock()
	fn(g.graphs)
}

// WithGraphLock runs fn while holding the writer lock, for short critical
// sections that mutate one graph (assignment, completion, failure). The
// lock is graph-manager-wide rather than per-graph, following a single
// writer lock per kind rather than finer-grained per-graph locking.
func (g *GraphManager) WithGraphLock(fn func()) {
	g.graphsMu.Lock()
	defer g.graphsMu.Unlock()
	fn()
}

// PersistNode saves a node's current in-memory state back to the store.
// Callers hold the graph lock across the in-memory mutation and this call
// so mutation and persistence stay consistent.
func (g *GraphManager) PersistNode(ctx context.Context, node *TaskNode) error {
	node.UpdatedAt = time.Now()
	if err := g.store.SaveTask(ctx, node); err != nil {
		return hiveerrors.NewPersistenceError("task", "save", err)
	}
	return nil
}

// PromoteReady transitions every PendingDependencies node in graphID to
// ReadyToExecute once all of its incoming Dependency edges originate from
// Completed nodes (a node with no incoming edges is trivially satisfied).
// This is the state machine transition ("All incoming dependency edges
// lead to Completed nodes -> ReadyToExecute"); callers
// invoke it at the points that can unblock a node: after a node is added
// with no edges yet pointing at it, after a decomposition batch's edges are
// attached, and after a producer node completes.
func (g *GraphManager) PromoteReady(ctx context.Context, graphID string) {
	var toPersist []*TaskNode

	g.graphsMu.Lock()
	if graph, ok := g.graphs[graphID]; ok {
		incoming := make(map[string][]string, len(graph.Edges))
		for _, e := range graph.Edges {
			incoming[e.ToNodeID] = append(incoming[e.ToNodeID], e.FromNodeID)
		}
		for _, node := range graph.Nodes {
			if node.Status != TaskStatusPendingDependencies {
				continue
			}
			ready := true
			for _, fromID := range incoming[node.ID] {
				producer, ok := graph.Nodes[fromID]
				if !ok || producer.Status != TaskStatusCompleted {
					ready = false
					break
				}
			}
			if ready {
				node.Status = TaskStatusReadyToExecute
				toPersist = append(toPersist, node)
			}
		}
		graph.UpdatedAt = time.Now()
	}
	g.graphsMu.Unlock()

	for _, node := range toPersist {
		if err := g.PersistNode(ctx, node); err != nil {
			g.logger.Error("failed to persist readiness promotion",
				observability.String("task_id", node.ID), observability.Err(err))
		}
	}
}

// MarkNodeReady transitions a single node straight from PendingDependencies
// to ReadyToExecute without checking its incoming edges' producers. This is
// for delegated sub-tasks: their incoming edge records which worker is
// waiting on them, not a data dependency, so they must be schedulable right
// away even though the delegating parent is still Executing (and so could
// never satisfy PromoteReady's producer-Completed check).
func (g *GraphManager) MarkNodeReady(ctx context.Context, graphID, nodeID string) error {
	var node *TaskNode
	g.graphsMu.Lock()
	if graph, ok := g.graphs[graphID]; ok {
		if n, ok := graph.Nodes[nodeID]; ok && n.Status == TaskStatusPendingDependencies {
			n.Status = TaskStatusReadyToExecute
			graph.UpdatedAt = time.Now()
			node = n
		}
	}
	g.graphsMu.Unlock()

	if node == nil {
		return nil
	}
	return g.PersistNode(ctx, node)
}

// CreateSprint creates a Planned sprint.
func (g *GraphManager) CreateSprint(ctx context.Context, name, goal string) (string, error) {
	sprint := &Sprint{
		ID:     newID(),
		Name:   name,
		Goal:   goal,
		Status: SprintStatusPlanned,
	}
	if err := g.store.SaveSprint(ctx, sprint); err != nil {
		return "", hiveerrors.NewPersistenceError("sprint", "save", err)
	}

	g.sprintsMu.Lock()
	defer g.sprintsMu.Unlock()
	g.sprints[sprint.ID] = sprint
	return sprint.ID, nil
}

// StartSprint transitions Planned -> Active.
func (g *GraphManager) StartSprint(ctx context.Context, id string) error {
	g.sprintsMu.Lock()
	defer g.sprintsMu.Unlock()
	sprint, ok := g.sprints[id]
	if !ok {
		return fmt.Errorf("sprint %s not found", id)
	}
	if sprint.Status != SprintStatusPlanned {
		return fmt.Errorf("sprint %s is %s, not Planned", id, sprint.Status)
	}
	now := time.Now()
	updated := *sprint
	updated.Status = SprintStatusActive
	updated.StartDate = &now
	if err := g.store.SaveSprint(ctx, &updated); err != nil {
		return hiveerrors.NewPersistenceError("sprint", "save", err)
	}
	*sprint = updated
	return nil
}

// CompleteSprint transitions Active -> Completed.
func (g *GraphManager) CompleteSprint(ctx context.Context, id string) error {
	g.sprintsMu.Lock()
	defer g.sprintsMu.Unlock()
	sprint, ok := g.sprints[id]
	if !ok {
		return fmt.Errorf("sprint %s not found", id)
	}
	if sprint.Status != SprintStatusActive {
		return fmt.Errorf("sprint %s is %s, not Active", id, sprint.Status)
	}
	now := time.Now()
	updated := *sprint
	updated.Status = SprintStatusCompleted
	updated.EndDate = &now
	if err := g.store.SaveSprint(ctx, &updated); err != nil {
		return hiveerrors.NewPersistenceError("sprint", "save", err)
	}
	*sprint = updated
	return nil
}

// DelegationPut records which agent is awaiting completion of a delegated
// sub-task.
func (g *GraphManager) DelegationPut(subID, delegatingAgentID string) {
	g.delegationMu.Lock()
	defer g.delegationMu.Unlock()
	g.delegation[subID] = delegatingAgentID
}

// DelegationTake removes and returns the delegating agent id for subID, if
// present.
func (g *GraphManager) DelegationTake(subID string) (string, bool) {
	g.delegationMu.Lock()
	defer g.delegationMu.Unlock()
	agentID, ok := g.delegation[subID]
	if ok {
		delete(g.delegation, subID)
	}
	return agentID, ok
}

// LoadFromStore rebuilds in-memory graph and sprint state from the
// persistence store on startup, scanning edges for nodes with no incoming
// edge (roots) and inferring a graph's status from its nodes' terminal
// statuses. Graphs that cannot be reconstructed with enough fidelity are
// placed in Pending and logged rather than guessed at silently.
func (g *GraphManager) LoadFromStore(ctx context.Context) error {
	nodes, err := g.store.LoadAllTasks(ctx)
	if err != nil {
		return hiveerrors.NewPersistenceError("task", "load_all", err)
	}
	edges, err := g.store.LoadAllEdges(ctx)
	if err != nil {
		return hiveerrors.NewPersistenceError("edge", "load_all", err)
	}
	sprints, err := g.store.LoadAllSprints(ctx)
	if err != nil {
		return hiveerrors.NewPersistenceError("sprint", "load_all", err)
	}

	g.sprintsMu.Lock()
	for _, s := range sprints {
		g.sprints[s.ID] = s
	}
	g.sprintsMu.Unlock()

	// Persisted rows carry no graph id today (the layout is flat across
	// tables); reconstruct a single recovered graph containing every
	// persisted node and edge rather than inventing per-graph grouping we
	// have no record of. Multi-graph partitioning at persistence time is a
	// natural extension once the schema carries a graph_id column.
	if len(nodes) == 0 {
		return nil
	}

	graph := &TaskGraph{
		ID:        newID(),
		Name:      "recovered",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Nodes:     make(map[string]*TaskNode),
	}
	for _, n := range nodes {
		graph.Nodes[n.ID] = n
	}
	graph.Edges = edges

	incoming := make(map[string]bool, len(nodes))
	for _, e := range edges {
		incoming[e.ToNodeID] = true
	}
	for id := range graph.Nodes {
		if !incoming[id] {
			graph.RootNodeIDs = append(graph.RootNodeIDs, id)
		}
	}

	graph.Status = inferGraphStatus(graph)
	if graph.Status == GraphStatusPending {
		g.logger.Warn("recovered graph reconstructed with Pending status: insufficient data to infer terminal state",
			observability.String("graph_id", graph.ID))
	}

	g.graphsMu.Lock()
	g.graphs[graph.ID] = graph
	g.graphsMu.Unlock()

	return nil
}

func inferGraphStatus(graph *TaskGraph) TaskGraphStatus {
	if len(graph.Nodes) == 0 {
		return GraphStatusPending
	}
	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, n := range graph.Nodes {
		switch n.Status {
		case TaskStatusCompleted:
		case TaskStatusFailed, TaskStatusBlockedByError:
			anyFailed = true
			allCompleted = false
		default:
			anyActive = true
			allCompleted = false
		}
	}
	switch {
	case allCompleted:
		return GraphStatusCompleted
	case anyFailed && !anyActive:
		return GraphStatusFailed
	case anyActive:
		return GraphStatusActive
	default:
		return GraphStatusPending
	}
}
