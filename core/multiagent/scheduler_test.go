package multiagent

import (
	"context"
	"testing"
	"time"

	"github.com/carabistouflette/hive/observability"
)

func TestScheduler_ResolveInputsBindsFromProducerOutput(t *testing.T) {
	ctx := context.Background()
	g := newTestGraphManager()
	graphID, _ := g.CreateGraph("demo", "", "")

	producerID, _ := g.AddNode(ctx, graphID, TaskSpecification{RequiredRole: RoleSimpleWorker}, "", nil)
	mutateNode(g, graphID, producerID, func(n *TaskNode) {
		n.Status = TaskStatusCompleted
		n.Outputs = []Deliverable{{Kind: DeliverableGenericOutput, Content: "go"}}
	})

	consumerID, _ := g.AddNode(ctx, graphID, TaskSpecification{
		RequiredRole: RoleCoder,
		InputMappings: []InputMapping{
			{SourceTaskID: producerID, DeliverableKey: "go", TargetInputName: "language"},
		},
	}, "", nil)

	sched := NewScheduler(nil, g, NewWorkerRegistry(NewCommunicationBus(observability.NewNoOpLogger()), nil, observability.NewNoOpLogger()), NewCommunicationBus(observability.NewNoOpLogger()), observability.NewNoOpLogger())

	graph, _ := g.Graph(graphID)
	resolved, err := sched.resolveInputs(graphID, graph.Nodes[consumerID])
	if err != nil {
		t.Fatalf("resolveInputs: %v", err)
	}
	if resolved["language"] != "go" {
		t.Errorf("resolved[language] = %q, want %q", resolved["language"], "go")
	}
}

func TestScheduler_ResolveInputsFailsOnMissingDeliverable(t *testing.T) {
	ctx := context.Background()
	g := newTestGraphManager()
	graphID, _ := g.CreateGraph("demo", "", "")

	producerID, _ := g.AddNode(ctx, graphID, TaskSpecification{RequiredRole: RoleSimpleWorker}, "", nil)
	mutateNode(g, graphID, producerID, func(n *TaskNode) {
		n.Status = TaskStatusCompleted
		n.Outputs = []Deliverable{{Kind: DeliverableGenericOutput, Content: "rust"}}
	})

	consumerID, _ := g.AddNode(ctx, graphID, TaskSpecification{
		RequiredRole: RoleCoder,
		InputMappings: []InputMapping{
			{SourceTaskID: producerID, DeliverableKey: "go", TargetInputName: "language"},
		},
	}, "", nil)

	sched := NewScheduler(nil, g, NewWorkerRegistry(NewCommunicationBus(observability.NewNoOpLogger()), nil, observability.NewNoOpLogger()), NewCommunicationBus(observability.NewNoOpLogger()), observability.NewNoOpLogger())

	graph, _ := g.Graph(graphID)
	if _, err := sched.resolveInputs(graphID, graph.Nodes[consumerID]); err == nil {
		t.Error("resolveInputs succeeded despite no matching deliverable key, want error")
	}
}

func TestScheduler_CycleAssignsReadyNodeToAvailableWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewNoOpLogger()
	bus := NewCommunicationBus(logger)
	g := newTestGraphManager()
	registry := NewWorkerRegistry(bus, nil, logger)

	invoker, _ := newTestInvoker(newMockLLMProvider("mock"))
	if _, err := registry.Spawn(ctx, AgentConfig{Role: RoleSimpleWorker}, invoker); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sched := NewScheduler(&SchedulerConfig{Interval: time.Hour}, g, registry, bus, logger)

	graphID, _ := g.CreateGraph("demo", "", "")
	nodeID, _ := g.AddNode(ctx, graphID, TaskSpecification{RequiredRole: RoleSimpleWorker}, "", nil)
	mutateNode(g, graphID, nodeID, func(n *TaskNode) {
		n.Status = TaskStatusReadyToExecute
		n.CapabilityID = "echo_v1"
	})

	sched.cycle(ctx)

	waitFor(t, time.Second, func() bool {
		return nodeStatus(g, graphID, nodeID) == TaskStatusExecuting
	})
}

func TestScheduler_CycleLeavesNodeReadyWhenNoWorkerAvailable(t *testing.T) {
	ctx := context.Background()
	logger := observability.NewNoOpLogger()
	bus := NewCommunicationBus(logger)
	g := newTestGraphManager()
	registry := NewWorkerRegistry(bus, nil, logger)
	sched := NewScheduler(&SchedulerConfig{Interval: time.Hour}, g, registry, bus, logger)

	graphID, _ := g.CreateGraph("demo", "", "")
	nodeID, _ := g.AddNode(ctx, graphID, TaskSpecification{RequiredRole: RoleCoder}, "", nil)
	mutateNode(g, graphID, nodeID, func(n *TaskNode) {
		n.Status = TaskStatusReadyToExecute
	})

	sched.cycle(ctx)

	if nodeStatus(g, graphID, nodeID) != TaskStatusReadyToExecute {
		t.Errorf("node status = %s, want ReadyToExecute (no Coder worker registered)", nodeStatus(g, graphID, nodeID))
	}
}

func TestScheduler_FailBindingMarksNodeFailed(t *testing.T) {
	ctx := context.Background()
	logger := observability.NewNoOpLogger()
	g := newTestGraphManager()
	sched := NewScheduler(nil, g, NewWorkerRegistry(NewCommunicationBus(logger), nil, logger), NewCommunicationBus(logger), logger)

	graphID, _ := g.CreateGraph("demo", "", "")
	nodeID, _ := g.AddNode(ctx, graphID, TaskSpecification{RequiredRole: RoleSimpleWorker}, "", nil)

	sched.failBinding(ctx, graphID, nodeID, "boom")

	graph, _ := g.Graph(graphID)
	node := graph.Nodes[nodeID]
	if node.Status != TaskStatusFailed {
		t.Errorf("node status = %s, want Failed", node.Status)
	}
	if node.ErrorMessage != "boom" {
		t.Errorf("node ErrorMessage = %q, want %q", node.ErrorMessage, "boom")
	}
}
