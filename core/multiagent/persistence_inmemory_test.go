package multiagent

import (
	"context"
	"testing"
)

func TestInMemoryStore_SaveAndLoadTaskRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	node := &TaskNode{
		ID:      "t1",
		Status:  TaskStatusExecuting,
		Inputs:  map[string]string{"k": "v"},
		Outputs: []Deliverable{{Kind: DeliverableGenericOutput, Content: "x"}},
	}
	if err := store.SaveTask(ctx, node); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	loaded, err := store.LoadTask(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded == nil || loaded.Status != TaskStatusExecuting {
		t.Fatalf("loaded = %+v, want a TaskNode with Status=Executing", loaded)
	}
	if loaded.Inputs["k"] != "v" {
		t.Errorf("Inputs[k] = %q, want %q", loaded.Inputs["k"], "v")
	}
}

func TestInMemoryStore_SaveTaskCopiesInputsDefensively(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	node := &TaskNode{ID: "t1", Inputs: map[string]string{"k": "v"}}
	if err := store.SaveTask(ctx, node); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	node.Inputs["k"] = "mutated-after-save"

	loaded, err := store.LoadTask(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded.Inputs["k"] != "v" {
		t.Errorf("Inputs[k] = %q, want %q (store should hold its own copy)", loaded.Inputs["k"], "v")
	}
}

func TestInMemoryStore_LoadTaskMissingReturnsNilNoError(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	loaded, err := store.LoadTask(ctx, "unknown")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %+v, want nil for an unknown id", loaded)
	}
}

func TestInMemoryStore_LoadAllTasks(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.SaveTask(ctx, &TaskNode{ID: id}); err != nil {
			t.Fatalf("SaveTask(%s): %v", id, err)
		}
	}

	all, err := store.LoadAllTasks(ctx)
	if err != nil {
		t.Fatalf("LoadAllTasks: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestInMemoryStore_EdgeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	edge := &TaskEdge{ID: "e1", FromNodeID: "a", ToNodeID: "b", EdgeType: EdgeTypeDependency}
	if err := store.SaveEdge(ctx, edge); err != nil {
		t.Fatalf("SaveEdge: %v", err)
	}

	all, err := store.LoadAllEdges(ctx)
	if err != nil {
		t.Fatalf("LoadAllEdges: %v", err)
	}
	if len(all) != 1 || all[0].ID != "e1" {
		t.Errorf("LoadAllEdges = %+v, want one edge e1", all)
	}
}

func TestInMemoryStore_SprintLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sprint := &Sprint{ID: "s1", Status: SprintStatusPlanned}
	if err := store.SaveSprint(ctx, sprint); err != nil {
		t.Fatalf("SaveSprint: %v", err)
	}

	loaded, err := store.LoadSprint(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSprint: %v", err)
	}
	if loaded == nil || loaded.Status != SprintStatusPlanned {
		t.Fatalf("loaded = %+v, want Status=Planned", loaded)
	}

	sprint.Status = SprintStatusActive
	if err := store.SaveSprint(ctx, sprint); err != nil {
		t.Fatalf("SaveSprint (update): %v", err)
	}
	all, err := store.LoadAllSprints(ctx)
	if err != nil {
		t.Fatalf("LoadAllSprints: %v", err)
	}
	if len(all) != 1 || all[0].Status != SprintStatusActive {
		t.Errorf("LoadAllSprints = %+v, want one sprint with Status=Active", all)
	}
}

func TestInMemoryStore_HealthAndClose(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
