package multiagent

import (
	"context"
	"sync"
)

// InMemoryStore is a PersistenceStore backed by plain maps, guarded by one
// mutex. It is used in tests and in no-database deployments; it never
// returns a parse error since values are held as live Go structs rather
// than serialized blobs, but callers still get defensive copies so mutating
// a returned node never corrupts the store's own state.
type InMemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*TaskNode
	edges   map[string]*TaskEdge
	sprints map[string]*Sprint
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks:   make(map[string]*TaskNode),
		edges:   make(map[string]*TaskEdge),
		sprints: make(map[string]*Sprint),
	}
}

func copyTaskNode(n *TaskNode) *TaskNode {
	cp := *n
	cp.Inputs = make(map[string]string, len(n.Inputs))
	for k, v := range n.Inputs {
		cp.Inputs[k] = v
	}
	cp.Outputs = append([]Deliverable(nil), n.Outputs...)
	return &cp
}

func (s *InMemoryStore) SaveTask(ctx context.Context, node *TaskNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[node.ID] = copyTaskNode(node)
	return nil
}

func (s *InMemoryStore) LoadTask(ctx context.Context, id string) (*TaskNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return copyTaskNode(node), nil
}

func (s *InMemoryStore) LoadAllTasks(ctx context.Context) ([]*TaskNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TaskNode, 0, len(s.tasks))
	for _, n := range s.tasks {
		out = append(out, copyTaskNode(n))
	}
	return out, nil
}

func (s *InMemoryStore) SaveEdge(ctx context.Context, edge *TaskEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *edge
	s.edges[edge.ID] = &cp
	return nil
}

func (s *InMemoryStore) LoadAllEdges(ctx context.Context) ([]*TaskEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TaskEdge, 0, len(s.edges))
	for _, e := range s.edges {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) SaveSprint(ctx context.Context, sprint *Sprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sprint
	s.sprints[sprint.ID] = &cp
	return nil
}

func (s *InMemoryStore) LoadSprint(ctx context.Context, id string) (*Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sprint, ok := s.sprints[id]
	if !ok {
		return nil, nil
	}
	cp := *sprint
	return &cp, nil
}

func (s *InMemoryStore) LoadAllSprints(ctx context.Context) ([]*Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Sprint, 0, len(s.sprints))
	for _, sp := range s.sprints {
		cp := *sp
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) Health(ctx context.Context) error {
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
