package multiagent

import "context"

// PersistenceStore is the narrow, entity-keyed contract:
// write operations are upsert-by-id, read operations return either a single
// row or every row for initial load. Implementations must treat each save
// as atomic at row granularity and must surface parse failures on load as
// errors rather than silently defaulting structural fields.
type PersistenceStore interface {
	SaveTask(ctx context.Context, node *TaskNode) error
	LoadTask(ctx context.Context, id string) (*TaskNode, error)
	LoadAllTasks(ctx context.Context) ([]*TaskNode, error)

	SaveEdge(ctx context.Context, edge *TaskEdge) error
	LoadAllEdges(ctx context.Context) ([]*TaskEdge, error)

	SaveSprint(ctx context.Context, sprint *Sprint) error
	LoadSprint(ctx context.Context, id string) (*Sprint, error)
	LoadAllSprints(ctx context.Context) ([]*Sprint, error)

	Health(ctx context.Context) error
	Close() error
}

// PersistenceBackend selects which PersistenceStore implementation the
// factory constructs.
type PersistenceBackend string

const (
	PersistenceBackendInMemory PersistenceBackend = "inmemory"
	PersistenceBackendPostgres PersistenceBackend = "postgres"
)
