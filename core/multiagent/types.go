package multiagent

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole identifies the kind of worker required to process a node.
type AgentRole string

const (
	RolePlanner      AgentRole = "Planner"
	RoleResearcher   AgentRole = "Researcher"
	RoleWriter       AgentRole = "Writer"
	RoleCoder        AgentRole = "Coder"
	RoleValidator    AgentRole = "Validator"
	RoleSimpleWorker AgentRole = "SimpleWorker"
)

// AgentStatus is the lifecycle status of a worker. Idle and Ready are the
// only statuses the registry considers available for assignment.
type AgentStatus string

const (
	AgentStatusIdle                    AgentStatus = "Idle"
	AgentStatusReady                   AgentStatus = "Ready"
	AgentStatusBusy                    AgentStatus = "Busy"
	AgentStatusWaitingForInformation   AgentStatus = "Waiting For Information"
	AgentStatusWaitingForDelegatedTask AgentStatus = "Waiting For Delegated Task"
	AgentStatusFailed                  AgentStatus = "Failed"
	AgentStatusTaskFailedRetryable     AgentStatus = "Task Failed (Retryable)"
	AgentStatusTaskFailedTerminal      AgentStatus = "Task Failed (Terminal)"
)

// IsAvailable reports whether a worker in this status can accept a new task.
func (s AgentStatus) IsAvailable() bool {
	return s == AgentStatusIdle || s == AgentStatusReady
}

// AgentCapabilities are advisory boolean flags attached to a worker at spawn
// time. Role match alone is sufficient for availability; these exist so a
// scheduler extension can prefer a more specifically capable worker.
type AgentCapabilities struct {
	CanResearch     bool
	CanWrite        bool
	CanPlan         bool
	CanCode         bool
	CanDesign       bool
	CanTest         bool
	CanDebug        bool
	CanArchitect    bool
	CanManageSprint bool
	CanUseTool      bool
}

// CapabilitiesForRole returns the canonical capability flags for a role.
func CapabilitiesForRole(role AgentRole) AgentCapabilities {
	switch role {
	case RolePlanner:
		return AgentCapabilities{CanPlan: true}
	case RoleResearcher:
		return AgentCapabilities{CanResearch: true}
	case RoleWriter:
		return AgentCapabilities{CanWrite: true}
	case RoleCoder:
		return AgentCapabilities{CanCode: true}
	case RoleValidator:
		return AgentCapabilities{CanTest: true}
	default:
		return AgentCapabilities{CanUseTool: true}
	}
}

// AgentConfig is the configuration handed to the registry's spawn operation.
type AgentConfig struct {
	ID       string
	Role     AgentRole
	LLMModel string
}

// TaskType tags the nature of a node's work, used by role handlers to branch
// on behavior beyond the coarse role assignment.
type TaskType string

const (
	TaskTypeGeneric        TaskType = "Generic"
	TaskTypeDecompose      TaskType = "Decompose"
	TaskTypeResearch       TaskType = "Research"
	TaskTypeDraftContent   TaskType = "DraftContent"
	TaskTypeGenerateCode   TaskType = "GenerateCode"
	TaskTypeValidateContent TaskType = "ValidateContent"
)

// InputMapping names one input a node needs resolved from a producer node's
// outputs before it can run.
type InputMapping struct {
	SourceTaskID    string
	DeliverableKey  string
	TargetInputName string
}

// TaskSpecification is the immutable blueprint of a node's work.
type TaskSpecification struct {
	Name               string
	Description        string
	RequiredRole       AgentRole
	RequiredAgentRole  *AgentRole // more specific than RequiredRole, if set wins worker selection
	Priority           uint8
	Context            *string
	TaskType           TaskType
	InputMappings      []InputMapping
}

// BackoffStrategy selects how retry_delay_ms grows across attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// TaskRetryPolicy bounds and paces automatic retry of TaskFailed outcomes.
type TaskRetryPolicy struct {
	MaxRetries     uint32
	RetryDelayMS   uint64
	BackoffStrategy BackoffStrategy
}

// TaskStatus is the node state machine's current state.
type TaskStatus string

const (
	TaskStatusPendingDependencies TaskStatus = "PendingDependencies"
	TaskStatusReadyToExecute      TaskStatus = "ReadyToExecute"
	TaskStatusExecuting           TaskStatus = "Executing"
	TaskStatusCompleted           TaskStatus = "Completed"
	TaskStatusFailed              TaskStatus = "Failed"
	TaskStatusAwaitingValidation  TaskStatus = "AwaitingValidation"
	TaskStatusBlockedByError      TaskStatus = "BlockedByError"
)

// DeliverableKind tags the payload shape a Deliverable carries.
type DeliverableKind string

const (
	DeliverableResearchReport   DeliverableKind = "ResearchReport"
	DeliverableCodePatch        DeliverableKind = "CodePatch"
	DeliverableDraftedContent   DeliverableKind = "DraftedContent"
	DeliverableValidationReport DeliverableKind = "ValidationReport"
	DeliverableGenericOutput    DeliverableKind = "GenericOutput"
)

// Deliverable is a tagged output variant produced by a completed node. New
// kinds may be added; matchKey() must keep returning the canonical selector
// field so deliverable_key matching degrades gracefully for variants a given
// binary does not know about.
type Deliverable struct {
	Kind    DeliverableKind
	Content string   // canonical selector field, also holds CodePatch's body
	Sources []string // populated only for ResearchReport
}

// matchKey returns the canonical field used for deliverable_key matching.
// It reads Content for every kind, known or not, and a zero-value
// Deliverable yields the empty string, so the scheduler's matching loop
// degrades gracefully.
func (d Deliverable) matchKey() string {
	return d.Content
}

// TaskNode is the unit of work in a TaskGraph.
type TaskNode struct {
	ID                  string
	Name                string
	Description         string
	TaskSpec             TaskSpecification
	Status              TaskStatus
	AgentRoleType       *AgentRole
	CapabilityID        string // mcp_id in the persistence layout
	Inputs              map[string]string
	Outputs             []Deliverable
	RetryCount          uint32
	RetryPolicy         *TaskRetryPolicy
	Priority            uint8
	EstimatedDurationMS *uint64
	ActualDurationMS    *uint64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	AssignedAgentID     string
	ErrorMessage        string
	SprintID            string
}

// TaskEdgeType is the kind of dependency an edge represents. Only Dependency
// is defined today; the type exists so more kinds can be added later.
type TaskEdgeType string

const (
	EdgeTypeDependency TaskEdgeType = "Dependency"
)

// TaskEdge is a directed dependency between two nodes in one graph.
type TaskEdge struct {
	ID           string
	FromNodeID   string
	ToNodeID     string
	EdgeType     TaskEdgeType
	Condition    *string
	DataMapping  map[string]string
}

// TaskGraphStatus is the coarse lifecycle status of a whole graph.
type TaskGraphStatus string

const (
	GraphStatusPending   TaskGraphStatus = "Pending"
	GraphStatusActive    TaskGraphStatus = "Active"
	GraphStatusCompleted TaskGraphStatus = "Completed"
	GraphStatusFailed    TaskGraphStatus = "Failed"
)

// TaskGraph is a durable DAG of work items sharing an overall goal.
type TaskGraph struct {
	ID          string
	Name        string
	Description string
	Goal        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Status      TaskGraphStatus
	Nodes       map[string]*TaskNode
	Edges       []*TaskEdge
	RootNodeIDs []string
}

// SprintStatus is the lifecycle status of a Sprint.
type SprintStatus string

const (
	SprintStatusPlanned   SprintStatus = "Planned"
	SprintStatusActive    SprintStatus = "Active"
	SprintStatusCompleted SprintStatus = "Completed"
	SprintStatusAborted   SprintStatus = "Aborted"
)

// Sprint groups tasks under a goal with its own lifecycle.
type Sprint struct {
	ID             string
	Name           string
	Goal           string
	Status         SprintStatus
	StartDate      *time.Time
	EndDate        *time.Time
	PlannedTasks   []string
	CompletedTasks []string
	ReviewNotes    string
}

// SubTaskDefinition is one entry of a SubTasksGenerated batch: a temp_id
// (not yet a real node id) plus the specification for the new node.
type SubTaskDefinition struct {
	TempID string
	Spec   TaskSpecification
}

// SubTaskEdgeDefinition declares a dependency edge between two temp ids
// within a SubTasksGenerated batch.
type SubTaskEdgeDefinition struct {
	FromTempID string
	ToTempID   string
}

func newID() string {
	return uuid.New().String()
}
