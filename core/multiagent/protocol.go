package multiagent

// MessageContentKind discriminates the variant carried by a Message. Go has
// no tagged union; we pair a kind tag with per-kind payload structs and a
// type switch at dispatch.
type MessageContentKind string

const (
	ContentTaskAssignment                  MessageContentKind = "TaskAssignment"
	ContentAgentResponse                   MessageContentKind = "AgentResponse"
	ContentRequestInformation              MessageContentKind = "RequestInformation"
	ContentReturnInformation               MessageContentKind = "ReturnInformation"
	ContentDelegateSubTask                 MessageContentKind = "DelegateSubTask"
	ContentDelegatedTaskCompletedNotify     MessageContentKind = "DelegatedTaskCompletedNotification"
	ContentSubTasksGenerated               MessageContentKind = "SubTasksGenerated"
	ContentDataFragment                    MessageContentKind = "DataFragment"
)

// AgentResponseKind discriminates the two shapes of AgentResponse.
type AgentResponseKind string

const (
	AgentResponseTaskCompleted AgentResponseKind = "TaskCompleted"
	AgentResponseTaskFailed    AgentResponseKind = "TaskFailed"
)

// AgentResponse is a worker's terminal report on an assigned task. ID
// identifies this specific report instance (not the task) so the bus can
// dedup a response a reconnecting worker resubmits.
type AgentResponse struct {
	ID          string
	Kind        AgentResponseKind
	TaskID      string
	AgentID     string
	Deliverable Deliverable // set when Kind == AgentResponseTaskCompleted
	Error       string      // set when Kind == AgentResponseTaskFailed
}

// InformationRequest is emitted by a worker that needs another agent's help
// to continue a task it already owns.
type InformationRequest struct {
	OriginalTaskID     string
	RequestingAgentID  string
	Query              string
}

// InformationResponse answers a prior InformationRequest.
type InformationResponse struct {
	OriginalTaskID             string
	OriginalRequestingAgentID string
	Payload                    string
}

// SubTaskDelegationRequest asks the orchestrator to attach a new node, as a
// dependency of ParentTaskID, to the graph that owns the parent.
type SubTaskDelegationRequest struct {
	ParentTaskID      string
	DelegatingAgentID string
	SubTaskSpec       TaskSpecification
}

// DelegatedTaskCompletedNotification tells a delegating worker that the
// sub-task it is waiting on has completed.
type DelegatedTaskCompletedNotification struct {
	CompletedSubTaskID string
	ParentTaskID       string
}

// SubTasksGenerated is a Planner-style decomposition result: a batch of new
// nodes plus the dependency edges between them.
type SubTasksGenerated struct {
	OriginalTaskID string
	SubTasks       []SubTaskDefinition
	Edges          []SubTaskEdgeDefinition
}

// MessageContent is the payload of a Message. Exactly one of the typed
// fields matching Kind is populated; callers type-switch on Kind.
type MessageContent struct {
	Kind MessageContentKind

	TaskAssignment       *TaskNode
	AgentResponse        *AgentResponse
	RequestInformation   *InformationRequest
	ReturnInformation    *InformationResponse
	DelegateSubTask      *SubTaskDelegationRequest
	DelegatedNotify      *DelegatedTaskCompletedNotification
	SubTasksGenerated    *SubTasksGenerated
	DataFragment         string
}

// Message is the unit of communication on the bus. ReceiverID == "" means
// broadcast; every subscriber receives it but only the named receiver (if
// any) is expected to act on it.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    MessageContent
}

func newMessage(senderID, receiverID string, content MessageContent) Message {
	return Message{
		ID:         newID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
}
