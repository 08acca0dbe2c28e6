package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/carabistouflette/hive/observability"
)

// Worker is the contract every role specialization satisfies:
// identity and status accessors, a run loop, and role-specific task
// processing. RoleWorker below is the single concrete implementation;
// behavior varies by AgentConfig.Role rather than by distinct Go types,
// since the role set is a closed, fixed enumeration rather than an open
// capability-string set.
type Worker interface {
	ID() string
	Name() string
	GetStatus() AgentStatus
	SetStatus(AgentStatus)
	GetCapabilities() AgentCapabilities
	GetConfig() AgentConfig
	Start(ctx context.Context, downstream <-chan Message, bus *CommunicationBus)
}

// RoleWorker is a worker specialized by AgentConfig.Role. It owns the
// common dispatch loop (task assignment, information return, delegated-
// task-completion), and fans out to a role-specific processTask for the
// actual work. Every role goes through the same named-capability/template
// contract via CapabilityInvoker rather than calling an llm.Provider
// directly, so prompt construction for every role lives in one place.
type RoleWorker struct {
	mu           sync.Mutex
	config       AgentConfig
	capabilities AgentCapabilities
	status       AgentStatus
	invoker      *CapabilityInvoker
	logger       observability.Logger
	metrics      *observability.MetricsCollector

	// pendingTask is the task a worker is waiting on while in
	// WaitingForInformation or WaitingForDelegatedTask; pendingInfo and
	// pendingDeliverable are what the eventual reply resumes it with.
	pendingTask        *TaskNode
	pendingInfo        string
	pendingDeliverable *Deliverable
}

// newWorkerForRole constructs the RoleWorker for config.Role. Every role
// shares the same concrete type; the switch exists only to seed
// capabilities, so an unrecognized role still fails loudly rather than
// silently defaulting to a capability set that does not match it.
func newWorkerForRole(config AgentConfig, invoker *CapabilityInvoker, logger observability.Logger) (Worker, error) {
	switch config.Role {
	case RolePlanner, RoleResearcher, RoleWriter, RoleCoder, RoleValidator, RoleSimpleWorker:
	default:
		return nil, fmt.Errorf("unknown worker role: %s", config.Role)
	}
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &RoleWorker{
		config:       config,
		capabilities: CapabilitiesForRole(config.Role),
		status:       AgentStatusIdle,
		invoker:      invoker,
		logger:       logger,
		metrics:      observability.GetMetrics(),
	}, nil
}

func (w *RoleWorker) ID() string                        { return w.config.ID }
func (w *RoleWorker) Name() string                       { return string(w.config.Role) + ":" + w.config.ID }
func (w *RoleWorker) GetCapabilities() AgentCapabilities { return w.capabilities }
func (w *RoleWorker) GetConfig() AgentConfig             { return w.config }

func (w *RoleWorker) GetStatus() AgentStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *RoleWorker) SetStatus(s AgentStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Start runs the worker's message loop until downstream closes or ctx is
// cancelled ("worker loops terminate when their downstream channel
// closes or their context.Context is cancelled").
func (w *RoleWorker) Start(ctx context.Context, downstream <-chan Message, bus *CommunicationBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-downstream:
			if !ok {
				return
			}
			if msg.ReceiverID != "" && msg.ReceiverID != w.config.ID {
				continue
			}
			w.handle(ctx, bus, msg)
		}
	}
}

func (w *RoleWorker) handle(ctx context.Context, bus *CommunicationBus, msg Message) {
	switch msg.Content.Kind {
	case ContentTaskAssignment:
		task := msg.Content.TaskAssignment
		if task == nil {
			return
		}
		w.SetStatus(AgentStatusBusy)
		if w.metrics != nil {
			w.metrics.RecordMultiagentWorkerBusy()
		}
		w.processTask(ctx, bus, task)

	case ContentReturnInformation:
		resp := msg.Content.ReturnInformation
		if resp == nil {
			return
		}
		w.mu.Lock()
		pending := w.pendingTask
		w.mu.Unlock()
		if pending == nil || pending.ID != resp.OriginalTaskID || w.GetStatus() != AgentStatusWaitingForInformation {
			return
		}
		w.mu.Lock()
		w.pendingInfo = resp.Payload
		w.pendingTask = nil
		w.mu.Unlock()
		w.SetStatus(AgentStatusBusy)
		w.processTask(ctx, bus, pending)

	case ContentDelegatedTaskCompletedNotify:
		note := msg.Content.DelegatedNotify
		if note == nil {
			return
		}
		w.mu.Lock()
		pending := w.pendingTask
		deliverable := w.pendingDeliverable
		w.mu.Unlock()
		if pending != nil && pending.ID == note.ParentTaskID && w.GetStatus() == AgentStatusWaitingForDelegatedTask && deliverable != nil {
			w.mu.Lock()
			w.pendingTask = nil
			w.pendingDeliverable = nil
			w.mu.Unlock()
			w.SetStatus(AgentStatusIdle)
			w.reportCompleted(ctx, bus, note.ParentTaskID, *deliverable)
			return
		}
		// No matching pending delegation: the common-case release
		// describes for implementations that do not resume a parent task.
		w.SetStatus(AgentStatusIdle)

	case ContentRequestInformation:
		req := msg.Content.RequestInformation
		if req == nil || w.config.Role != RoleResearcher {
			return
		}
		w.SetStatus(AgentStatusBusy)
		w.answerInformationRequest(ctx, bus, req)

	default:
		// Others ignored, per the router table and common dispatch logic.
	}

	if w.metrics != nil {
		w.metrics.RecordMultiagentWorkerIdle()
	}
}

// processTask dispatches to the role-specific body. Each body is
// responsible for leaving the worker in a terminal-for-this-turn status
// (Idle, WaitingForInformation, or WaitingForDelegatedTask) before
// returning.
func (w *RoleWorker) processTask(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	switch w.config.Role {
	case RolePlanner:
		w.runPlanner(ctx, bus, task)
	case RoleResearcher:
		w.runResearcher(ctx, bus, task)
	case RoleWriter:
		w.runWriter(ctx, bus, task)
	case RoleCoder:
		w.runCoder(ctx, bus, task)
	case RoleValidator:
		w.runValidator(ctx, bus, task)
	default:
		w.runSimpleWorker(ctx, bus, task)
	}
}

func contextOf(task *TaskNode) string {
	if task.TaskSpec.Context != nil {
		return *task.TaskSpec.Context
	}
	return ""
}

// runPlanner invokes decompose_task_v1 and turns its subtask batch into a
// SubTasksGenerated message for the router/result-processor to apply.
func (w *RoleWorker) runPlanner(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	result, err := w.invoker.Invoke(ctx, "decompose_task_v1", map[string]string{
		"objective": task.Description,
		"context":   contextOf(task),
	}, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	var parsed struct {
		Subtasks []struct {
			Title        string   `json:"title"`
			Description  string   `json:"description"`
			Dependencies []string `json:"dependencies"`
		} `json:"subtasks"`
	}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		w.failTask(ctx, bus, task.ID, fmt.Sprintf("parsing decomposition response: %v", err))
		w.SetStatus(AgentStatusIdle)
		return
	}

	defs := make([]SubTaskDefinition, 0, len(parsed.Subtasks))
	edges := make([]SubTaskEdgeDefinition, 0)
	for _, st := range parsed.Subtasks {
		defs = append(defs, SubTaskDefinition{
			TempID: st.Title,
			Spec: TaskSpecification{
				Name:        st.Title,
				Description: st.Description,
				TaskType:    TaskTypeGeneric,
			},
		})
		for _, dep := range st.Dependencies {
			edges = append(edges, SubTaskEdgeDefinition{FromTempID: dep, ToTempID: st.Title})
		}
	}

	gen := SubTasksGenerated{OriginalTaskID: task.ID, SubTasks: defs, Edges: edges}
	w.submitUpstream(ctx, bus, MessageContent{Kind: ContentSubTasksGenerated, SubTasksGenerated: &gen})
	w.SetStatus(AgentStatusIdle)
}

// runResearcher invokes perform_basic_research_v1 and reports a
// ResearchReport deliverable.
func (w *RoleWorker) runResearcher(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	result, err := w.invoker.Invoke(ctx, "perform_basic_research_v1", map[string]string{
		"query":                    task.Description,
		"num_results_to_summarize": "3",
	}, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	var parsed struct {
		Summary string   `json:"summary"`
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		w.failTask(ctx, bus, task.ID, fmt.Sprintf("parsing research response: %v", err))
		w.SetStatus(AgentStatusIdle)
		return
	}

	w.reportCompleted(ctx, bus, task.ID, Deliverable{
		Kind:    DeliverableResearchReport,
		Content: parsed.Summary,
		Sources: parsed.Sources,
	})
	w.SetStatus(AgentStatusIdle)
}

// answerInformationRequest is the Researcher-only reply path for a
// directed RequestInformation ("for RequestInformation, emits
// ReturnInformation back to the requester").
func (w *RoleWorker) answerInformationRequest(ctx context.Context, bus *CommunicationBus, req *InformationRequest) {
	result, err := w.invoker.Invoke(ctx, "perform_basic_research_v1", map[string]string{
		"query":                    req.Query,
		"num_results_to_summarize": "3",
	}, nil)

	payload := ""
	switch {
	case err != nil:
		payload = fmt.Sprintf("research failed: %v", err)
	case result.Err != nil:
		payload = fmt.Sprintf("research failed: %v", result.Err)
	default:
		var parsed struct {
			Summary string `json:"summary"`
		}
		if jsonErr := json.Unmarshal([]byte(result.Content), &parsed); jsonErr == nil {
			payload = parsed.Summary
		} else {
			payload = result.Content
		}
	}

	resp := InformationResponse{
		OriginalTaskID:            req.OriginalTaskID,
		OriginalRequestingAgentID: req.RequestingAgentID,
		Payload:                   payload,
	}
	bus.publishDirected(w.config.ID, req.RequestingAgentID, MessageContent{
		Kind:              ContentReturnInformation,
		ReturnInformation: &resp,
	})
	w.SetStatus(AgentStatusIdle)
}

// runWriter requests research once if the task description calls for it
// and none has arrived yet, otherwise drafts content.
func (w *RoleWorker) runWriter(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	w.mu.Lock()
	info := w.pendingInfo
	w.mu.Unlock()

	if info == "" && strings.Contains(strings.ToLower(task.Description), "needs research on") {
		w.mu.Lock()
		w.pendingTask = task
		w.mu.Unlock()
		w.SetStatus(AgentStatusWaitingForInformation)

		req := InformationRequest{
			OriginalTaskID:    task.ID,
			RequestingAgentID: w.config.ID,
			Query:             task.Description,
		}
		w.submitUpstream(ctx, bus, MessageContent{Kind: ContentRequestInformation, RequestInformation: &req})
		return
	}

	w.mu.Lock()
	w.pendingInfo = ""
	w.mu.Unlock()

	result, err := w.invoker.Invoke(ctx, "draft_content_v1", map[string]string{
		"topic":            task.Description,
		"key_points":       "",
		"style_guide":      "",
		"research_context": info,
	}, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	w.reportCompleted(ctx, bus, task.ID, Deliverable{Kind: DeliverableDraftedContent, Content: result.Content})
	w.SetStatus(AgentStatusIdle)
}

// runCoder generates code then delegates validation of its own output,
// completing the parent task only once the delegated Validator node
// reports back ("completion of the validation sub-task completes
// the parent").
func (w *RoleWorker) runCoder(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	language := task.Inputs["language"]
	if language == "" {
		w.failTask(ctx, bus, task.ID, "language is required")
		w.SetStatus(AgentStatusIdle)
		return
	}

	result, err := w.invoker.Invoke(ctx, "generate_code_v1", map[string]string{
		"instruction": task.Description,
		"language":    language,
		"context":     contextOf(task),
	}, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	deliverable := Deliverable{Kind: DeliverableCodePatch, Content: result.Content}
	validatorContext := result.Content
	delegation := SubTaskDelegationRequest{
		ParentTaskID:      task.ID,
		DelegatingAgentID: w.config.ID,
		SubTaskSpec: TaskSpecification{
			Name:         "validate:" + task.Name,
			Description:  "Validate the generated code for " + task.Name,
			RequiredRole: RoleValidator,
			Priority:     task.Priority,
			Context:      &validatorContext,
			TaskType:     TaskTypeValidateContent,
		},
	}

	w.mu.Lock()
	w.pendingTask = task
	w.pendingDeliverable = &deliverable
	w.mu.Unlock()
	w.SetStatus(AgentStatusWaitingForDelegatedTask)

	w.submitUpstream(ctx, bus, MessageContent{Kind: ContentDelegateSubTask, DelegateSubTask: &delegation})
}

// runValidator invokes validate_content_v1 against whatever content the
// task carries (either directly in its Context, set by a delegating
// Coder, or in its resolved Inputs), and reports the structured verdict
// JSON verbatim as a ValidationReport deliverable.
func (w *RoleWorker) runValidator(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	content := contextOf(task)
	if content == "" {
		content = task.Inputs["content"]
	}

	result, err := w.invoker.Invoke(ctx, "validate_content_v1", map[string]string{
		"criteria": task.Inputs["criteria"],
		"content":  content,
	}, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	w.reportCompleted(ctx, bus, task.ID, Deliverable{Kind: DeliverableValidationReport, Content: result.Content})
	w.SetStatus(AgentStatusIdle)
}

// runSimpleWorker is the generic fallback: it invokes whatever capability
// the node names directly and wraps the raw output as a deliverable.
func (w *RoleWorker) runSimpleWorker(ctx context.Context, bus *CommunicationBus, task *TaskNode) {
	if task.CapabilityID == "" {
		w.failTask(ctx, bus, task.ID, "no capability id set on task")
		w.SetStatus(AgentStatusIdle)
		return
	}

	result, err := w.invoker.Invoke(ctx, task.CapabilityID, task.Inputs, nil)
	if err != nil {
		w.failTask(ctx, bus, task.ID, err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}
	if result.Err != nil {
		w.failTask(ctx, bus, task.ID, result.Err.Error())
		w.SetStatus(AgentStatusIdle)
		return
	}

	w.reportCompleted(ctx, bus, task.ID, Deliverable{Kind: DeliverableGenericOutput, Content: result.Content})
	w.SetStatus(AgentStatusIdle)
}

func (w *RoleWorker) reportCompleted(ctx context.Context, bus *CommunicationBus, taskID string, deliverable Deliverable) {
	resp := AgentResponse{
		ID:          newID(),
		Kind:        AgentResponseTaskCompleted,
		TaskID:      taskID,
		AgentID:     w.config.ID,
		Deliverable: deliverable,
	}
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestAgentResponse, AgentResponse: &resp}); err != nil {
		w.logger.Error("failed to submit task completion", observability.String("task_id", taskID), observability.Err(err))
	}
}

func (w *RoleWorker) failTask(ctx context.Context, bus *CommunicationBus, taskID, message string) {
	resp := AgentResponse{
		ID:      newID(),
		Kind:    AgentResponseTaskFailed,
		TaskID:  taskID,
		AgentID: w.config.ID,
		Error:   message,
	}
	if w.metrics != nil {
		w.metrics.RecordMultiagentError(string(w.config.Role), "task_failed")
	}
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestAgentResponse, AgentResponse: &resp}); err != nil {
		w.logger.Error("failed to submit task failure", observability.String("task_id", taskID), observability.Err(err))
	}
}

func (w *RoleWorker) submitUpstream(ctx context.Context, bus *CommunicationBus, content MessageContent) {
	msg := newMessage(w.config.ID, "", content)
	if err := bus.SubmitUpstream(ctx, BusRequest{Kind: BusRequestGeneralMessage, Message: msg}); err != nil {
		w.logger.Error("failed to submit upstream message", observability.String("kind", string(content.Kind)), observability.Err(err))
	}
}
