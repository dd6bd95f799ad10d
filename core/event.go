package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the closed set of thread event kinds. Adding a type is
// a deliberate change: every consumer switching on EventType must be updated.
type EventType string

const (
	// EventUserMessage is a message authored by the user.
	EventUserMessage EventType = "user_message"
	// EventAgentMessage is a final assistant response, optionally with usage.
	EventAgentMessage EventType = "agent_message"
	// EventToolCall records a tool invocation requested by the model.
	EventToolCall EventType = "tool_call"
	// EventToolResult records the outcome of a prior tool call.
	EventToolResult EventType = "tool_result"
	// EventApprovalRequest records a pending approval decision for a tool call.
	EventApprovalRequest EventType = "approval_request"
	// EventApprovalResponse records the decision for a prior approval request.
	EventApprovalResponse EventType = "approval_response"
	// EventSystemPrompt is the system instruction anchoring the thread.
	EventSystemPrompt EventType = "system_prompt"
	// EventSystemNotice is a local, non-context notice surfaced to UIs.
	EventSystemNotice EventType = "system_notice"
	// EventCompaction logically replaces the visible history up to and
	// including itself with its replacement sequence.
	EventCompaction EventType = "compaction"
	// EventTurnError records a terminal turn failure.
	EventTurnError EventType = "turn_error"
	// EventStreamDelta is an incremental model token chunk. Always transient.
	EventStreamDelta EventType = "stream_delta"
	// EventTurnState signals an agent state transition. Always transient.
	EventTurnState EventType = "turn_state"
)

// AlwaysTransient reports whether events of this type are never persisted.
func (t EventType) AlwaysTransient() bool {
	return t == EventStreamDelta || t == EventTurnState
}

// MessagePayload carries plain text content for message-like events.
type MessagePayload struct {
	Content string `json:"content"`
}

// ToolCallPayload describes a tool invocation requested by the model.
type ToolCallPayload struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON-encoded argument object
}

// ToolResultPayload describes the outcome of a tool call. Exactly one result
// may reference a given CallID; a call is resolved once its result exists.
type ToolResultPayload struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ApprovalRequestPayload records a pending approval decision.
type ApprovalRequestPayload struct {
	RequestID string `json:"request_id"`
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Input     string `json:"input,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`
}

// ApprovalResponsePayload records the decision for a prior request. At most
// one response may reference a given RequestID.
type ApprovalResponsePayload struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

// CompactionPayload carries the replacement sequence standing in for the
// visible history up to the compaction point, plus bookkeeping metadata.
type CompactionPayload struct {
	Replacement           []ThreadEvent `json:"replacement"`
	OriginalCount         int           `json:"original_count"`
	PreservedUserMessages int           `json:"preserved_user_messages"`
	SummaryLength         int           `json:"summary_length"`
}

// ErrorPayload describes a terminal turn error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatePayload carries an agent state transition for live observers.
type StatePayload struct {
	State string `json:"state"`
}

// TokenUsage captures token accounting attached to model response events.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Estimated is set when the provider reported no usage and the counts
	// were derived locally.
	Estimated bool `json:"estimated,omitempty"`
}

// Add accumulates usage counts.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Estimated = u.Estimated || other.Estimated
}

// ThreadEvent is the immutable, ordered record of one thing that happened in
// a thread. Seq is assigned by the log at append time and defines the single
// total order consumers rely on. Exactly one payload pointer matching Type is
// populated. Events are never edited or deleted after append; history is only
// superseded by a later compaction event.
type ThreadEvent struct {
	ID        string    `json:"id"`
	ThreadID  ThreadID  `json:"thread_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Transient events are held in memory for the process lifetime and
	// broadcast to subscribers, but never durably persisted.
	Transient bool `json:"transient,omitempty"`

	Message    *MessagePayload          `json:"message,omitempty"`
	ToolCall   *ToolCallPayload         `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload       `json:"tool_result,omitempty"`
	Request    *ApprovalRequestPayload  `json:"approval_request,omitempty"`
	Response   *ApprovalResponsePayload `json:"approval_response,omitempty"`
	Compaction *CompactionPayload       `json:"compaction,omitempty"`
	Error      *ErrorPayload            `json:"error,omitempty"`
	State      *StatePayload            `json:"state,omitempty"`
	Usage      *TokenUsage              `json:"usage,omitempty"`
}

// NewID generates a unique identifier for events, calls and requests.
func NewID() string { return uuid.NewString() }

func newEvent(threadID ThreadID, typ EventType) ThreadEvent {
	return ThreadEvent{
		ID:        NewID(),
		ThreadID:  threadID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Transient: typ.AlwaysTransient(),
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(threadID ThreadID, content string) ThreadEvent {
	e := newEvent(threadID, EventUserMessage)
	e.Message = &MessagePayload{Content: content}
	return e
}

// NewAgentMessageEvent creates a final assistant response event. usage may be
// nil when the provider reported none and no estimate was computed.
func NewAgentMessageEvent(threadID ThreadID, content string, usage *TokenUsage) ThreadEvent {
	e := newEvent(threadID, EventAgentMessage)
	e.Message = &MessagePayload{Content: content}
	e.Usage = usage
	return e
}

// NewSystemPromptEvent creates the system instruction event for a thread.
func NewSystemPromptEvent(threadID ThreadID, content string) ThreadEvent {
	e := newEvent(threadID, EventSystemPrompt)
	e.Message = &MessagePayload{Content: content}
	return e
}

// NewSystemNoticeEvent creates a local notice event. Notices are persisted
// but excluded from provider-facing context.
func NewSystemNoticeEvent(threadID ThreadID, content string) ThreadEvent {
	e := newEvent(threadID, EventSystemNotice)
	e.Message = &MessagePayload{Content: content}
	return e
}

// NewToolCallEvent records a tool invocation requested by the model.
func NewToolCallEvent(threadID ThreadID, callID, name, arguments string) ThreadEvent {
	e := newEvent(threadID, EventToolCall)
	e.ToolCall = &ToolCallPayload{CallID: callID, Name: name, Arguments: arguments}
	return e
}

// NewToolResultEvent records the outcome of a prior tool call.
func NewToolResultEvent(threadID ThreadID, result ToolResultPayload) ThreadEvent {
	e := newEvent(threadID, EventToolResult)
	e.ToolResult = &result
	return e
}

// NewApprovalRequestEvent records a pending approval decision.
func NewApprovalRequestEvent(threadID ThreadID, req ApprovalRequestPayload) ThreadEvent {
	e := newEvent(threadID, EventApprovalRequest)
	e.Request = &req
	return e
}

// NewApprovalResponseEvent records the decision for a prior request.
func NewApprovalResponseEvent(threadID ThreadID, requestID, decision string) ThreadEvent {
	e := newEvent(threadID, EventApprovalResponse)
	e.Response = &ApprovalResponsePayload{RequestID: requestID, Decision: decision}
	return e
}

// NewCompactionEvent wraps a compaction payload as a thread event.
func NewCompactionEvent(threadID ThreadID, payload CompactionPayload) ThreadEvent {
	e := newEvent(threadID, EventCompaction)
	e.Compaction = &payload
	return e
}

// NewTurnErrorEvent records a terminal turn failure.
func NewTurnErrorEvent(threadID ThreadID, code, message string) ThreadEvent {
	e := newEvent(threadID, EventTurnError)
	e.Error = &ErrorPayload{Code: code, Message: message}
	return e
}

// NewStreamDeltaEvent creates a transient incremental token chunk event.
func NewStreamDeltaEvent(threadID ThreadID, delta string) ThreadEvent {
	e := newEvent(threadID, EventStreamDelta)
	e.Message = &MessagePayload{Content: delta}
	return e
}

// NewTurnStateEvent creates a transient agent state transition event.
func NewTurnStateEvent(threadID ThreadID, state string) ThreadEvent {
	e := newEvent(threadID, EventTurnState)
	e.State = &StatePayload{State: state}
	return e
}

// Text returns the message content for message-like events, or "".
func (e ThreadEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Content
}

// IsUserMessage reports whether the event carries user intent. Compaction
// must never drop events for which this is true.
func (e ThreadEvent) IsUserMessage() bool { return e.Type == EventUserMessage }
