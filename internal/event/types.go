package event

import "github.com/arche-ai/arche/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	SessionCreated      EventType = "session.created"
	SessionUpdated      EventType = "session.updated"
	SessionDeleted      EventType = "session.deleted"
	StateChanged        EventType = "state.changed"
	MessageCreated      EventType = "message.created"
	StreamDelta         EventType = "stream.delta"
	ToolCall            EventType = "tool.call"
	ToolResult          EventType = "tool.result"
	PermissionRequested EventType = "permission.requested"
	PermissionReplied   EventType = "permission.replied"
	SessionInterrupted  EventType = "session.interrupted"
	SessionError        EventType = "session.error"
	RunResult           EventType = "run.result"
	TodoUpdated         EventType = "todo.updated"
	FileOperation       EventType = "file.operation"
	SkillLoaded         EventType = "skill.loaded"
	SkillUnloaded       EventType = "skill.unloaded"
)

// SessionCreatedData is the payload for session.created events.
type SessionCreatedData struct {
	Info *types.SessionSnapshot `json:"info"`
}

// SessionUpdatedData is the payload for session.updated events.
type SessionUpdatedData struct {
	Info *types.SessionSnapshot `json:"info"`
}

// SessionDeletedData is the payload for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// StateChangedData is the payload for state.changed events.
type StateChangedData struct {
	From types.SessionState `json:"from"`
	To   types.SessionState `json:"to"`
}

// MessageCreatedData is the payload for message.created events.
type MessageCreatedData struct {
	Message *types.Message `json:"message"`
}

// StreamKind distinguishes streamed delta channels.
type StreamKind string

const (
	StreamText     StreamKind = "text"
	StreamThinking StreamKind = "thinking"
)

// StreamDeltaData is the payload for stream.delta events.
type StreamDeltaData struct {
	Kind StreamKind `json:"kind"`
	Text string     `json:"text"`
}

// ToolCallData is the payload for tool.call events.
type ToolCallData struct {
	ToolID   string         `json:"toolID"`
	ToolName string         `json:"toolName"`
	Input    map[string]any `json:"input"`
}

// ToolResultData is the payload for tool.result events.
type ToolResultData struct {
	ToolID  string `json:"toolID"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// PermissionRequestedData is the payload for permission.requested events.
type PermissionRequestedData struct {
	Request *types.PermissionRequest `json:"request"`
}

// PermissionRepliedData is the payload for permission.replied events.
type PermissionRepliedData struct {
	RequestID string `json:"requestID"`
	Allowed   bool   `json:"allowed"`
}

// SessionErrorData is the payload for session.error events.
type SessionErrorData struct {
	Error string `json:"error"`
}

// RunResultData is the payload for run.result events, carrying
// informational cost/usage figures for a finished run.
type RunResultData struct {
	Turns        int     `json:"turns"`
	CostUSD      float64 `json:"costUSD"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
}

// TodoUpdatedData is the payload for todo.updated events.
type TodoUpdatedData struct {
	Todos []*types.TodoItem `json:"todos"`
}

// FileOperationData is the payload for file.operation events.
type FileOperationData struct {
	Operation *types.FileOperation `json:"operation"`
}

// SkillData is the payload for skill.loaded and skill.unloaded events.
type SkillData struct {
	Skill        string   `json:"skill"`
	LoadedSkills []string `json:"loadedSkills"`
}
