// Package engine defines the contract between the session core and the
// external conversation backend that generates assistant output and
// executes tools.
package engine

import (
	"context"

	"github.com/arche-ai/arche/pkg/types"
)

// EventKind identifies the type of a run event.
type EventKind string

const (
	EventContentDelta     EventKind = "content_delta"
	EventThinkingDelta    EventKind = "thinking_delta"
	EventToolCallStart    EventKind = "tool_call_start"
	EventToolCallDelta    EventKind = "tool_call_input_delta"
	EventToolCallComplete EventKind = "tool_call_complete"
	EventToolResult       EventKind = "tool_result"
	EventStatus           EventKind = "status"
	EventError            EventKind = "error"
	EventComplete         EventKind = "complete"
)

// Terminal reports whether the event ends the run.
func (k EventKind) Terminal() bool {
	return k == EventError || k == EventComplete
}

// Event is one element of a run's ordered, finite event sequence.
// Which fields are populated depends on Kind.
type Event struct {
	Kind EventKind

	// Text carries content and thinking deltas.
	Text string

	// Tool correlation fields.
	ToolID      string
	ToolName    string
	PartialJSON string
	Input       map[string]any

	// Tool result fields.
	Content string
	IsError bool

	// Status fields.
	Turns        int
	CostUSD      float64
	InputTokens  int
	OutputTokens int

	// Err carries the message for error events.
	Err string
}

// ApprovalFunc is called by an engine before executing a tool when the
// run was configured for human-in-the-loop approval. It blocks until a
// decision is available.
type ApprovalFunc func(ctx context.Context, toolName string, toolInput map[string]any) types.PermissionDecision

// RunConfig is the configuration bag for one engine run.
type RunConfig struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Cwd          string

	// ResumeID resumes backend-side conversation continuity.
	ResumeID string

	// ThinkingBudget enables extended thinking when positive.
	ThinkingBudget int

	PermissionMode types.PermissionMode

	// AllowedTools restricts the run to tools matching these glob
	// patterns. Empty means no restriction.
	AllowedTools []string

	// CanUseTool, when set, is consulted before each tool execution.
	CanUseTool ApprovalFunc
}

// Run is one in-flight engine invocation. The event channel is closed
// after a terminal event or interruption; the sequence is finite unless
// the caller cancels.
type Run interface {
	// Events returns the ordered event stream for this run.
	Events() <-chan Event

	// Interrupt makes an in-flight run terminate promptly.
	Interrupt(ctx context.Context) error

	// Close releases the run's resources. Safe to call more than once.
	Close() error
}

// Engine produces runs against a conversation backend.
type Engine interface {
	Kind() Kind
	Start(ctx context.Context, cfg RunConfig) (Run, error)
}
