// Package types provides the core data types for the arche session server.
package types

import "time"

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	StateIdle              SessionState = "idle"
	StateThinking          SessionState = "thinking"
	StateToolExecuting     SessionState = "tool_executing"
	StatePermissionPending SessionState = "permission_pending"
	StateInterrupted       SessionState = "interrupted"
	StateCompleted         SessionState = "completed"
	StateError             SessionState = "error"
)

// transitions is the set of legal state changes. Completed and error
// sessions may re-enter thinking when a new message is sent.
var transitions = map[SessionState][]SessionState{
	StateIdle:              {StateThinking},
	StateCompleted:         {StateThinking},
	StateError:             {StateThinking},
	StateThinking:          {StateToolExecuting, StatePermissionPending, StateInterrupted, StateCompleted, StateError},
	StateToolExecuting:     {StateThinking, StateInterrupted, StateCompleted, StateError},
	StatePermissionPending: {StateThinking, StateInterrupted},
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CanAcceptMessage reports whether a session in this state may accept a
// new user message.
func (s SessionState) CanAcceptMessage() bool {
	return s == StateIdle || s == StateCompleted || s == StateError
}

// Active reports whether a worker is driving the session.
func (s SessionState) Active() bool {
	return s == StateThinking || s == StateToolExecuting || s == StatePermissionPending
}

// Terminal reports whether the state ends a run.
func (s SessionState) Terminal() bool {
	return s == StateInterrupted || s == StateCompleted || s == StateError
}

// PermissionMode controls how much autonomy the engine has for tool use.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionPlan        PermissionMode = "plan"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

// Valid reports whether the mode is one of the known permission modes.
func (m PermissionMode) Valid() bool {
	switch m {
	case PermissionDefault, PermissionAcceptEdits, PermissionPlan, PermissionBypass:
		return true
	}
	return false
}

// ThinkingBudgets maps thinking modes to extended-thinking token budgets.
// A zero budget disables extended thinking.
var ThinkingBudgets = map[string]int{
	"normal":     0,
	"think":      10000,
	"think_hard": 50000,
	"ultrathink": 100000,
}

// FileOpRetention is the number of file operations kept in a session
// snapshot. The in-memory ledger is not truncated.
const FileOpRetention = 20

// Session represents one long-lived conversation and its state.
//
// The owning SessionManager enforces a single-writer rule: while a worker
// is driving a run (state is active) only that worker mutates the session.
type Session struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`

	// Configuration
	Model          string         `json:"model"`
	Cwd            string         `json:"cwd"`
	PermissionMode PermissionMode `json:"permissionMode"`
	ResumeID       string         `json:"resumeID,omitempty"`
	SystemPrompt   string         `json:"systemPrompt,omitempty"`
	ThinkingMode   string         `json:"thinkingMode"`
	Engine         string         `json:"engine"`

	// Conversation
	Messages    []*Message `json:"messages,omitempty"`
	CurrentTurn int        `json:"currentTurn"`

	// Accounting
	TotalCostUSD float64 `json:"totalCostUSD"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`

	// Side ledgers
	Todos          []*TodoItem      `json:"todos"`
	FileOperations []*FileOperation `json:"fileOperations"`
	LoadedSkills   []string         `json:"loadedSkills"`

	// At most one outstanding permission request.
	PendingPermission *PermissionRequest `json:"pendingPermission,omitempty"`
}

// SessionSnapshot is the serialized view of a session handed to storage
// and observers. Field mapping is explicit rather than reflective so the
// wire shape cannot drift by accident.
type SessionSnapshot struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	State             SessionState       `json:"state"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Model             string             `json:"model"`
	Cwd               string             `json:"cwd"`
	PermissionMode    PermissionMode     `json:"permissionMode"`
	ResumeID          string             `json:"resumeID,omitempty"`
	SystemPrompt      string             `json:"systemPrompt,omitempty"`
	ThinkingMode      string             `json:"thinkingMode"`
	Engine            string             `json:"engine"`
	CurrentTurn       int                `json:"currentTurn"`
	MessageCount      int                `json:"messageCount"`
	TotalCostUSD      float64            `json:"totalCostUSD"`
	InputTokens       int                `json:"inputTokens"`
	OutputTokens      int                `json:"outputTokens"`
	Todos             []*TodoItem        `json:"todos"`
	FileOperations    []*FileOperation   `json:"fileOperations"`
	LoadedSkills      []string           `json:"loadedSkills"`
	PendingPermission *PermissionRequest `json:"pendingPermission,omitempty"`
	Messages          []*Message         `json:"messages,omitempty"`
}

// Snapshot returns the serializable view of the session. File operation
// retention is bounded to the most recent FileOpRetention entries.
// Ledger entries are copied: the live ones are updated in place and the
// snapshot may be marshaled on another goroutine.
func (s *Session) Snapshot() *SessionSnapshot {
	ops := s.FileOperations
	if len(ops) > FileOpRetention {
		ops = ops[len(ops)-FileOpRetention:]
	}

	snap := &SessionSnapshot{
		ID:                s.ID,
		Name:              s.Name,
		State:             s.State,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		Model:             s.Model,
		Cwd:               s.Cwd,
		PermissionMode:    s.PermissionMode,
		ResumeID:          s.ResumeID,
		SystemPrompt:      s.SystemPrompt,
		ThinkingMode:      s.ThinkingMode,
		Engine:            s.Engine,
		CurrentTurn:       s.CurrentTurn,
		MessageCount:      len(s.Messages),
		TotalCostUSD:      s.TotalCostUSD,
		InputTokens:       s.InputTokens,
		OutputTokens:      s.OutputTokens,
		Todos:             CloneTodos(s.Todos),
		FileOperations:    CloneFileOperations(ops),
		LoadedSkills:      s.LoadedSkills,
	}
	if s.PendingPermission != nil {
		req := *s.PendingPermission
		snap.PendingPermission = &req
	}
	if snap.LoadedSkills == nil {
		snap.LoadedSkills = []string{}
	}
	return snap
}

// SnapshotWithMessages returns a snapshot that includes the full message
// history.
func (s *Session) SnapshotWithMessages() *SessionSnapshot {
	snap := s.Snapshot()
	snap.Messages = s.Messages
	return snap
}
