package types

import "time"

// PermissionRequest is a pending tool-approval request. It exists only
// while unresolved; resolution (allow, deny, or timeout) destroys it.
type PermissionRequest struct {
	RequestID   string           `json:"requestID"`
	ToolName    string           `json:"toolName"`
	ToolInput   map[string]any   `json:"toolInput"`
	Suggestions []map[string]any `json:"suggestions,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// PermissionDecision is the outcome of a permission request.
type PermissionDecision struct {
	Allow         bool           `json:"allow"`
	ModifiedInput map[string]any `json:"modifiedInput,omitempty"`
	Reason        string         `json:"reason,omitempty"`

	// Interrupt marks a denial issued because the session was
	// interrupted, so the worker unwinds instead of continuing the run.
	Interrupt bool `json:"interrupt,omitempty"`
}

// Behavior returns the decision as the wire-level behavior string.
func (d PermissionDecision) Behavior() string {
	if d.Allow {
		return "allow"
	}
	return "deny"
}
