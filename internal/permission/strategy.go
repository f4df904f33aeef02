package permission

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/pkg/types"
)

// PlanModeTools is the read-only tool allow-list enforced in plan mode.
var PlanModeTools = []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch", "Task", "LS", "mcp__*"}

// editTools are auto-approved in acceptEdits mode.
var editTools = []string{"Write", "Edit", "MultiEdit", "NotebookEdit"}

// RunOptions is the permission-relevant slice of an engine run's
// configuration.
type RunOptions struct {
	// AllowedTools restricts the run to matching tools. Empty means
	// unrestricted.
	AllowedTools []string

	// CanUseTool is consulted before tool execution. Nil means every
	// tool is auto-approved.
	CanUseTool engine.ApprovalFunc
}

// Strategy maps a permission mode to run options. ask is the approval
// callback consulted when the mode requires human sign-off; it is
// ignored by modes that never ask.
func Strategy(mode types.PermissionMode, ask engine.ApprovalFunc) RunOptions {
	switch mode {
	case types.PermissionPlan:
		return RunOptions{AllowedTools: append([]string(nil), PlanModeTools...)}
	case types.PermissionBypass:
		return RunOptions{}
	case types.PermissionAcceptEdits:
		return RunOptions{CanUseTool: autoApproveEdits(ask)}
	default:
		return RunOptions{CanUseTool: ask}
	}
}

// autoApproveEdits allows file-edit tools without asking and defers
// everything else to ask.
func autoApproveEdits(ask engine.ApprovalFunc) engine.ApprovalFunc {
	if ask == nil {
		return nil
	}
	return func(ctx context.Context, toolName string, toolInput map[string]any) types.PermissionDecision {
		if IsEditTool(toolName) {
			return types.PermissionDecision{Allow: true}
		}
		return ask(ctx, toolName, toolInput)
	}
}

// IsEditTool reports whether the tool performs file edits.
func IsEditTool(toolName string) bool {
	for _, p := range editTools {
		if ok, err := doublestar.Match(p, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
