package types

import "time"

// TodoStatus values for TodoItem.Status.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoItem is a task tracked alongside a session. Items are appended and
// updated in place, never reordered.
type TodoItem struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns an independent copy of the item.
func (t *TodoItem) Clone() *TodoItem {
	cp := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}

// CloneTodos copies a todo list. Ledger items are updated in place, so
// anything leaving the owning session's lock gets its own copies.
func CloneTodos(todos []*TodoItem) []*TodoItem {
	out := make([]*TodoItem, len(todos))
	for i, t := range todos {
		out[i] = t.Clone()
	}
	return out
}

// FileOperation records a file-affecting tool invocation observed during
// a run. Edit operations carry a unified diff of the change.
type FileOperation struct {
	ID             string    `json:"id"`
	Operation      string    `json:"operation"` // read | write | edit | glob | grep | execute
	Path           string    `json:"path"`
	ContentPreview string    `json:"contentPreview,omitempty"`
	Diff           string    `json:"diff,omitempty"`
	Approved       bool      `json:"approved"`
	Result         string    `json:"result,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Clone returns an independent copy of the operation.
func (o *FileOperation) Clone() *FileOperation {
	cp := *o
	return &cp
}

// CloneFileOperations copies a file-operation list.
func CloneFileOperations(ops []*FileOperation) []*FileOperation {
	out := make([]*FileOperation, len(ops))
	for i, o := range ops {
		out[i] = o.Clone()
	}
	return out
}
