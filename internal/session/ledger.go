package session

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/pkg/types"
)

// UpdateTodos replaces the session's todo list.
func (m *Manager) UpdateTodos(id string, todos []*types.TodoItem) bool {
	var out []*types.TodoItem
	ok := m.session(id, func(s *types.Session) {
		if todos == nil {
			todos = []*types.TodoItem{}
		}
		s.Todos = todos
		s.UpdatedAt = time.Now().UTC()
		out = types.CloneTodos(s.Todos)
	})
	if !ok {
		return false
	}
	m.bus.Broadcast(id, event.TodoUpdated, event.TodoUpdatedData{Todos: out})
	return true
}

// AddTodo appends a pending todo item.
func (m *Manager) AddTodo(id, content string, priority int) (*types.TodoItem, bool) {
	if content == "" {
		return nil, false
	}
	item := &types.TodoItem{
		ID:        ulid.Make().String(),
		Content:   content,
		Status:    types.TodoPending,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	var out []*types.TodoItem
	ok := m.session(id, func(s *types.Session) {
		s.Todos = append(s.Todos, item)
		s.UpdatedAt = item.CreatedAt
		out = types.CloneTodos(s.Todos)
	})
	if !ok {
		return nil, false
	}
	m.bus.Broadcast(id, event.TodoUpdated, event.TodoUpdatedData{Todos: out})
	return item.Clone(), true
}

// UpdateTodoStatus moves a todo item to a new status. Unknown items and
// statuses return false.
func (m *Manager) UpdateTodoStatus(id, todoID, status string) bool {
	switch status {
	case types.TodoPending, types.TodoInProgress, types.TodoCompleted:
	default:
		return false
	}

	found := false
	var out []*types.TodoItem
	ok := m.session(id, func(s *types.Session) {
		for _, item := range s.Todos {
			if item.ID != todoID {
				continue
			}
			item.Status = status
			if status == types.TodoCompleted {
				now := time.Now().UTC()
				item.CompletedAt = &now
			} else {
				item.CompletedAt = nil
			}
			found = true
			break
		}
		if found {
			s.UpdatedAt = time.Now().UTC()
			out = types.CloneTodos(s.Todos)
		}
	})
	if !ok || !found {
		return false
	}
	m.bus.Broadcast(id, event.TodoUpdated, event.TodoUpdatedData{Todos: out})
	return true
}

// DeleteTodo removes a todo item.
func (m *Manager) DeleteTodo(id, todoID string) bool {
	found := false
	var out []*types.TodoItem
	ok := m.session(id, func(s *types.Session) {
		for i, item := range s.Todos {
			if item.ID == todoID {
				s.Todos = append(s.Todos[:i], s.Todos[i+1:]...)
				found = true
				break
			}
		}
		if found {
			s.UpdatedAt = time.Now().UTC()
			out = types.CloneTodos(s.Todos)
		}
	})
	if !ok || !found {
		return false
	}
	m.bus.Broadcast(id, event.TodoUpdated, event.TodoUpdatedData{Todos: out})
	return true
}

// resolveFileOp marks a recorded file operation approved or rejected.
func (m *Manager) resolveFileOp(id, opID string, approved bool) bool {
	var resolved *types.FileOperation
	ok := m.session(id, func(s *types.Session) {
		for _, op := range s.FileOperations {
			if op.ID != opID {
				continue
			}
			op.Approved = approved
			if approved {
				op.Result = "approved"
			} else {
				op.Result = "rejected"
			}
			resolved = op.Clone()
			s.UpdatedAt = time.Now().UTC()
			break
		}
	})
	if !ok || resolved == nil {
		return false
	}
	m.bus.Broadcast(id, event.FileOperation, event.FileOperationData{Operation: resolved})
	return true
}

// ApproveFileOperation marks a recorded file operation as approved.
func (m *Manager) ApproveFileOperation(id, opID string) bool {
	return m.resolveFileOp(id, opID, true)
}

// RejectFileOperation marks a recorded file operation as rejected.
func (m *Manager) RejectFileOperation(id, opID string) bool {
	return m.resolveFileOp(id, opID, false)
}

// LoadSkill loads a named skill into the session. The skill's prompt is
// appended to the effective system prompt of subsequent runs.
func (m *Manager) LoadSkill(id, name string) bool {
	if m.loader == nil || name == "" {
		return false
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	for _, loaded := range s.LoadedSkills {
		if loaded == name {
			m.mu.Unlock()
			return false
		}
	}
	cwd := s.Cwd
	m.mu.Unlock()

	sk, err := m.loader.Load(cwd, name)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Str("skill", name).Msg("load skill")
		return false
	}

	var loaded []string
	ok = m.session(id, func(s *types.Session) {
		s.LoadedSkills = append(s.LoadedSkills, sk.Name)
		s.UpdatedAt = time.Now().UTC()
		m.skills[id] = append(m.skills[id], sk)
		loaded = s.LoadedSkills
	})
	if !ok {
		return false
	}
	m.bus.Broadcast(id, event.SkillLoaded, event.SkillData{Skill: sk.Name, LoadedSkills: loaded})
	return true
}

// UnloadSkill removes a loaded skill from the session.
func (m *Manager) UnloadSkill(id, name string) bool {
	found := false
	var loaded []string
	ok := m.session(id, func(s *types.Session) {
		for i, loadedName := range s.LoadedSkills {
			if loadedName == name {
				s.LoadedSkills = append(s.LoadedSkills[:i], s.LoadedSkills[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return
		}
		skills := m.skills[id]
		for i, sk := range skills {
			if sk.Name == name {
				m.skills[id] = append(skills[:i], skills[i+1:]...)
				break
			}
		}
		s.UpdatedAt = time.Now().UTC()
		loaded = s.LoadedSkills
	})
	if !ok || !found {
		return false
	}
	m.bus.Broadcast(id, event.SkillUnloaded, event.SkillData{Skill: name, LoadedSkills: loaded})
	return true
}
