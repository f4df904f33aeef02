package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/permission"
	"github.com/arche-ai/arche/pkg/types"
)

// newStartBackoff bounds retries of transient engine start failures.
func newStartBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// worker drives one engine run for one send. It is the only goroutine
// mutating the session's conversation state while the session is busy.
type worker struct {
	m            *Manager
	id           string
	prompt       string
	systemPrompt string
	rt           *runtime
	log          zerolog.Logger
}

func (w *worker) run(ctx context.Context) {
	defer close(w.rt.done)
	m := w.m

	eng, cfg, err := w.buildRun(ctx)
	if err != nil {
		w.fail(err.Error())
		return
	}

	var run engine.Run
	start := func() error {
		r, startErr := eng.Start(ctx, cfg)
		if startErr != nil {
			w.log.Warn().Err(startErr).Msg("engine start failed, retrying")
			return startErr
		}
		run = r
		return nil
	}
	if err := backoff.Retry(start, backoff.WithContext(newStartBackoff(), ctx)); err != nil {
		if m.state(w.id) == types.StateInterrupted {
			w.finish()
			return
		}
		w.fail(fmt.Sprintf("engine start: %v", err))
		return
	}
	defer run.Close()

	// Publish the run handle so Interrupt can reach it. An interrupt
	// that raced the start is applied now.
	m.mu.Lock()
	w.rt.run = run
	raced := false
	if s, ok := m.sessions[w.id]; ok && s.State == types.StateInterrupted {
		raced = true
	}
	m.mu.Unlock()
	if raced {
		_ = run.Interrupt(context.Background())
	}

	var (
		text     strings.Builder
		thinking strings.Builder
		blocks   []types.ContentBlock
		emitted  = make(map[string]bool)
		runErr   string
	)

loop:
	for ev := range run.Events() {
		if m.state(w.id) == types.StateInterrupted {
			break
		}

		switch ev.Kind {
		case engine.EventContentDelta:
			text.WriteString(ev.Text)
			m.bus.Broadcast(w.id, event.StreamDelta, event.StreamDeltaData{Kind: event.StreamText, Text: ev.Text})

		case engine.EventThinkingDelta:
			thinking.WriteString(ev.Text)
			m.bus.Broadcast(w.id, event.StreamDelta, event.StreamDeltaData{Kind: event.StreamThinking, Text: ev.Text})

		case engine.EventToolCallStart:
			m.setState(w.id, types.StateToolExecuting)

		case engine.EventToolCallDelta:
			// Input arrives assembled on the complete event.

		case engine.EventToolCallComplete:
			if emitted[ev.ToolID] {
				continue
			}
			emitted[ev.ToolID] = true
			m.setState(w.id, types.StateToolExecuting)
			blocks = append(blocks, types.ContentBlock{
				Type:     types.BlockToolUse,
				Content:  ev.Input,
				ToolID:   ev.ToolID,
				ToolName: ev.ToolName,
			})
			m.bus.Broadcast(w.id, event.ToolCall, event.ToolCallData{
				ToolID:   ev.ToolID,
				ToolName: ev.ToolName,
				Input:    ev.Input,
			})
			w.recordToolCall(ev)

		case engine.EventToolResult:
			blocks = append(blocks, types.ContentBlock{
				Type:    types.BlockToolResult,
				Content: ev.Content,
				ToolID:  ev.ToolID,
				IsError: ev.IsError,
			})
			m.bus.Broadcast(w.id, event.ToolResult, event.ToolResultData{
				ToolID:  ev.ToolID,
				Content: ev.Content,
				IsError: ev.IsError,
			})
			m.setState(w.id, types.StateThinking)

		case engine.EventStatus:
			m.session(w.id, func(s *types.Session) {
				s.TotalCostUSD += ev.CostUSD
				s.InputTokens += ev.InputTokens
				s.OutputTokens += ev.OutputTokens
			})
			m.bus.Broadcast(w.id, event.RunResult, event.RunResultData{
				Turns:        ev.Turns,
				CostUSD:      ev.CostUSD,
				InputTokens:  ev.InputTokens,
				OutputTokens: ev.OutputTokens,
			})

		case engine.EventError:
			runErr = ev.Err
			break loop

		case engine.EventComplete:
			break loop
		}
	}

	w.finalizeMessage(text.String(), thinking.String(), blocks)

	switch {
	case m.state(w.id) == types.StateInterrupted:
		// Interrupt already announced the terminal state.
	case runErr != "":
		m.setState(w.id, types.StateError)
		m.bus.Broadcast(w.id, event.SessionError, event.SessionErrorData{Error: runErr})
		w.log.Error().Str("error", runErr).Msg("run failed")
	default:
		m.setState(w.id, types.StateCompleted)
	}

	w.finish()
}

// buildRun assembles the engine and run configuration from the current
// session settings.
func (w *worker) buildRun(ctx context.Context) (engine.Engine, engine.RunConfig, error) {
	m := w.m

	m.mu.Lock()
	s, ok := m.sessions[w.id]
	if !ok {
		m.mu.Unlock()
		return nil, engine.RunConfig{}, fmt.Errorf("session not found: %s", w.id)
	}
	kind := engine.Kind(s.Engine)
	mode := s.PermissionMode
	cfg := engine.RunConfig{
		Prompt:         w.prompt,
		SystemPrompt:   w.systemPrompt,
		Model:          s.Model,
		Cwd:            s.Cwd,
		ResumeID:       s.ResumeID,
		ThinkingBudget: types.ThinkingBudgets[s.ThinkingMode],
		PermissionMode: mode,
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = s.SystemPrompt
	}
	for _, sk := range m.skills[w.id] {
		if sk.Prompt == "" {
			continue
		}
		if cfg.SystemPrompt != "" {
			cfg.SystemPrompt += "\n\n"
		}
		cfg.SystemPrompt += sk.Prompt
	}
	m.mu.Unlock()

	eng, err := m.engines.Get(kind)
	if err != nil {
		return nil, engine.RunConfig{}, err
	}

	opts := permission.Strategy(mode, w.approvalFunc())
	cfg.AllowedTools = opts.AllowedTools
	cfg.CanUseTool = opts.CanUseTool
	return eng, cfg, nil
}

// approvalFunc blocks the run on the broker and moves the session
// through PERMISSION_PENDING around the wait.
func (w *worker) approvalFunc() engine.ApprovalFunc {
	m := w.m
	return func(ctx context.Context, toolName string, toolInput map[string]any) types.PermissionDecision {
		req, wait, ok := m.broker.Begin(w.id, toolName, toolInput, nil)
		if !ok {
			return types.PermissionDecision{Allow: false, Reason: "another permission request is already pending"}
		}

		m.session(w.id, func(s *types.Session) { s.PendingPermission = &req })
		m.setState(w.id, types.StatePermissionPending)

		d := wait(ctx)

		m.session(w.id, func(s *types.Session) { s.PendingPermission = nil })
		if !d.Interrupt {
			m.setState(w.id, types.StateThinking)
		}
		return d
	}
}

// finalizeMessage appends the assistant message assembled from the run,
// if it produced any content.
func (w *worker) finalizeMessage(text, thinking string, blocks []types.ContentBlock) {
	final := make([]types.ContentBlock, 0, len(blocks)+2)
	if text != "" {
		final = append(final, types.ContentBlock{Type: types.BlockText, Content: text})
	}
	if thinking != "" {
		final = append(final, types.ContentBlock{Type: types.BlockThinking, Content: thinking})
	}
	final = append(final, blocks...)
	if len(final) == 0 {
		return
	}

	msg := &types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleAssistant,
		Content:   final,
		CreatedAt: time.Now().UTC(),
	}
	w.m.session(w.id, func(s *types.Session) {
		msg.Metadata = map[string]any{"costUSD": s.TotalCostUSD}
		s.Messages = append(s.Messages, msg)
		s.UpdatedAt = msg.CreatedAt
	})
	w.m.bus.Broadcast(w.id, event.MessageCreated, event.MessageCreatedData{Message: msg})
}

// finish releases the run slot and persists the final snapshot.
func (w *worker) finish() {
	m := w.m
	m.mu.Lock()
	if m.running[w.id] == w.rt {
		delete(m.running, w.id)
	}
	m.mu.Unlock()
	m.persist(w.id)
}

// fail moves the session to ERROR and announces the failure.
func (w *worker) fail(msg string) {
	w.m.setState(w.id, types.StateError)
	w.m.bus.Broadcast(w.id, event.SessionError, event.SessionErrorData{Error: msg})
	w.log.Error().Str("error", msg).Msg("run failed")
	w.finish()
}

// fileOps maps file-affecting tool names to ledger operation names.
var fileOps = map[string]string{
	"Read":      "read",
	"Write":     "write",
	"Edit":      "edit",
	"MultiEdit": "edit",
	"Glob":      "glob",
	"Grep":      "grep",
	"Bash":      "execute",
}

// recordToolCall updates the session's side ledgers from a completed
// tool call: todo lists from TodoWrite, file operations from file
// tools.
func (w *worker) recordToolCall(ev engine.Event) {
	if ev.ToolName == "TodoWrite" {
		if todos := parseTodos(ev.Input); todos != nil {
			var out []*types.TodoItem
			w.m.session(w.id, func(s *types.Session) {
				s.Todos = todos
				s.UpdatedAt = time.Now().UTC()
				out = types.CloneTodos(s.Todos)
			})
			w.m.bus.Broadcast(w.id, event.TodoUpdated, event.TodoUpdatedData{Todos: out})
		}
		return
	}

	opName, ok := fileOps[ev.ToolName]
	if !ok {
		return
	}

	op := &types.FileOperation{
		ID:        ulid.Make().String(),
		Operation: opName,
		Path:      stringArg(ev.Input, "file_path", "path", "pattern", "command"),
		CreatedAt: time.Now().UTC(),
	}
	switch opName {
	case "write":
		op.ContentPreview = preview(stringArg(ev.Input, "content"))
	case "edit":
		before := stringArg(ev.Input, "old_string")
		after := stringArg(ev.Input, "new_string")
		if before != "" || after != "" {
			dmp := diffmatchpatch.New()
			op.Diff = dmp.PatchToText(dmp.PatchMake(before, after))
		}
	}

	w.m.session(w.id, func(s *types.Session) {
		s.FileOperations = append(s.FileOperations, op)
	})
	w.m.bus.Broadcast(w.id, event.FileOperation, event.FileOperationData{Operation: op.Clone()})
}

// parseTodos decodes a TodoWrite input into ledger items. Unknown
// shapes return nil.
func parseTodos(input map[string]any) []*types.TodoItem {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	items := make([]*types.TodoItem, 0, len(raw))
	for _, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := &types.TodoItem{
			ID:        stringArg(fields, "id"),
			Content:   stringArg(fields, "content"),
			Status:    stringArg(fields, "status"),
			CreatedAt: now,
		}
		if item.ID == "" {
			item.ID = ulid.Make().String()
		}
		if item.Status == "" {
			item.Status = types.TodoPending
		}
		if item.Status == types.TodoCompleted {
			done := now
			item.CompletedAt = &done
		}
		items = append(items, item)
	}
	return items
}

// stringArg returns the first non-empty string value among keys.
func stringArg(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func preview(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
