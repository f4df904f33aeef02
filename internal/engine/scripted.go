package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ScriptStep is one step of a scripted run.
type ScriptStep struct {
	Event Event

	// NeedsPermission makes the run consult the configured approval
	// callback before emitting this event, the way a real backend asks
	// before executing a tool.
	NeedsPermission bool

	// Delay is waited before the step plays.
	Delay time.Duration
}

// Scripted is an engine that replays a fixed event script. It backs the
// test suites and serves as a stand-in backend for local development.
type Scripted struct {
	mu          sync.Mutex
	steps       []ScriptStep
	startCount  int
	lastConfig  RunConfig
	startErrors int
}

// NewScripted creates a scripted engine that plays the given steps on
// every run.
func NewScripted(steps ...ScriptStep) *Scripted {
	return &Scripted{steps: steps}
}

// FailStarts makes the next n Start calls fail with a transient error.
func (s *Scripted) FailStarts(n int) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErrors = n
	return s
}

// StartCount returns how many times Start was called.
func (s *Scripted) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCount
}

// LastConfig returns the RunConfig of the most recent Start call.
func (s *Scripted) LastConfig() RunConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfig
}

// Kind implements Engine.
func (s *Scripted) Kind() Kind { return KindScripted }

// Start implements Engine.
func (s *Scripted) Start(ctx context.Context, cfg RunConfig) (Run, error) {
	s.mu.Lock()
	s.startCount++
	s.lastConfig = cfg
	steps := make([]ScriptStep, len(s.steps))
	copy(steps, s.steps)
	fail := s.startErrors > 0
	if fail {
		s.startErrors--
	}
	s.mu.Unlock()

	if fail {
		return nil, errors.New("scripted engine: transient start failure")
	}

	run := &scriptedRun{
		events:      make(chan Event),
		interrupted: make(chan struct{}),
	}
	go run.play(ctx, cfg, steps)
	return run, nil
}

// scriptedRun plays one script to completion, honoring cancellation,
// interruption, tool allow-lists, and the approval callback.
type scriptedRun struct {
	events      chan Event
	interrupted chan struct{}
	once        sync.Once
}

func (r *scriptedRun) Events() <-chan Event { return r.events }

func (r *scriptedRun) Interrupt(ctx context.Context) error {
	r.once.Do(func() { close(r.interrupted) })
	return nil
}

func (r *scriptedRun) Close() error {
	r.once.Do(func() { close(r.interrupted) })
	return nil
}

func (r *scriptedRun) play(ctx context.Context, cfg RunConfig, steps []ScriptStep) {
	defer close(r.events)

	for _, step := range steps {
		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-r.interrupted:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-r.interrupted:
			return
		default:
		}

		ev := step.Event

		if isToolCall(ev.Kind) && !toolAllowed(cfg.AllowedTools, ev.ToolName) {
			r.emit(ctx, Event{
				Kind:    EventToolResult,
				ToolID:  ev.ToolID,
				Content: "tool not permitted in this mode: " + ev.ToolName,
				IsError: true,
			})
			continue
		}

		if step.NeedsPermission && cfg.CanUseTool != nil {
			decision := cfg.CanUseTool(ctx, ev.ToolName, ev.Input)
			if decision.Interrupt {
				return
			}
			if !decision.Allow {
				r.emit(ctx, Event{
					Kind:    EventToolResult,
					ToolID:  ev.ToolID,
					Content: "permission denied: " + decision.Reason,
					IsError: true,
				})
				continue
			}
			if decision.ModifiedInput != nil {
				ev.Input = decision.ModifiedInput
			}
		}

		if !r.emit(ctx, ev) {
			return
		}
		if ev.Kind.Terminal() {
			return
		}
	}
}

func (r *scriptedRun) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-r.interrupted:
		return false
	}
}

func isToolCall(k EventKind) bool {
	return k == EventToolCallStart || k == EventToolCallComplete
}

// toolAllowed matches a tool name against the allow-list glob patterns.
// An empty list allows everything.
func toolAllowed(patterns []string, tool string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, tool); err == nil && ok {
			return true
		}
	}
	return false
}

// Script helpers for building steps.

// TextDelta returns a content-delta step.
func TextDelta(text string) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventContentDelta, Text: text}}
}

// ThinkingDelta returns a thinking-delta step.
func ThinkingDelta(text string) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventThinkingDelta, Text: text}}
}

// ToolCallStart returns a tool-call-start step.
func ToolCallStart(id, name string) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventToolCallStart, ToolID: id, ToolName: name}}
}

// ToolCallComplete returns a tool-call-complete step.
func ToolCallComplete(id, name string, input map[string]any) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventToolCallComplete, ToolID: id, ToolName: name, Input: input}}
}

// ToolResult returns a tool-result step.
func ToolResult(id, content string, isError bool) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventToolResult, ToolID: id, Content: content, IsError: isError}}
}

// Status returns a status/cost step.
func Status(turns int, costUSD float64) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventStatus, Turns: turns, CostUSD: costUSD}}
}

// Complete returns the normal terminal step.
func Complete() ScriptStep {
	return ScriptStep{Event: Event{Kind: EventComplete}}
}

// Fail returns an error terminal step.
func Fail(msg string) ScriptStep {
	return ScriptStep{Event: Event{Kind: EventError, Err: msg}}
}
