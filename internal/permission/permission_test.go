package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/pkg/types"
)

func newTestBroker(t *testing.T, timeout time.Duration) (*Broker, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	return NewBroker(bus, timeout), bus
}

func TestRequestResolvedByRespond(t *testing.T) {
	b, bus := newTestBroker(t, time.Minute)

	var mu sync.Mutex
	var seen []event.EventType
	bus.Subscribe("s1", func(ev event.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(context.Background(), "s1", "bash", map[string]any{"command": "ls"}, nil)
	}()

	var req types.PermissionRequest
	require.Eventually(t, func() bool {
		var ok bool
		req, ok = b.Pending("s1")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "bash", req.ToolName)
	assert.NotEmpty(t, req.RequestID)

	ok := b.Respond("s1", req.RequestID, types.PermissionDecision{Allow: true})
	assert.True(t, ok)

	d := <-done
	assert.True(t, d.Allow)
	assert.False(t, d.Interrupt)

	_, pending := b.Pending("s1")
	assert.False(t, pending)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event.EventType{event.PermissionRequested, event.PermissionReplied}, seen)
}

func TestRequestTimesOutAsDenial(t *testing.T) {
	b, _ := newTestBroker(t, 30*time.Millisecond)

	d := b.Request(context.Background(), "s1", "bash", nil, nil)
	assert.False(t, d.Allow)
	assert.False(t, d.Interrupt)
	assert.Contains(t, d.Reason, "timed out")

	_, pending := b.Pending("s1")
	assert.False(t, pending)
}

func TestRespondAfterTimeoutReturnsFalse(t *testing.T) {
	b, _ := newTestBroker(t, 20*time.Millisecond)

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(context.Background(), "s1", "bash", nil, nil)
	}()

	req, _ := b.Pending("s1")
	<-done

	ok := b.Respond("s1", req.RequestID, types.PermissionDecision{Allow: true})
	assert.False(t, ok, "stale response must have no effect")
}

func TestRespondStaleRequestID(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(context.Background(), "s1", "bash", nil, nil)
	}()

	require.Eventually(t, func() bool {
		_, ok := b.Pending("s1")
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.False(t, b.Respond("s1", "no-such-id", types.PermissionDecision{Allow: true}))
	assert.False(t, b.Respond("other-session", "no-such-id", types.PermissionDecision{Allow: true}))

	req, _ := b.Pending("s1")
	require.True(t, b.Respond("s1", req.RequestID, types.PermissionDecision{Allow: false, Reason: "nope"}))
	d := <-done
	assert.False(t, d.Allow)
	assert.Equal(t, "nope", d.Reason)
}

func TestInterruptResolvesAsInterruptDenial(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(context.Background(), "s1", "bash", nil, nil)
	}()

	require.Eventually(t, func() bool {
		_, ok := b.Pending("s1")
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.True(t, b.Interrupt("s1"))

	d := <-done
	assert.False(t, d.Allow)
	assert.True(t, d.Interrupt)

	assert.False(t, b.Interrupt("s1"), "second interrupt resolves nothing")
}

func TestContextCancelResolvesAsInterruptDenial(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(ctx, "s1", "bash", nil, nil)
	}()

	require.Eventually(t, func() bool {
		_, ok := b.Pending("s1")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()

	d := <-done
	assert.False(t, d.Allow)
	assert.True(t, d.Interrupt)
}

func TestOverlappingRequestDenied(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)

	done := make(chan types.PermissionDecision, 1)
	go func() {
		done <- b.Request(context.Background(), "s1", "bash", nil, nil)
	}()

	require.Eventually(t, func() bool {
		_, ok := b.Pending("s1")
		return ok
	}, time.Second, 5*time.Millisecond)

	d := b.Request(context.Background(), "s1", "grep", nil, nil)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "already pending")

	b.Interrupt("s1")
	<-done
}

func TestSessionsAreIndependent(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)

	d1 := make(chan types.PermissionDecision, 1)
	d2 := make(chan types.PermissionDecision, 1)
	go func() { d1 <- b.Request(context.Background(), "s1", "bash", nil, nil) }()
	go func() { d2 <- b.Request(context.Background(), "s2", "bash", nil, nil) }()

	require.Eventually(t, func() bool {
		_, ok1 := b.Pending("s1")
		_, ok2 := b.Pending("s2")
		return ok1 && ok2
	}, time.Second, 5*time.Millisecond)

	req1, _ := b.Pending("s1")
	require.True(t, b.Respond("s1", req1.RequestID, types.PermissionDecision{Allow: true}))

	assert.True(t, (<-d1).Allow)
	_, stillPending := b.Pending("s2")
	assert.True(t, stillPending)

	b.Interrupt("s2")
	<-d2
}

func TestBrokerDefaultTimeout(t *testing.T) {
	b, _ := newTestBroker(t, 0)
	assert.Equal(t, DefaultTimeout, b.Timeout())
}

func TestStrategyPlanMode(t *testing.T) {
	asked := false
	opts := Strategy(types.PermissionPlan, func(ctx context.Context, tool string, input map[string]any) types.PermissionDecision {
		asked = true
		return types.PermissionDecision{}
	})

	assert.Nil(t, opts.CanUseTool)
	assert.Contains(t, opts.AllowedTools, "Read")
	assert.Contains(t, opts.AllowedTools, "mcp__*")
	assert.False(t, asked)
}

func TestStrategyBypassMode(t *testing.T) {
	opts := Strategy(types.PermissionBypass, nil)
	assert.Nil(t, opts.CanUseTool)
	assert.Empty(t, opts.AllowedTools)
}

func TestStrategyDefaultModeAsks(t *testing.T) {
	var askedTool string
	opts := Strategy(types.PermissionDefault, func(ctx context.Context, tool string, input map[string]any) types.PermissionDecision {
		askedTool = tool
		return types.PermissionDecision{Allow: true}
	})

	require.NotNil(t, opts.CanUseTool)
	d := opts.CanUseTool(context.Background(), "bash", nil)
	assert.True(t, d.Allow)
	assert.Equal(t, "bash", askedTool)
}

func TestStrategyAcceptEditsAutoApprovesEdits(t *testing.T) {
	var askedTools []string
	ask := engine.ApprovalFunc(func(ctx context.Context, tool string, input map[string]any) types.PermissionDecision {
		askedTools = append(askedTools, tool)
		return types.PermissionDecision{Allow: false, Reason: "asked"}
	})
	opts := Strategy(types.PermissionAcceptEdits, ask)
	require.NotNil(t, opts.CanUseTool)

	d := opts.CanUseTool(context.Background(), "Edit", nil)
	assert.True(t, d.Allow)
	d = opts.CanUseTool(context.Background(), "Write", nil)
	assert.True(t, d.Allow)

	d = opts.CanUseTool(context.Background(), "bash", nil)
	assert.False(t, d.Allow)
	assert.Equal(t, []string{"bash"}, askedTools)
}

func TestBeginRejectsOverlap(t *testing.T) {
	b, _ := newTestBroker(t, time.Minute)

	req, wait, ok := b.Begin("s1", "bash", nil, nil)
	require.True(t, ok)
	require.NotNil(t, wait)

	_, _, ok = b.Begin("s1", "grep", nil, nil)
	assert.False(t, ok)

	require.True(t, b.Respond("s1", req.RequestID, types.PermissionDecision{Allow: true}))
	d := wait(context.Background())
	assert.True(t, d.Allow)
}

func TestIsEditTool(t *testing.T) {
	assert.True(t, IsEditTool("Edit"))
	assert.True(t, IsEditTool("MultiEdit"))
	assert.False(t, IsEditTool("Read"))
	assert.False(t, IsEditTool("bash"))
}
