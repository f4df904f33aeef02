// Package permission implements human-in-the-loop tool approval: a
// broker that correlates blocking approval requests with asynchronous
// client responses, and per-mode strategies that decide when the broker
// is consulted at all.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/logging"
	"github.com/arche-ai/arche/pkg/types"
)

// DefaultTimeout is how long a request waits for a human decision
// before it is denied.
const DefaultTimeout = 300 * time.Second

// WaitFunc blocks until the request it belongs to is resolved.
type WaitFunc func(ctx context.Context) types.PermissionDecision

// Broker correlates tool-approval requests with client responses. Each
// session has at most one outstanding request; a request is resolved
// exactly once, by whichever of respond, timeout, or interrupt arrives
// first.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest // sessionID -> outstanding request
	bus     *event.Bus
	timeout time.Duration
	log     zerolog.Logger
}

type pendingRequest struct {
	req     types.PermissionRequest
	resolve chan types.PermissionDecision
}

// NewBroker creates a broker publishing on bus. A zero timeout selects
// DefaultTimeout.
func NewBroker(bus *event.Bus, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		pending: make(map[string]*pendingRequest),
		bus:     bus,
		timeout: timeout,
		log:     logging.ForComponent("permission"),
	}
}

// Timeout returns the configured decision timeout.
func (b *Broker) Timeout() time.Duration { return b.timeout }

// Begin registers an approval request for the session and announces it.
// It returns the registered request and a wait function the caller must
// invoke to obtain the decision. Begin fails when the session already
// has an outstanding request.
func (b *Broker) Begin(sessionID, toolName string, toolInput map[string]any, suggestions []map[string]any) (types.PermissionRequest, WaitFunc, bool) {
	req := types.PermissionRequest{
		RequestID:   ulid.Make().String(),
		ToolName:    toolName,
		ToolInput:   toolInput,
		Suggestions: suggestions,
		CreatedAt:   time.Now().UTC(),
	}

	p := &pendingRequest{req: req, resolve: make(chan types.PermissionDecision, 1)}

	b.mu.Lock()
	if _, exists := b.pending[sessionID]; exists {
		b.mu.Unlock()
		b.log.Warn().Str("session_id", sessionID).Str("tool", toolName).
			Msg("rejecting overlapping permission request")
		return types.PermissionRequest{}, nil, false
	}
	b.pending[sessionID] = p
	b.mu.Unlock()

	b.bus.Broadcast(sessionID, event.PermissionRequested, event.PermissionRequestedData{Request: &req})

	return req, func(ctx context.Context) types.PermissionDecision {
		return b.wait(ctx, sessionID, p)
	}, true
}

// Request registers an approval request and blocks until it is
// resolved. An overlapping request for the same session is denied
// immediately.
func (b *Broker) Request(ctx context.Context, sessionID, toolName string, toolInput map[string]any, suggestions []map[string]any) types.PermissionDecision {
	_, wait, ok := b.Begin(sessionID, toolName, toolInput, suggestions)
	if !ok {
		return types.PermissionDecision{Allow: false, Reason: "another permission request is already pending"}
	}
	return wait(ctx)
}

// wait blocks for resolution. Timeout resolves the request as a plain
// denial; context cancellation resolves it as an interrupt denial.
func (b *Broker) wait(ctx context.Context, sessionID string, p *pendingRequest) types.PermissionDecision {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case d := <-p.resolve:
		return d
	case <-timer.C:
		if b.take(sessionID, p) {
			d := types.PermissionDecision{Allow: false, Reason: "permission request timed out"}
			b.log.Warn().Str("session_id", sessionID).Str("request_id", p.req.RequestID).
				Str("tool", p.req.ToolName).Dur("timeout", b.timeout).
				Msg("permission request timed out")
			b.replied(sessionID, p.req.RequestID, d)
			return d
		}
		// A resolver won the race; its decision is already buffered.
		return <-p.resolve
	case <-ctx.Done():
		if b.take(sessionID, p) {
			d := types.PermissionDecision{Allow: false, Reason: "session interrupted", Interrupt: true}
			b.replied(sessionID, p.req.RequestID, d)
			return d
		}
		return <-p.resolve
	}
}

// Respond resolves the session's outstanding request. It returns false
// when there is no outstanding request or the id does not match, with
// no side effect.
func (b *Broker) Respond(sessionID, requestID string, decision types.PermissionDecision) bool {
	b.mu.Lock()
	p, ok := b.pending[sessionID]
	if !ok || p.req.RequestID != requestID {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, sessionID)
	b.mu.Unlock()

	p.resolve <- decision
	b.replied(sessionID, requestID, decision)
	return true
}

// Interrupt resolves the session's outstanding request, if any, as an
// interrupt denial. It reports whether a request was resolved.
func (b *Broker) Interrupt(sessionID string) bool {
	b.mu.Lock()
	p, ok := b.pending[sessionID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, sessionID)
	b.mu.Unlock()

	d := types.PermissionDecision{Allow: false, Reason: "session interrupted", Interrupt: true}
	p.resolve <- d
	b.replied(sessionID, p.req.RequestID, d)
	return true
}

// Pending returns a copy of the session's outstanding request, if any.
func (b *Broker) Pending(sessionID string) (types.PermissionRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[sessionID]
	if !ok {
		return types.PermissionRequest{}, false
	}
	return p.req, true
}

// take removes p from the pending map if it is still the session's
// outstanding request. The caller owns resolution when take succeeds.
func (b *Broker) take(sessionID string, p *pendingRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[sessionID] != p {
		return false
	}
	delete(b.pending, sessionID)
	return true
}

func (b *Broker) replied(sessionID, requestID string, d types.PermissionDecision) {
	b.bus.Broadcast(sessionID, event.PermissionReplied, event.PermissionRepliedData{
		RequestID: requestID,
		Allowed:   d.Allow,
	})
}
