package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_CanAcceptMessage(t *testing.T) {
	accepting := []SessionState{StateIdle, StateCompleted, StateError}
	rejecting := []SessionState{StateThinking, StateToolExecuting, StatePermissionPending, StateInterrupted}

	for _, s := range accepting {
		assert.True(t, s.CanAcceptMessage(), "state %s should accept messages", s)
	}
	for _, s := range rejecting {
		assert.False(t, s.CanAcceptMessage(), "state %s should reject messages", s)
	}
}

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    SessionState
		to      SessionState
		allowed bool
	}{
		{StateIdle, StateThinking, true},
		{StateThinking, StateToolExecuting, true},
		{StateThinking, StatePermissionPending, true},
		{StateToolExecuting, StateThinking, true},
		{StatePermissionPending, StateThinking, true},
		{StateThinking, StateCompleted, true},
		{StateThinking, StateError, true},
		{StateToolExecuting, StateCompleted, true},
		{StateThinking, StateInterrupted, true},
		{StateToolExecuting, StateInterrupted, true},
		{StatePermissionPending, StateInterrupted, true},
		{StateCompleted, StateThinking, true},
		{StateError, StateThinking, true},

		// No skipping between non-adjacent states.
		{StateIdle, StateToolExecuting, false},
		{StateIdle, StateCompleted, false},
		{StatePermissionPending, StateCompleted, false},
		{StatePermissionPending, StateError, false},
		{StateInterrupted, StateThinking, false},
		{StateCompleted, StateToolExecuting, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionState_Active(t *testing.T) {
	assert.True(t, StateThinking.Active())
	assert.True(t, StateToolExecuting.Active())
	assert.True(t, StatePermissionPending.Active())
	assert.False(t, StateIdle.Active())
	assert.False(t, StateCompleted.Active())
	assert.False(t, StateInterrupted.Active())
}

func TestSessionState_Terminal(t *testing.T) {
	assert.True(t, StateInterrupted.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateThinking.Terminal())
}

func TestPermissionMode_Valid(t *testing.T) {
	assert.True(t, PermissionDefault.Valid())
	assert.True(t, PermissionAcceptEdits.Valid())
	assert.True(t, PermissionPlan.Valid())
	assert.True(t, PermissionBypass.Valid())
	assert.False(t, PermissionMode("yolo").Valid())
	assert.False(t, PermissionMode("").Valid())
}

func TestSession_Snapshot_BoundsFileOperations(t *testing.T) {
	sess := &Session{ID: "s1", State: StateIdle}
	for i := 0; i < FileOpRetention+15; i++ {
		sess.FileOperations = append(sess.FileOperations, &FileOperation{
			ID:        "op",
			Operation: "write",
		})
	}

	snap := sess.Snapshot()
	assert.Len(t, snap.FileOperations, FileOpRetention)
	// The in-memory ledger is untouched.
	assert.Len(t, sess.FileOperations, FileOpRetention+15)
}

func TestSession_Snapshot_EmptyCollections(t *testing.T) {
	sess := &Session{ID: "s1", State: StateIdle}
	snap := sess.Snapshot()

	// Empty slices serialize as [] rather than null.
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"todos":[]`)
	assert.Contains(t, string(data), `"fileOperations":[]`)
	assert.Contains(t, string(data), `"loadedSkills":[]`)
	assert.NotContains(t, string(data), `"messages"`)
}

func TestSession_SnapshotWithMessages(t *testing.T) {
	sess := &Session{
		ID:    "s1",
		State: StateCompleted,
		Messages: []*Message{
			{ID: "m1", Role: RoleUser},
			{ID: "m2", Role: RoleAssistant},
		},
	}

	snap := sess.Snapshot()
	assert.Nil(t, snap.Messages)
	assert.Equal(t, 2, snap.MessageCount)

	full := sess.SnapshotWithMessages()
	require.Len(t, full.Messages, 2)
	assert.Equal(t, "m1", full.Messages[0].ID)
}

func TestMessage_Text(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: BlockThinking, Content: "hmm"},
			{Type: BlockText, Content: "Hello, "},
			{Type: BlockToolUse, Content: map[string]any{"path": "a.go"}, ToolID: "t1", ToolName: "read_file"},
			{Type: BlockText, Content: "world"},
		},
		CreatedAt: time.Now(),
	}

	assert.Equal(t, "Hello, world", msg.Text())
}

func TestPermissionDecision_Behavior(t *testing.T) {
	assert.Equal(t, "allow", PermissionDecision{Allow: true}.Behavior())
	assert.Equal(t, "deny", PermissionDecision{Reason: "nope"}.Behavior())
}

func TestConfig_PermissionTimeout(t *testing.T) {
	def := 300 * time.Second

	var nilCfg *Config
	assert.Equal(t, def, nilCfg.PermissionTimeout(def))

	cfg := &Config{}
	assert.Equal(t, def, cfg.PermissionTimeout(def))

	cfg.PermissionTimeoutSecs = 5
	assert.Equal(t, 5*time.Second, cfg.PermissionTimeout(def))
}
