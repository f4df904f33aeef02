package session_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/arche-ai/arche/citest/testutil"
	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/session"
	"github.com/arche-ai/arche/pkg/types"
)

func waitForState(h *testutil.Harness, id string, want types.SessionState) {
	EventuallyWithOffset(1, func() types.SessionState {
		snap, ok := h.Manager.Get(id)
		if !ok {
			return ""
		}
		return snap.State
	}, 5*time.Second, 10*time.Millisecond).Should(Equal(want))
}

var _ = Describe("Session Flow", func() {
	var h *testutil.Harness

	AfterEach(func() {
		if h != nil {
			h.Close()
		}
	})

	Describe("a run with one tool call", func() {
		BeforeEach(func() {
			h = testutil.NewHarness(testutil.Options{
				Steps: []engine.ScriptStep{
					engine.ToolCallStart("1", "list_files"),
					engine.ToolCallComplete("1", "list_files", map[string]any{"path": "."}),
					engine.ToolResult("1", "a.py,b.py", false),
					engine.TextDelta("Found two files"),
					engine.Complete(),
				},
				DefaultMode: types.PermissionBypass,
			})
		})

		It("walks the session through the full lifecycle", func() {
			rec := testutil.Record(h.Bus)
			snap := h.Manager.Create(session.CreateParams{})

			Expect(h.Manager.SendMessage(snap.ID, "list files", "")).To(BeTrue())
			waitForState(h, snap.ID, types.StateCompleted)

			Eventually(func() []types.SessionState {
				return rec.StateSequence(snap.ID)
			}, 2*time.Second, 10*time.Millisecond).Should(Equal([]types.SessionState{
				types.StateThinking,
				types.StateToolExecuting,
				types.StateThinking,
				types.StateCompleted,
			}))

			// The observable run: user message, four state changes, the
			// tool call and its result, the stream delta, and the final
			// assistant message.
			Expect(rec.Count(event.MessageCreated)).To(Equal(2))
			Expect(rec.Count(event.ToolCall)).To(Equal(1))
			Expect(rec.Count(event.ToolResult)).To(Equal(1))
			Expect(rec.Count(event.StreamDelta)).To(Equal(1))
			Expect(len(rec.Events())).To(BeNumerically(">=", 5))

			got, ok := h.Manager.GetWithMessages(snap.ID)
			Expect(ok).To(BeTrue())
			Expect(got.Messages).To(HaveLen(2))

			assistant := got.Messages[1]
			Expect(assistant.Role).To(Equal(types.RoleAssistant))
			Expect(assistant.Text()).To(Equal("Found two files"))
			Expect(assistant.Content).To(HaveLen(3))
			Expect(assistant.Content[1].Type).To(Equal(types.BlockToolUse))
			Expect(assistant.Content[2].Type).To(Equal(types.BlockToolResult))
		})

		It("rejects a second send while the first is still running", func() {
			slow := testutil.NewHarness(testutil.Options{
				Steps: []engine.ScriptStep{
					{Event: engine.TextDelta("slow").Event, Delay: time.Hour},
				},
				DefaultMode: types.PermissionBypass,
			})
			defer slow.Close()

			snap := slow.Manager.Create(session.CreateParams{})
			Expect(slow.Manager.SendMessage(snap.ID, "first", "")).To(BeTrue())
			waitForState(slow, snap.ID, types.StateThinking)

			Expect(slow.Manager.SendMessage(snap.ID, "second", "")).To(BeFalse())
			Expect(slow.Manager.Interrupt(snap.ID)).To(BeTrue())
			waitForState(slow, snap.ID, types.StateInterrupted)
		})
	})

	Describe("two concurrent sessions", func() {
		It("do not block each other", func() {
			h = testutil.NewHarness(testutil.Options{
				Steps: []engine.ScriptStep{
					{Event: engine.TextDelta("slow").Event, Delay: time.Hour},
				},
				DefaultMode: types.PermissionBypass,
			})

			a := h.Manager.Create(session.CreateParams{})
			b := h.Manager.Create(session.CreateParams{})

			Expect(h.Manager.SendMessage(a.ID, "long task", "")).To(BeTrue())
			waitForState(h, a.ID, types.StateThinking)

			// Session B's validation answers immediately while A is busy.
			done := make(chan bool, 1)
			go func() {
				done <- h.Manager.SendMessage(b.ID, "quick check", "")
			}()
			Eventually(done, time.Second).Should(Receive(BeTrue()))

			Expect(h.Manager.Interrupt(a.ID)).To(BeTrue())
			Expect(h.Manager.Interrupt(b.ID)).To(BeTrue())
		})
	})

	Describe("deleting a busy session", func() {
		It("cancels the worker and forgets the session", func() {
			h = testutil.NewHarness(testutil.Options{
				Steps: []engine.ScriptStep{
					{Event: engine.TextDelta("slow").Event, Delay: time.Hour},
				},
				DefaultMode: types.PermissionBypass,
			})

			snap := h.Manager.Create(session.CreateParams{})
			Expect(h.Manager.SendMessage(snap.ID, "work", "")).To(BeTrue())
			waitForState(h, snap.ID, types.StateThinking)

			Expect(h.Manager.Delete(snap.ID)).To(BeTrue())
			_, ok := h.Manager.Get(snap.ID)
			Expect(ok).To(BeFalse())
			Expect(h.Bus.SubscriberCount(snap.ID)).To(BeZero())
		})
	})
})

var _ = Describe("Permission Mediation", func() {
	var h *testutil.Harness

	AfterEach(func() {
		if h != nil {
			h.Close()
		}
	})

	permissionScript := []engine.ScriptStep{
		{
			Event:           engine.ToolCallComplete("1", "delete_file", map[string]any{"path": "gone.txt"}).Event,
			NeedsPermission: true,
		},
		engine.ToolResult("1", "deleted", false),
		engine.TextDelta("done"),
		engine.Complete(),
	}

	Describe("an unanswered permission request", func() {
		It("is denied after the timeout and the session completes", func() {
			h = testutil.NewHarness(testutil.Options{
				Steps:             permissionScript,
				PermissionTimeout: 100 * time.Millisecond,
			})
			rec := testutil.Record(h.Bus)
			snap := h.Manager.Create(session.CreateParams{})

			Expect(h.Manager.SendMessage(snap.ID, "delete it", "")).To(BeTrue())
			waitForState(h, snap.ID, types.StateCompleted)

			got, _ := h.Manager.Get(snap.ID)
			Expect(got.State).NotTo(Equal(types.StatePermissionPending))
			Expect(rec.Count(event.PermissionRequested)).To(Equal(1))
			Expect(rec.Count(event.PermissionReplied)).To(Equal(1))

			// The denied tool call surfaces as an errored tool result.
			msgs, _ := h.Manager.GetWithMessages(snap.ID)
			assistant := msgs.Messages[len(msgs.Messages)-1]
			errored := false
			for _, b := range assistant.Content {
				if b.Type == types.BlockToolResult && b.IsError {
					errored = true
				}
			}
			Expect(errored).To(BeTrue())
		})
	})

	Describe("an approved permission request", func() {
		It("lets the tool run and the session complete", func() {
			h = testutil.NewHarness(testutil.Options{Steps: permissionScript})
			snap := h.Manager.Create(session.CreateParams{})

			Expect(h.Manager.SendMessage(snap.ID, "delete it", "")).To(BeTrue())
			waitForState(h, snap.ID, types.StatePermissionPending)

			req, ok := h.Manager.PendingPermission(snap.ID)
			Expect(ok).To(BeTrue())
			Expect(req.ToolName).To(Equal("delete_file"))

			Expect(h.Manager.RespondPermission(snap.ID, req.RequestID, true, nil, "")).To(BeTrue())
			waitForState(h, snap.ID, types.StateCompleted)

			// The resolved request id is stale now.
			Expect(h.Manager.RespondPermission(snap.ID, req.RequestID, true, nil, "")).To(BeFalse())
		})
	})

	Describe("interrupting a permission wait", func() {
		It("resolves the request immediately and interrupts the session", func() {
			h = testutil.NewHarness(testutil.Options{Steps: permissionScript})
			snap := h.Manager.Create(session.CreateParams{})

			Expect(h.Manager.SendMessage(snap.ID, "delete it", "")).To(BeTrue())
			waitForState(h, snap.ID, types.StatePermissionPending)

			start := time.Now()
			Expect(h.Manager.Interrupt(snap.ID)).To(BeTrue())
			waitForState(h, snap.ID, types.StateInterrupted)
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))

			_, pending := h.Manager.PendingPermission(snap.ID)
			Expect(pending).To(BeFalse())
			Expect(h.Manager.SendMessage(snap.ID, "again", "")).To(BeFalse())
		})
	})
})
