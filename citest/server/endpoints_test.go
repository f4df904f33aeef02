package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/arche-ai/arche/citest/testutil"
	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/pkg/types"
)

var _ = Describe("HTTP API", func() {
	var (
		h  *testutil.Harness
		ts *httptest.Server
	)

	BeforeEach(func() {
		h = testutil.NewHarness(testutil.Options{
			Steps: []engine.ScriptStep{
				engine.TextDelta("hello from the engine"),
				engine.Complete(),
			},
			DefaultMode: types.PermissionBypass,
		})
		ts = h.StartHTTP()
	})

	AfterEach(func() {
		ts.Close()
		h.Close()
	})

	post := func(path string, body any) *http.Response {
		buf, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(buf))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	getSnapshot := func(id string) *types.SessionSnapshot {
		resp, err := http.Get(ts.URL + "/sessions/" + id)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var snap types.SessionSnapshot
		Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
		return &snap
	}

	Describe("session lifecycle", func() {
		It("creates, lists, and deletes sessions", func() {
			resp := post("/sessions", map[string]any{"name": "demo"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var snap types.SessionSnapshot
			Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
			Expect(snap.ID).NotTo(BeEmpty())
			Expect(snap.State).To(Equal(types.StateIdle))

			listResp, err := http.Get(ts.URL + "/sessions")
			Expect(err).NotTo(HaveOccurred())
			defer listResp.Body.Close()
			var snaps []*types.SessionSnapshot
			Expect(json.NewDecoder(listResp.Body).Decode(&snaps)).To(Succeed())
			Expect(snaps).To(HaveLen(1))

			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+snap.ID, nil)
			delResp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			delResp.Body.Close()
			Expect(delResp.StatusCode).To(Equal(http.StatusOK))

			missing, err := http.Get(ts.URL + "/sessions/" + snap.ID)
			Expect(err).NotTo(HaveOccurred())
			missing.Body.Close()
			Expect(missing.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("sending a message", func() {
		It("accepts the send and completes the run", func() {
			resp := post("/sessions", map[string]any{})
			var snap types.SessionSnapshot
			Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
			resp.Body.Close()

			sendResp := post("/sessions/"+snap.ID+"/messages", map[string]any{"content": "hi"})
			sendResp.Body.Close()
			Expect(sendResp.StatusCode).To(Equal(http.StatusAccepted))

			Eventually(func() types.SessionState {
				return getSnapshot(snap.ID).State
			}, 5*time.Second, 10*time.Millisecond).Should(Equal(types.StateCompleted))
		})
	})

	Describe("SSE stream", func() {
		It("answers with event-stream headers", func() {
			resp := post("/sessions", map[string]any{})
			var snap types.SessionSnapshot
			Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
			resp.Body.Close()

			req, err := http.NewRequest(http.MethodGet, ts.URL+"/sessions/"+snap.ID+"/events", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Accept", "text/event-stream")

			client := &http.Client{Timeout: 5 * time.Second}
			sse, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer sse.Body.Close()

			Expect(sse.StatusCode).To(Equal(http.StatusOK))
			Expect(sse.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
			Expect(sse.Header.Get("Cache-Control")).To(Equal("no-cache"))
		})
	})
})
