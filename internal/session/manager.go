// Package session implements the session lifecycle core: the in-memory
// session registry, the per-send worker driving an engine run, and the
// operations exposed to transports.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/logging"
	"github.com/arche-ai/arche/internal/permission"
	"github.com/arche-ai/arche/pkg/types"
)

// Store persists session snapshots. The manager writes a snapshot on
// every terminal transition when a store is configured.
type Store interface {
	SaveSession(snap *types.SessionSnapshot) error
	DeleteSession(id string) error
}

// SkillLoader resolves a skill definition by name for a working
// directory.
type SkillLoader interface {
	Load(cwd, name string) (types.Skill, error)
}

// Options configures a Manager.
type Options struct {
	Bus     *event.Bus
	Broker  *permission.Broker
	Engines *engine.Registry

	// Store, when set, receives session snapshots on terminal
	// transitions and deletions.
	Store Store

	// Skills, when set, backs LoadSkill.
	Skills SkillLoader

	DefaultModel  string
	DefaultMode   types.PermissionMode
	DefaultEngine engine.Kind
}

// runtime is the per-run state of a busy session.
type runtime struct {
	cancel context.CancelFunc
	run    engine.Run
	done   chan struct{}
}

// Manager owns all sessions. One mutex guards the registry and every
// session mutation; while a worker drives a run, only that worker
// mutates the session's conversation state, so no per-session lock is
// needed.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	running  map[string]*runtime
	skills   map[string][]types.Skill // sessionID -> loaded skills

	bus     *event.Bus
	broker  *permission.Broker
	engines *engine.Registry
	store   Store
	loader  SkillLoader

	defaultModel  string
	defaultMode   types.PermissionMode
	defaultEngine engine.Kind

	log zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	mode := opts.DefaultMode
	if !mode.Valid() {
		mode = types.PermissionDefault
	}
	kind := opts.DefaultEngine
	if !kind.Valid() {
		kind = engine.KindClaude
	}
	return &Manager{
		sessions:      make(map[string]*types.Session),
		running:       make(map[string]*runtime),
		skills:        make(map[string][]types.Skill),
		bus:           opts.Bus,
		broker:        opts.Broker,
		engines:       opts.Engines,
		store:         opts.Store,
		loader:        opts.Skills,
		defaultModel:  opts.DefaultModel,
		defaultMode:   mode,
		defaultEngine: kind,
		log:           logging.ForComponent("session"),
	}
}

// CreateParams are the settings for a new session. Zero values fall
// back to manager defaults.
type CreateParams struct {
	Name           string
	Model          string
	Cwd            string
	PermissionMode types.PermissionMode
	SystemPrompt   string
	ThinkingMode   string
	Engine         engine.Kind
	ResumeID       string
}

// Create registers a new idle session and announces it.
func (m *Manager) Create(p CreateParams) *types.SessionSnapshot {
	now := time.Now().UTC()
	s := &types.Session{
		ID:             ulid.Make().String(),
		Name:           p.Name,
		State:          types.StateIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
		Model:          p.Model,
		Cwd:            p.Cwd,
		PermissionMode: p.PermissionMode,
		SystemPrompt:   p.SystemPrompt,
		ThinkingMode:   p.ThinkingMode,
		Engine:         string(p.Engine),
		ResumeID:       p.ResumeID,
	}
	if s.Model == "" {
		s.Model = m.defaultModel
	}
	if !s.PermissionMode.Valid() {
		s.PermissionMode = m.defaultMode
	}
	if s.ThinkingMode == "" {
		s.ThinkingMode = "normal"
	}
	if s.Engine == "" {
		s.Engine = string(m.defaultEngine)
	}
	if s.Name == "" {
		s.Name = "session-" + s.ID[len(s.ID)-6:]
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	snap := s.Snapshot()
	m.mu.Unlock()

	m.log.Info().Str("session_id", s.ID).Str("model", s.Model).
		Str("engine", s.Engine).Msg("session created")
	m.bus.Broadcast(s.ID, event.SessionCreated, event.SessionCreatedData{Info: snap})
	return snap
}

// Get returns a snapshot of the session without message history.
func (m *Manager) Get(id string) (*types.SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Snapshot(), true
}

// GetWithMessages returns a snapshot including the full message
// history.
func (m *Manager) GetWithMessages(id string) (*types.SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.SnapshotWithMessages(), true
}

// List returns snapshots of all sessions ordered by creation time.
func (m *Manager) List() []*types.SessionSnapshot {
	m.mu.Lock()
	snaps := make([]*types.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snaps = append(snaps, s.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Restore reinstates a persisted session. Sessions that were mid-run
// when persisted come back as interrupted; a pending permission request
// does not survive a restart. Known ids are left untouched.
func (m *Manager) Restore(snap *types.SessionSnapshot) bool {
	if snap == nil || snap.ID == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[snap.ID]; ok {
		return false
	}

	s := &types.Session{
		ID:             snap.ID,
		Name:           snap.Name,
		State:          snap.State,
		CreatedAt:      snap.CreatedAt,
		UpdatedAt:      snap.UpdatedAt,
		Model:          snap.Model,
		Cwd:            snap.Cwd,
		PermissionMode: snap.PermissionMode,
		ResumeID:       snap.ResumeID,
		SystemPrompt:   snap.SystemPrompt,
		ThinkingMode:   snap.ThinkingMode,
		Engine:         snap.Engine,
		Messages:       snap.Messages,
		CurrentTurn:    snap.CurrentTurn,
		TotalCostUSD:   snap.TotalCostUSD,
		InputTokens:    snap.InputTokens,
		OutputTokens:   snap.OutputTokens,
		Todos:          snap.Todos,
		FileOperations: snap.FileOperations,
		LoadedSkills:   snap.LoadedSkills,
	}
	if s.State.Active() {
		s.State = types.StateInterrupted
	}

	m.sessions[s.ID] = s
	m.log.Info().Str("session_id", s.ID).Str("state", string(s.State)).
		Msg("session restored")
	return true
}

// UpdateParams are optional session settings; nil fields are left
// unchanged.
type UpdateParams struct {
	Name           *string
	Model          *string
	PermissionMode *types.PermissionMode
	ThinkingMode   *string
	SystemPrompt   *string
}

// Update applies settings changes and announces the updated session.
// Invalid permission or thinking modes are ignored field-wise.
func (m *Manager) Update(id string, p UpdateParams) (*types.SessionSnapshot, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	if p.Name != nil && *p.Name != "" {
		s.Name = *p.Name
	}
	if p.Model != nil && *p.Model != "" {
		s.Model = *p.Model
	}
	if p.PermissionMode != nil && p.PermissionMode.Valid() {
		s.PermissionMode = *p.PermissionMode
	}
	if p.ThinkingMode != nil {
		if _, known := types.ThinkingBudgets[*p.ThinkingMode]; known {
			s.ThinkingMode = *p.ThinkingMode
		}
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	s.UpdatedAt = time.Now().UTC()
	snap := s.Snapshot()
	m.mu.Unlock()

	m.bus.Broadcast(id, event.SessionUpdated, event.SessionUpdatedData{Info: snap})
	return snap, true
}

// SetModel changes the session's model.
func (m *Manager) SetModel(id, model string) bool {
	if model == "" {
		return false
	}
	_, ok := m.Update(id, UpdateParams{Model: &model})
	return ok
}

// SetPermissionMode changes the session's permission mode. Unknown
// modes are rejected.
func (m *Manager) SetPermissionMode(id string, mode types.PermissionMode) bool {
	if !mode.Valid() {
		return false
	}
	_, ok := m.Update(id, UpdateParams{PermissionMode: &mode})
	return ok
}

// SetThinkingMode changes the session's thinking mode. Unknown modes
// are rejected.
func (m *Manager) SetThinkingMode(id, mode string) bool {
	if _, known := types.ThinkingBudgets[mode]; !known {
		return false
	}
	_, ok := m.Update(id, UpdateParams{ThinkingMode: &mode})
	return ok
}

// Delete interrupts the session if busy, removes it, and announces the
// deletion. Event subscribers for the session are dropped.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	busy := s.State.Active()
	var done chan struct{}
	if rt := m.running[id]; rt != nil {
		done = rt.done
	}
	m.mu.Unlock()

	if busy {
		m.Interrupt(id)
		if done != nil {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				m.log.Warn().Str("session_id", id).Msg("worker did not stop before delete")
			}
		}
	}

	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.running, id)
	delete(m.skills, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteSession(id); err != nil {
			m.log.Error().Err(err).Str("session_id", id).Msg("delete session snapshot")
		}
	}

	m.bus.Broadcast(id, event.SessionDeleted, event.SessionDeletedData{SessionID: id})
	m.bus.UnsubscribeSession(id)
	m.log.Info().Str("session_id", id).Msg("session deleted")
	return true
}

// SendMessage appends a user message and starts a worker driving an
// engine run. It returns false when the session is unknown or busy.
func (m *Manager) SendMessage(id, content, systemPrompt string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.State.CanAcceptMessage() {
		m.mu.Unlock()
		return false
	}

	msg := &types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleUser,
		Content:   []types.ContentBlock{{Type: types.BlockText, Content: content}},
		CreatedAt: time.Now().UTC(),
	}
	s.Messages = append(s.Messages, msg)
	s.CurrentTurn++

	from := s.State
	s.State = types.StateThinking
	s.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	rt := &runtime{cancel: cancel, done: make(chan struct{})}
	m.running[id] = rt
	m.mu.Unlock()

	m.bus.Broadcast(id, event.MessageCreated, event.MessageCreatedData{Message: msg})
	m.bus.Broadcast(id, event.StateChanged, event.StateChangedData{From: from, To: types.StateThinking})

	w := &worker{
		m:            m,
		id:           id,
		prompt:       content,
		systemPrompt: systemPrompt,
		rt:           rt,
		log:          logging.ForSession(id),
	}
	go w.run(ctx)
	return true
}

// Interrupt stops a busy session. It resolves any pending permission
// request as an interrupt denial, cancels the worker, and interrupts
// the engine run. Sessions that are not busy are left alone.
func (m *Manager) Interrupt(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.State.Active() {
		m.mu.Unlock()
		return false
	}
	from := s.State
	s.State = types.StateInterrupted
	s.UpdatedAt = time.Now().UTC()
	s.PendingPermission = nil
	// The run handle is written by the worker under m.mu; read it here
	// while still holding the lock.
	var run engine.Run
	var cancel context.CancelFunc
	if rt := m.running[id]; rt != nil {
		run = rt.run
		cancel = rt.cancel
	}
	m.mu.Unlock()

	m.bus.Broadcast(id, event.StateChanged, event.StateChangedData{From: from, To: types.StateInterrupted})

	// First resolver wins; the worker unwinds on the interrupt denial.
	m.broker.Interrupt(id)

	if run != nil {
		if err := run.Interrupt(context.Background()); err != nil {
			m.log.Warn().Err(err).Str("session_id", id).Msg("engine interrupt")
		}
	}
	if cancel != nil {
		cancel()
	}

	m.bus.Broadcast(id, event.SessionInterrupted, nil)
	m.log.Info().Str("session_id", id).Str("from", string(from)).Msg("session interrupted")
	return true
}

// RespondPermission resolves the session's pending permission request.
// Stale or mismatched request ids return false with no side effect.
func (m *Manager) RespondPermission(id, requestID string, allow bool, modifiedInput map[string]any, reason string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	decision := types.PermissionDecision{
		Allow:         allow,
		ModifiedInput: modifiedInput,
		Reason:        reason,
	}
	if !allow && reason == "" {
		decision.Reason = "user denied permission"
	}
	return m.broker.Respond(id, requestID, decision)
}

// PendingPermission returns the session's outstanding permission
// request, if any.
func (m *Manager) PendingPermission(id string) (types.PermissionRequest, bool) {
	return m.broker.Pending(id)
}

// session runs fn with the session under the manager lock. Events must
// not be published from inside fn.
func (m *Manager) session(id string, fn func(s *types.Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// state returns the session's current state.
func (m *Manager) state(id string) types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.State
	}
	return ""
}

// setState transitions the session and broadcasts the change. A
// transition to the current state is a silent no-op; an invalid
// transition is rejected.
func (m *Manager) setState(id string, to types.SessionState) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	from := s.State
	if from == to {
		m.mu.Unlock()
		return true
	}
	if !from.CanTransitionTo(to) {
		m.mu.Unlock()
		return false
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.bus.Broadcast(id, event.StateChanged, event.StateChangedData{From: from, To: to})
	return true
}

// persist writes the session snapshot when a store is configured.
func (m *Manager) persist(id string) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	snap := s.SnapshotWithMessages()
	m.mu.Unlock()

	if err := m.store.SaveSession(snap); err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("persist session snapshot")
	}
}
