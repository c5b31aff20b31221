package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get/Subscribe when the sessionId is unknown.
var ErrNotFound = errors.New("session: not found")

// SideLogger mirrors session events to an external, write-only system
// (Redis stream, Postgres table, ...) for cross-process observability.
// Defined here rather than in internal/sidelog so that package can import
// session without a cycle; its concrete loggers satisfy this interface
// structurally. A failing SideLogger never fails a session: Append errors
// are discarded, not propagated into the event bus.
type SideLogger interface {
	Append(ctx context.Context, sessionID string, ev Event) error
	Close() error
}

// subscriberBufferSize bounds how many events a slow subscriber may lag
// behind before it is disconnected. See the backpressure decision: explicit
// disconnect-with-notice on overflow, never silent drop-oldest.
const subscriberBufferSize = 256

type subscriber struct {
	id uint64
	ch chan Event
}

type entry struct {
	mu          sync.Mutex // guards session + subscribers; mutation + event append are atomic under this lock
	session     *Session
	subscribers []*subscriber
	nextSubID   uint64
	closed      bool
	sideLogger  SideLogger
}

// Store is the SessionStore: authoritative per-session state plus a typed
// event bus. The global table mapping sessionId -> entry needs only a
// short-held read lock at lookup time; all state mutation happens under
// the per-session lock, so operations on different sessions never contend.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	sideLogger SideLogger
}

// New creates an empty SessionStore.
func New() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

// SetSideLogger installs the external mirror every subsequently created
// session's events are fanned out to, in addition to the in-memory event
// log and live subscribers. Call once at startup before sessions exist;
// sessions created before the call are not retrofitted.
func (s *Store) SetSideLogger(sl SideLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sideLogger = sl
}

// Create allocates a new session in "initializing" status with the
// orchestrator pseudo-agent already registered and running.
func (s *Store) Create(query, clarification string, models ModelSelection, apiKeys map[string]string, cfg Config, budget Budget) (*Session, error) {
	now := time.Now()
	id := uuid.NewString()
	sess := &Session{
		ID:            id,
		Query:         query,
		Clarification: clarification,
		Models:        models,
		APIKeys:       apiKeys,
		Status:        StatusInitializing,
		Budget:        budget,
		Config:        cfg,
		Agents:        make(map[string]*Agent),
		PlanSteps:     make(map[string]*PlanStep),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sess.Agents[OrchestratorAgentID] = &Agent{
		AgentID:      OrchestratorAgentID,
		Task:         query,
		Status:       AgentRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
	sess.AgentOrder = append(sess.AgentOrder, OrchestratorAgentID)

	s.mu.Lock()
	e := &entry{session: sess, sideLogger: s.sideLogger}
	s.sessions[id] = e
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) get(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a consistent snapshot of the session's current state.
func (s *Store) Get(id string) (Session, error) {
	e, err := s.get(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.session), nil
}

func cloneSession(sess *Session) Session {
	cp := *sess
	cp.Agents = make(map[string]*Agent, len(sess.Agents))
	for k, a := range sess.Agents {
		ac := *a
		ac.ToolCalls = append([]ToolCall(nil), a.ToolCalls...)
		cp.Agents[k] = &ac
	}
	cp.AgentOrder = append([]string(nil), sess.AgentOrder...)
	cp.PlanSteps = make(map[string]*PlanStep, len(sess.PlanSteps))
	for k, p := range sess.PlanSteps {
		pc := *p
		pc.AgentIDs = append([]string(nil), p.AgentIDs...)
		cp.PlanSteps[k] = &pc
	}
	cp.PlanOrder = append([]string(nil), sess.PlanOrder...)
	cp.Events = append([]Event(nil), sess.Events...)
	return cp
}

// Subscribe returns a channel yielding, in order, every event already
// logged at subscription time followed by every subsequent event until the
// session ends or unsubscribe is called. The returned unsubscribe func is
// idempotent and safe to call from any goroutine.
func (s *Store) Subscribe(id string) (<-chan Event, func(), error) {
	e, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Room for the connected notice and the whole backlog on top of the
	// live-lag bound, so the replay below never blocks while e.mu is held.
	sub := &subscriber{id: e.nextSubID, ch: make(chan Event, subscriberBufferSize+1+len(e.session.Events))}
	e.nextSubID++
	sub.ch <- Event{Type: EventConnected, Data: ConnectedPayload{SessionID: id}, Timestamp: time.Now()}
	for _, ev := range e.session.Events {
		sub.ch <- ev
	}
	if e.closed {
		close(sub.ch)
		return sub.ch, func() {}, nil
	}
	e.subscribers = append(e.subscribers, sub)

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, existing := range e.subscribers {
			if existing == sub {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				close(existing.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe, nil
}

// emitLocked appends ev to the session's log and fans it out to every
// subscriber, disconnecting (with a final overflow notice) any subscriber
// whose buffer is full rather than dropping events silently. Must be
// called with e.mu held.
func (e *entry) emitLocked(ev Event) {
	e.session.Events = append(e.session.Events, ev)
	if e.sideLogger != nil {
		sideLogger, sessionID := e.sideLogger, e.session.ID
		go func() {
			_ = sideLogger.Append(context.Background(), sessionID, ev)
		}()
	}
	live := e.subscribers[:0]
	for _, sub := range e.subscribers {
		select {
		case sub.ch <- ev:
			live = append(live, sub)
		default:
			overflow := Event{
				Type: EventError,
				Data: ErrorPayload{
					Source: "system",
					Error:  "subscriber disconnected: buffer overflow",
				},
				Timestamp: time.Now(),
			}
			select {
			case sub.ch <- overflow:
			default:
			}
			close(sub.ch)
		}
	}
	e.subscribers = live
}

// closeLocked closes every subscriber channel once the session has reached
// a terminal status and no further events will be emitted.
func (e *entry) closeLocked() {
	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subscribers {
		close(sub.ch)
	}
	e.subscribers = nil
}

// EmitEvent appends an event not tied to any other specific mutation (e.g.
// a bare error event). The "connected" notice is not logged through here;
// Subscribe delivers it to the new subscriber only.
func (s *Store) EmitEvent(id string, ev Event) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(ev)
	return nil
}

// UpdateSessionStatus transitions the session's status and emits
// session_status_change. Reaching a terminal status closes every
// subscriber after delivering the final event; a session already in a
// terminal status is left unchanged and an error is returned.
func (s *Store) UpdateSessionStatus(id string, status Status) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.IsTerminal() {
		return fmt.Errorf("session: %s is already %s", id, e.session.Status)
	}
	e.session.Status = status
	e.session.UpdatedAt = time.Now()
	e.emitLocked(Event{Type: EventSessionStatusChange, Data: SessionStatusChangePayload{Status: status}, Timestamp: time.Now()})
	if status.IsTerminal() {
		e.closeLocked()
	}
	return nil
}

// AddAgent registers a new agent and emits agent_spawned. agentId must be
// unique within the session and is expected to follow the "agent_N"
// monotonic scheme enforced by the caller (Orchestrator.spawnAgent).
func (s *Store) AddAgent(id, agentID, task, description string) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.session.Agents[agentID]; exists {
		return fmt.Errorf("session: agent %s already exists", agentID)
	}
	now := time.Now()
	e.session.Agents[agentID] = &Agent{
		AgentID:      agentID,
		Task:         task,
		Description:  description,
		Status:       AgentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
	e.session.AgentOrder = append(e.session.AgentOrder, agentID)
	e.emitLocked(Event{
		Type:      EventAgentSpawned,
		Data:      AgentSpawnedPayload{AgentID: agentID, Task: task, Description: description},
		Timestamp: now,
	})
	return nil
}

// UpdateAgentStatus transitions an agent's status, enforcing that terminal
// statuses never change once set.
func (s *Store) UpdateAgentStatus(id, agentID string, status AgentStatus, agentErr string, retryCount int) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.session.Agents[agentID]
	if !ok {
		return fmt.Errorf("session: agent %s not found", agentID)
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("session: agent %s is already terminal (%s)", agentID, a.Status)
	}
	now := time.Now()
	a.Status = status
	a.Error = agentErr
	a.RetryCount = retryCount
	a.UpdatedAt = now
	a.LastActivity = now
	e.emitLocked(Event{
		Type: EventAgentStatusChange,
		Data: AgentStatusChangePayload{AgentID: agentID, Status: status, Error: agentErr, RetryCount: retryCount},
		Timestamp: now,
	})
	return nil
}

// AgentFailed marks an agent failed with full failure metadata and emits
// agent_failed in addition to the status-change event.
func (s *Store) AgentFailed(id, agentID, errMsg, errType string, attempts int) error {
	if err := s.UpdateAgentStatus(id, agentID, AgentFailed, errMsg, attempts); err != nil {
		return err
	}
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(Event{
		Type: EventAgentFailed,
		Data: AgentFailedPayload{AgentID: agentID, Error: errMsg, ErrorType: errType, Attempts: attempts},
		Timestamp: time.Now(),
	})
	return nil
}

// AddToolCall appends a new executing tool call to agentID's call list and
// emits tool_call. toolCallId must be unique within the agent.
func (s *Store) AddToolCall(id, agentID string, call ToolCall) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.session.Agents[agentID]
	if !ok {
		return fmt.Errorf("session: agent %s not found", agentID)
	}
	for _, existing := range a.ToolCalls {
		if existing.ToolCallID == call.ToolCallID {
			return fmt.Errorf("session: tool call %s already exists for agent %s", call.ToolCallID, agentID)
		}
	}
	call.Status = ToolCallExecuting
	a.ToolCalls = append(a.ToolCalls, call)
	a.LastActivity = time.Now()
	e.emitLocked(Event{
		Type: EventToolCall,
		Data: ToolCallPayload{
			AgentID: agentID, ToolCallID: call.ToolCallID, ToolName: call.ToolName,
			Input: call.Input, StepNumber: call.StepNumber, IndexInStep: call.IndexInStep,
			StartedAt: call.StartedAt, Description: call.Description,
		},
		Timestamp: time.Now(),
	})
	return nil
}

// UpdateToolCall transitions a tool call from executing to its terminal
// status exactly once, recording completedAt and emitting tool_result.
func (s *Store) UpdateToolCall(id, agentID, toolCallID string, status ToolCallStatus, result any) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.session.Agents[agentID]
	if !ok {
		return fmt.Errorf("session: agent %s not found", agentID)
	}
	idx := -1
	for i := range a.ToolCalls {
		if a.ToolCalls[i].ToolCallID == toolCallID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("session: tool call %s not found for agent %s", toolCallID, agentID)
	}
	tc := &a.ToolCalls[idx]
	if tc.Status != ToolCallExecuting {
		return fmt.Errorf("session: tool call %s already terminal", toolCallID)
	}
	now := time.Now()
	tc.Status = status
	tc.Result = result
	tc.CompletedAt = now
	a.LastActivity = now
	e.emitLocked(Event{
		Type: EventToolResult,
		Data: ToolResultPayload{
			AgentID: agentID, ToolCallID: tc.ToolCallID, ToolName: tc.ToolName,
			Status: tc.Status, Result: tc.Result, StartedAt: tc.StartedAt,
			CompletedAt: tc.CompletedAt, DurationMs: tc.DurationMs(),
			StepNumber: tc.StepNumber, IndexInStep: tc.IndexInStep,
		},
		Timestamp: now,
	})
	return nil
}

// AddOrchestratorStep records one orchestrator turn and emits
// orchestrator_step.
func (s *Store) AddOrchestratorStep(id string, stepNumber int, calls []OrchestratorStepToolCall) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(Event{
		Type:      EventOrchestratorStep,
		Data:      OrchestratorStepPayload{StepNumber: stepNumber, ToolCalls: calls},
		Timestamp: time.Now(),
	})
	return nil
}

// UpdatePlan replaces or appends plan steps and emits plan_update.
func (s *Store) UpdatePlan(id string, steps []PlanStep, mode string) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if mode == "replace" {
		e.session.PlanSteps = make(map[string]*PlanStep, len(steps))
		e.session.PlanOrder = nil
	}
	for i := range steps {
		st := steps[i]
		st.UpdatedAt = now
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		if _, exists := e.session.PlanSteps[st.StepID]; !exists {
			e.session.PlanOrder = append(e.session.PlanOrder, st.StepID)
		}
		stCopy := st
		e.session.PlanSteps[st.StepID] = &stCopy
	}
	snapshot := make([]PlanStep, 0, len(e.session.PlanOrder))
	for _, id := range e.session.PlanOrder {
		snapshot = append(snapshot, *e.session.PlanSteps[id])
	}
	e.emitLocked(Event{
		Type:      EventPlanUpdate,
		Data:      PlanUpdatePayload{Steps: snapshot, TotalSteps: len(snapshot)},
		Timestamp: now,
	})
	return nil
}

// SetStrategicPerspective stores the planner's free-text output on the
// session for the orchestrator to consume as context.
func (s *Store) SetStrategicPerspective(id, text string) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.StrategicPerspective = text
	e.session.UpdatedAt = time.Now()
	return nil
}

// FlowData derives the current visualization graph from session state.
func (s *Store) FlowData(id string) (Graph, error) {
	e, err := s.get(id)
	if err != nil {
		return Graph{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var g Graph
	g.Nodes = append(g.Nodes, GraphNode{ID: OrchestratorAgentID, Kind: "orchestrator", Label: "orchestrator"})
	for _, aid := range e.session.AgentOrder {
		if aid == OrchestratorAgentID {
			continue
		}
		a := e.session.Agents[aid]
		g.Nodes = append(g.Nodes, GraphNode{ID: aid, Kind: "agent", Label: a.Task})
		g.Edges = append(g.Edges, GraphEdge{From: OrchestratorAgentID, To: aid, Kind: "spawn"})
		var prev string
		for _, tc := range a.ToolCalls {
			g.Edges = append(g.Edges, GraphEdge{From: aid, To: tc.ToolCallID, Kind: "tool_call"})
			if prev != "" {
				g.Edges = append(g.Edges, GraphEdge{From: prev, To: tc.ToolCallID, Kind: "sequence"})
			}
			prev = tc.ToolCallID
		}
	}
	return g, nil
}

// CleanupOld removes sessions in a terminal status whose last update is
// older than maxAge.
func (s *Store) CleanupOld(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	var removed []string
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		e.mu.Lock()
		stale := e.session.Status.IsTerminal() && e.session.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}
