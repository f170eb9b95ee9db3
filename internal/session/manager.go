package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"lectern/internal/hub"
	"lectern/internal/transcript"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

const persistTimeout = 10 * time.Second

// State is the in-memory lifecycle position of a session.
type State int

const (
	StateCreated State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// liveSession holds everything owned by one open session.
type liveSession struct {
	mu             sync.Mutex
	id             string
	createdAt      time.Time
	state          State
	buffer         *transcript.Buffer
	lecturerID     string
	cancelListener interfaces.CancelFunc
}

// Info is a point-in-time view of a session for the HTTP API.
type Info struct {
	ID           string    `json:"sessionId"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	Connections  int       `json:"connections"`
	Lecturers    int       `json:"lecturers"`
	Students     int       `json:"students"`
	BufferLength int       `json:"bufferLength"`
}

// Manager is the session registry and lifecycle owner.
// ARCHITECTURAL DISCOVERY: The registry map is only consulted to find a
// session; every state change happens under that session's own lock.
type Manager struct {
	store interfaces.Store
	hub   *hub.Hub
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*liveSession
	// closed keeps only the ids of finished sessions so reconnects are told
	// the session ended rather than that it never existed.
	closed map[string]struct{}
}

// NewManager creates a registry and takes over the hub's empty signal.
func NewManager(store interfaces.Store, h *hub.Hub) *Manager {
	m := &Manager{
		store:    store,
		hub:      h,
		now:      time.Now,
		sessions: make(map[string]*liveSession),
		closed:   make(map[string]struct{}),
	}
	h.SetEmptyHandler(m.handleEmpty)
	return m
}

// CloseStale marks sessions left active by a previous process as closed.
// They cannot be resumed because their buffers and connections were lost.
func (m *Manager) CloseStale(ctx context.Context) (int64, error) {
	n, err := m.store.CloseStaleSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	if n > 0 {
		log.Printf("Closed %d stale sessions from a previous run", n)
	}
	return n, nil
}

// CreateSession mints a new unguessable id and persists the record.
func (m *Manager) CreateSession(ctx context.Context) (*types.Session, error) {
	record := &types.Session{
		ID:        uuid.NewString(),
		Status:    types.SessionStatusActive,
		CreatedAt: m.now().UTC(),
	}

	if err := m.store.CreateSession(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[record.ID] = &liveSession{
		id:        record.ID,
		createdAt: record.CreatedAt,
		state:     StateCreated,
		buffer:    transcript.NewBuffer(m.now),
	}
	m.mu.Unlock()

	log.Printf("Created session: id=%s", record.ID)
	return record, nil
}

func (m *Manager) lookup(sessionID string) *liveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// missing explains why sessionID has no live state.
func (m *Manager) missing(sessionID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.closed[sessionID]; ok {
		return ErrSessionClosed
	}
	return ErrSessionNotFound
}

// retire swaps a closed session's live state for its bare id.
func (m *Manager) retire(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.closed[sessionID] = struct{}{}
	m.mu.Unlock()
}

// SessionExists reports whether the session accepts connections.
func (m *Manager) SessionExists(sessionID string) bool {
	s := m.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCreated || s.state == StateActive
}

// State returns the lifecycle state of a known session.
func (m *Manager) State(sessionID string) (State, error) {
	s := m.lookup(sessionID)
	if s == nil {
		if err := m.missing(sessionID); errors.Is(err, ErrSessionClosed) {
			return StateClosed, nil
		}
		return 0, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Join admits conn to its session. Unknown ids are refused before any
// session state is touched.
func (m *Manager) Join(conn interfaces.Connection) error {
	if !types.IsValidRole(conn.Role()) {
		return ErrInvalidRole
	}
	s := m.lookup(conn.SessionID())
	if s == nil {
		return m.missing(conn.SessionID())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDraining || s.state == StateClosed {
		return ErrSessionClosed
	}

	isLecturer := conn.Role() == types.RoleLecturer
	if isLecturer && s.lecturerID != "" {
		return ErrLecturerAlreadyConnected
	}

	// Attach before the hub knows the connection: a hub failure must not be
	// able to fire the empty signal while this lock is held.
	attachedHere := false
	if isLecturer && s.cancelListener == nil {
		if err := m.attachLocked(s); err != nil {
			return err
		}
		attachedHere = true
	}

	if err := m.hub.Connect(s.id, conn); err != nil {
		if attachedHere {
			m.detachLocked(s)
		}
		return fmt.Errorf("failed to register connection: %w", err)
	}

	if isLecturer {
		s.lecturerID = conn.ID()
	}
	if s.state == StateCreated {
		s.state = StateActive
		log.Printf("Session %s is active", s.id)
	}
	return nil
}

// Leave removes conn from its session. The hub reports when the session
// empties, which drives it to Closed.
func (m *Manager) Leave(conn interfaces.Connection) {
	s := m.lookup(conn.SessionID())
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.lecturerID == conn.ID() {
		s.lecturerID = ""
	}
	s.mu.Unlock()

	m.hub.Disconnect(s.id, conn)
}

// AttachListener subscribes the session to new-question events. Calling
// it again while attached is a no-op.
func (m *Manager) AttachListener(sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return m.missing(sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	return m.attachLocked(s)
}

// DetachListener cancels the subscription if there is one.
func (m *Manager) DetachListener(sessionID string) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.detachLocked(s)
}

func (m *Manager) attachLocked(s *liveSession) error {
	if s.cancelListener != nil {
		return nil
	}
	sessionID := s.id
	cancel, err := m.store.SubscribeToNewQuestions(sessionID, func(q *types.Question) {
		n := m.hub.Broadcast(sessionID, types.NewQuestionMessage(q))
		log.Printf("Question %s delivered to %d connections in session %s", q.ID, n, sessionID)
	})
	if err != nil {
		return fmt.Errorf("failed to attach listener: %w", err)
	}
	s.cancelListener = cancel
	log.Printf("Listener attached for session %s", sessionID)
	return nil
}

func (m *Manager) detachLocked(s *liveSession) {
	if s.cancelListener == nil {
		return
	}
	s.cancelListener()
	s.cancelListener = nil
	log.Printf("Listener detached for session %s", s.id)
}

// ListenerAttached reports whether the session currently has a subscription.
func (m *Manager) ListenerAttached(sessionID string) bool {
	s := m.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelListener != nil
}

// AppendTranscript adds lecturer text to the session buffer.
func (m *Manager) AppendTranscript(sessionID, chunk string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return m.missing(sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrSessionClosed
	}
	s.buffer.Append(chunk)
	return nil
}

// GenerationTargets lists active sessions that currently have a lecturer.
func (m *Manager) GenerationTargets() []transcript.Target {
	m.mu.RLock()
	candidates := make([]*liveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	targets := make([]transcript.Target, 0)
	for _, s := range candidates {
		s.mu.Lock()
		if s.state == StateActive && s.lecturerID != "" {
			targets = append(targets, transcript.Target{SessionID: s.id, Buffer: s.buffer})
		}
		s.mu.Unlock()
	}
	return targets
}

// Info returns a snapshot of a session.
func (m *Manager) Info(sessionID string) (*Info, error) {
	s := m.lookup(sessionID)
	if s == nil {
		return nil, m.missing(sessionID)
	}

	s.mu.Lock()
	info := &Info{ID: s.id, State: s.state.String(), CreatedAt: s.createdAt}
	if s.buffer != nil {
		info.BufferLength = s.buffer.Len()
	}
	s.mu.Unlock()

	info.Connections = m.hub.Count(sessionID)
	info.Lecturers = m.hub.CountRole(sessionID, types.RoleLecturer)
	info.Students = m.hub.CountRole(sessionID, types.RoleStudent)
	return info, nil
}

// CloseSession ends a session on request: connections are told, the
// listener is detached and every connection is dropped.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return m.missing(sessionID)
	}

	s.mu.Lock()
	if s.state == StateDraining || s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateDraining
	s.mu.Unlock()

	// Broadcast without the session lock; a prune here may run handleEmpty.
	m.hub.Broadcast(sessionID, types.NewSessionEndedMessage(sessionID))

	s.mu.Lock()
	finalized := m.finalizeLocked(s)
	s.mu.Unlock()

	m.hub.DropSession(sessionID)

	if !finalized {
		return nil
	}
	m.retire(sessionID)
	log.Printf("Session %s closed on request", sessionID)
	return m.persistClosed(ctx, sessionID)
}

// handleEmpty runs when the hub reports that the session has no connections.
func (m *Manager) handleEmpty(sessionID string) {
	s := m.lookup(sessionID)
	if s == nil {
		return
	}

	s.mu.Lock()
	// A connection may have joined between the signal and this lock
	if s.state == StateClosed || m.hub.Count(sessionID) > 0 {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	finalized := m.finalizeLocked(s)
	s.mu.Unlock()

	if !finalized {
		return
	}
	m.retire(sessionID)
	log.Printf("Session %s closed after last connection left", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.persistClosed(ctx, sessionID); err != nil {
		log.Printf("Failed to persist closed session %s: %v", sessionID, err)
	}
}

// finalizeLocked moves a draining session to Closed. It reports false when
// another path already did so.
func (m *Manager) finalizeLocked(s *liveSession) bool {
	if s.state == StateClosed {
		return false
	}
	m.detachLocked(s)
	s.state = StateClosed
	s.buffer = nil
	s.lecturerID = ""
	return true
}

func (m *Manager) persistClosed(ctx context.Context, sessionID string) error {
	if err := m.store.UpdateSessionStatus(ctx, sessionID, types.SessionStatusClosed); err != nil {
		return fmt.Errorf("failed to persist session close: %w", err)
	}
	return nil
}

// Stats counts sessions per lifecycle state.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	all := make([]*liveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	closed := len(m.closed)
	m.mu.RUnlock()

	stats := map[string]int{}
	if closed > 0 {
		stats[StateClosed.String()] = closed
	}
	for _, s := range all {
		s.mu.Lock()
		stats[s.state.String()]++
		s.mu.Unlock()
	}
	return stats
}

// CloseAll ends every session that is still open. Used on shutdown so
// clients get session_ended and the store is left consistent.
func (m *Manager) CloseAll(ctx context.Context) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		err := m.CloseSession(ctx, id)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, ErrSessionClosed):
		default:
			log.Printf("Failed to close session %s on shutdown: %v", id, err)
		}
	}
	return closed
}
