package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type stageKey struct {
	SessionID uuid.UUID
	Type      StageType
}

// MemoryStore is an in-process Store for single-instance use and tests.
type MemoryStore struct {
	sessions map[uuid.UUID]*Session
	stages   map[stageKey]*Stage
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		stages:   make(map[stageKey]*Stage),
	}
}

// CreateSession stores s, filling in its id and timestamps when unset.
func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSession(s)
}

func (m *MemoryStore) createSession(s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("tss session %s already exists", s.ID)
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.State == "" {
		s.State = StateInProgress
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// CreateSessionWithStage stores a new session together with its first stage.
func (m *MemoryStore) CreateSessionWithStage(_ context.Context, s *Session, st *Stage) error {
	if err := ValidateData(st.Type, st.Data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createSession(s); err != nil {
		return err
	}
	st.SessionID = s.ID
	return m.createStage(st)
}

// CreateStage stores st. A session holds at most one stage per type.
func (m *MemoryStore) CreateStage(_ context.Context, st *Stage) error {
	if err := ValidateData(st.Type, st.Data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[st.SessionID]; !exists {
		return ErrSessionNotFound
	}
	return m.createStage(st)
}

func (m *MemoryStore) createStage(st *Stage) error {
	key := stageKey{st.SessionID, st.Type}
	if _, exists := m.stages[key]; exists {
		return ErrStageExists
	}
	now := time.Now()
	st.CreatedAt, st.UpdatedAt = now, now
	cp := *st
	cp.Data = cloneData(st.Data)
	m.stages[key] = &cp
	return nil
}

// GetSession retrieves a session by its ID.
func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// GetStageWithSession retrieves a stage and its session.
func (m *MemoryStore) GetStageWithSession(_ context.Context, id uuid.UUID, t StageType) (*StageWithSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	st, exists := m.stages[stageKey{id, t}]
	if !exists {
		return nil, ErrStageNotFound
	}
	out := &StageWithSession{Stage: *st, Session: *s}
	out.Stage.Data = cloneData(st.Data)
	return out, nil
}

// AdvanceStage applies a if the stage still holds a.From.
func (m *MemoryStore) AdvanceStage(_ context.Context, a Advance) error {
	if err := ValidateData(a.Type, a.Data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[a.SessionID]
	if !exists {
		return ErrSessionNotFound
	}
	if s.State != StateInProgress {
		return ErrSessionConflict
	}
	st, exists := m.stages[stageKey{a.SessionID, a.Type}]
	if !exists {
		return ErrStageNotFound
	}
	if st.Status != a.From {
		return ErrStageConflict
	}

	now := time.Now()
	st.Status = a.To
	st.Data = cloneData(a.Data)
	st.UpdatedAt = now
	if a.CompleteSession {
		s.State = StateCompleted
		s.UpdatedAt = now
	}
	return nil
}

// UpdateSessionState moves a session from one state to another.
func (m *MemoryStore) UpdateSessionState(_ context.Context, id uuid.UUID, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	if s.State != from {
		return ErrSessionConflict
	}
	s.State = to
	s.UpdatedAt = time.Now()
	return nil
}
