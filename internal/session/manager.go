package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

type entry struct {
	s      Session
	cancel func()
	once   sync.Once
}

// Manager is the registry of live relay connections. It is the only state
// shared between sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*entry)}
}

// Create registers a new idle session. cancel is invoked by CancelAll.
func (m *Manager) Create(remoteAddr string, cancel func()) Session {
	e := &entry{
		s: Session{
			ID:         uuid.NewString(),
			RemoteAddr: remoteAddr,
			Status:     StatusIdle,
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
	}
	m.mu.Lock()
	m.sessions[e.s.ID] = e
	m.wg.Add(1)
	m.mu.Unlock()
	return e.s
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.s, nil
}

// BeginOpen moves idle to opening. Any later open attempt fails, so a
// connection can never own two upstream sessions.
func (m *Manager) BeginOpen(sessionID string) error {
	return m.transition(sessionID, StatusIdle, StatusOpening)
}

// MarkOpen moves opening to open once upstream confirmed setup.
func (m *Manager) MarkOpen(sessionID string) error {
	if err := m.transition(sessionID, StatusOpening, StatusOpen); err != nil {
		return err
	}
	m.mu.Lock()
	if e, ok := m.sessions[sessionID]; ok {
		e.s.OpenedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) transition(sessionID string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.s.Status != from {
		return ErrInvalidTransition
	}
	e.s.Status = to
	return nil
}

// Close marks the session closed and removes it from the registry. Closing
// an unknown or already closed session returns ErrNotFound.
func (m *Manager) Close(sessionID string) (Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	m.mu.Unlock()

	e.once.Do(func() {
		m.mu.Lock()
		e.s.Status = StatusClosed
		e.s.ClosedAt = time.Now().UTC()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.wg.Done()
	})
	return e.s, nil
}

func (m *Manager) RecordInterruption(sessionID string) {
	m.update(sessionID, func(s *Session) { s.InterruptionCount++ })
}

func (m *Manager) RecordToolCalls(sessionID string, n int) {
	m.update(sessionID, func(s *Session) { s.ToolCallCount += n })
}

func (m *Manager) RecordFrameIn(sessionID string) {
	m.update(sessionID, func(s *Session) { s.FramesIn++ })
}

func (m *Manager) RecordFrameOut(sessionID string) {
	m.update(sessionID, func(s *Session) { s.FramesOut++ })
}

func (m *Manager) update(sessionID string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		fn(&e.s)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Summary lists live sessions, oldest first.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return Summary{Active: len(out), Sessions: out}
}

// CancelAll asks every live session to shut down.
func (m *Manager) CancelAll() int {
	var cancels []func()
	m.mu.RLock()
	for _, e := range m.sessions {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	m.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait blocks until every session closed or ctx ends.
func (m *Manager) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
