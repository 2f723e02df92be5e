package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// EngineFactory builds a fresh engine (with its own pipelines and
// connection) for each session.
type EngineFactory func(cfg EngineConfig) (*Engine, error)

// Manager owns at most one live session at a time. Starting a new session
// cleanly stops the previous one first; there is never a moment with two
// microphones open. Lifecycle operations serialize on opMu; the active
// pointer has its own lock so snapshots stay responsive while a session
// winds down.
type Manager struct {
	opMu    sync.Mutex
	factory EngineFactory

	mu     sync.Mutex
	active *Engine

	// StopWait bounds how long a replaced session may take to wind down.
	StopWait time.Duration
}

func NewManager(factory EngineFactory) *Manager {
	return &Manager{factory: factory, StopWait: 30 * time.Second}
}

// Start stops any live session, builds a new engine and launches it.
func (m *Manager) Start(ctx context.Context, cfg EngineConfig) (Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if prev := m.current(); prev != nil {
		if err := m.stop(ctx, prev); err != nil {
			return Session{}, err
		}
	}

	eng, err := m.factory(cfg)
	if err != nil {
		return Session{}, err
	}
	eng.Start()
	m.mu.Lock()
	m.active = eng
	m.mu.Unlock()
	return eng.Snapshot(), nil
}

// Current returns the live session's snapshot.
func (m *Manager) Current() (Session, error) {
	eng := m.current()
	if eng == nil {
		return Session{}, ErrNotFound
	}
	return eng.Snapshot(), nil
}

// Stop cleanly stops the live session and waits for it to close.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	eng := m.current()
	if eng == nil {
		return ErrNotFound
	}
	return m.stop(ctx, eng)
}

func (m *Manager) current() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) stop(ctx context.Context, eng *Engine) error {
	eng.Stop()

	timer := time.NewTimer(m.StopWait)
	defer timer.Stop()
	select {
	case <-eng.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("session: timed out waiting for shutdown")
	}
	m.mu.Lock()
	if m.active == eng {
		m.active = nil
	}
	m.mu.Unlock()
	return nil
}
