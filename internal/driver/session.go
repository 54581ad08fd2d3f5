package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateActive SessionState = iota
	StateClosed
)

func (s SessionState) String() string {
	if s == StateActive {
		return "active"
	}
	return "closed"
}

// Session is a handle to one remote browser instance.
type Session struct {
	id           string
	capabilities gjson.Result

	// cmdMu serializes commands; the remote handles one at a time per session.
	cmdMu sync.Mutex

	mu    sync.RWMutex
	state SessionState
}

func (s *Session) ID() string {
	return s.id
}

// Capabilities returns the capabilities the remote reported at creation.
func (s *Session) Capabilities() gjson.Result {
	return s.capabilities
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// markClosed reports whether the call changed the state.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

// SessionManager opens, tracks and closes sessions on one remote endpoint.
type SessionManager struct {
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionManager(dispatcher *Dispatcher) *SessionManager {
	return &SessionManager{
		dispatcher: dispatcher,
		sessions:   make(map[string]*Session),
	}
}

// Open creates a remote session. Failures are not retried; every remote or
// transport failure is reported as KindSessionStartFailure.
func (m *SessionManager) Open(ctx context.Context, capabilities map[string]any) (*Session, error) {
	params := Params{"capabilities": map[string]any{"alwaysMatch": capabilities}}
	if capabilities == nil {
		params = Params{"capabilities": map[string]any{}}
	}

	value, err := m.dispatcher.send(ctx, protocol.NewSession, nil, params)
	if err != nil {
		switch KindOf(err) {
		case "", KindSessionStartFailure:
			return nil, err
		}
		return nil, newError(KindSessionStartFailure, protocol.NewSession, "", err)
	}

	id := value.Get("sessionId").String()
	if id == "" {
		return nil, newError(KindSessionStartFailure, protocol.NewSession, "response carries no session id", nil)
	}

	session := &Session{
		id:           id,
		capabilities: value.Get("capabilities"),
		state:        StateActive,
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	log.Infof("Session %s opened", id)
	return session, nil
}

// Close ends a session. Closing a closed session does nothing.
// The session is closed locally even when the remote call fails.
func (m *SessionManager) Close(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	if !s.IsActive() {
		m.forget(s)
		return nil
	}

	_, err := m.dispatcher.Execute(ctx, s, protocol.DeleteSession, nil)
	m.forget(s)
	if err != nil && KindOf(err) != KindInvalidSessionState {
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	log.Debugf("Session %s closed", s.id)
	return nil
}

func (m *SessionManager) IsActive(s *Session) bool {
	return s != nil && s.IsActive()
}

// Sessions returns the sessions still tracked as open.
func (m *SessionManager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseAll closes every tracked session and returns the first error.
func (m *SessionManager) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, s := range m.Sessions() {
		if err := m.Close(ctx, s); err != nil {
			log.Debugf("Error closing session %s: %v", s.id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *SessionManager) forget(s *Session) {
	s.markClosed()
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}
