package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/luispater/anyWebDriver/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// Server is a local automation endpoint speaking the W3C command subset of
// the protocol package.
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	backend  Backend
	handlers *Handlers

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	id      string
	browser BrowserSession
	queue   *CommandQueue
}

// ServerConfig contains configuration for the endpoint
type ServerConfig struct {
	Port    string
	Debug   bool
	Backend Backend
}

// NewServer creates a new endpoint instance
func NewServer(config *ServerConfig) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		backend:  config.Backend,
		sessions: make(map[string]*sessionEntry),
	}
	s.handlers = NewHandlers(s)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    ":" + config.Port,
		Handler: engine,
	}

	return s
}

// setupRoutes registers one handler per protocol command
func (s *Server) setupRoutes() {
	for cmd, route := range protocol.Routes {
		handler, ok := s.handlers.For(cmd)
		if !ok {
			log.Warnf("No handler for command %s, route %s %s left unregistered", cmd, route.Method, route.Path)
			continue
		}
		s.engine.Handle(route.Method, route.Path, handler)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, NewError(protocol.CodeUnknownCommand, "%s %s", c.Request.Method, c.Request.URL.Path))
	})
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the endpoint and blocks until it stops.
func (s *Server) Start() error {
	log.Debugf("Starting endpoint on %s", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %v", err)
	}

	return nil
}

// Stop quits every open session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping endpoint...")

	s.QuitAll(ctx)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}

	log.Debug("Endpoint stopped")
	return nil
}

// QuitAll ends every open session.
func (s *Server) QuitAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.removeSession(ctx, id); err != nil {
			log.Debugf("Error quitting session %s: %v", id, err)
		}
	}
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) addSession(entry *sessionEntry) {
	s.mu.Lock()
	s.sessions[entry.id] = entry
	s.mu.Unlock()
}

func (s *Server) lookupSession(id string) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

// removeSession quits the browser through the session queue, then stops the queue.
func (s *Server) removeSession(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return NewError(protocol.CodeInvalidSessionID, "session %s does not exist", id)
	}

	_, err := entry.queue.Do(ctx, string(protocol.DeleteSession), func(ctx context.Context) (any, error) {
		return nil, entry.browser.Quit(ctx)
	})
	if errStop := entry.queue.Stop(); errStop != nil {
		log.Debugf("Error stopping queue of session %s: %v", id, errStop)
	}
	log.Infof("Session %s deleted", id)
	return err
}
