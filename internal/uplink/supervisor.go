package uplink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkName is the unique name the exercise uplink runs under.
const WorkName = "sendExerciseData"

// Factory builds a fresh Loop, with its own connection, for a new session.
type Factory func(sessionID string) (*Loop, error)

type session struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs uplink sessions as unique named work. Starting a name that
// is already running replaces it: the old session is stopped first.
type Supervisor struct {
	factory Factory
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSupervisor(factory Factory, log *zap.Logger) *Supervisor {
	return &Supervisor{
		factory:  factory,
		log:      log,
		sessions: make(map[string]*session),
	}
}

// Start launches a new session under name, replacing any running one, and
// returns its session ID. The replaced session is stopped outside s.mu so
// Status and Stop stay responsive while it winds down.
func (s *Supervisor) Start(name string) (string, error) {
	s.mu.Lock()
	prev := s.sessions[name]
	delete(s.sessions, name)
	s.mu.Unlock()

	if prev != nil {
		s.log.Info("uplink: replacing session",
			zap.String("work", name),
			zap.String("session_id", prev.loop.SessionID()),
		)
		prev.stop()
	}

	id := uuid.NewString()
	loop, err := s.factory(id)
	if err != nil {
		return "", fmt.Errorf("uplink: build session: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{loop: loop, cancel: cancel, done: make(chan struct{})}

	// A concurrent Start may have registered a session in the meantime.
	s.mu.Lock()
	displaced := s.sessions[name]
	s.sessions[name] = sess
	s.mu.Unlock()
	if displaced != nil {
		displaced.stop()
	}

	go func() {
		defer close(sess.done)
		_ = loop.Run(ctx)
	}()
	return id, nil
}

// Stop signals the session under name to end and waits for it. It reports
// whether a session was running.
func (s *Supervisor) Stop(name string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[name]
	delete(s.sessions, name)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.stop()
	return true
}

// Status returns the status of the session running under name.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[name]
	s.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return sess.loop.Status(), true
}

// Shutdown stops every running session.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

func (sess *session) stop() {
	sess.cancel()
	<-sess.done
}
