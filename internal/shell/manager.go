package shell

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/kandev/sandboxd/internal/common/config"
	"github.com/kandev/sandboxd/internal/common/logger"
	"github.com/kandev/sandboxd/internal/events/bus"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when an operation targets an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns every Session by id and is the only component allowed to
// create or destroy one. A single commandRegistry is shared across all
// sessions so a kill request only ever needs a (sessionID, commandID) pair.
type Manager struct {
	cfg      config.ShellConfig
	registry *commandRegistry
	events   bus.EventBus
	logger   *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	creating map[string]chan struct{} // coalesces concurrent getOrCreate calls for the same id

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewManager constructs a session manager. Call StartCleanup to begin the
// idle-reaping loop once the manager is wired into the rest of the server.
func NewManager(cfg config.ShellConfig, evbus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		registry:    newCommandRegistry(),
		events:      evbus,
		logger:      log.WithFields(zap.String("component", "session-manager")),
		sessions:    make(map[string]*Session),
		creating:    make(map[string]chan struct{}),
		stopCleanup: make(chan struct{}),
	}
}

// GetOrCreate returns the existing session for id, or creates one with opts
// if none exists yet. Concurrent calls for the same unseen id coalesce onto
// a single creation instead of racing two shellSession spawns.
func (m *Manager) GetOrCreate(id string, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	if wait, ok := m.creating[id]; ok {
		m.mu.Unlock()
		<-wait
		m.mu.Lock()
		sess := m.sessions[id]
		m.mu.Unlock()
		return sess, nil
	}
	wait := make(chan struct{})
	m.creating[id] = wait
	m.mu.Unlock()

	sess := newSession(id, opts, m.registry, m.logger)

	m.mu.Lock()
	m.sessions[id] = sess
	delete(m.creating, id)
	m.mu.Unlock()
	close(wait)

	m.logger.Info("session created", zap.String("session_id", id))
	if m.events != nil {
		ev := bus.NewEvent(bus.SubjectSessionCreated, "shell-manager", map[string]interface{}{"sessionId": id})
		_ = m.events.Publish(context.Background(), bus.SubjectSessionCreated, ev)
	}
	return sess, nil
}

// Get returns the session for id, or (nil, false) if none exists.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// WithSession is the manager-level equivalent of Session.atomic, but also
// creates the session on demand: it gets or creates id, then runs body
// under that session's lock so composite sequences of Exec calls against
// the same session never interleave with another WithSession/Exec caller.
func (m *Manager) WithSession(id string, opts SessionOptions, body func(Executor) error) error {
	sess, err := m.GetOrCreate(id, opts)
	if err != nil {
		return err
	}
	return sess.WithExec(body)
}

// Exec dispatches command in session id and blocks for its result.
func (m *Manager) Exec(id, commandID, command string, timeout time.Duration) (*ExecResult, error) {
	sess, ok := m.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Exec(commandID, command, timeout)
}

// ExecStream dispatches command in session id and streams its events.
func (m *Manager) ExecStream(id, commandID, command string, timeout time.Duration, onEvent StreamHandler, background bool) error {
	sess, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.ExecStream(commandID, command, timeout, onEvent, background)
}

// Kill cancels commandID in session id.
func (m *Manager) Kill(id, commandID string, sig syscall.Signal) error {
	sess, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Kill(commandID, sig)
}

// Destroy tears down a single session and forgets it.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	err := sess.Destroy()
	if m.events != nil {
		ev := bus.NewEvent(bus.SubjectSessionDestroyed, "shell-manager", map[string]interface{}{"sessionId": id})
		_ = m.events.Publish(context.Background(), bus.SubjectSessionDestroyed, ev)
	}
	return err
}

// DestroyAll tears down every live session, used on server shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Destroy(id); err != nil {
			m.logger.Warn("error destroying session", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// StartCleanup begins a background loop that reaps sessions idle longer
// than cfg.TempFileMaxAge, at cfg.CleanupInterval cadence.
func (m *Manager) StartCleanup() {
	interval := m.cfg.CleanupInterval()
	maxAge := m.cfg.TempFileMaxAge()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCleanup:
				return
			case <-ticker.C:
				m.reapIdle(maxAge)
			}
		}
	}()
}

func (m *Manager) reapIdle(maxAge time.Duration) {
	m.mu.Lock()
	var stale []string
	for id, sess := range m.sessions {
		if sess.IdleSince() > maxAge {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Info("reaping idle session", zap.String("session_id", id))
		_ = m.Destroy(id)
	}
}

// StopCleanup stops the idle-reaping loop. Safe to call multiple times.
func (m *Manager) StopCleanup() {
	m.cleanupOnce.Do(func() { close(m.stopCleanup) })
}
