package shell

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/kandev/sandboxd/internal/common/logger"
	"go.uber.org/zap"
)

// Session is the entity spec.md §4.A calls a persistent bash session: one
// id, one working directory, one environment overlay, and (lazily) one
// shellSession child process. Every command dispatched against a Session
// runs through its mutex, so at most one command is ever mid-dispatch on
// the underlying shell at a time, matching the shell's own single-pending
// invariant.
type Session struct {
	ID       string
	opts     SessionOptions
	registry *commandRegistry
	logger   *logger.Logger

	mu        sync.Mutex
	shell     *shellSession
	createdAt time.Time
	lastUsed  time.Time
}

func newSession(id string, opts SessionOptions, registry *commandRegistry, log *logger.Logger) *Session {
	return &Session{
		ID:        id,
		opts:      opts,
		registry:  registry,
		logger:    log.WithFields(zap.String("component", "session"), zap.String("session_id", id)),
		createdAt: now(),
		lastUsed:  now(),
	}
}

// atomic runs body while holding the session's mutex, guaranteeing the lock
// is released on every exit path — normal return, error, or panic — and
// that the shell has been lazily spawned before body executes.
func (s *Session) atomic(body func(sh *shellSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shell == nil {
		sh, err := spawnShellSession(s.ID, s.opts.CWD, s.opts.Env, s.opts.Isolated, s.logger)
		if err != nil {
			return fmt.Errorf("spawn shell for session %s: %w", s.ID, err)
		}
		s.shell = sh
	}
	s.lastUsed = now()
	return body(s.shell)
}

// Executor is the surface handed to a WithExec body: it may call Exec
// repeatedly without re-acquiring the session lock, since the lock is
// already held for the body's entire duration.
type Executor interface {
	Exec(commandID, command string, timeout time.Duration) (*ExecResult, error)
}

// sessionExecutor adapts an already-locked shellSession to Executor.
type sessionExecutor struct {
	session *Session
	shell   *shellSession
}

func (e *sessionExecutor) Exec(commandID, command string, timeout time.Duration) (*ExecResult, error) {
	e.session.registry.track(e.session.ID, commandID, func(sig syscall.Signal) error { return e.shell.kill(commandID, sig) })
	defer e.session.registry.untrack(e.session.ID, commandID)
	return e.shell.exec(commandID, command, e.session.opts.CWD, timeout)
}

// Exec runs command to completion inside this session and returns its
// captured output. Blocks for the session's entire duration.
func (s *Session) Exec(commandID, command string, timeout time.Duration) (*ExecResult, error) {
	var result *ExecResult
	err := s.atomic(func(sh *shellSession) error {
		res, err := (&sessionExecutor{session: s, shell: sh}).Exec(commandID, command, timeout)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// WithExec runs body under the session's lock, handing it an Executor that
// can dispatch several commands in sequence without interleaving another
// caller's commands on the same session — the composite-sequence atomicity
// guarantee Session.atomic provides.
func (s *Session) WithExec(body func(Executor) error) error {
	return s.atomic(func(sh *shellSession) error {
		return body(&sessionExecutor{session: s, shell: sh})
	})
}

// ExecStream runs command and streams events via onEvent. When background
// is true, the session mutex is released as soon as the command has been
// dispatched and its first event delivered, letting further commands be
// dispatched to this session while the streamed command continues in its
// own goroutine — the semantics spec.md §4.C calls background execution.
// The shell still runs those later commands only after the streamed one
// finishes, since each dispatched script waits for its command. When background is false, the mutex is held until the
// command reaches a terminal event, serializing it with everything else
// on this session.
func (s *Session) ExecStream(commandID, command string, timeout time.Duration, onEvent StreamHandler, background bool) error {
	if background {
		return s.execStreamBackground(commandID, command, timeout, onEvent)
	}
	return s.atomic(func(sh *shellSession) error {
		done := make(chan struct{})
		wrapped := func(ev StreamEvent) {
			onEvent(ev)
			if ev.Type == EventComplete || ev.Type == EventError {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}
		s.registry.track(s.ID, commandID, func(sig syscall.Signal) error { return sh.kill(commandID, sig) })
		if err := sh.execStream(commandID, command, s.opts.CWD, timeout, wrapped); err != nil {
			s.registry.untrack(s.ID, commandID)
			return err
		}
		<-done
		s.registry.untrack(s.ID, commandID)
		return nil
	})
}

func (s *Session) execStreamBackground(commandID, command string, timeout time.Duration, onEvent StreamHandler) error {
	s.mu.Lock()
	if s.shell == nil {
		sh, err := spawnShellSession(s.ID, s.opts.CWD, s.opts.Env, s.opts.Isolated, s.logger)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("spawn shell for session %s: %w", s.ID, err)
		}
		s.shell = sh
	}
	sh := s.shell
	s.lastUsed = now()

	s.registry.track(s.ID, commandID, func(sig syscall.Signal) error { return sh.kill(commandID, sig) })
	wrapped := func(ev StreamEvent) {
		onEvent(ev)
		if ev.Type == EventComplete || ev.Type == EventError {
			s.registry.untrack(s.ID, commandID)
		}
	}
	err := sh.execStream(commandID, command, s.opts.CWD, timeout, wrapped)
	s.mu.Unlock()
	if err != nil {
		s.registry.untrack(s.ID, commandID)
	}
	return err
}

// Kill cancels an in-flight command in this session.
func (s *Session) Kill(commandID string, sig syscall.Signal) error {
	return s.registry.kill(s.ID, commandID, sig)
}

// SetEnv exports a variable into this session's shell environment.
func (s *Session) SetEnv(key, value string) error {
	return s.atomic(func(sh *shellSession) error { return sh.setEnv(key, value) })
}

// Destroy stops the underlying shell child and releases its resources.
// Safe to call on a session whose shell was never spawned.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell == nil {
		return nil
	}
	err := s.shell.close()
	s.shell = nil
	return err
}

// IdleSince reports how long it's been since this session last dispatched
// a command, for idle-reaping by the manager's cleanup loop.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed)
}
