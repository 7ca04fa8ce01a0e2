package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/common/logger"
)

// handle is the live half of a PTY: the entity plus its OS-level plumbing.
// Held by Manager; never exposed directly to callers.
type handle struct {
	entity *PTY
	file   *os.File
	cmd    *exec.Cmd

	killOnce sync.Once
}

// Manager owns every live PTY and the per-PTY mutex that serializes writes
// and resizes against subscriber fan-out, per spec.md §5.
type Manager struct {
	defaultCols       int
	defaultRows       int
	replayBufferBytes int
	disconnectTimeout time.Duration

	logger *logger.Logger

	mu   sync.RWMutex
	ptys map[string]*handle
}

// NewManager builds a Manager with the given defaults, sourced from
// config.PTYConfig.
func NewManager(defaultCols, defaultRows, replayBufferBytes int, disconnectTimeout time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		defaultCols:       defaultCols,
		defaultRows:       defaultRows,
		replayBufferBytes: replayBufferBytes,
		disconnectTimeout: disconnectTimeout,
		logger:            log.WithFields(zap.String("component", "pty-manager")),
		ptys:              make(map[string]*handle),
	}
}

// Create spawns a new pseudo-terminal and begins streaming its output to
// subscribers immediately.
func (m *Manager) Create(opts CreateOptions) (*PTY, error) {
	if opts.Cols == 0 {
		opts.Cols = m.defaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = m.defaultRows
	}
	command := opts.Command
	if len(command) == 0 {
		command = []string{"bash"}
	}

	cmd := exec.Command(command[0], command[1:]...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	// Session-lead the child so Kill can signal the whole process group
	// (a shell's background jobs, not just the shell itself).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(opts.Cols), Rows: uint16(opts.Rows)})
	if err != nil {
		return nil, apperr.InternalError("failed to start pty", err)
	}

	id := uuid.New().String()
	entity := &PTY{
		ID:        id,
		Cols:      opts.Cols,
		Rows:      opts.Rows,
		Command:   command,
		CWD:       opts.CWD,
		Env:       opts.Env,
		CreatedAt: time.Now().UTC(),
		state:     StateRunning,
		replay:    newReplayRing(m.replayBufferBytes),
	}
	h := &handle{entity: entity, file: f, cmd: cmd}

	m.mu.Lock()
	m.ptys[id] = h
	m.mu.Unlock()

	go m.pump(h)
	go m.awaitExit(h)

	return entity, nil
}

// pump copies terminal output into the replay buffer and fans it out to
// every live subscriber, in the exact order it arrived.
func (m *Manager) pump(h *handle) {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.broadcast(h.entity, chunk)
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) broadcast(p *PTY, chunk []byte) {
	p.mu.Lock()
	p.replay.write(chunk)
	subs := make([]dataSub, len(p.dataSubs))
	copy(subs, p.dataSubs)
	p.mu.Unlock()

	for _, s := range subs {
		s.cb(chunk)
	}
}

func (m *Manager) awaitExit(h *handle) {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				code = status.ExitStatus()
			}
		}
	}
	_ = h.file.Close()

	p := h.entity
	p.mu.Lock()
	p.state = StateExited
	p.exitCode = code
	subs := make([]exitSub, len(p.exitSubs))
	copy(subs, p.exitSubs)
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
		p.disconnectTimer = nil
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.cb(code)
	}
}

// Get returns a live PTY entity by id.
func (m *Manager) Get(id string) (*PTY, error) {
	m.mu.RLock()
	h, ok := m.ptys[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("pty", id)
	}
	return h.entity, nil
}

// List returns every tracked PTY entity.
func (m *Manager) List() []*PTY {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PTY, 0, len(m.ptys))
	for _, h := range m.ptys {
		out = append(out, h.entity)
	}
	return out
}

// Write sends input to the terminal. Rejected once the PTY has exited.
func (m *Manager) Write(id string, data []byte) error {
	h, err := m.handleFor(id)
	if err != nil {
		return err
	}
	p := h.entity
	p.mu.Lock()
	if p.state == StateExited {
		p.mu.Unlock()
		return apperr.PreconditionFailed(fmt.Sprintf("pty %s has exited", id))
	}
	p.mu.Unlock()

	if _, err := h.file.Write(data); err != nil {
		return apperr.InternalError("failed to write to pty", err)
	}
	return nil
}

// Resize changes the terminal's dimensions. Rejected once the PTY has
// exited.
func (m *Manager) Resize(id string, cols, rows int) error {
	h, err := m.handleFor(id)
	if err != nil {
		return err
	}
	p := h.entity
	p.mu.Lock()
	if p.state == StateExited {
		p.mu.Unlock()
		return apperr.PreconditionFailed(fmt.Sprintf("pty %s has exited", id))
	}
	p.mu.Unlock()

	if err := pty.Setsize(h.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return apperr.InternalError("failed to resize pty", err)
	}
	p.mu.Lock()
	p.Cols, p.Rows = cols, rows
	p.mu.Unlock()
	return nil
}

// Kill terminates the PTY's child process. sig, if non-zero, is sent as-is;
// otherwise SIGTERM. Signal names from requests are parsed by the API layer
// (parsePTYSignal) before they reach Kill.
// Idempotent on an already-exited PTY.
func (m *Manager) Kill(id string, sig syscall.Signal) error {
	h, err := m.handleFor(id)
	if err != nil {
		return err
	}
	p := h.entity
	p.mu.Lock()
	exited := p.state == StateExited
	p.mu.Unlock()
	if exited {
		return nil
	}

	if sig == 0 {
		sig = syscall.SIGTERM
	}
	h.killOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		// Negative pid targets the whole process group the session-leading
		// child started; falls back to the direct child if that fails (e.g.
		// the group already reaped).
		if err := unix.Kill(-h.cmd.Process.Pid, unix.Signal(sig)); err != nil {
			_ = h.cmd.Process.Signal(sig)
		}
	})
	return nil
}

// OnData subscribes to raw output chunks, returning an unsubscribe func.
func (m *Manager) OnData(id string, cb DataHandler) (func(), error) {
	h, err := m.handleFor(id)
	if err != nil {
		return nil, err
	}
	p := h.entity
	p.mu.Lock()
	defer p.mu.Unlock()
	subID := p.nextSubID
	p.nextSubID++
	p.dataSubs = append(p.dataSubs, dataSub{id: subID, cb: cb})
	return func() { m.unsubscribeData(p, subID) }, nil
}

func (m *Manager) unsubscribeData(p *PTY, subID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.dataSubs {
		if s.id == subID {
			p.dataSubs = append(p.dataSubs[:i], p.dataSubs[i+1:]...)
			return
		}
	}
}

// OnExit subscribes to the terminal's exit code, returning an unsubscribe
// func. If the PTY has already exited, cb fires immediately and the
// returned unsubscribe is a no-op.
func (m *Manager) OnExit(id string, cb ExitHandler) (func(), error) {
	h, err := m.handleFor(id)
	if err != nil {
		return nil, err
	}
	p := h.entity
	p.mu.Lock()
	if p.state == StateExited {
		code := p.exitCode
		p.mu.Unlock()
		cb(code)
		return func() {}, nil
	}
	subID := p.nextSubID
	p.nextSubID++
	p.exitSubs = append(p.exitSubs, exitSub{id: subID, cb: cb})
	p.mu.Unlock()
	return func() { m.unsubscribeExit(p, subID) }, nil
}

func (m *Manager) unsubscribeExit(p *PTY, subID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.exitSubs {
		if s.id == subID {
			p.exitSubs = append(p.exitSubs[:i], p.exitSubs[i+1:]...)
			return
		}
	}
}

// Replay returns the contiguous suffix of recent output held for
// reconnecting subscribers.
func (m *Manager) Replay(id string) ([]byte, error) {
	h, err := m.handleFor(id)
	if err != nil {
		return nil, err
	}
	p := h.entity
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replay.snapshot(), nil
}

// StartDisconnectTimer arms a timer that kills the PTY if no client
// reconnects before it fires. Replaces any previously armed timer.
func (m *Manager) StartDisconnectTimer(id string) error {
	h, err := m.handleFor(id)
	if err != nil {
		return err
	}
	if m.disconnectTimeout <= 0 {
		return nil
	}
	p := h.entity
	p.mu.Lock()
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
	}
	p.disconnectTimer = time.AfterFunc(m.disconnectTimeout, func() {
		_ = m.Kill(id, syscall.SIGTERM)
	})
	p.mu.Unlock()
	return nil
}

// CancelDisconnectTimer disarms a previously started disconnect timer.
func (m *Manager) CancelDisconnectTimer(id string) error {
	h, err := m.handleFor(id)
	if err != nil {
		return err
	}
	p := h.entity
	p.mu.Lock()
	if p.disconnectTimer != nil {
		p.disconnectTimer.Stop()
		p.disconnectTimer = nil
	}
	p.mu.Unlock()
	return nil
}

// Cleanup removes a PTY's bookkeeping. The child process must already have
// exited; Cleanup does not kill a running PTY.
func (m *Manager) Cleanup(id string) {
	m.mu.Lock()
	delete(m.ptys, id)
	m.mu.Unlock()
}

// Shutdown terminates every live PTY, for container exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.ptys))
	for _, h := range m.ptys {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		_ = m.Kill(h.entity.ID, syscall.SIGKILL)
	}
}

func (m *Manager) handleFor(id string) (*handle, error) {
	m.mu.RLock()
	h, ok := m.ptys[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("pty", id)
	}
	return h, nil
}
