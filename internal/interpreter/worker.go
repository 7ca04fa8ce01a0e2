package interpreter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/logger"
)

// worker owns exactly one long-running interpreter child process speaking
// one-line-per-message JSON on stdin/stdout, per spec.md §4.E. Every
// execution against a worker is serialized by its own mutex — interpreter
// state is per-process, so two concurrent executions on the same worker
// would corrupt each other's globals.
type worker struct {
	id       string
	language Language

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu sync.Mutex // held for the duration of one execution

	ownerMu sync.Mutex
	ownerContextID string // empty when the worker is in the free list

	lastUsedMu sync.Mutex
	lastUsed   time.Time

	exitedMu sync.Mutex
	exited   bool
	exitCh   chan struct{}

	logger *logger.Logger
}

// spawnWorker starts bin as a worker's child and blocks until it emits the
// {"status":"ready"} line or spawnTimeout elapses.
func spawnWorker(lang Language, argv []string, spawnTimeout time.Duration, extraEnv map[string]string, log *logger.Logger) (*worker, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no worker command configured for language %s", lang)
	}
	id := uuid.New().String()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interpreter worker: %w", err)
	}

	w := &worker{
		id:       id,
		language: lang,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   bufio.NewReaderSize(stdout, 64*1024),
		lastUsed: time.Now().UTC(),
		exitCh:   make(chan struct{}),
		logger:   log.WithFields(zap.String("component", "interpreter-worker"), zap.String("worker_id", id), zap.String("language", string(lang))),
	}

	readyErr := make(chan error, 1)
	go func() {
		line, err := w.stdout.ReadString('\n')
		if err != nil {
			readyErr <- fmt.Errorf("read ready line: %w", err)
			return
		}
		var ready readyMessage
		if err := json.Unmarshal([]byte(line), &ready); err != nil || ready.Status != "ready" {
			readyErr <- fmt.Errorf("unexpected ready line: %q", line)
			return
		}
		readyErr <- nil
	}()

	select {
	case err := <-readyErr:
		if err != nil {
			_ = cmd.Process.Kill()
			return nil, err
		}
	case <-time.After(spawnTimeout):
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("worker %s did not become ready within %s", id, spawnTimeout)
	}

	go w.watchExit()
	return w, nil
}

func (w *worker) watchExit() {
	_ = w.cmd.Wait()
	w.exitedMu.Lock()
	w.exited = true
	w.exitedMu.Unlock()
	close(w.exitCh)
}

// Exited reports whether the worker's child process has terminated.
func (w *worker) Exited() bool {
	w.exitedMu.Lock()
	defer w.exitedMu.Unlock()
	return w.exited
}

// ExitedChan is closed the moment the worker's child process exits, for
// pool cleanup goroutines to select on.
func (w *worker) ExitedChan() <-chan struct{} { return w.exitCh }

func (w *worker) touch() {
	w.lastUsedMu.Lock()
	w.lastUsed = time.Now().UTC()
	w.lastUsedMu.Unlock()
}

func (w *worker) idleSince() time.Duration {
	w.lastUsedMu.Lock()
	defer w.lastUsedMu.Unlock()
	return time.Since(w.lastUsed)
}

func (w *worker) owner() string {
	w.ownerMu.Lock()
	defer w.ownerMu.Unlock()
	return w.ownerContextID
}

func (w *worker) setOwner(contextID string) {
	w.ownerMu.Lock()
	w.ownerContextID = contextID
	w.ownerMu.Unlock()
}

// execute sends one request and blocks for its matching response line.
// Both a synchronous timeout (the command never returns within timeout)
// and an unexpected process exit are surfaced as errors; a malformed
// response line is returned as a decode error as well, not as a result
// with Success false.
func (w *worker) execute(code string, timeout time.Duration) (*ExecResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	execID := uuid.New().String()
	var timeoutMs *int64
	if timeout > 0 {
		ms := timeout.Milliseconds()
		timeoutMs = &ms
	}
	req := execRequest{Code: code, ExecutionID: execID, TimeoutMs: timeoutMs}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execution request: %w", err)
	}

	if _, err := w.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write to worker stdin: %w", err)
	}

	type readResult struct {
		line string
		err  error
	}
	lineCh := make(chan readResult, 1)
	go func() {
		line, err := w.stdout.ReadString('\n')
		lineCh <- readResult{line: line, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}

	select {
	case res := <-lineCh:
		if res.err != nil {
			return nil, fmt.Errorf("read worker response: %w", res.err)
		}
		var result ExecResult
		if err := json.Unmarshal([]byte(res.line), &result); err != nil {
			return nil, fmt.Errorf("decode worker response: %w", err)
		}
		w.touch()
		return &result, nil
	case <-w.ExitedChan():
		return nil, fmt.Errorf("worker %s exited mid-execution", w.id)
	case <-deadline:
		return nil, fmt.Errorf("execution %s timed out after %s", execID, timeout)
	}
}

// kill terminates the worker's child process. Safe to call more than once.
func (w *worker) kill() {
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}
