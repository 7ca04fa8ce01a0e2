package interpreter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/common/logger"
)

// writeEchoWorker drops a tiny python3 script on disk that implements the
// line-delimited JSON worker protocol well enough to exercise Pool/worker
// without depending on the real sandboxd worker scripts.
func writeEchoWorker(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "echo_worker.py")
	script := `
import json, sys
print(json.dumps({"status": "ready"}), flush=True)
for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    print(json.dumps({
        "stdout": req["code"],
        "stderr": "",
        "success": True,
        "executionId": req["executionId"],
    }), flush=True)
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write worker script: %v", err)
	}
	return []string{"python3", "-u", path}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	argv := writeEchoWorker(t)
	cfg := PoolConfig{
		MinSize:      1,
		MaxProcesses: 2,
		IdleTimeout:  time.Minute,
		SpawnTimeout: 5 * time.Second,
		ExecTimeout:  5 * time.Second,
		WorkerArgv:   argv,
	}
	return NewPool(map[Language]PoolConfig{LangPython: cfg}, true, logger.L())
}

func TestPool_BorrowExecuteReturn(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown()

	result, err := p.Execute(LangPython, "print('hi')", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Stdout != "print('hi')" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestPool_UnsupportedLanguage(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown()

	_, err := p.Execute(Language("ruby"), "1", "")
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
	if apperr.GetHTTPStatus(err) != 400 {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestPool_PythonUnavailable(t *testing.T) {
	argv := writeEchoWorker(t)
	cfg := PoolConfig{MinSize: 0, MaxProcesses: 1, SpawnTimeout: time.Second, ExecTimeout: time.Second, WorkerArgv: argv}
	p := NewPool(map[Language]PoolConfig{LangPython: cfg}, false, logger.L())
	defer p.Shutdown()

	_, err := p.Execute(LangPython, "1", "")
	if err == nil {
		t.Fatal("expected Unavailable error")
	}
	if apperr.GetHTTPStatus(err) != 503 {
		t.Errorf("expected 503, got %v", err)
	}
}

func TestPool_ReserveExecuteReleaseContext(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown()

	ctxID := NewContextID()
	if err := p.ReserveForContext(ctxID, LangPython); err != nil {
		t.Fatalf("ReserveForContext: %v", err)
	}

	if _, err := p.Execute(LangPython, "x = 1", ctxID); err != nil {
		t.Fatalf("Execute in context: %v", err)
	}

	if _, err := p.Execute(LangJavaScript, "x", ctxID); err == nil {
		t.Fatal("expected PreconditionFailed on language switch")
	} else if apperr.GetHTTPStatus(err) != 410 {
		t.Errorf("expected 410, got %v", err)
	}

	p.ReleaseForContext(ctxID)

	if _, err := p.Execute(LangPython, "x", ctxID); err == nil {
		t.Fatal("expected error after release")
	}
}

func TestPool_MaxProcessesExhausted(t *testing.T) {
	argv := writeEchoWorker(t)
	cfg := PoolConfig{MinSize: 0, MaxProcesses: 1, SpawnTimeout: 5 * time.Second, ExecTimeout: 5 * time.Second, WorkerArgv: argv}
	p := NewPool(map[Language]PoolConfig{LangPython: cfg}, true, logger.L())
	defer p.Shutdown()

	w1, err := p.Borrow(LangPython)
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if _, err := p.Borrow(LangPython); err == nil {
		t.Fatal("expected ResourceExhausted")
	} else if apperr.GetHTTPStatus(err) != 429 {
		t.Errorf("expected 429, got %v", err)
	}
	p.Return(LangPython, w1)
}

func TestContextManager_CreateExecuteDelete(t *testing.T) {
	p := newTestPool(t)
	defer p.Shutdown()
	cm := NewContextManager(p)

	ctx, err := cm.Create(LangPython, "/tmp")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ctx.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}

	if _, err := cm.Execute(ctx.ID, "1+1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	found, ok := cm.Get(ctx.ID)
	if !ok || found.ID != ctx.ID {
		t.Errorf("Get: expected to find context %s", ctx.ID)
	}

	if len(cm.List()) != 1 {
		t.Errorf("expected 1 listed context, got %d", len(cm.List()))
	}

	if err := cm.Delete(ctx.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := cm.Get(ctx.ID); ok {
		t.Error("expected context to be gone after Delete")
	}
	if err := cm.Delete(ctx.ID); err == nil {
		t.Error("expected NotFound on double delete")
	}
}
