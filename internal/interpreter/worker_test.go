package interpreter

import (
	"testing"
	"time"

	"github.com/kandev/sandboxd/internal/common/logger"
)

func TestSpawnWorker_BecomesReadyAndExecutes(t *testing.T) {
	argv := writeEchoWorker(t)
	w, err := spawnWorker(LangPython, argv, 5*time.Second, nil, logger.L())
	if err != nil {
		t.Fatalf("spawnWorker: %v", err)
	}
	defer w.kill()

	if w.Exited() {
		t.Fatal("freshly spawned worker reported exited")
	}

	result, err := w.execute("print(1)", 5*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.Stdout != "print(1)" {
		t.Errorf("unexpected result: %+v", result)
	}
	if w.idleSince() < 0 {
		t.Error("idleSince should be non-negative")
	}
}

func TestSpawnWorker_MissingArgv(t *testing.T) {
	if _, err := spawnWorker(LangPython, nil, time.Second, nil, logger.L()); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestSpawnWorker_BadBinary(t *testing.T) {
	if _, err := spawnWorker(LangPython, []string{"/no/such/binary"}, time.Second, nil, logger.L()); err == nil {
		t.Fatal("expected error for unstartable binary")
	}
}

func TestWorker_ExitedChanClosesOnProcessDeath(t *testing.T) {
	argv := writeEchoWorker(t)
	w, err := spawnWorker(LangPython, argv, 5*time.Second, nil, logger.L())
	if err != nil {
		t.Fatalf("spawnWorker: %v", err)
	}
	w.kill()

	select {
	case <-w.ExitedChan():
	case <-time.After(5 * time.Second):
		t.Fatal("ExitedChan did not close after kill")
	}
	if !w.Exited() {
		t.Error("expected Exited() to report true after kill")
	}
}

func TestWorker_OwnerRoundTrip(t *testing.T) {
	argv := writeEchoWorker(t)
	w, err := spawnWorker(LangPython, argv, 5*time.Second, nil, logger.L())
	if err != nil {
		t.Fatalf("spawnWorker: %v", err)
	}
	defer w.kill()

	if w.owner() != "" {
		t.Errorf("expected empty owner initially, got %q", w.owner())
	}
	w.setOwner("ctx-1")
	if w.owner() != "ctx-1" {
		t.Errorf("expected owner ctx-1, got %q", w.owner())
	}
}
