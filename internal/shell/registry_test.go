package shell

import (
	"syscall"
	"testing"
)

func TestCommandRegistry_KillUnknownReturnsCommandNotFound(t *testing.T) {
	r := newCommandRegistry()
	err := r.kill("session-1", "cmd-1", syscall.SIGTERM)
	if !IsCommandNotFound(err) {
		t.Fatalf("expected COMMAND_NOT_FOUND, got %v", err)
	}
}

func TestCommandRegistry_TrackedCommandIsKillable(t *testing.T) {
	r := newCommandRegistry()
	var gotSig syscall.Signal
	r.track("session-1", "cmd-1", func(sig syscall.Signal) error {
		gotSig = sig
		return nil
	})

	if err := r.kill("session-1", "cmd-1", syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if gotSig != syscall.SIGKILL {
		t.Errorf("expected SIGKILL delivered, got %v", gotSig)
	}
}

func TestCommandRegistry_KillIsOneShot(t *testing.T) {
	r := newCommandRegistry()
	calls := 0
	r.track("session-1", "cmd-1", func(sig syscall.Signal) error {
		calls++
		return nil
	})

	_ = r.kill("session-1", "cmd-1", syscall.SIGTERM)
	err := r.kill("session-1", "cmd-1", syscall.SIGTERM)
	if !IsCommandNotFound(err) {
		t.Fatalf("expected second kill to report COMMAND_NOT_FOUND, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cancel func invoked exactly once, got %d", calls)
	}
}

func TestCommandRegistry_UntrackRemovesEntry(t *testing.T) {
	r := newCommandRegistry()
	r.track("session-1", "cmd-1", func(syscall.Signal) error { return nil })
	r.untrack("session-1", "cmd-1")

	if err := r.kill("session-1", "cmd-1", syscall.SIGTERM); !IsCommandNotFound(err) {
		t.Fatalf("expected COMMAND_NOT_FOUND after untrack, got %v", err)
	}
}

func TestCommandRegistry_SessionsAreIsolated(t *testing.T) {
	r := newCommandRegistry()
	r.track("session-1", "cmd-1", func(syscall.Signal) error { return nil })

	if err := r.kill("session-2", "cmd-1", syscall.SIGTERM); !IsCommandNotFound(err) {
		t.Fatalf("expected COMMAND_NOT_FOUND for a different session, got %v", err)
	}
}
