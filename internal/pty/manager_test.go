package pty

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/kandev/sandboxd/internal/common/logger"
)

func newTestManager() *Manager {
	return NewManager(80, 24, 64*1024, 0, logger.L())
}

func TestManager_CreateAndWrite(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(CreateOptions{Command: []string{"bash", "--norc"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(p.ID, syscall.SIGKILL)

	var mu sync.Mutex
	var received []byte
	gotHello := make(chan struct{})
	unsub, err := m.OnData(p.ID, func(data []byte) {
		mu.Lock()
		received = append(received, data...)
		got := strings.Contains(string(received), "hello-from-pty")
		mu.Unlock()
		if got {
			select {
			case gotHello <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("OnData: %v", err)
	}
	defer unsub()

	if err := m.Write(p.ID, []byte("echo hello-from-pty\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-gotHello:
	case <-time.After(5 * time.Second):
		t.Fatal("did not observe expected output")
	}
}

func TestManager_ReplayBuffer(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(CreateOptions{Command: []string{"bash", "--norc"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(p.ID, syscall.SIGKILL)

	if err := m.Write(p.ID, []byte("echo hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := m.Replay(p.ID)
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		if strings.Contains(string(data), "hello") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("replay buffer never contained expected output")
}

func TestManager_WriteAfterExitRejected(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(CreateOptions{Command: []string{"bash", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	exited := make(chan int, 1)
	if _, err := m.OnExit(p.ID, func(code int) { exited <- code }); err != nil {
		t.Fatalf("OnExit: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	if err := m.Write(p.ID, []byte("echo too-late\n")); err == nil {
		t.Fatal("expected write to exited pty to fail")
	}
}

func TestManager_OnExitFiresImmediatelyIfAlreadyExited(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(CreateOptions{Command: []string{"bash", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := make(chan int, 1)
	if _, err := m.OnExit(p.ID, func(code int) { first <- code }); err != nil {
		t.Fatalf("OnExit: %v", err)
	}
	select {
	case code := <-first:
		if code != 3 {
			t.Errorf("expected exit code 3, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	late := make(chan int, 1)
	if _, err := m.OnExit(p.ID, func(code int) { late <- code }); err != nil {
		t.Fatalf("OnExit after exit: %v", err)
	}
	select {
	case code := <-late:
		if code != 3 {
			t.Errorf("expected immediate exit code 3, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("late OnExit should fire immediately")
	}
}

func TestManager_KillIsIdempotent(t *testing.T) {
	m := newTestManager()
	p, err := m.Create(CreateOptions{Command: []string{"bash", "--norc"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Kill(p.ID, syscall.SIGKILL); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := m.Kill(p.ID, syscall.SIGKILL); err != nil {
		t.Fatalf("second Kill on exited pty: %v", err)
	}
}

func TestManager_GetUnknownID(t *testing.T) {
	m := newTestManager()
	if _, err := m.Get("nonexistent"); err == nil {
		t.Fatal("expected NotFound")
	}
}
