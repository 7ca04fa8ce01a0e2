package portforward

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/common/logger"
)

func TestRegistry_ExposeListUnexpose(t *testing.T) {
	r := NewRegistry(logger.L())

	reg, err := r.Expose(8080, "web")
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	if reg.Port != 8080 || reg.Name != "web" {
		t.Errorf("unexpected registration: %+v", reg)
	}

	if len(r.List()) != 1 {
		t.Errorf("expected 1 registration, got %d", len(r.List()))
	}

	if err := r.Unexpose(8080); err != nil {
		t.Fatalf("Unexpose: %v", err)
	}
	if len(r.List()) != 0 {
		t.Errorf("expected 0 registrations after unexpose, got %d", len(r.List()))
	}
}

func TestRegistry_ExposeRejectsOutOfRangePort(t *testing.T) {
	r := NewRegistry(logger.L())
	if _, err := r.Expose(0, ""); err == nil {
		t.Fatal("expected error for port 0")
	}
	if _, err := r.Expose(70000, ""); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestRegistry_ExposeRejectsDuplicate(t *testing.T) {
	r := NewRegistry(logger.L())
	if _, err := r.Expose(9000, ""); err != nil {
		t.Fatalf("first Expose: %v", err)
	}
	_, err := r.Expose(9000, "")
	if err == nil {
		t.Fatal("expected Conflict on duplicate expose")
	}
	if apperr.GetHTTPStatus(err) != 409 {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestRegistry_UnexposeRequiresExistence(t *testing.T) {
	r := NewRegistry(logger.L())
	if err := r.Unexpose(1234); err == nil {
		t.Fatal("expected NotFound")
	}
}

func TestClampInterval(t *testing.T) {
	if got := ClampInterval(10 * time.Millisecond); got != minWatchInterval {
		t.Errorf("expected clamp to min, got %v", got)
	}
	if got := ClampInterval(time.Minute); got != maxWatchInterval {
		t.Errorf("expected clamp to max, got %v", got)
	}
	if got := ClampInterval(time.Second); got != time.Second {
		t.Errorf("expected no clamp, got %v", got)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRegistry_WatchTCPReady(t *testing.T) {
	r := NewRegistry(logger.L())
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := l.Addr().(*net.TCPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := r.Watch(ctx, WatchOptions{Port: port, Protocol: ProtocolTCP, Interval: 50 * time.Millisecond}, nil)

	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
	}
	if len(types) < 2 || types[0] != EventWatching || types[len(types)-1] != EventReady {
		t.Errorf("unexpected event sequence: %+v", types)
	}
}

func TestRegistry_WatchHTTPReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	host, portStr, _ := net.SplitHostPort(server.Listener.Addr().String())
	_ = host
	port, _ := strconv.Atoi(portStr)

	r := NewRegistry(logger.L())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := r.Watch(ctx, WatchOptions{Port: port, Protocol: ProtocolHTTP, StatusMin: 200, StatusMax: 299, Interval: 50 * time.Millisecond}, nil)
	var last WatchEvent
	for ev := range events {
		last = ev
	}
	if last.Type != EventReady {
		t.Errorf("expected terminal ready event, got %+v", last)
	}
}

func TestRegistry_WatchProcessExited(t *testing.T) {
	r := NewRegistry(logger.L())
	port := freePort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checker := func(id string) (bool, error) { return false, nil }
	events := r.Watch(ctx, WatchOptions{Port: port, ProcessID: "proc-1", Protocol: ProtocolTCP, Interval: 50 * time.Millisecond}, checker)

	var last WatchEvent
	for ev := range events {
		last = ev
	}
	if last.Type != EventProcessExited {
		t.Errorf("expected process_exited, got %+v", last)
	}
}
