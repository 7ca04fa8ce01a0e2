package wsmux

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/sandboxd/internal/common/logger"
)

type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/hello":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	case "/stream":
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range []string{"event: tick\ndata: one\n\n", "event: tick\ndata: two\n\n"} {
			_, _ = w.Write([]byte(chunk))
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	mux := New(echoHandler{}, logger.L())
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		mux.Serve(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("dial: %v", err)
	}
	return server, conn
}

func TestMultiplexer_NonStreamingRoundTrip(t *testing.T) {
	server, conn := newTestServer(t)
	defer server.Close()
	defer conn.Close()

	req := WireRequest{ID: "req-1", Method: "GET", Path: "/hello"}
	data, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != FrameResponse || frame.ID != "req-1" || frame.Status != 200 || !frame.Done {
		t.Errorf("unexpected frame: %+v", frame)
	}
	if frame.Body != `{"ok":true}` {
		t.Errorf("unexpected body: %q", frame.Body)
	}
}

func TestMultiplexer_StreamingRoundTrip(t *testing.T) {
	server, conn := newTestServer(t)
	defer server.Close()
	defer conn.Close()

	req := WireRequest{ID: "req-2", Method: "GET", Path: "/stream"}
	data, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	var frames []Frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		frames = append(frames, frame)
		if frame.Done {
			break
		}
	}

	if len(frames) != 3 {
		t.Fatalf("expected 2 stream frames + 1 terminal response, got %d: %+v", len(frames), frames)
	}
	if frames[0].Type != FrameStream || frames[0].Data != "one" {
		t.Errorf("unexpected first stream frame: %+v", frames[0])
	}
	if frames[1].Type != FrameStream || frames[1].Data != "two" {
		t.Errorf("unexpected second stream frame: %+v", frames[1])
	}
	if frames[2].Type != FrameResponse || frames[2].Status != 200 || !frames[2].Done {
		t.Errorf("unexpected terminal frame: %+v", frames[2])
	}
}

func TestMultiplexer_MalformedRequestEmitsError(t *testing.T) {
	server, conn := newTestServer(t)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != FrameError {
		t.Errorf("expected error frame, got %+v", frame)
	}
}
