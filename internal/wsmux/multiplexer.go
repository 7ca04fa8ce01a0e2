package wsmux

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 64
)

// frameSink serializes outgoing frames onto a buffered channel and closes
// it at most once, guarding every send against a concurrent close so a
// late emit from one in-flight request can never panic on a closed
// channel while another request is tearing the connection down.
type frameSink struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newFrameSink() *frameSink {
	return &frameSink{ch: make(chan []byte, sendBufferSize)}
}

// try enqueues data, returning false if the sink is already closed or full.
func (s *frameSink) try(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- data:
		return true
	default:
		return false
	}
}

func (s *frameSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Multiplexer re-frames WebSocket messages as requests against an ordinary
// http.Handler (the gin router), per spec.md §4.H.
type Multiplexer struct {
	handler http.Handler
	logger  *logger.Logger
}

// New builds a Multiplexer dispatching every request into handler.
func New(handler http.Handler, log *logger.Logger) *Multiplexer {
	return &Multiplexer{handler: handler, logger: log.WithFields(zap.String("component", "wsmux"))}
}

// Serve runs a connection's read/write pumps until it closes. Blocks until
// the connection is done; call from its own goroutine per connection.
func (m *Multiplexer) Serve(conn *websocket.Conn) {
	sink := newFrameSink()
	var closeOnce sync.Once
	closeWithCode := func(code int, reason string) {
		closeOnce.Do(func() {
			deadline := time.Now().Add(writeWait)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			sink.close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writePump(conn, sink)
	}()

	m.readPump(conn, sink, closeWithCode)
	closeWithCode(websocket.CloseNormalClosure, "")
	wg.Wait()
	_ = conn.Close()
}

func (m *Multiplexer) readPump(conn *websocket.Conn, sink *frameSink, closeWithCode func(int, string)) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req WireRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			m.emit(sink, closeWithCode, Frame{Type: FrameError, Error: "malformed request: " + err.Error()})
			continue
		}
		if req.Method == "" || req.Path == "" {
			m.emit(sink, closeWithCode, Frame{Type: FrameError, ID: req.ID, Error: "request missing method or path"})
			continue
		}

		wg.Add(1)
		go func(req WireRequest) {
			defer wg.Done()
			m.handleRequest(req, sink, closeWithCode)
		}(req)
	}
}

func (m *Multiplexer) writePump(conn *websocket.Conn, sink *frameSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sink.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emit marshals and enqueues a frame; on failure the connection is closed
// with 1011, per spec.md §4.H.
func (m *Multiplexer) emit(sink *frameSink, closeWithCode func(int, string), f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		m.logger.Error("failed to marshal frame", zap.Error(err))
		closeWithCode(websocket.CloseInternalServerErr, "internal error")
		return
	}
	if !sink.try(data) {
		m.logger.Warn("send buffer full or connection closing, dropping frame")
		closeWithCode(websocket.CloseInternalServerErr, "send buffer exhausted")
	}
}

func (m *Multiplexer) handleRequest(req WireRequest, sink *frameSink, closeWithCode func(int, string)) {
	httpReq, err := http.NewRequest(req.Method, req.Path, strings.NewReader(req.Body))
	if err != nil {
		m.emit(sink, closeWithCode, Frame{Type: FrameError, ID: req.ID, Error: "invalid request: " + err.Error()})
		return
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	pr, pw := io.Pipe()
	w := newPipeResponseWriter(pw)

	go func() {
		m.handler.ServeHTTP(w, httpReq)
		_ = pw.Close()
	}()

	<-w.headerDone
	contentType := w.header.Get("Content-Type")

	if strings.HasPrefix(contentType, "text/event-stream") {
		m.streamSSE(req.ID, pr, w.statusCode, sink, closeWithCode)
		return
	}

	body, _ := io.ReadAll(pr)
	m.emit(sink, closeWithCode, Frame{Type: FrameResponse, ID: req.ID, Status: w.statusCode, Body: string(body), Done: true})
}

func (m *Multiplexer) streamSSE(id string, body io.Reader, status int, sink *frameSink, closeWithCode func(int, string)) {
	parser := newSSEParser()
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range parser.feed(buf[:n]) {
				m.emit(sink, closeWithCode, Frame{Type: FrameStream, ID: id, Event: ev.Event, Data: ev.Data})
			}
		}
		if err != nil {
			break
		}
	}
	m.emit(sink, closeWithCode, Frame{Type: FrameResponse, ID: id, Status: status, Done: true})
}
