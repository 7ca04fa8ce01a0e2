package wsmux

import (
	"io"
	"net/http"
)

// pipeResponseWriter is an http.ResponseWriter that streams its body into
// an io.Pipe as the handler writes, so a streaming (SSE) response can be
// re-framed chunk by chunk instead of waiting for the handler to finish.
type pipeResponseWriter struct {
	header      http.Header
	statusCode  int
	wroteHeader bool
	headerDone  chan struct{}

	pw *io.PipeWriter
}

func newPipeResponseWriter(pw *io.PipeWriter) *pipeResponseWriter {
	return &pipeResponseWriter{
		header:     make(http.Header),
		statusCode: http.StatusOK,
		headerDone: make(chan struct{}),
		pw:         pw,
	}
}

func (w *pipeResponseWriter) Header() http.Header { return w.header }

func (w *pipeResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = code
	close(w.headerDone)
}

func (w *pipeResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.pw.Write(b)
}

// Flush is a no-op: every Write already lands on the pipe synchronously, so
// there is nothing buffered to push through.
func (w *pipeResponseWriter) Flush() {}
