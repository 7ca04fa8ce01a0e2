package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// writeSSE writes one `data: <json>\n\n` frame and flushes immediately, per
// spec.md §6's SSE framing. The multiplexer on the WS side only looks at
// event:/data: fields, so every payload carries its own "type" discriminator
// instead of a separate SSE event: line.
func writeSSE(c *gin.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func prepareSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(200)
	c.Writer.Flush()
}
