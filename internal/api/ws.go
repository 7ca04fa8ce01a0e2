package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/wsmux"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles GET /ws, upgrading to a WebSocket and multiplexing every
// framed request against engine, the same gin.Engine serving the plain
// HTTP surface.
func (s *Server) ServeWS(engine *gin.Engine) gin.HandlerFunc {
	mux := wsmux.New(engine, s.logger)
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		mux.Serve(conn)
	}
}
