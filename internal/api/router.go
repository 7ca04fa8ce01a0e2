package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxd/internal/common/logger"
)

// NewRouter builds the full gin.Engine for srv: middleware, every REST
// endpoint, and the /ws multiplexed-over-WebSocket endpoint.
func NewRouter(srv *Server, log *logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(RequestLogger(log), ErrorHandler(log), Recovery(log), CORS())

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	api := engine.Group("/api")
	{
		api.POST("/execute", srv.Execute)
		api.POST("/execute/stream", srv.ExecuteStream)
		api.POST("/execute/code", srv.ExecuteCode)

		api.POST("/contexts", srv.CreateContext)
		api.GET("/contexts", srv.ListContexts)
		api.DELETE("/contexts/:id", srv.DeleteContext)
		api.GET("/interpreter/health", srv.InterpreterHealth)

		api.POST("/process/start", srv.ProcessStart)
		api.GET("/process/list", srv.ProcessList)
		api.DELETE("/process/kill-all", srv.ProcessKillAll)
		api.GET("/process/:id", srv.ProcessGet)
		api.DELETE("/process/:id", srv.ProcessDelete)
		api.GET("/process/:id/logs", srv.ProcessLogs)
		api.GET("/process/:id/stream", srv.ProcessStream)

		api.POST("/pty", srv.CreatePTY)
		api.GET("/pty", srv.ListPTYs)
		api.GET("/pty/:id", srv.GetPTY)
		api.DELETE("/pty/:id", srv.DeletePTY)
		api.GET("/pty/:id/stream", srv.StreamPTY)
		api.POST("/pty/:id/input", srv.WritePTY)
		api.POST("/pty/:id/resize", srv.ResizePTY)

		api.POST("/expose-port", srv.ExposePort)
		api.GET("/exposed-ports", srv.ListExposedPorts)
		api.DELETE("/exposed-ports/:port", srv.UnexposePort)
		api.POST("/port-watch", srv.WatchPort)
	}

	engine.Any("/proxy/*path", gin.WrapH(srv.ProxyPort()))
	engine.GET("/ws", srv.ServeWS(engine))

	return engine
}
