package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/portforward"
)

type exposePortRequest struct {
	Port int    `json:"port" binding:"required"`
	Name string `json:"name"`
}

// ExposePort handles POST /api/expose-port.
func (s *Server) ExposePort(c *gin.Context) {
	var req exposePortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	reg, err := s.Ports.Expose(req.Port, req.Name)
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// ListExposedPorts handles GET /api/exposed-ports.
func (s *Server) ListExposedPorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": s.Ports.List()})
}

// UnexposePort handles DELETE /api/exposed-ports/{port}.
func (s *Server) UnexposePort(c *gin.Context) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		appErr := apperr.BadRequest("port must be numeric")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := s.Ports.Unexpose(port); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"port": port})
}

type watchPortRequest struct {
	Port       int    `json:"port" binding:"required"`
	ProcessID  string `json:"processId"`
	Protocol   string `json:"protocol"`
	StatusMin  int    `json:"statusMin"`
	StatusMax  int    `json:"statusMax"`
	IntervalMs int64  `json:"intervalMs"`
}

// WatchPort handles POST /api/port-watch: an SSE stream of watching/ready/
// process_exited/error events for one port.
func (s *Server) WatchPort(c *gin.Context) {
	var req watchPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	opts := portforward.WatchOptions{
		Port:      req.Port,
		ProcessID: req.ProcessID,
		Protocol:  portforward.Protocol(req.Protocol),
		StatusMin: req.StatusMin,
		StatusMax: req.StatusMax,
		Interval:  interval,
	}

	prepareSSE(c)
	ctx := c.Request.Context()
	events := s.Ports.Watch(ctx, opts, s.processRunning)
	for ev := range events {
		writeSSE(c, ev)
	}
}

// processRunning adapts process.Store into a portforward.ProcessChecker.
func (s *Server) processRunning(processID string) (bool, error) {
	record, err := s.Processes.Get(context.Background(), processID)
	if err != nil {
		return false, err
	}
	return !record.Status.IsTerminal(), nil
}

// ProxyPort handles /proxy/{port}/... by delegating to the port registry's
// reverse proxy, wired at router setup with http.StripPrefix semantics
// handled inside Registry.Proxy itself.
func (s *Server) ProxyPort() http.Handler {
	return s.Ports.Proxy("/proxy")
}
