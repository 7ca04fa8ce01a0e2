package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/pty"
)

type createPTYRequest struct {
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
	Command []string          `json:"command"`
	CWD     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
}

func ptyView(p *pty.PTY) gin.H {
	return gin.H{
		"id":        p.ID,
		"cols":      p.Cols,
		"rows":      p.Rows,
		"command":   p.Command,
		"cwd":       p.CWD,
		"createdAt": p.CreatedAt,
	}
}

// CreatePTY handles POST /api/pty.
func (s *Server) CreatePTY(c *gin.Context) {
	var req createPTYRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	p, err := s.PTYs.Create(pty.CreateOptions{
		Cols:    req.Cols,
		Rows:    req.Rows,
		Command: req.Command,
		CWD:     req.CWD,
		Env:     req.Env,
	})
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ptyView(p))
}

// ListPTYs handles GET /api/pty.
func (s *Server) ListPTYs(c *gin.Context) {
	ptys := s.PTYs.List()
	out := make([]gin.H, 0, len(ptys))
	for _, p := range ptys {
		out = append(out, ptyView(p))
	}
	c.JSON(http.StatusOK, gin.H{"ptys": out})
}

// GetPTY handles GET /api/pty/{id}.
func (s *Server) GetPTY(c *gin.Context) {
	p, err := s.PTYs.Get(c.Param("id"))
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ptyView(p))
}

// DeletePTY handles DELETE /api/pty/{id}.
func (s *Server) DeletePTY(c *gin.Context) {
	id := c.Param("id")
	if err := s.PTYs.Kill(id, parsePTYSignal(c.Query("signal"))); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// StreamPTY handles GET /api/pty/{id}/stream: replays buffered output, then
// forwards live data and the exit code as they arrive.
func (s *Server) StreamPTY(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.PTYs.Get(id); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	prepareSSE(c)

	if replay, err := s.PTYs.Replay(id); err == nil && len(replay) > 0 {
		writeSSE(c, gin.H{"type": "data", "data": base64.StdEncoding.EncodeToString(replay)})
	}

	done := make(chan struct{})
	unsubData, err := s.PTYs.OnData(id, func(chunk []byte) {
		writeSSE(c, gin.H{"type": "data", "data": base64.StdEncoding.EncodeToString(chunk)})
	})
	if err != nil {
		return
	}
	defer unsubData()

	unsubExit, err := s.PTYs.OnExit(id, func(code int) {
		writeSSE(c, gin.H{"type": "exit", "exitCode": code})
		close(done)
	})
	if err != nil {
		return
	}
	defer unsubExit()

	select {
	case <-c.Request.Context().Done():
	case <-done:
	}
}

type ptyInputRequest struct {
	Data string `json:"data" binding:"required"`
}

// WritePTY handles POST /api/pty/{id}/input.
func (s *Server) WritePTY(c *gin.Context) {
	var req ptyInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := s.PTYs.Write(c.Param("id"), []byte(req.Data)); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ptyResizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// ResizePTY handles POST /api/pty/{id}/resize.
func (s *Server) ResizePTY(c *gin.Context) {
	var req ptyResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := s.PTYs.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// parsePTYSignal turns a query param like "?signal=9" or "?signal=SIGKILL"
// into a syscall.Signal, defaulting to SIGTERM.
func parsePTYSignal(raw string) syscall.Signal {
	if raw == "" {
		return syscall.SIGTERM
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return syscall.Signal(n)
	}
	switch raw {
	case "SIGKILL":
		return syscall.SIGKILL
	case "SIGINT":
		return syscall.SIGINT
	case "SIGHUP":
		return syscall.SIGHUP
	default:
		return syscall.SIGTERM
	}
}
