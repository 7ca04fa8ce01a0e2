package api

import (
	"context"
	"net/http"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/process"
	"github.com/kandev/sandboxd/internal/shell"
)

type startProcessRequest struct {
	Command string `json:"command" binding:"required"`
	Options struct {
		SessionID string `json:"sessionId"`
		CWD       string `json:"cwd"`
		TimeoutMs int64  `json:"timeoutMs"`
	} `json:"options"`
}

// ProcessStart handles POST /api/process/start.
func (s *Server) ProcessStart(c *gin.Context) {
	var req startProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	sessionID := req.Options.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if _, err := s.Shell.GetOrCreate(sessionID, shell.SessionOptions{
		CWD: req.Options.CWD,
		Env: s.credentialOverlay(context.Background()),
	}); err != nil {
		appErr := apperr.InternalError("failed to open session", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	commandID := uuid.New().String()
	timeout := s.timeoutFor(req.Options.TimeoutMs)
	s.startBackgroundCommand(sessionID, commandID, req.Command, timeout)

	c.JSON(http.StatusCreated, gin.H{"process": gin.H{
		"id":        commandID,
		"command":   req.Command,
		"status":    process.StatusStarting,
		"startTime": time.Now().UTC(),
		"sessionId": sessionID,
	}})
}

// ProcessList handles GET /api/process/list.
func (s *Server) ProcessList(c *gin.Context) {
	filter := process.ListFilter{
		SessionID: c.Query("session"),
		Status:    process.Status(c.Query("status")),
	}
	records, err := s.Processes.List(c.Request.Context(), filter)
	if err != nil {
		appErr := apperr.InternalError("failed to list processes", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": records, "count": len(records)})
}

// ProcessGet handles GET /api/process/{id}.
func (s *Server) ProcessGet(c *gin.Context) {
	record, err := s.Processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// ProcessDelete handles DELETE /api/process/{id} — kills the underlying
// command and marks its record killed.
func (s *Server) ProcessDelete(c *gin.Context) {
	id := c.Param("id")
	record, err := s.Processes.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	// Mark the record killed before signalling, so the terminal event the
	// kill produces cannot record it as an ordinary failure first.
	if !record.Status.IsTerminal() {
		_, _ = s.Processes.Update(c.Request.Context(), id, func(r *process.Record) {
			r.Status = process.StatusKilled
			now := time.Now().UTC()
			r.FinishedAt = &now
		})
	}
	s.killRecord(record)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) killRecord(record *process.Record) {
	switch record.Source {
	case process.SourceShell:
		_ = s.Shell.Kill(record.SessionID, record.ID, syscall.SIGTERM)
	case process.SourcePTY:
		_ = s.PTYs.Kill(record.ID, syscall.SIGTERM)
	}
}

// ProcessKillAll handles DELETE /api/process/kill-all.
func (s *Server) ProcessKillAll(c *gin.Context) {
	records, err := s.Processes.List(c.Request.Context(), process.ListFilter{})
	if err != nil {
		appErr := apperr.InternalError("failed to list processes", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	killed := 0
	for _, record := range records {
		if record.Status.IsTerminal() {
			continue
		}
		s.killRecord(record)
		killed++
	}
	c.JSON(http.StatusOK, gin.H{"killedCount": killed})
}

// ProcessLogs handles GET /api/process/{id}/logs.
func (s *Server) ProcessLogs(c *gin.Context) {
	record, err := s.Processes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stdout": record.Stdout, "stderr": record.Stderr})
}

// ProcessStream handles GET /api/process/{id}/stream. Since process.Store
// has no live subscription API, it polls the record at the same 100ms
// cadence the shell session itself uses for stdout/stderr growth, emitting
// only the newly-appended suffix each tick.
func (s *Server) ProcessStream(c *gin.Context) {
	id := c.Param("id")
	record, err := s.Processes.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	prepareSSE(c)
	writeSSE(c, gin.H{"type": "process_info", "process": record})

	stdoutSent, stderrSent := len(record.Stdout), len(record.Stderr)
	if len(record.Stdout) > 0 {
		writeSSE(c, gin.H{"type": "stdout", "data": record.Stdout})
	}
	if len(record.Stderr) > 0 {
		writeSSE(c, gin.H{"type": "stderr", "data": record.Stderr})
	}
	if record.Status.IsTerminal() {
		writeSSE(c, gin.H{"type": "exit", "exitCode": record.ExitCode})
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			record, err = s.Processes.Get(context.Background(), id)
			if err != nil {
				return
			}
			if len(record.Stdout) > stdoutSent {
				writeSSE(c, gin.H{"type": "stdout", "data": record.Stdout[stdoutSent:]})
				stdoutSent = len(record.Stdout)
			}
			if len(record.Stderr) > stderrSent {
				writeSSE(c, gin.H{"type": "stderr", "data": record.Stderr[stderrSent:]})
				stderrSent = len(record.Stderr)
			}
			if record.Status.IsTerminal() {
				writeSSE(c, gin.H{"type": "exit", "exitCode": record.ExitCode})
				return
			}
		}
	}
}
