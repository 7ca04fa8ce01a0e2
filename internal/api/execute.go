package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/process"
	"github.com/kandev/sandboxd/internal/shell"
)

type executeRequest struct {
	Command    string `json:"command" binding:"required"`
	SessionID  string `json:"sessionId"`
	Background bool   `json:"background"`
	CWD        string `json:"cwd"`
	TimeoutMs  int64  `json:"timeoutMs"`
}

func (s *Server) timeoutFor(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return s.CommandTimeout
}

func (s *Server) ensureSession(req executeRequest) (string, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	_, err := s.Shell.GetOrCreate(sessionID, shell.SessionOptions{
		CWD: req.CWD,
		Env: s.credentialOverlay(context.Background()),
	})
	return sessionID, err
}

// Execute handles POST /api/execute.
func (s *Server) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	sessionID, err := s.ensureSession(req)
	if err != nil {
		appErr := apperr.InternalError("failed to open session", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	commandID := uuid.New().String()
	timeout := s.timeoutFor(req.TimeoutMs)

	if req.Background {
		s.startBackgroundCommand(sessionID, commandID, req.Command, timeout)
		c.JSON(http.StatusOK, gin.H{"success": true, "processId": commandID, "sessionId": sessionID})
		return
	}

	result, err := s.Shell.Exec(sessionID, commandID, req.Command, timeout)
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   result.ExitCode == 0,
		"exitCode":  result.ExitCode,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"command":   req.Command,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) startBackgroundCommand(sessionID, commandID, command string, timeout time.Duration) {
	record := &process.Record{
		ID:        commandID,
		SessionID: sessionID,
		Source:    process.SourceShell,
		Command:   command,
		Status:    process.StatusStarting,
		StartedAt: time.Now().UTC(),
	}
	if err := s.Processes.Create(context.Background(), record); err != nil {
		s.logger.Error("failed to create process record", zap.String("id", commandID), zap.Error(err))
		return
	}

	go func() {
		err := s.Shell.ExecStream(sessionID, commandID, command, timeout, func(ev shell.StreamEvent) {
			s.applyStreamEvent(commandID, ev)
		}, true)
		if err != nil {
			s.logger.Error("background command failed to start", zap.String("id", commandID), zap.Error(err))
			_, _ = s.Processes.Update(context.Background(), commandID, func(r *process.Record) {
				r.Status = process.StatusError
				r.Error = err.Error()
				now := time.Now().UTC()
				r.FinishedAt = &now
			})
		}
	}()
}

// applyStreamEvent folds one shell.StreamEvent into a process.Record.
func (s *Server) applyStreamEvent(commandID string, ev shell.StreamEvent) {
	_, err := s.Processes.Update(context.Background(), commandID, func(r *process.Record) {
		switch ev.Type {
		case shell.EventStart:
			r.Status = process.StatusRunning
		case shell.EventStdout:
			r.AppendStdout(ev.Data)
		case shell.EventStderr:
			r.AppendStderr(ev.Data)
		case shell.EventComplete:
			now := time.Now().UTC()
			r.FinishedAt = &now
			if ev.ExitCode != nil {
				r.ExitCode = ev.ExitCode
				if *ev.ExitCode == 0 {
					r.Status = process.StatusCompleted
				} else {
					r.Status = process.StatusFailed
				}
			} else {
				r.Status = process.StatusCompleted
			}
		case shell.EventError:
			now := time.Now().UTC()
			r.FinishedAt = &now
			r.Status = process.StatusError
			r.Error = ev.Error
		}
	})
	if err != nil {
		s.logger.Debug("dropping stream event for unknown process", zap.String("id", commandID), zap.Error(err))
	}
}

// ExecuteStream handles POST /api/execute/stream.
func (s *Server) ExecuteStream(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	sessionID, err := s.ensureSession(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"type": "error", "error": err.Error()})
		return
	}

	prepareSSE(c)
	commandID := uuid.New().String()
	timeout := s.timeoutFor(req.TimeoutMs)

	err = s.Shell.ExecStream(sessionID, commandID, req.Command, timeout, func(ev shell.StreamEvent) {
		writeSSE(c, ev)
	}, false)
	if err != nil {
		writeSSE(c, shell.StreamEvent{Type: shell.EventError, CommandID: commandID, Error: err.Error()})
	}
}
