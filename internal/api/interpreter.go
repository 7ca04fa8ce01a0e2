package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/interpreter"
)

type executeCodeRequest struct {
	Code      string `json:"code" binding:"required"`
	Language  string `json:"language" binding:"required"`
	ContextID string `json:"contextId"`
}

// ExecuteCode handles POST /api/execute/code. The worker protocol returns a
// single aggregate ExecResult rather than streaming output line-by-line, so
// the SSE events below are synthesized from that one result instead of
// reflecting truly incremental output.
func (s *Server) ExecuteCode(c *gin.Context) {
	var req executeCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	prepareSSE(c)

	var (
		result *interpreter.ExecResult
		err    error
	)
	if req.ContextID != "" {
		result, err = s.Contexts.Execute(req.ContextID, req.Code)
	} else {
		result, err = s.Interpreters.Execute(interpreter.Language(req.Language), req.Code, "")
	}
	if err != nil {
		writeSSE(c, gin.H{"type": "error", "error": err.Error()})
		return
	}

	if result.Stdout != "" {
		writeSSE(c, gin.H{"type": "stdout", "data": result.Stdout})
	}
	if result.Stderr != "" {
		writeSSE(c, gin.H{"type": "stderr", "data": result.Stderr})
	}
	for _, output := range result.Outputs {
		writeSSE(c, gin.H{"type": "result", "output": output})
	}
	if !result.Success {
		writeSSE(c, gin.H{"type": "error", "error": result.Error})
	}
	writeSSE(c, gin.H{
		"type":        "execution_complete",
		"success":     result.Success,
		"executionId": result.ExecutionID,
	})
}

type createContextRequest struct {
	Language string `json:"language" binding:"required"`
	CWD      string `json:"cwd"`
}

// CreateContext handles POST /api/contexts.
func (s *Server) CreateContext(c *gin.Context) {
	var req createContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperr.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	ctx, err := s.Contexts.Create(interpreter.Language(req.Language), req.CWD)
	if err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contextId": ctx.ID, "language": ctx.Language, "cwd": ctx.CWD})
}

// ListContexts handles GET /api/contexts.
func (s *Server) ListContexts(c *gin.Context) {
	contexts := s.Contexts.List()
	out := make([]gin.H, 0, len(contexts))
	for _, ctx := range contexts {
		out = append(out, gin.H{
			"contextId": ctx.ID,
			"language":  ctx.Language,
			"cwd":       ctx.CWD,
			"createdAt": ctx.CreatedAt,
			"lastUsed":  ctx.LastUsed(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"contexts": out})
}

// DeleteContext handles DELETE /api/contexts/{id}.
func (s *Server) DeleteContext(c *gin.Context) {
	id := c.Param("id")
	if err := s.Contexts.Delete(id); err != nil {
		c.JSON(apperr.GetHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contextId": id})
}

// InterpreterHealth handles GET /api/interpreter/health.
func (s *Server) InterpreterHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.Interpreters.Health())
}
