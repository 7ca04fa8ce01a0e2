package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/config"
	"github.com/kandev/sandboxd/internal/common/logger"
	"github.com/kandev/sandboxd/internal/credentials"
	"github.com/kandev/sandboxd/internal/interpreter"
	"github.com/kandev/sandboxd/internal/portforward"
	"github.com/kandev/sandboxd/internal/process"
	"github.com/kandev/sandboxd/internal/pty"
	"github.com/kandev/sandboxd/internal/shell"
)

// Server bundles every component the HTTP/WS surface dispatches into.
type Server struct {
	Shell        *shell.Manager
	Processes    process.Store
	Interpreters *interpreter.Pool
	Contexts     *interpreter.ContextManager
	PTYs         *pty.Manager
	Ports        *portforward.Registry
	Credentials  *credentials.Manager

	CommandTimeout time.Duration
	CredentialKeys []string

	logger *logger.Logger
}

// NewServer wires an already-constructed set of components into a Server.
// creds may be nil, in which case no credential overlay is applied to new
// shell sessions. Interpreter worker environments are built by the caller
// and are not affected by creds here.
func NewServer(
	shellMgr *shell.Manager,
	processes process.Store,
	interpreters *interpreter.Pool,
	contexts *interpreter.ContextManager,
	ptys *pty.Manager,
	ports *portforward.Registry,
	creds *credentials.Manager,
	cfg config.ShellConfig,
	credCfg config.CredentialsConfig,
	log *logger.Logger,
) *Server {
	return &Server{
		Shell:          shellMgr,
		Processes:      processes,
		Interpreters:   interpreters,
		Contexts:       contexts,
		PTYs:           ptys,
		Ports:          ports,
		Credentials:    creds,
		CommandTimeout: cfg.CommandTimeout(),
		CredentialKeys: credCfg.Keys,
		logger:         log.WithFields(zap.String("component", "api")),
	}
}

// credentialOverlay resolves the configured credential keys into an env-var
// overlay, logging (never the values) any keys that could not be resolved.
func (s *Server) credentialOverlay(ctx context.Context) map[string]string {
	if s.Credentials == nil || len(s.CredentialKeys) == 0 {
		return nil
	}
	overlay, missing := s.Credentials.BuildOverlay(ctx, s.CredentialKeys)
	if len(missing) > 0 {
		s.logger.Warn("some configured credential keys were not resolved", zap.Strings("keys", missing))
	}
	return overlay
}
