// Command sandboxd runs the sandbox execution runtime: shell sessions,
// interpreter pools, PTYs, and port forwarding, exposed over HTTP, SSE, and
// a multiplexed WebSocket.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/api"
	"github.com/kandev/sandboxd/internal/common/config"
	"github.com/kandev/sandboxd/internal/common/logger"
	"github.com/kandev/sandboxd/internal/credentials"
	"github.com/kandev/sandboxd/internal/events/bus"
	"github.com/kandev/sandboxd/internal/interpreter"
	"github.com/kandev/sandboxd/internal/portforward"
	"github.com/kandev/sandboxd/internal/process"
	"github.com/kandev/sandboxd/internal/pty"
	"github.com/kandev/sandboxd/internal/shell"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting sandboxd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.NewFromConfig(cfg.NATS, log)
	defer eventBus.Close()

	credManager, fileProvider := newCredentialsManager(cfg.Credentials, log)
	defer credManager.Close()
	if fileProvider != nil {
		if err := credManager.WatchFile(cfg.Credentials.FilePath, fileProvider); err != nil {
			log.Warn("failed to watch credentials file for changes", zap.Error(err))
		}
	}
	workerEnv, missingKeys := credManager.BuildOverlay(ctx, cfg.Credentials.Keys)
	if len(missingKeys) > 0 {
		log.Warn("some configured credential keys were not resolved", zap.Strings("keys", missingKeys))
	}

	processStore, err := newProcessStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize process store", zap.Error(err))
	}
	defer processStore.Close()

	shellMgr := shell.NewManager(cfg.Shell, eventBus, log)
	shellMgr.StartCleanup()
	defer shellMgr.StopCleanup()
	defer shellMgr.DestroyAll()

	pythonAvailable := interpreter.ProbePython(cfg.Interpreter.SpawnTimeout())
	if !pythonAvailable {
		log.Warn("python3 not found on PATH; python executions will fail with 503")
	}
	poolConfigs := interpreter.BuildPoolConfigs(cfg.Interpreter, workerEnv)
	interpreterPool := interpreter.NewPool(poolConfigs, pythonAvailable, log)
	for _, lang := range interpreter.DefaultLanguages() {
		if lang.Language == interpreter.LangPython && !pythonAvailable {
			continue
		}
		interpreterPool.PreWarm(lang.Language)
	}
	interpreterPool.StartCleanup(30 * time.Second)
	defer interpreterPool.Shutdown()

	contextMgr := interpreter.NewContextManager(interpreterPool)

	ptyMgr := pty.NewManager(cfg.PTY.DefaultCols, cfg.PTY.DefaultRows, cfg.PTY.ReplayBufferBytes, cfg.PTY.DisconnectTimeout(), log)
	defer ptyMgr.Shutdown()

	portRegistry := portforward.NewRegistry(log)

	srv := api.NewServer(shellMgr, processStore, interpreterPool, contextMgr, ptyMgr, portRegistry, credManager, cfg.Shell, cfg.Credentials, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(srv, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down sandboxd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("sandboxd stopped")
}

// newCredentialsManager builds the secret-injection chain: an
// environment-variable provider (optionally prefix-scoped), always added,
// followed by a JSON-file provider that is added only when cfg.FilePath is
// set.
func newCredentialsManager(cfg config.CredentialsConfig, log *logger.Logger) (*credentials.Manager, *credentials.FileProvider) {
	mgr := credentials.NewManager(log)
	mgr.AddProvider(credentials.NewEnvProvider(cfg.EnvPrefix))
	var fileProvider *credentials.FileProvider
	if cfg.FilePath != "" {
		fileProvider = credentials.NewFileProvider(cfg.FilePath)
		mgr.AddProvider(fileProvider)
	}
	return mgr, fileProvider
}

// newProcessStore builds the configured process.Store backend.
func newProcessStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (process.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return process.NewSQLiteStore(cfg.Path, log)
	case "postgres":
		return process.NewPostgresStore(ctx, cfg.URL, log)
	default:
		dir := cfg.Path
		if dir == "" {
			dir = "/tmp/sandbox-internal/processes"
		}
		return process.NewJSONStore(dir, log)
	}
}
