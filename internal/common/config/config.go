// Package config provides configuration management for the sandbox runtime.
// It supports loading configuration from environment variables, a config
// file, and built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runtime.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Shell       ShellConfig       `mapstructure:"shell"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	PTY         PTYConfig         `mapstructure:"pty"`
	Ports       PortsConfig       `mapstructure:"ports"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ShellConfig holds persistent-shell-session configuration, spec.md §6.
type ShellConfig struct {
	SessionID         string `mapstructure:"sessionId"`
	SessionCWD        string `mapstructure:"sessionCwd"`
	SessionIsolated   bool   `mapstructure:"sessionIsolated"`
	CommandTimeoutMs  int    `mapstructure:"commandTimeoutMs"`
	CleanupIntervalMs int    `mapstructure:"cleanupIntervalMs"`
	TempFileMaxAgeMs  int    `mapstructure:"tempFileMaxAgeMs"`
	TempDir           string `mapstructure:"tempDir"`
}

func (s *ShellConfig) CommandTimeout() time.Duration {
	return time.Duration(s.CommandTimeoutMs) * time.Millisecond
}

func (s *ShellConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMs) * time.Millisecond
}

func (s *ShellConfig) TempFileMaxAge() time.Duration {
	return time.Duration(s.TempFileMaxAgeMs) * time.Millisecond
}

// LanguagePoolConfig is the per-language interpreter pool sizing, driven by
// the <LANG>_POOL_MIN_SIZE / <LANG>_POOL_MAX_SIZE environment variables.
type LanguagePoolConfig struct {
	MinSize       int `mapstructure:"minSize"`
	MaxSize       int `mapstructure:"maxSize"` // 0 means unbounded
	IdleTimeoutMs int `mapstructure:"idleTimeoutMs"`
}

// IdleTimeout returns the configured idle-eviction window as a Duration.
func (l LanguagePoolConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutMs) * time.Millisecond
}

// InterpreterConfig holds interpreter worker/pool configuration.
type InterpreterConfig struct {
	SpawnTimeoutMs     int                            `mapstructure:"spawnTimeoutMs"`
	ExecutionTimeoutMs int                            `mapstructure:"executionTimeoutMs"`
	MaxOutputSizeBytes int                            `mapstructure:"maxOutputSizeBytes"`
	Python             LanguagePoolConfig             `mapstructure:"python"`
	JavaScript         LanguagePoolConfig             `mapstructure:"javascript"`
	TypeScript         LanguagePoolConfig             `mapstructure:"typescript"`
}

func (i *InterpreterConfig) SpawnTimeout() time.Duration {
	return time.Duration(i.SpawnTimeoutMs) * time.Millisecond
}

func (i *InterpreterConfig) ExecutionTimeout() time.Duration {
	return time.Duration(i.ExecutionTimeoutMs) * time.Millisecond
}

// PoolConfig returns the configured pool sizing for a language name.
func (i *InterpreterConfig) PoolConfig(language string) LanguagePoolConfig {
	switch language {
	case "python":
		return i.Python
	case "javascript":
		return i.JavaScript
	case "typescript":
		return i.TypeScript
	default:
		return LanguagePoolConfig{MinSize: 0, MaxSize: 0}
	}
}

// PTYConfig holds pseudo-terminal defaults.
type PTYConfig struct {
	DefaultCols           int `mapstructure:"defaultCols"`
	DefaultRows           int `mapstructure:"defaultRows"`
	ReplayBufferBytes     int `mapstructure:"replayBufferBytes"`
	DisconnectTimeoutMs   int `mapstructure:"disconnectTimeoutMs"`
}

func (p *PTYConfig) DisconnectTimeout() time.Duration {
	return time.Duration(p.DisconnectTimeoutMs) * time.Millisecond
}

// PortsConfig holds port-registry watch configuration.
type PortsConfig struct {
	WatchIntervalMs    int `mapstructure:"watchIntervalMs"`
	MinWatchIntervalMs int `mapstructure:"minWatchIntervalMs"`
	MaxWatchIntervalMs int `mapstructure:"maxWatchIntervalMs"`
}

// ClampedWatchInterval returns the configured poll interval clamped to
// [MinWatchIntervalMs, MaxWatchIntervalMs], per spec.md §4.I.
func (p *PortsConfig) ClampedWatchInterval() time.Duration {
	ms := p.WatchIntervalMs
	if ms < p.MinWatchIntervalMs {
		ms = p.MinWatchIntervalMs
	}
	if ms > p.MaxWatchIntervalMs {
		ms = p.MaxWatchIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// NATSConfig holds NATS event-bus configuration. An empty URL disables NATS
// and the event bus falls back to an in-process no-op implementation.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DatabaseConfig configures the optional durable process-record store.
// Driver "json" (the default) means only the on-disk JSON files from
// spec.md §4.D are used; "sqlite" replaces them with one SQLite table at
// Path; "postgres" replaces the local store with a pgx-backed one.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}

// CredentialsConfig configures the opt-in secret-injection provider chain.
// Both fields are empty by default, meaning no credential overlay is
// applied to shell sessions or interpreter workers.
type CredentialsConfig struct {
	EnvPrefix string   `mapstructure:"envPrefix"`
	FilePath  string   `mapstructure:"filePath"`
	Keys      []string `mapstructure:"keys"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("shell.sessionCwd", "/workspace")
	v.SetDefault("shell.sessionIsolated", false)
	v.SetDefault("shell.commandTimeoutMs", 30_000)
	v.SetDefault("shell.cleanupIntervalMs", 60_000)
	v.SetDefault("shell.tempFileMaxAgeMs", 3_600_000)
	v.SetDefault("shell.tempDir", "/tmp")

	v.SetDefault("interpreter.spawnTimeoutMs", 10_000)
	v.SetDefault("interpreter.executionTimeoutMs", 30_000)
	v.SetDefault("interpreter.maxOutputSizeBytes", 10*1024*1024)
	v.SetDefault("interpreter.python.minSize", 1)
	v.SetDefault("interpreter.python.maxSize", 4)
	v.SetDefault("interpreter.python.idleTimeoutMs", 30*60_000)
	v.SetDefault("interpreter.javascript.minSize", 1)
	v.SetDefault("interpreter.javascript.maxSize", 4)
	v.SetDefault("interpreter.javascript.idleTimeoutMs", 30*60_000)
	v.SetDefault("interpreter.typescript.minSize", 1)
	v.SetDefault("interpreter.typescript.maxSize", 4)
	v.SetDefault("interpreter.typescript.idleTimeoutMs", 30*60_000)

	v.SetDefault("pty.defaultCols", 80)
	v.SetDefault("pty.defaultRows", 24)
	v.SetDefault("pty.replayBufferBytes", 64*1024)
	v.SetDefault("pty.disconnectTimeoutMs", 30_000)

	v.SetDefault("ports.watchIntervalMs", 1_000)
	v.SetDefault("ports.minWatchIntervalMs", 100)
	v.SetDefault("ports.maxWatchIntervalMs", 10_000)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "sandboxd")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("database.driver", "json")
	v.SetDefault("database.path", "/tmp/sandbox-internal/processes.db")
	v.SetDefault("database.url", "")

	v.SetDefault("credentials.envPrefix", "")
	v.SetDefault("credentials.filePath", "")
	v.SetDefault("credentials.keys", []string{})
}

// Load reads configuration from environment variables, an optional config
// file, and defaults. Load honors the bare environment variable names
// spec.md §6 names directly (SESSION_ID, COMMAND_TIMEOUT_MS, ...) rather
// than a service-prefixed scheme, since this runtime is injected into an
// already-provisioned container.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory (for a
// config.yaml) or the default search locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, map[string]string{
		"shell.sessionId":               "SESSION_ID",
		"shell.sessionCwd":              "SESSION_CWD",
		"shell.sessionIsolated":         "SESSION_ISOLATED",
		"shell.commandTimeoutMs":        "COMMAND_TIMEOUT_MS",
		"shell.cleanupIntervalMs":       "CLEANUP_INTERVAL_MS",
		"shell.tempFileMaxAgeMs":        "TEMP_FILE_MAX_AGE_MS",
		"shell.tempDir":                 "TEMP_DIR",
		"interpreter.spawnTimeoutMs":    "INTERPRETER_SPAWN_TIMEOUT_MS",
		"interpreter.executionTimeoutMs": "INTERPRETER_EXECUTION_TIMEOUT_MS",
		"interpreter.maxOutputSizeBytes": "MAX_OUTPUT_SIZE_BYTES",
		"interpreter.python.minSize":     "PYTHON_POOL_MIN_SIZE",
		"interpreter.python.maxSize":     "PYTHON_POOL_MAX_SIZE",
		"interpreter.javascript.minSize": "JAVASCRIPT_POOL_MIN_SIZE",
		"interpreter.javascript.maxSize": "JAVASCRIPT_POOL_MAX_SIZE",
		"interpreter.typescript.minSize": "TYPESCRIPT_POOL_MIN_SIZE",
		"interpreter.typescript.maxSize": "TYPESCRIPT_POOL_MAX_SIZE",
		"nats.url":                       "NATS_URL",
		"database.url":                   "DATABASE_URL",
		"server.port":                    "PORT",
	})

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sandboxd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper, keyToEnv map[string]string) {
	for key, env := range keyToEnv {
		_ = v.BindEnv(key, env)
	}
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console")
	}

	if cfg.Database.Driver != "json" && cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		errs = append(errs, "database.driver must be one of: json, sqlite, postgres")
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		errs = append(errs, "database.url is required when database.driver is postgres")
	}

	if cfg.Ports.MinWatchIntervalMs <= 0 || cfg.Ports.MaxWatchIntervalMs < cfg.Ports.MinWatchIntervalMs {
		errs = append(errs, "ports.minWatchIntervalMs/maxWatchIntervalMs must form a valid range")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
