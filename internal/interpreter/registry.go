package interpreter

import (
	"os/exec"
	"time"

	"github.com/kandev/sandboxd/internal/common/config"
)

// LanguageConfig is the static, declarative description of one supported
// interpreter runtime: the worker argv to spawn and its default pool
// sizing, loaded the same way the teacher's agent registry loads per-type
// docker image/resource defaults.
type LanguageConfig struct {
	Language   Language
	WorkerArgv []string
}

// DefaultLanguages returns the built-in worker command table. Each worker
// is expected to be a small script co-located with the binary that speaks
// the line-delimited JSON protocol from spec.md §4.E; python3/node run it
// directly since both accept a script path as their sole positional arg.
func DefaultLanguages() []LanguageConfig {
	return []LanguageConfig{
		{Language: LangPython, WorkerArgv: []string{"python3", "-u", workerScriptPath("python_worker.py")}},
		{Language: LangJavaScript, WorkerArgv: []string{"node", workerScriptPath("js_worker.js")}},
		{Language: LangTypeScript, WorkerArgv: []string{"node", workerScriptPath("ts_worker.js")}},
	}
}

func workerScriptPath(name string) string {
	return "/opt/sandboxd/workers/" + name
}

// ProbePython reports whether a python3 binary is reachable, per spec.md
// §4.F's startup Python-availability probe. A missing or failing python3
// means every Python-targeting pool call should fail fast with Unavailable
// instead of trying and timing out on every request.
func ProbePython(timeout time.Duration) bool {
	cmd := exec.Command("python3", "--version")
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return false
	}
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err == nil
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return false
	}
}

// BuildPoolConfigs derives per-language PoolConfig from the runtime config
// and the static worker-command table. extraEnv, typically a resolved
// credential overlay, is merged into every spawned worker's environment.
func BuildPoolConfigs(cfg config.InterpreterConfig, extraEnv map[string]string) map[Language]PoolConfig {
	out := make(map[Language]PoolConfig, 3)
	for _, lc := range DefaultLanguages() {
		lp := cfg.PoolConfig(string(lc.Language))
		out[lc.Language] = PoolConfig{
			MinSize:      lp.MinSize,
			MaxProcesses: lp.MaxSize,
			IdleTimeout:  lp.IdleTimeout(),
			SpawnTimeout: cfg.SpawnTimeout(),
			ExecTimeout:  cfg.ExecutionTimeout(),
			WorkerArgv:   lc.WorkerArgv,
			ExtraEnv:     extraEnv,
		}
	}
	return out
}
