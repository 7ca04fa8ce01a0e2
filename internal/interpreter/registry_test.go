package interpreter

import (
	"testing"
	"time"

	"github.com/kandev/sandboxd/internal/common/config"
)

func TestDefaultLanguages_CoverAllSupportedLanguages(t *testing.T) {
	langs := map[Language]bool{}
	for _, lc := range DefaultLanguages() {
		if len(lc.WorkerArgv) == 0 {
			t.Errorf("language %s has empty WorkerArgv", lc.Language)
		}
		langs[lc.Language] = true
	}
	for _, want := range []Language{LangPython, LangJavaScript, LangTypeScript} {
		if !langs[want] {
			t.Errorf("missing default config for %s", want)
		}
	}
}

func TestProbePython_TimesOutOnSlowProcess(t *testing.T) {
	if ProbePython(1 * time.Nanosecond) {
		t.Skip("python3 started and exited faster than 1ns probe window on this machine")
	}
}

func TestBuildPoolConfigs_UsesConfiguredSizes(t *testing.T) {
	cfg := config.InterpreterConfig{
		SpawnTimeoutMs:     1000,
		ExecutionTimeoutMs: 2000,
		Python:             config.LanguagePoolConfig{MinSize: 2, MaxSize: 5, IdleTimeoutMs: 60_000},
		JavaScript:         config.LanguagePoolConfig{MinSize: 1, MaxSize: 3, IdleTimeoutMs: 60_000},
		TypeScript:         config.LanguagePoolConfig{MinSize: 1, MaxSize: 3, IdleTimeoutMs: 60_000},
	}
	configs := BuildPoolConfigs(cfg, nil)
	py, ok := configs[LangPython]
	if !ok {
		t.Fatal("missing python pool config")
	}
	if py.MinSize != 2 || py.MaxProcesses != 5 {
		t.Errorf("unexpected python pool sizing: %+v", py)
	}
	if py.SpawnTimeout != time.Second || py.ExecTimeout != 2*time.Second {
		t.Errorf("unexpected timeouts: %+v", py)
	}
}
