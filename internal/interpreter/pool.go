package interpreter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/common/logger"
)

// languagePool holds every worker for one language plus the free (unowned)
// subset and the context -> worker ownership map. All mutations go through
// mu, matching spec.md §4.F's "per-language mutex guarding pool mutations".
type languagePool struct {
	cfg PoolConfig

	mu        sync.Mutex
	all       []*worker
	available []*worker
	contexts  map[string]*worker // contextID -> reserved worker
}

// Pool manages one languagePool per supported language plus the shared
// Python-availability gate from spec.md §4.F.
type Pool struct {
	logger *logger.Logger

	mu     sync.Mutex
	pools  map[Language]*languagePool
	ctxIdx map[string]Language // contextID -> language, for dispatch

	pythonAvailable bool

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewPool constructs a Pool from per-language configs. pythonAvailable
// should be the result of probing `python3 --version` at startup; when
// false, every Python-targeting call fails fast with Unavailable.
func NewPool(configs map[Language]PoolConfig, pythonAvailable bool, log *logger.Logger) *Pool {
	p := &Pool{
		logger:          log.WithFields(zap.String("component", "interpreter-pool")),
		pools:           make(map[Language]*languagePool),
		ctxIdx:          make(map[string]Language),
		pythonAvailable: pythonAvailable,
		stopCleanup:     make(chan struct{}),
	}
	for lang, cfg := range configs {
		p.pools[lang] = &languagePool{cfg: cfg, contexts: make(map[string]*worker)}
	}
	return p
}

func (p *Pool) poolFor(lang Language) (*languagePool, error) {
	p.mu.Lock()
	lp, ok := p.pools[lang]
	p.mu.Unlock()
	if !ok {
		return nil, apperr.BadRequest(fmt.Sprintf("unsupported language %q", lang))
	}
	if lang == LangPython && !p.pythonAvailable {
		return nil, apperr.Unavailable("python3 is not installed in this container")
	}
	return lp, nil
}

// PreWarm spawns workers for lang until its available list reaches minSize.
// Spawn failures are logged and swallowed, per spec.md §4.F.
func (p *Pool) PreWarm(lang Language) {
	lp, err := p.poolFor(lang)
	if err != nil {
		return
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for len(lp.available) < lp.cfg.MinSize {
		w, err := spawnWorker(lang, lp.cfg.WorkerArgv, lp.cfg.SpawnTimeout, lp.cfg.ExtraEnv, p.logger)
		if err != nil {
			p.logger.Warn("pre-warm spawn failed", zap.String("language", string(lang)), zap.Error(err))
			return
		}
		p.watchWorkerExit(lang, lp, w)
		lp.all = append(lp.all, w)
		lp.available = append(lp.available, w)
	}
}

// watchWorkerExit purges w from every tracking structure the moment its
// child process exits unexpectedly, invalidating any context pinned to it.
func (p *Pool) watchWorkerExit(lang Language, lp *languagePool, w *worker) {
	go func() {
		<-w.ExitedChan()
		lp.mu.Lock()
		defer lp.mu.Unlock()
		lp.all = removeWorker(lp.all, w)
		lp.available = removeWorker(lp.available, w)
		for ctxID, owned := range lp.contexts {
			if owned == w {
				delete(lp.contexts, ctxID)
				p.mu.Lock()
				delete(p.ctxIdx, ctxID)
				p.mu.Unlock()
			}
		}
	}()
}

func removeWorker(list []*worker, w *worker) []*worker {
	out := list[:0]
	for _, x := range list {
		if x != w {
			out = append(out, x)
		}
	}
	return out
}

// borrowLocked pops the first available worker for lang, spawning a fresh one if
// none is free and maxProcesses would not be exceeded. Caller must hold
// lp.mu.
func (p *Pool) borrowLocked(lang Language, lp *languagePool) (*worker, error) {
	if len(lp.available) > 0 {
		w := lp.available[0]
		lp.available = lp.available[1:]
		return w, nil
	}
	if lp.cfg.MaxProcesses > 0 && len(lp.all) >= lp.cfg.MaxProcesses {
		return nil, apperr.ResourceExhausted(fmt.Sprintf("%s worker pool at capacity (%d)", lang, lp.cfg.MaxProcesses))
	}
	w, err := spawnWorker(lang, lp.cfg.WorkerArgv, lp.cfg.SpawnTimeout, lp.cfg.ExtraEnv, p.logger)
	if err != nil {
		return nil, apperr.InternalError("failed to spawn interpreter worker", err)
	}
	p.watchWorkerExit(lang, lp, w)
	lp.all = append(lp.all, w)
	return w, nil
}

// Borrow takes a worker off the free list for a one-shot execution.
func (p *Pool) Borrow(lang Language) (*worker, error) {
	lp, err := p.poolFor(lang)
	if err != nil {
		return nil, err
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return p.borrowLocked(lang, lp)
}

// Return pushes a borrowed worker back onto lang's free list.
func (p *Pool) Return(lang Language, w *worker) {
	lp, err := p.poolFor(lang)
	if err != nil {
		return
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if w.Exited() {
		return
	}
	lp.available = append(lp.available, w)
}

// ReserveForContext borrows or spawns a worker and pins it exclusively to
// ctxID for the lifetime of the context.
func (p *Pool) ReserveForContext(ctxID string, lang Language) error {
	lp, err := p.poolFor(lang)
	if err != nil {
		return err
	}
	lp.mu.Lock()
	w, err := p.borrowLocked(lang, lp)
	if err != nil {
		lp.mu.Unlock()
		return err
	}
	w.setOwner(ctxID)
	lp.contexts[ctxID] = w
	lp.mu.Unlock()

	p.mu.Lock()
	p.ctxIdx[ctxID] = lang
	p.mu.Unlock()
	return nil
}

// ReleaseForContext kills the worker pinned to ctxID — it is never returned
// to the free list, since a context worker has acquired user-visible
// interpreter state — and replenishes the pool back to minSize.
func (p *Pool) ReleaseForContext(ctxID string) {
	p.mu.Lock()
	lang, ok := p.ctxIdx[ctxID]
	delete(p.ctxIdx, ctxID)
	p.mu.Unlock()
	if !ok {
		return
	}
	lp, err := p.poolFor(lang)
	if err != nil {
		return
	}

	lp.mu.Lock()
	w, ok := lp.contexts[ctxID]
	delete(lp.contexts, ctxID)
	if ok {
		lp.all = removeWorker(lp.all, w)
	}
	lp.mu.Unlock()

	if ok {
		w.kill()
	}
	p.PreWarm(lang)
}

// Execute runs code against a pool-owned worker. When ctxID is non-empty,
// the call is routed to that context's reserved worker (failing with
// PreconditionFailed on a language mismatch or dead context); otherwise a
// worker is borrowed, used, and returned.
func (p *Pool) Execute(lang Language, code string, ctxID string) (*ExecResult, error) {
	if ctxID != "" {
		return p.executeInContext(ctxID, lang, code)
	}

	lp, err := p.poolFor(lang)
	if err != nil {
		return nil, err
	}
	w, err := p.Borrow(lang)
	if err != nil {
		return nil, err
	}
	result, err := w.execute(code, lp.cfg.ExecTimeout)
	if err != nil {
		w.kill()
		return nil, apperr.InternalError("interpreter execution failed", err)
	}
	p.Return(lang, w)
	return result, nil
}

func (p *Pool) executeInContext(ctxID string, lang Language, code string) (*ExecResult, error) {
	p.mu.Lock()
	boundLang, ok := p.ctxIdx[ctxID]
	p.mu.Unlock()
	if !ok {
		return nil, apperr.PreconditionFailed(fmt.Sprintf("context %s has no reserved worker", ctxID))
	}
	if lang != "" && lang != boundLang {
		return nil, apperr.PreconditionFailed(fmt.Sprintf("context %s is bound to %s, cannot switch to %s", ctxID, boundLang, lang))
	}

	lp, err := p.poolFor(boundLang)
	if err != nil {
		return nil, err
	}
	lp.mu.Lock()
	w, ok := lp.contexts[ctxID]
	lp.mu.Unlock()
	if !ok {
		return nil, apperr.PreconditionFailed(fmt.Sprintf("context %s's worker is no longer available", ctxID))
	}

	result, err := w.execute(code, lp.cfg.ExecTimeout)
	if err != nil {
		return nil, apperr.InternalError("interpreter execution failed", err)
	}
	return result, nil
}

// CleanupIdle evicts available (unowned) workers idle longer than each
// pool's idleTimeout, while always keeping at least minSize available.
// StartCleanup runs it at half the shortest pool idleTimeout.
func (p *Pool) CleanupIdle() {
	p.mu.Lock()
	pools := make(map[Language]*languagePool, len(p.pools))
	for lang, lp := range p.pools {
		pools[lang] = lp
	}
	p.mu.Unlock()

	for lang, lp := range pools {
		lp.mu.Lock()
		kept := lp.available[:0]
		var evicted []*worker
		for _, w := range lp.available {
			if len(kept)+len(evicted) < lp.cfg.MinSize || w.idleSince() < lp.cfg.IdleTimeout {
				kept = append(kept, w)
			} else {
				evicted = append(evicted, w)
			}
		}
		lp.available = kept
		for _, w := range evicted {
			lp.all = removeWorker(lp.all, w)
		}
		lp.mu.Unlock()

		for _, w := range evicted {
			p.logger.Debug("evicting idle interpreter worker", zap.String("language", string(lang)), zap.String("worker_id", w.id))
			w.kill()
		}
	}
}

// StartCleanup begins a background loop running CleanupIdle at half each
// pool's shortest configured idle timeout. interval is used only when no
// pool has a positive idle timeout.
func (p *Pool) StartCleanup(interval time.Duration) {
	p.mu.Lock()
	var shortest time.Duration
	for _, lp := range p.pools {
		if t := lp.cfg.IdleTimeout; t > 0 && (shortest == 0 || t < shortest) {
			shortest = t
		}
	}
	p.mu.Unlock()
	if shortest/2 > 0 {
		interval = shortest / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCleanup:
				return
			case <-ticker.C:
				p.CleanupIdle()
			}
		}
	}()
}

// StopCleanup halts the idle-eviction loop. Safe to call multiple times.
func (p *Pool) StopCleanup() {
	p.cleanupOnce.Do(func() { close(p.stopCleanup) })
}

// Shutdown kills every worker across every language pool, for container
// exit — the explicit shutdown() spec.md §9 requires for the pool
// singleton instead of relying on process teardown.
func (p *Pool) Shutdown() {
	p.StopCleanup()
	p.mu.Lock()
	pools := make([]*languagePool, 0, len(p.pools))
	for _, lp := range p.pools {
		pools = append(pools, lp)
	}
	p.mu.Unlock()

	for _, lp := range pools {
		lp.mu.Lock()
		workers := lp.all
		lp.all = nil
		lp.available = nil
		lp.contexts = make(map[string]*worker)
		lp.mu.Unlock()
		for _, w := range workers {
			w.kill()
		}
	}
}

// NewContextID generates a fresh opaque context id.
func NewContextID() string { return uuid.New().String() }

// Health reports pre-warm progress for spec.md §6's GET /api/interpreter/health:
// ready once every configured pool has reached its minSize, initializing
// while any pool is still below it, and progress as the fraction of the
// combined minSize targets currently satisfied.
type Health struct {
	Ready        bool    `json:"ready"`
	Initializing bool    `json:"initializing"`
	Progress     float64 `json:"progress"`
}

func (p *Pool) Health() Health {
	p.mu.Lock()
	pools := make(map[Language]*languagePool, len(p.pools))
	for lang, lp := range p.pools {
		pools[lang] = lp
	}
	p.mu.Unlock()

	var wantTotal, haveTotal int
	for lang, lp := range pools {
		if lang == LangPython && !p.pythonAvailable {
			continue
		}
		lp.mu.Lock()
		want := lp.cfg.MinSize
		have := len(lp.available)
		if have > want {
			have = want
		}
		lp.mu.Unlock()
		wantTotal += want
		haveTotal += have
	}

	if wantTotal == 0 {
		return Health{Ready: true, Progress: 1}
	}
	progress := float64(haveTotal) / float64(wantTotal)
	return Health{Ready: haveTotal >= wantTotal, Initializing: haveTotal < wantTotal, Progress: progress}
}
