package interpreter

import (
	"sync"
	"time"

	"github.com/kandev/sandboxd/internal/common/apperr"
)

// ContextManager tracks Interpreter Context metadata (id, language, cwd,
// timestamps) alongside the Pool's worker reservation, so listing and
// inspection endpoints don't need to reach into pool internals.
type ContextManager struct {
	pool *Pool

	mu       sync.Mutex
	contexts map[string]*Context
}

// NewContextManager wraps pool with context bookkeeping.
func NewContextManager(pool *Pool) *ContextManager {
	return &ContextManager{pool: pool, contexts: make(map[string]*Context)}
}

// Create reserves a worker for a new context and records its metadata.
func (m *ContextManager) Create(language Language, cwd string) (*Context, error) {
	if !language.Valid() {
		return nil, apperr.BadRequest("unsupported language: " + string(language))
	}
	id := NewContextID()
	if err := m.pool.ReserveForContext(id, language); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ctx := &Context{ID: id, Language: language, CWD: cwd, CreatedAt: now, lastUsed: now}

	m.mu.Lock()
	m.contexts[id] = ctx
	m.mu.Unlock()
	return ctx, nil
}

// Execute runs code in ctx's bound language, touching its last-used time.
func (m *ContextManager) Execute(id, code string) (*ExecResult, error) {
	m.mu.Lock()
	ctx, ok := m.contexts[id]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("interpreter context", id)
	}
	result, err := m.pool.Execute(ctx.Language, code, id)
	if err != nil {
		return nil, err
	}
	ctx.touch()
	return result, nil
}

// Get returns a context's metadata.
func (m *ContextManager) Get(id string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[id]
	return ctx, ok
}

// List returns every tracked context.
func (m *ContextManager) List() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		out = append(out, ctx)
	}
	return out
}

// Delete releases id's reserved worker and forgets its metadata.
func (m *ContextManager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()
	if !ok {
		return apperr.NotFound("interpreter context", id)
	}
	m.pool.ReleaseForContext(id)
	return nil
}
