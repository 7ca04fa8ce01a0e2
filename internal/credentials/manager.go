// Package credentials manages secure injection of secrets into a session's
// environment overlay, without ever writing secret values to the log.
package credentials

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/logger"
)

// Credential represents a resolved secret.
type Credential struct {
	Key    string // environment variable name, e.g. ANTHROPIC_API_KEY
	Value  string // the secret value; never logged
	Source string // "environment" or "file"
}

// Provider is a source of credentials.
type Provider interface {
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
	Name() string
}

// Manager resolves credentials through an ordered chain of providers and
// caches hits so repeated lookups for the same session don't re-scan the
// environment or re-read a credentials file.
type Manager struct {
	providers []Provider
	cache     map[string]*Credential
	mu        sync.RWMutex
	logger    *logger.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewManager creates an empty credentials manager; call AddProvider to wire
// in sources before use.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		providers: make([]Provider, 0),
		cache:     make(map[string]*Credential),
		logger:    log.WithFields(zap.String("component", "credentials-manager")),
	}
}

// AddProvider appends a provider to the resolution chain. Providers are
// tried in the order added.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
	m.logger.Info("added credential provider", zap.String("provider", provider.Name()))
}

// GetCredential resolves a single credential by key.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, provider := range m.providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.cache[key] = cred
			return cred, nil
		}
	}
	return nil, fmt.Errorf("credential not found: %s", key)
}

// BuildOverlay resolves the given keys into a session environment overlay.
// Keys that fail to resolve are reported but do not abort the others; the
// caller decides whether a missing optional credential matters.
func (m *Manager) BuildOverlay(ctx context.Context, keys []string) (map[string]string, []string) {
	overlay := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		cred, err := m.GetCredential(ctx, key)
		if err != nil {
			missing = append(missing, key)
			continue
		}
		overlay[cred.Key] = cred.Value
	}
	return overlay, missing
}

// ListAvailable returns the union of credential keys every provider reports,
// values excluded.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, provider := range m.providers {
		keys, err := provider.ListAvailable(ctx)
		if err != nil {
			m.logger.Warn("failed to list credentials from provider",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	return result
}

// WatchFile watches the directory containing path (editors and secret
// managers typically rewrite a file rather than edit it in place, which
// fsnotify only reliably sees as a directory-level event) and reloads
// provider, clearing the cache whenever path changes.
func (m *Manager) WatchFile(path string, provider *FileProvider) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch credentials directory: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := provider.Reload(); err != nil {
					m.logger.Warn("failed to reload credentials file", zap.Error(err))
					continue
				}
				m.ClearCache()
				m.logger.Info("reloaded credentials file after change", zap.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("credentials file watcher error", zap.Error(err))
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

// Close stops any active file watcher started by WatchFile.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
}

// ClearCache drops all cached credential lookups.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*Credential)
}
