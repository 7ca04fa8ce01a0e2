package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileProvider reads credentials from a flat JSON object of
// {"ENV_VAR_NAME": "value"} pairs.
type FileProvider struct {
	path        string
	credentials map[string]*Credential
	mu          sync.RWMutex
	loaded      bool
}

// NewFileProvider creates a provider backed by the JSON file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:        path,
		credentials: make(map[string]*Credential),
	}
}

func (p *FileProvider) Name() string {
	return "file"
}

func (p *FileProvider) load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	for key, value := range raw {
		p.credentials[key] = &Credential{Key: key, Value: value, Source: "file"}
	}
	p.loaded = true
	return nil
}

// Reload discards the cached file contents and re-reads path on the next
// lookup, picking up a credentials file that was rotated or rewritten.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	p.loaded = false
	p.credentials = make(map[string]*Credential)
	p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	cred, ok := p.credentials[key]
	if !ok {
		return nil, fmt.Errorf("credential not found: %s", key)
	}
	return cred, nil
}

func (p *FileProvider) ListAvailable(ctx context.Context) ([]string, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.credentials))
	for key := range p.credentials {
		keys = append(keys, key)
	}
	return keys, nil
}
