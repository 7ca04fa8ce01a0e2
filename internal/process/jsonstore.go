package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kandev/sandboxd/internal/common/logger"
	"go.uber.org/zap"
)

// JSONStore keeps live (non-terminal) records in memory and writes each
// record to its own JSON file under dir the moment it turns terminal,
// dropping it from memory at the same time. Get and List transparently
// merge both halves, so callers never need to know which side a record
// lives on.
type JSONStore struct {
	dir    string
	logger *logger.Logger

	mu   sync.RWMutex
	live map[string]*Record
}

// NewJSONStore creates a store rooted at dir, creating it if necessary.
func NewJSONStore(dir string, log *logger.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create process record dir: %w", err)
	}
	return &JSONStore{
		dir:    dir,
		logger: log.WithFields(zap.String("component", "process-store")),
		live:   make(map[string]*Record),
	}, nil
}

func (s *JSONStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.live[record.ID]; exists {
		return fmt.Errorf("process record %s already exists", record.ID)
	}
	s.live[record.ID] = record
	return nil
}

// Update applies mutate to the record's in-memory copy and, the moment its
// status becomes terminal, persists it to disk and evicts it from memory.
// If id is not currently live — because it already went terminal — Update
// fails rather than silently resurrecting a finished record.
func (s *JSONStore) Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.live[id]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(record)

	if record.Status.IsTerminal() {
		if err := s.persist(record); err != nil {
			s.logger.Error("failed to persist terminal process record", zap.String("id", id), zap.Error(err))
			return nil, err
		}
		delete(s.live, id)
	}
	return record, nil
}

func (s *JSONStore) persist(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	path := s.path(record.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *JSONStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *JSONStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	if record, ok := s.live[id]; ok {
		s.mu.RUnlock()
		return record, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

func (s *JSONStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var result []*Record

	s.mu.RLock()
	for _, record := range s.live {
		if filter.matches(record) {
			result = append(result, record)
		}
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return result, fmt.Errorf("read record dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		if filter.matches(&record) {
			result = append(result, &record)
		}
	}
	return result, nil
}

func (s *JSONStore) Close() error { return nil }
