package process

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/logger"
)

// SQLiteStore indexes every Record (live or terminal) in a single table,
// so List can filter by session/status with a SQL WHERE clause instead of
// JSONStore's full directory scan. The full record is still kept as a JSON
// blob in the row so Record's shape never has to be mirrored into columns.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create sqlite store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3's driver doesn't support concurrent writers

	store := &SQLiteStore{db: db, logger: log.WithFields(zap.String("component", "process-store"))}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS process_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_records_session ON process_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_process_records_status ON process_records(status);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO process_records (id, session_id, status, data) VALUES (?, ?, ?, ?)`,
		record.ID, record.SessionID, string(record.Status), data,
	)
	if err != nil {
		return fmt.Errorf("insert process record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(record)

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE process_records SET session_id = ?, status = ?, data = ? WHERE id = ?`,
		record.SessionID, string(record.Status), data, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update process record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM process_records WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query process record: %w", err)
	}
	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	query := `SELECT data FROM process_records WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list process records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan process record: %w", err)
		}
		var record Record
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			s.logger.Warn("dropping unreadable process record row", zap.Error(err))
			continue
		}
		result = append(result, &record)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
