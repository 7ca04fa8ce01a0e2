package process

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/logger"
)

// PostgresStore is the distributed-deployment process store: every
// sandboxd replica shares the same table instead of each keeping its own
// local JSON directory or SQLite file.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresStore connects to url and ensures the process_records table
// exists.
func NewPostgresStore(ctx context.Context, url string, log *logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool, logger: log.WithFields(zap.String("component", "process-store"))}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS process_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_process_records_session ON process_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_process_records_status ON process_records(status);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO process_records (id, session_id, status, data) VALUES ($1, $2, $3, $4)`,
		record.ID, record.SessionID, string(record.Status), data,
	)
	if err != nil {
		return fmt.Errorf("insert process record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(record)

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE process_records SET session_id = $1, status = $2, data = $3 WHERE id = $4`,
		record.SessionID, string(record.Status), data, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update process record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM process_records WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query process record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	query := `SELECT data FROM process_records WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list process records: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan process record: %w", err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("dropping unreadable process record row", zap.Error(err))
			continue
		}
		result = append(result, &record)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
