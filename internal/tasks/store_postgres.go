package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the indexed task fields in columns and the full
// record as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initTaskSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS broker_tasks (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			skill TEXT NOT NULL,
			status TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			donate BOOLEAN NOT NULL DEFAULT FALSE,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_broker_tasks_requester ON broker_tasks (requester_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_broker_tasks_status_updated ON broker_tasks (status, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO broker_tasks (
			id, requester_id, provider_id, skill, status, parent_id, donate, doc, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			provider_id=EXCLUDED.provider_id,
			status=EXCLUDED.status,
			donate=EXCLUDED.donate,
			doc=EXCLUDED.doc,
			updated_at=EXCLUDED.updated_at`,
		task.ID,
		task.RequesterID,
		task.ProviderID,
		task.Skill,
		string(task.Status),
		task.ParentID,
		task.Donate,
		doc,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT doc FROM broker_tasks WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM broker_tasks WHERE id=$1`, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasksByRequester(ctx context.Context, requesterID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx,
		`SELECT doc FROM broker_tasks WHERE requester_id=$1 ORDER BY created_at DESC LIMIT $2`,
		requesterID, limit,
	)
}

func (s *PostgresStore) ListRetiredTasks(ctx context.Context, before time.Time) ([]Task, error) {
	return s.query(ctx,
		`SELECT doc FROM broker_tasks
		  WHERE status = ANY($1) AND updated_at < $2 AND NOT donate
		  ORDER BY updated_at ASC`,
		[]string{string(StatusFinished), string(StatusError), string(StatusAborted)}, before,
	)
}

func (s *PostgresStore) ListOpenTasks(ctx context.Context) ([]Task, error) {
	return s.query(ctx,
		`SELECT doc FROM broker_tasks WHERE NOT (status = ANY($1)) ORDER BY updated_at ASC`,
		[]string{string(StatusFinished), string(StatusError), string(StatusAborted)},
	)
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM broker_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(doc, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}
