package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists users and clients in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS broker_users (
			key TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			authenticated INTEGER NOT NULL DEFAULT 0,
			system BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS broker_clients (
			session_id TEXT PRIMARY KEY,
			ip TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			user_key TEXT NOT NULL DEFAULT '',
			connected BOOLEAN NOT NULL DEFAULT FALSE,
			first_contact TIMESTAMPTZ NOT NULL,
			last_contact TIMESTAMPTZ NOT NULL,
			metadata JSONB NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_broker_clients_connected ON broker_clients (connected);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init user schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const userColumns = `key, role, authenticated, system, created_at, updated_at`

func (s *PostgresStore) GetUser(ctx context.Context, key string) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM broker_users WHERE key=$1`, key)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) AuthenticateUser(ctx context.Context, key, defaultRole string) (User, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO broker_users (key, role, authenticated, system, created_at, updated_at)
		 VALUES ($1, $2, 1, FALSE, $3, $3)
		 ON CONFLICT (key) DO UPDATE SET
			authenticated = broker_users.authenticated + 1,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		key, defaultRole, now,
	)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("authenticate user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, key, role string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE broker_users SET role=$2, updated_at=$3 WHERE key=$1 RETURNING `+userColumns,
		key, role, time.Now().UTC(),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("set user role: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) EnsureSystemUser(ctx context.Context, key string) (User, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO broker_users (key, role, authenticated, system, created_at, updated_at)
		 VALUES ($1, 'admin', 0, TRUE, $2, $2)
		 ON CONFLICT (key) DO UPDATE SET
			role = 'admin',
			system = TRUE,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		key, now,
	)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("ensure system user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SaveClient(ctx context.Context, c Client) error {
	var metadata []byte
	if len(c.Metadata) > 0 {
		metadata = c.Metadata
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO broker_clients (
			session_id, ip, role, user_key, connected, first_contact, last_contact, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id) DO UPDATE SET
			ip=EXCLUDED.ip,
			role=EXCLUDED.role,
			user_key=EXCLUDED.user_key,
			connected=EXCLUDED.connected,
			last_contact=EXCLUDED.last_contact,
			metadata=EXCLUDED.metadata`,
		c.SessionID,
		c.IP,
		c.Role,
		c.UserKey,
		c.Connected,
		c.FirstContact,
		c.LastContact,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (s *PostgresStore) DisconnectAllClients(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE broker_clients SET connected=FALSE, last_contact=$1 WHERE connected`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("disconnect clients: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(
		&u.Key,
		&u.Role,
		&u.Authenticated,
		&u.System,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	return u, nil
}
