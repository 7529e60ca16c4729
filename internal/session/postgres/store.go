// Package postgres provides a Postgres-backed session store for shared
// deployments where several crawler hosts report into one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkadlec/orgscraper/internal/session"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// PgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements session.Store on Postgres.
type Store struct {
	pool PgxPool
}

// New connects a Store using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool; used by tests.
func NewWithPool(pool PgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the session tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			organization TEXT,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			status TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			total_pages_scraped INTEGER NOT NULL DEFAULT 0,
			total_pages_skipped INTEGER NOT NULL DEFAULT 0,
			total_errors INTEGER NOT NULL DEFAULT 0,
			config_snapshot JSONB,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			timestamp TIMESTAMPTZ NOT NULL,
			pages_scraped INTEGER NOT NULL,
			queue_size INTEGER NOT NULL,
			checkpoint_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_org ON sessions(organization);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Insert stores a new session row.
func (s *Store) Insert(ctx context.Context, sess session.Session) error {
	var snapshot any
	if sess.ConfigSnapshot != "" {
		snapshot = sess.ConfigSnapshot
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			session_id, organization, start_time, end_time, status,
			output_dir, total_pages_scraped, total_pages_skipped, total_errors,
			config_snapshot, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, nullString(sess.Organization), sess.StartTime, sess.EndTime, string(sess.Status),
		sess.OutputDir, sess.PagesScraped, sess.PagesSkipped, sess.Errors,
		snapshot, nullString(sess.Notes), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, organization, start_time, end_time, status,
	output_dir, total_pages_scraped, total_pages_skipped, total_errors,
	config_snapshot, notes, created_at, updated_at`

// Get loads one session or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE session_id = $1", id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns sessions matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter session.ListFilter) ([]session.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	var args []any

	if filter.Organization != "" {
		args = append(args, filter.Organization)
		query += fmt.Sprintf(" AND organization = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus updates status, optional end time, and optional stat totals.
func (s *Store) UpdateStatus(ctx context.Context, id string, status session.Status, endTime *time.Time, stats *session.Stats, updatedAt time.Time) error {
	fields := []string{"status = $1", "updated_at = $2"}
	args := []any{string(status), updatedAt}

	if endTime != nil {
		args = append(args, *endTime)
		fields = append(fields, fmt.Sprintf("end_time = $%d", len(args)))
	}
	if stats != nil {
		args = append(args, stats.PagesScraped)
		fields = append(fields, fmt.Sprintf("total_pages_scraped = $%d", len(args)))
		args = append(args, stats.PagesSkipped)
		fields = append(fields, fmt.Sprintf("total_pages_skipped = $%d", len(args)))
		args = append(args, stats.Errors)
		fields = append(fields, fmt.Sprintf("total_errors = $%d", len(args)))
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE sessions SET %s WHERE session_id = $%d", strings.Join(fields, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a session and its checkpoints.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM checkpoints WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InsertCheckpoint appends one checkpoint row.
func (s *Store) InsertCheckpoint(ctx context.Context, cp session.Checkpoint) error {
	var data any
	if cp.Data != nil {
		encoded, err := json.Marshal(cp.Data)
		if err != nil {
			return fmt.Errorf("marshal checkpoint data: %w", err)
		}
		data = encoded
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, timestamp, pages_scraped, queue_size, checkpoint_data)
		VALUES ($1, $2, $3, $4, $5)`,
		cp.SessionID, cp.Timestamp, cp.PagesScraped, cp.QueueSize, data,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint or session.ErrNotFound.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (session.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT checkpoint_id, session_id, timestamp, pages_scraped, queue_size, checkpoint_data
		FROM checkpoints WHERE session_id = $1
		ORDER BY timestamp DESC LIMIT 1`, sessionID)

	var (
		cp      session.Checkpoint
		rawData []byte
	)
	err := row.Scan(&cp.ID, &cp.SessionID, &cp.Timestamp, &cp.PagesScraped, &cp.QueueSize, &rawData)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Checkpoint{}, session.ErrNotFound
	}
	if err != nil {
		return session.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &cp.Data); err != nil {
			return session.Checkpoint{}, fmt.Errorf("decode checkpoint data: %w", err)
		}
	}
	return cp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		sess     session.Session
		org      *string
		end      *time.Time
		status   string
		snapshot []byte
		notes    *string
	)
	err := row.Scan(
		&sess.ID, &org, &sess.StartTime, &end, &status,
		&sess.OutputDir, &sess.PagesScraped, &sess.PagesSkipped, &sess.Errors,
		&snapshot, &notes, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return session.Session{}, err
	}
	if org != nil {
		sess.Organization = *org
	}
	sess.EndTime = end
	sess.Status = session.Status(status)
	sess.ConfigSnapshot = string(snapshot)
	if notes != nil {
		sess.Notes = *notes
	}
	return sess, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
