// Package sqlite persists sessions in a local SQLite database. It is the
// default session backend: zero external services, one file on disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vkadlec/orgscraper/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	organization TEXT,
	start_time TEXT NOT NULL,
	end_time TEXT,
	status TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	total_pages_scraped INTEGER DEFAULT 0,
	total_pages_skipped INTEGER DEFAULT 0,
	total_errors INTEGER DEFAULT 0,
	config_snapshot TEXT,
	notes TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	pages_scraped INTEGER,
	queue_size INTEGER,
	checkpoint_data TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_org ON sessions(organization);
`

// Store implements session.Store on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the session database at dbPath, creating parent
// directories as needed.
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite supports a single writer; cap the pool accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new session row.
func (s *Store) Insert(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, organization, start_time, end_time, status,
			output_dir, total_pages_scraped, total_pages_skipped, total_errors,
			config_snapshot, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		nullString(sess.Organization),
		sess.StartTime.UTC().Format(time.RFC3339),
		nullTime(sess.EndTime),
		string(sess.Status),
		sess.OutputDir,
		sess.PagesScraped,
		sess.PagesSkipped,
		sess.Errors,
		nullString(sess.ConfigSnapshot),
		nullString(sess.Notes),
		sess.CreatedAt.UTC().Format(time.RFC3339),
		sess.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads one session or session.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, organization, start_time, end_time, status,
			output_dir, total_pages_scraped, total_pages_skipped, total_errors,
			config_snapshot, notes, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns sessions matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter session.ListFilter) ([]session.Session, error) {
	query := `
		SELECT session_id, organization, start_time, end_time, status,
			output_dir, total_pages_scraped, total_pages_skipped, total_errors,
			config_snapshot, notes, created_at, updated_at
		FROM sessions WHERE 1=1`
	var args []any

	if filter.Organization != "" {
		query += " AND organization = ?"
		args = append(args, filter.Organization)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	fields := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), updatedAt.UTC().Format(time.RFC3339)}

	if endTime != nil {
		fields = append(fields, "end_time = ?")
		args = append(args, endTime.UTC().Format(time.RFC3339))
	}
	if stats != nil {
		fields = append(fields,
			"total_pages_scraped = ?",
			"total_pages_skipped = ?",
			"total_errors = ?",
		)
		args = append(args, stats.PagesScraped, stats.PagesSkipped, stats.Errors)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(fields, ", ")+" WHERE session_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a session and its checkpoints in one transaction, so a
// failure cannot leave checkpoints without their session row.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
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
		data = string(encoded)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, timestamp, pages_scraped, queue_size, checkpoint_data)
		VALUES (?, ?, ?, ?, ?)`,
		cp.SessionID,
		cp.Timestamp.UTC().Format(time.RFC3339Nano),
		cp.PagesScraped,
		cp.QueueSize,
		data,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint or session.ErrNotFound.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (session.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, session_id, timestamp, pages_scraped, queue_size, checkpoint_data
		FROM checkpoints WHERE session_id = ?
		ORDER BY timestamp DESC LIMIT 1`, sessionID)

	var (
		cp      session.Checkpoint
		stamp   string
		rawData sql.NullString
	)
	err := row.Scan(&cp.ID, &cp.SessionID, &stamp, &cp.PagesScraped, &cp.QueueSize, &rawData)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Checkpoint{}, session.ErrNotFound
	}
	if err != nil {
		return session.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}

	if cp.Timestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
		return session.Checkpoint{}, fmt.Errorf("parse checkpoint timestamp: %w", err)
	}
	if rawData.Valid && rawData.String != "" {
		if err := json.Unmarshal([]byte(rawData.String), &cp.Data); err != nil {
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
		sess      session.Session
		org       sql.NullString
		start     string
		end       sql.NullString
		status    string
		snapshot  sql.NullString
		notes     sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&sess.ID, &org, &start, &end, &status,
		&sess.OutputDir, &sess.PagesScraped, &sess.PagesSkipped, &sess.Errors,
		&snapshot, &notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return session.Session{}, err
	}

	sess.Organization = org.String
	sess.Status = session.Status(status)
	sess.ConfigSnapshot = snapshot.String
	sess.Notes = notes.String

	if sess.StartTime, err = time.Parse(time.RFC3339, start); err != nil {
		return session.Session{}, fmt.Errorf("parse start_time: %w", err)
	}
	if end.Valid {
		t, err := time.Parse(time.RFC3339, end.String)
		if err != nil {
			return session.Session{}, fmt.Errorf("parse end_time: %w", err)
		}
		sess.EndTime = &t
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return session.Session{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return session.Session{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return sess, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
