package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vkadlec/orgscraper/internal/crawler"
)

// Manager runs the session lifecycle on top of a Store: id generation,
// status transition validation, end-time stamping, and best-effort
// checkpointing. It implements crawler.CheckpointSink.
type Manager struct {
	store   Store
	clock   crawler.Clock
	logger  *zap.Logger
	baseDir string
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock injects a clock for tests.
func WithClock(clock crawler.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithBaseDir sets the root under which per-session output directories are
// derived. Defaults to data/runs.
func WithBaseDir(dir string) ManagerOption {
	return func(m *Manager) { m.baseDir = dir }
}

// NewManager builds a Manager over store.
func NewManager(store Store, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   store,
		clock:   realClock{},
		logger:  logger,
		baseDir: filepath.Join("data", "runs"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Create opens a new in-progress session and returns it. The config snapshot
// is stored as JSON alongside the session for later inspection.
func (m *Manager) Create(ctx context.Context, organization string, config any, notes string) (Session, error) {
	now := m.clock.Now()
	id := NewID(now, organization)

	snapshot := ""
	if config != nil {
		data, err := json.Marshal(config)
		if err != nil {
			return Session{}, fmt.Errorf("marshal config snapshot: %w", err)
		}
		snapshot = string(data)
	}

	s := Session{
		ID:             id,
		Organization:   organization,
		StartTime:      now,
		Status:         StatusInProgress,
		OutputDir:      filepath.Join(m.baseDir, id),
		ConfigSnapshot: snapshot,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("organization", organization),
		zap.String("output_dir", s.OutputDir),
	)
	return s, nil
}

// Get returns one session or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// List returns sessions matching the filter, most recent first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Session, error) {
	return m.store.List(ctx, filter)
}

// UpdateStatus moves a session to a new status, enforcing the state machine.
// Completed and failed sessions get their end time stamped; stats, when
// given, replace the stored totals.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status, stats *Stats) error {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	now := m.clock.Now()
	var endTime *time.Time
	if status == StatusCompleted || status == StatusFailed {
		endTime = &now
	}
	if err := m.store.UpdateStatus(ctx, id, status, endTime, stats, now); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	m.logger.Info("session status updated",
		zap.String("session_id", id),
		zap.String("status", string(status)),
	)
	return nil
}

// Resume moves an interrupted or failed session back in progress and
// returns it together with its latest checkpoint, if any.
func (m *Manager) Resume(ctx context.Context, id string) (Session, *Checkpoint, error) {
	if err := m.UpdateStatus(ctx, id, StatusInProgress, nil); err != nil {
		return Session{}, nil, err
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, nil, err
	}
	cp, err := m.store.LatestCheckpoint(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s, nil, nil
		}
		return Session{}, nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return s, &cp, nil
}

// SaveCheckpoint appends a progress snapshot. Checkpoint writes are
// best-effort: failures are logged and swallowed so they can never fail the
// crawl itself.
func (m *Manager) SaveCheckpoint(ctx context.Context, sessionID string, pagesScraped, queueSize int, payload map[string]any) {
	cp := Checkpoint{
		SessionID:    sessionID,
		Timestamp:    m.clock.Now(),
		PagesScraped: pagesScraped,
		QueueSize:    queueSize,
		Data:         payload,
	}
	if err := m.store.InsertCheckpoint(ctx, cp); err != nil {
		m.logger.Warn("checkpoint write failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("checkpoint saved",
		zap.String("session_id", sessionID),
		zap.Int("pages_scraped", pagesScraped),
		zap.Int("queue_size", queueSize),
	)
}

// LatestCheckpoint returns the most recent checkpoint for a session, or
// ErrNotFound when none exists.
func (m *Manager) LatestCheckpoint(ctx context.Context, sessionID string) (Checkpoint, error) {
	return m.store.LatestCheckpoint(ctx, sessionID)
}

// Resumable lists sessions that can be picked up again: in-progress ones
// (from a crashed process) and interrupted ones.
func (m *Manager) Resumable(ctx context.Context) ([]Session, error) {
	inProgress, err := m.store.List(ctx, ListFilter{Status: StatusInProgress})
	if err != nil {
		return nil, err
	}
	interrupted, err := m.store.List(ctx, ListFilter{Status: StatusInterrupted})
	if err != nil {
		return nil, err
	}
	return append(inProgress, interrupted...), nil
}

// Delete removes a session and its checkpoints. When deleteFiles is true the
// session's output directory is removed as well. Deleting a session that
// does not exist is a no-op.
func (m *Manager) Delete(ctx context.Context, id string, deleteFiles bool) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.logger.Warn("session not found", zap.String("session_id", id))
			return nil
		}
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleteFiles && s.OutputDir != "" {
		if err := os.RemoveAll(s.OutputDir); err != nil {
			return fmt.Errorf("delete output files: %w", err)
		}
		m.logger.Info("output files deleted", zap.String("output_dir", s.OutputDir))
	}
	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// Summary renders a human-readable description of a session for the CLI.
func (m *Manager) Summary(ctx context.Context, id string) (string, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	org := s.Organization
	if org == "" {
		org = "All"
	}
	duration := "In progress"
	if s.EndTime != nil {
		d := s.EndTime.Sub(s.StartTime)
		duration = fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}

	summary := fmt.Sprintf(
		"Session: %s\nStatus: %s\nOrganization: %s\nStarted: %s\nDuration: %s\nPages Scraped: %d\nPages Skipped: %d\nErrors: %d\nOutput: %s",
		s.ID, s.Status, org, s.StartTime.Format("2006-01-02 15:04:05"),
		duration, s.PagesScraped, s.PagesSkipped, s.Errors, s.OutputDir,
	)
	if s.Notes != "" {
		summary += "\nNotes: " + s.Notes
	}
	return summary, nil
}
