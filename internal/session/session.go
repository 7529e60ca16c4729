// Package session tracks crawl runs: their lifecycle status, running
// statistics, and periodic checkpoints. State lives in a Store (SQLite by
// default, Postgres for shared deployments) so interrupted runs survive
// process restarts and can be resumed.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a crawl session.
type Status string

// Session lifecycle states.
const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Sentinel errors returned by stores and the manager.
var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Session is one crawl run's persistent record. Organization is empty for
// all-organization runs. Statistics are running totals, not deltas.
type Session struct {
	ID             string     `json:"session_id"`
	Organization   string     `json:"organization,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Status         Status     `json:"status"`
	OutputDir      string     `json:"output_dir"`
	PagesScraped   int        `json:"total_pages_scraped"`
	PagesSkipped   int        `json:"total_pages_skipped"`
	Errors         int        `json:"total_errors"`
	ConfigSnapshot string     `json:"config_snapshot,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Checkpoint is one progress snapshot within a session. Checkpoints are
// append-only; the latest one is the row with the greatest timestamp.
type Checkpoint struct {
	ID           int64          `json:"checkpoint_id"`
	SessionID    string         `json:"session_id"`
	Timestamp    time.Time      `json:"timestamp"`
	PagesScraped int            `json:"pages_scraped"`
	QueueSize    int            `json:"queue_size"`
	Data         map[string]any `json:"checkpoint_data,omitempty"`
}

// Stats carries the totals applied on a status update.
type Stats struct {
	PagesScraped int
	PagesSkipped int
	Errors       int
}

// ListFilter narrows a session listing. Zero values mean no filtering; a
// zero Limit applies the default of 50.
type ListFilter struct {
	Organization string
	Status       Status
	Limit        int
}

// Store persists sessions and checkpoints.
type Store interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context, filter ListFilter) ([]Session, error)
	UpdateStatus(ctx context.Context, id string, status Status, endTime *time.Time, stats *Stats, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	InsertCheckpoint(ctx context.Context, cp Checkpoint) error
	LatestCheckpoint(ctx context.Context, sessionID string) (Checkpoint, error)
	Close() error
}

// validTransitions encodes the session state machine. Completed is terminal;
// interrupted and failed runs may be taken back in progress on resume/retry.
var validTransitions = map[Status][]Status{
	StatusInProgress:  {StatusCompleted, StatusFailed, StatusInterrupted},
	StatusInterrupted: {StatusInProgress},
	StatusFailed:      {StatusInProgress},
	StatusCompleted:   {},
}

// CanTransition reports whether a session may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NewID derives a session identifier from the start time and organization,
// in the form 20060102_150405_<org>. Empty organization yields the all-orgs
// form. The organization fragment is sanitized for filesystem use.
func NewID(start time.Time, organization string) string {
	stamp := start.Format("20060102_150405")
	if organization == "" {
		return stamp + "_all_orgs"
	}
	return stamp + "_" + SanitizeOrg(organization)
}

// SanitizeOrg makes an organization name safe for session ids and paths.
func SanitizeOrg(organization string) string {
	s := strings.ReplaceAll(organization, " ", "_")
	return strings.ReplaceAll(s, "/", "-")
}
