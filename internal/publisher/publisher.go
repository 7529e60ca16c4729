// Package publisher defines the completion-event publishing abstraction.
// When a crawl session finishes, a completion event goes out so downstream
// pipelines (indexing, analysis) can pick up the new artifacts.
package publisher

import "context"

// Publisher delivers one payload to a named topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CompletionEvent is the payload published when a session reaches a
// terminal state.
type CompletionEvent struct {
	SessionID    string `json:"session_id"`
	Organization string `json:"organization,omitempty"`
	Status       string `json:"status"`
	PagesScraped int    `json:"pages_scraped"`
	Documents    int    `json:"documents"`
	Errors       int    `json:"errors"`
	OutputDir    string `json:"output_dir,omitempty"`
	FinishedAt   string `json:"finished_at"`
}
