package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Record is one audit entry: a published post or a failed attempt.
type Record struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id"`
	Topic       string    `json:"topic"`
	ContentType string    `json:"content_type"`
	Status      string    `json:"status"`
	PostID      string    `json:"post_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Warnings    string    `json:"warnings,omitempty"`
	Title       string    `json:"title,omitempty"`
	Body        string    `json:"body,omitempty"`
	Hashtags    []string  `json:"hashtags,omitempty"`
	SourceCount int       `json:"source_count"`
	Fallback    bool      `json:"fallback"`
	Manual      bool      `json:"manual"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows ListRecords. Zero values mean "any".
type Filter struct {
	JobID  string
	Topic  string
	Status string
	Since  time.Time
	Limit  int
	Offset int
}
