package api

import (
	"time"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/pipeline"
)

// RunSummary is the JSON view of a finished pipeline run.
type RunSummary struct {
	ID          string            `json:"run_id"`
	JobID       string            `json:"job_id"`
	Topic       string            `json:"topic"`
	ContentType content.Kind      `json:"content_type"`
	Outcome     pipeline.Outcome  `json:"outcome"`
	State       pipeline.Stage    `json:"state"`
	PostID      string            `json:"post_id,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	StageErrors map[string]string `json:"stage_errors,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	Title       string            `json:"title,omitempty"`
	Preview     string            `json:"preview,omitempty"`
	Fallback    bool              `json:"fallback,omitempty"`
	SourceCount int               `json:"source_count"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

const previewRunes = 280

// Summarize flattens a run for API and MCP responses.
func Summarize(run *pipeline.Run) RunSummary {
	s := RunSummary{
		ID:          run.ID,
		JobID:       run.JobID,
		Topic:       run.Topic,
		ContentType: run.ContentType,
		Outcome:     run.Outcome,
		State:       run.State,
		PostID:      run.PostID,
		Warnings:    run.Warnings,
		SourceCount: len(run.Sources),
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if err := run.Err(); err != nil {
		s.Error = err.Error()
	}
	if run.PublishError != nil {
		s.ErrorKind = string(run.PublishError.Kind)
	}
	if len(run.StageErrors) > 0 {
		s.StageErrors = make(map[string]string, len(run.StageErrors))
		for stage, err := range run.StageErrors {
			s.StageErrors[string(stage)] = err.Error()
		}
	}
	if a := run.Artifact; a != nil {
		s.Title = a.Title
		s.Preview = content.Truncate(a.Render(), previewRunes)
		s.Fallback = a.Fallback
	}
	return s
}
