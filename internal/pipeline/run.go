package pipeline

import (
	"time"

	"github.com/kalambet/autopost/internal/content"
)

// Stage is a step of the pipeline state machine.
type Stage string

const (
	Gathering    Stage = "gathering"
	Synthesizing Stage = "synthesizing"
	Enhancing    Stage = "enhancing"
	Publishing   Stage = "publishing"
	Recording    Stage = "recording"
	Completed    Stage = "completed"
	Aborted      Stage = "aborted"
)

// Outcome is the final classification of a run.
type Outcome string

const (
	Success        Outcome = "success"
	PartialSuccess Outcome = "partial_success"
	Failed         Outcome = "failed"
)

// Request selects what a run produces.
type Request struct {
	JobID       string
	Topic       string
	ContentType content.Kind
	// Manual is set for on-demand runs that bypass the trigger.
	Manual bool
}

// Run is the in-memory record of one pipeline execution.
type Run struct {
	ID          string
	JobID       string
	Topic       string
	ContentType content.Kind
	Manual      bool

	State       Stage
	Sources     []content.SourceDoc
	Artifact    *content.Artifact
	StageErrors map[Stage]error
	Warnings    []string

	Outcome      Outcome
	PostID       string
	PublishError *PublishError

	StartedAt  time.Time
	FinishedAt time.Time
}

// Published reports whether the run reached the publisher and was accepted.
func (r *Run) Published() bool {
	return r.Outcome == Success || r.Outcome == PartialSuccess
}

// Err returns the error that decided a failed outcome, if any.
func (r *Run) Err() error {
	if r.PublishError != nil {
		return r.PublishError
	}
	if err, ok := r.StageErrors[Aborted]; ok {
		return err
	}
	return nil
}

func (r *Run) stageError(s Stage, err error) {
	if r.StageErrors == nil {
		r.StageErrors = make(map[Stage]error)
	}
	r.StageErrors[s] = err
}
