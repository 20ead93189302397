// Package pipeline runs one gather, synthesize, enhance, publish and record
// pass for a topic, degrading every stage except publishing instead of
// failing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/autopost/internal/content"
)

// SourceGatherer returns research documents for a topic. An empty result is
// not an error.
type SourceGatherer interface {
	Gather(ctx context.Context, topic string, maxSources int) ([]content.SourceDoc, error)
}

// ContentSynthesizer turns sources into an artifact of the requested kind.
// It returns *content.SynthesisError when nothing usable could be produced.
type ContentSynthesizer interface {
	Synthesize(ctx context.Context, sources []content.SourceDoc, topic string, kind content.Kind) (*content.Artifact, error)
}

// ContextEnhancer optionally enriches an artifact. Failures are tolerated.
type ContextEnhancer interface {
	Enhance(ctx context.Context, a *content.Artifact, topic string, sources []content.SourceDoc) (*content.Artifact, error)
}

// Publisher posts an artifact and returns the remote post id. Failures
// should be *PublishError.
type Publisher interface {
	Publish(ctx context.Context, a *content.Artifact) (string, error)
}

// Recorder persists the result of a run that reached the publisher.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, run *Run) error

func (f RecorderFunc) Record(ctx context.Context, run *Run) error { return f(ctx, run) }

// Timeouts bounds each stage. Zero means no stage-specific limit.
type Timeouts struct {
	Gather    time.Duration
	Synth     time.Duration
	Enhance   time.Duration
	Publish   time.Duration
	Recording time.Duration
}

// DefaultTimeouts are generous enough for a local model.
var DefaultTimeouts = Timeouts{
	Gather:    2 * time.Minute,
	Synth:     5 * time.Minute,
	Enhance:   30 * time.Second,
	Publish:   time.Minute,
	Recording: 10 * time.Second,
}

// Option configures a Runner.
type Option func(*Runner)

func WithEnhancer(e ContextEnhancer) Option { return func(r *Runner) { r.enhancer = e } }
func WithMaxSources(n int) Option           { return func(r *Runner) { r.maxSources = n } }
func WithTimeouts(t Timeouts) Option        { return func(r *Runner) { r.timeouts = t } }
func WithLogger(l *slog.Logger) Option      { return func(r *Runner) { r.logger = l } }
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// Runner executes pipeline runs. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	gatherer   SourceGatherer
	synth      ContentSynthesizer
	enhancer   ContextEnhancer
	publisher  Publisher
	maxSources int
	timeouts   Timeouts
	logger     *slog.Logger
	now        func() time.Time
}

// DefaultMaxSources is used when no limit is configured.
const DefaultMaxSources = 5

// NewRunner wires the collaborators. The enhancer is optional.
func NewRunner(g SourceGatherer, s ContentSynthesizer, p Publisher, opts ...Option) *Runner {
	r := &Runner{
		gatherer:   g,
		synth:      s,
		publisher:  p,
		maxSources: DefaultMaxSources,
		timeouts:   DefaultTimeouts,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.maxSources <= 0 {
		r.maxSources = DefaultMaxSources
	}
	return r
}

// stageContext detaches from ctx cancellation so a shutdown never interrupts
// a stage mid-way; only the stage timeout applies.
func stageContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if d <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, d)
}

// Execute runs the state machine for req. Cancelling ctx aborts the run at
// the next stage boundary. Once publishing has been attempted the Recording
// stage always runs.
func (r *Runner) Execute(ctx context.Context, req Request, rec Recorder) *Run {
	run := &Run{
		ID:          uuid.NewString(),
		JobID:       req.JobID,
		Topic:       req.Topic,
		ContentType: req.ContentType,
		Manual:      req.Manual,
		StartedAt:   r.now(),
	}
	log := r.logger.With("run_id", run.ID, "job_id", run.JobID, "topic", run.Topic, "content_type", string(run.ContentType))
	log.Info("pipeline run started", "manual", run.Manual)

	steps := []struct {
		stage Stage
		fn    func(context.Context, *Run, *slog.Logger)
	}{
		{Gathering, r.gather},
		{Synthesizing, r.synthesize},
		{Enhancing, r.enhance},
		{Publishing, r.publish},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			r.abort(run, step.stage, err, log)
			return run
		}
		run.State = step.stage
		step.fn(ctx, run, log)
	}

	run.State = Recording
	if rec != nil {
		recCtx, cancel := stageContext(ctx, r.timeouts.Recording)
		if err := rec.Record(recCtx, run); err != nil {
			run.stageError(Recording, err)
			run.Warnings = append(run.Warnings, fmt.Sprintf("recording: %v", err))
			log.Error("recording run failed", "stage", Recording, "error", err)
		}
		cancel()
	}

	run.State = Completed
	run.FinishedAt = r.now()
	log.Info("pipeline run finished", "outcome", run.Outcome, "post_id", run.PostID,
		"sources", len(run.Sources), "fallback", run.Artifact != nil && run.Artifact.Fallback,
		"duration", run.FinishedAt.Sub(run.StartedAt))
	return run
}

func (r *Runner) abort(run *Run, at Stage, err error, log *slog.Logger) {
	run.stageError(Aborted, fmt.Errorf("aborted before %s: %w", at, err))
	run.State = Aborted
	run.Outcome = Failed
	run.FinishedAt = r.now()
	log.Warn("pipeline run aborted", "stage", at, "error", err)
}

func (r *Runner) gather(ctx context.Context, run *Run, log *slog.Logger) {
	if r.gatherer == nil {
		return
	}
	sctx, cancel := stageContext(ctx, r.timeouts.Gather)
	defer cancel()

	sources, err := r.gatherer.Gather(sctx, run.Topic, r.maxSources)
	if err != nil {
		run.stageError(Gathering, err)
		log.Warn("gathering failed, continuing without sources", "stage", Gathering, "error", err)
		sources = nil
	}
	if len(sources) > r.maxSources {
		sources = sources[:r.maxSources]
	}
	run.Sources = sources
	log.Debug("sources gathered", "stage", Gathering, "count", len(sources))
}

func (r *Runner) synthesize(ctx context.Context, run *Run, log *slog.Logger) {
	sctx, cancel := stageContext(ctx, r.timeouts.Synth)
	defer cancel()

	var (
		artifact *content.Artifact
		err      error
	)
	if r.synth == nil {
		err = errors.New("no synthesizer configured")
	} else {
		artifact, err = r.synth.Synthesize(sctx, run.Sources, run.Topic, run.ContentType)
	}
	if err == nil {
		if verr := artifact.Validate(); verr != nil {
			err = &content.SynthesisError{Kind: run.ContentType, Topic: run.Topic, Err: verr}
		}
	}
	if err != nil {
		run.stageError(Synthesizing, err)
		log.Warn("synthesis failed, using templated fallback", "stage", Synthesizing, "error", err)
		artifact = content.Fallback(run.Topic, run.ContentType)
	}
	run.Artifact = artifact
}

func (r *Runner) enhance(ctx context.Context, run *Run, log *slog.Logger) {
	if r.enhancer == nil {
		return
	}
	sctx, cancel := stageContext(ctx, r.timeouts.Enhance)
	defer cancel()

	enhanced, err := r.enhancer.Enhance(sctx, run.Artifact.Clone(), run.Topic, run.Sources)
	if err == nil && enhanced == nil {
		err = errors.New("enhancer returned no artifact")
	}
	if err == nil {
		err = enhanced.Validate()
	}
	if err != nil {
		run.Warnings = append(run.Warnings, fmt.Sprintf("enhancement skipped: %v", err))
		log.Warn("enhancement failed, keeping original artifact", "stage", Enhancing, "error", err)
		return
	}
	run.Artifact = enhanced
}

func (r *Runner) publish(ctx context.Context, run *Run, log *slog.Logger) {
	sctx, cancel := stageContext(ctx, r.timeouts.Publish)
	defer cancel()

	var (
		postID string
		err    error
	)
	if r.publisher == nil {
		err = &PublishError{Kind: Rejected, Err: errors.New("no publisher configured")}
	} else {
		postID, err = r.publisher.Publish(sctx, run.Artifact)
	}
	if err != nil {
		pe := ClassifyPublishError(err)
		run.PublishError = pe
		run.stageError(Publishing, pe)
		run.Outcome = Failed
		log.Error("publishing failed", "stage", Publishing, "kind", pe.Kind, "error", pe)
		return
	}

	run.PostID = postID
	run.Outcome = Success
	if _, degraded := run.StageErrors[Gathering]; degraded {
		run.Outcome = PartialSuccess
	}
	log.Info("post published", "stage", Publishing, "post_id", postID)
}
