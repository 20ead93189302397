// Package orchestrator decides when pipeline runs happen and what they
// produce. It owns the rotation state, the job table and the in-flight set.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/pipeline"
	"github.com/kalambet/autopost/internal/rotation"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrRunInProgress = errors.New("a run for this job is already in progress")
	ErrShuttingDown  = errors.New("scheduler is shutting down")
)

const (
	DefaultTickInterval         = 30 * time.Second
	DefaultAuthFailureThreshold = 3
	DefaultRateLimitBackoff     = 30 * time.Minute
)

// Executor runs a single pipeline pass. *pipeline.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request, rec pipeline.Recorder) *pipeline.Run
}

// JobStore persists the job table.
type JobStore interface {
	Load() ([]schedule.Job, error)
	Save([]schedule.Job) error
}

// HistoryWriter appends audit records.
type HistoryWriter interface {
	SaveRecord(ctx context.Context, r *storage.Record) error
}

// Config tunes the scheduler loop and failure policy.
type Config struct {
	TickInterval         time.Duration
	AuthFailureThreshold int
	RateLimitBackoff     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithConfig(c Config) Option            { return func(o *Orchestrator) { o.cfg = c } }
func WithHistory(h HistoryWriter) Option    { return func(o *Orchestrator) { o.history = h } }
func WithLogger(l *slog.Logger) Option      { return func(o *Orchestrator) { o.logger = l } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

type jobEntry struct {
	job     schedule.Job
	trigger schedule.Trigger
}

// Orchestrator schedules and executes pipeline runs.
type Orchestrator struct {
	rotation *rotation.Rotation
	store    JobStore
	exec     Executor
	history  HistoryWriter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	inFlight map[string]bool
	running  bool
	stopping bool
	wg       sync.WaitGroup
}

// New loads the job table from store. Jobs with unparsable triggers are
// skipped with a warning.
func New(rot *rotation.Rotation, store JobStore, exec Executor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		rotation: rot,
		store:    store,
		exec:     exec,
		logger:   slog.Default(),
		now:      time.Now,
		jobs:     make(map[string]*jobEntry),
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.TickInterval <= 0 {
		o.cfg.TickInterval = DefaultTickInterval
	}
	if o.cfg.AuthFailureThreshold <= 0 {
		o.cfg.AuthFailureThreshold = DefaultAuthFailureThreshold
	}
	if o.cfg.RateLimitBackoff <= 0 {
		o.cfg.RateLimitBackoff = DefaultRateLimitBackoff
	}

	if store != nil {
		jobs, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading job table: %w", err)
		}
		now := o.now()
		for _, j := range jobs {
			trig, err := schedule.ParseTrigger(j.Trigger)
			if err != nil {
				o.logger.Warn("skipping job with invalid trigger", "job_id", j.ID, "trigger", j.Trigger, "error", err)
				continue
			}
			if j.NextRun.IsZero() {
				j.NextRun, _ = trig.Next(now, j.LastRun)
			}
			o.jobs[j.ID] = &jobEntry{job: j, trigger: trig}
		}
	}
	return o, nil
}

// Rotation exposes the rotation state for read-only callers.
func (o *Orchestrator) Rotation() *rotation.Rotation { return o.rotation }

// saveLocked writes the whole job table. Callers hold o.mu.
func (o *Orchestrator) saveLocked() error {
	if o.store == nil {
		return nil
	}
	jobs := make([]schedule.Job, 0, len(o.jobs))
	for _, e := range o.jobs {
		jobs = append(jobs, e.job)
	}
	if err := o.store.Save(jobs); err != nil {
		return fmt.Errorf("saving job table: %w", err)
	}
	return nil
}

// mutateJob applies fn to a copy of the job and commits it only if the table
// could be persisted.
func (o *Orchestrator) mutateJob(id string, fn func(e *jobEntry) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	prev := *e
	if err := fn(e); err != nil {
		*e = prev
		return err
	}
	if err := o.saveLocked(); err != nil {
		*e = prev
		return err
	}
	return nil
}

// runTopic resolves the topic a job should post about.
func (o *Orchestrator) runTopic(job schedule.Job) (string, error) {
	if job.Topic != "" {
		return job.Topic, nil
	}
	return o.rotation.CurrentTopic()
}

// Tick fires every due Active job once. It returns the ids of the jobs that
// were started. Runs execute in their own goroutines.
func (o *Orchestrator) Tick(ctx context.Context) []string {
	now := o.now()

	var launches []pipeline.Request

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	changed := false
	for _, id := range ids {
		e := o.jobs[id]
		j := &e.job
		if j.NextRun.IsZero() || now.Before(j.NextRun) {
			continue
		}
		log := o.logger.With("job_id", id)
		changed = true

		switch {
		case j.Status == schedule.Paused:
			j.NextRun, _ = e.trigger.Next(now, now)
			log.Debug("skipping paused job", "next_run", j.NextRun)
			continue
		case o.inFlight[id]:
			j.NextRun, _ = e.trigger.Next(now, now)
			log.Warn("previous run still in progress, skipping trigger", "next_run", j.NextRun)
			continue
		case now.Before(j.BackoffUntil):
			j.NextRun, _ = e.trigger.Next(now, now)
			if j.NextRun.Before(j.BackoffUntil) {
				j.NextRun = j.BackoffUntil
			}
			log.Info("job in rate-limit backoff, skipping trigger", "backoff_until", j.BackoffUntil)
			continue
		}

		topic, err := o.runTopic(*j)
		var kind content.Kind
		if err == nil {
			kind, err = o.rotation.CurrentContentType()
		}
		j.NextRun, _ = e.trigger.Next(now, now)
		if err != nil {
			j.LastError = err.Error()
			log.Error("cannot select content for job", "error", err)
			continue
		}

		o.inFlight[id] = true
		launches = append(launches, pipeline.Request{JobID: id, Topic: topic, ContentType: kind})
	}
	if changed {
		if err := o.saveLocked(); err != nil {
			o.logger.Error("persisting job table after tick", "error", err)
		}
	}
	o.wg.Add(len(launches))
	o.mu.Unlock()

	fired := make([]string, 0, len(launches))
	for _, req := range launches {
		fired = append(fired, req.JobID)
		go func() {
			defer o.wg.Done()
			defer o.release(req.JobID)
			o.exec.Execute(ctx, req, pipeline.RecorderFunc(o.record))
		}()
	}
	return fired
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.inFlight, jobID)
	o.mu.Unlock()
}

// acquire marks jobID in flight, failing if it already is or if Run has
// begun shutting down.
func (o *Orchestrator) acquire(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return ErrShuttingDown
	}
	if o.inFlight[jobID] {
		return fmt.Errorf("%w: %s", ErrRunInProgress, jobID)
	}
	o.inFlight[jobID] = true
	o.wg.Add(1)
	return nil
}

// Run drives Tick on a ticker until ctx is cancelled, then waits for
// in-flight runs to reach a stage boundary and record their result.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("scheduler already running")
	}
	o.running = true
	o.stopping = false
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.logger.Info("scheduler started", "tick_interval", o.cfg.TickInterval, "jobs", len(o.ListJobs()))
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scheduler stopping, waiting for in-flight runs")
			o.mu.Lock()
			o.stopping = true
			o.mu.Unlock()
			o.wg.Wait()
			o.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Wait blocks until every in-flight run has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// record is the pipeline's Recording stage: it advances rotation on success
// and updates the job's bookkeeping and the history store either way.
func (o *Orchestrator) record(ctx context.Context, run *pipeline.Run) error {
	now := o.now()
	log := o.logger.With("job_id", run.JobID, "run_id", run.ID)

	var errs []error
	if run.Published() {
		moved, err := o.rotation.AdvanceAfterSuccess()
		if err != nil {
			errs = append(errs, fmt.Errorf("advancing rotation: %w", err))
		} else {
			log.Debug("rotation advanced", "topic_advanced", moved)
		}
	}

	o.mu.Lock()
	if e, ok := o.jobs[run.JobID]; ok {
		o.applyOutcomeLocked(e, run, now, log)
		// Manual runs leave a one-shot trigger pending.
		if e.trigger.OneShot() && !run.Manual {
			delete(o.jobs, run.JobID)
			log.Info("one-shot job completed and removed")
		}
		if err := o.saveLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	o.mu.Unlock()

	if o.history != nil {
		if err := o.history.SaveRecord(ctx, historyRecord(run, now)); err != nil {
			errs = append(errs, fmt.Errorf("saving history: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) applyOutcomeLocked(e *jobEntry, run *pipeline.Run, now time.Time, log *slog.Logger) {
	j := &e.job
	j.LastRun = now
	if run.Published() {
		j.LastError = ""
		j.ConsecutiveAuthFailures = 0
		j.BackoffUntil = time.Time{}
		return
	}

	pe := run.PublishError
	if pe == nil {
		if err := run.Err(); err != nil {
			j.LastError = err.Error()
		}
		return
	}
	j.LastError = pe.Error()

	switch pe.Kind {
	case pipeline.Auth:
		j.ConsecutiveAuthFailures++
		if j.ConsecutiveAuthFailures >= o.cfg.AuthFailureThreshold && j.Status == schedule.Active {
			j.Status = schedule.Paused
			j.PauseReason = fmt.Sprintf("paused after %d consecutive authentication failures: %v", j.ConsecutiveAuthFailures, pe.Err)
			log.Error("job auto-paused", "reason", j.PauseReason)
		}
	case pipeline.RateLimit:
		j.ConsecutiveAuthFailures = 0
		j.BackoffUntil = now.Add(max(pe.RetryAfter, o.cfg.RateLimitBackoff))
		if j.NextRun.Before(j.BackoffUntil) {
			j.NextRun = j.BackoffUntil
		}
		log.Warn("rate limited, backing off", "backoff_until", j.BackoffUntil)
	default:
		j.ConsecutiveAuthFailures = 0
	}
}

func historyRecord(run *pipeline.Run, now time.Time) *storage.Record {
	rec := &storage.Record{
		RunID:       run.ID,
		JobID:       run.JobID,
		Topic:       run.Topic,
		ContentType: string(run.ContentType),
		PostID:      run.PostID,
		SourceCount: len(run.Sources),
		Manual:      run.Manual,
		CreatedAt:   now,
		Status:      storage.StatusPublished,
	}
	if a := run.Artifact; a != nil {
		rec.Title = a.Title
		rec.Body = a.Render()
		rec.Hashtags = a.Hashtags
		rec.Fallback = a.Fallback
	}
	if !run.Published() {
		rec.Status = storage.StatusFailed
		if err := run.Err(); err != nil {
			rec.Error = err.Error()
		}
	}
	if len(run.Warnings) > 0 {
		rec.Warnings = strings.Join(run.Warnings, "; ")
	}
	return rec
}
