package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/pipeline"
	"github.com/kalambet/autopost/internal/schedule"
)

// Schedule creates or replaces the job for topic. An empty topic schedules
// the rotation job, which posts about whatever topic is current. A non-empty
// topic is also added to the rotation.
func (o *Orchestrator) Schedule(topic, spec string) (string, error) {
	topic = strings.TrimSpace(topic)
	trig, err := schedule.ParseTrigger(spec)
	if err != nil {
		return "", err
	}
	if topic != "" {
		if err := o.rotation.AddTopic(topic); err != nil {
			return "", fmt.Errorf("adding topic: %w", err)
		}
	}

	id := schedule.JobID(topic)
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev, existed := o.jobs[id]
	job := schedule.Job{
		ID:        id,
		Topic:     topic,
		Trigger:   trig.Spec(),
		Status:    schedule.Active,
		CreatedAt: now,
	}
	if existed {
		job.CreatedAt = prev.job.CreatedAt
		job.LastRun = prev.job.LastRun
		job.LastError = prev.job.LastError
	}
	job.NextRun, _ = trig.Next(now, time.Time{})

	o.jobs[id] = &jobEntry{job: job, trigger: trig}
	if err := o.saveLocked(); err != nil {
		if existed {
			o.jobs[id] = prev
		} else {
			delete(o.jobs, id)
		}
		return "", err
	}
	o.logger.Info("job scheduled", "job_id", id, "topic", topic, "trigger", job.Trigger, "next_run", job.NextRun, "replaced", existed)
	return id, nil
}

// EnsureDefaultJob schedules the rotation job with spec when the job table
// is empty. It reports whether a job was created.
func (o *Orchestrator) EnsureDefaultJob(spec string) (bool, error) {
	o.mu.Lock()
	empty := len(o.jobs) == 0
	o.mu.Unlock()
	if !empty {
		return false, nil
	}
	if _, err := o.Schedule("", spec); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes a job. It reports false when no such job existed. A run
// already executing for the job is not interrupted.
func (o *Orchestrator) Remove(id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.jobs[id]
	if !ok {
		return false, nil
	}
	delete(o.jobs, id)
	if err := o.saveLocked(); err != nil {
		o.jobs[id] = e
		return false, err
	}
	o.logger.Info("job removed", "job_id", id)
	return true, nil
}

// Pause keeps a job in the table but skips it at fire time.
func (o *Orchestrator) Pause(id string) error {
	err := o.mutateJob(id, func(e *jobEntry) error {
		e.job.Status = schedule.Paused
		e.job.PauseReason = "paused by operator"
		return nil
	})
	if err == nil {
		o.logger.Info("job paused", "job_id", id)
	}
	return err
}

// Resume reactivates a paused job and clears its failure counters.
func (o *Orchestrator) Resume(id string) error {
	now := o.now()
	err := o.mutateJob(id, func(e *jobEntry) error {
		e.job.Status = schedule.Active
		e.job.PauseReason = ""
		e.job.ConsecutiveAuthFailures = 0
		e.job.BackoffUntil = time.Time{}
		if e.job.NextRun.IsZero() {
			e.job.NextRun, _ = e.trigger.Next(now, e.job.LastRun)
		}
		return nil
	})
	if err == nil {
		o.logger.Info("job resumed", "job_id", id)
	}
	return err
}

// Reschedule replaces a job's trigger, keeping its topic and history.
func (o *Orchestrator) Reschedule(id, spec string) error {
	trig, err := schedule.ParseTrigger(spec)
	if err != nil {
		return err
	}
	now := o.now()
	return o.mutateJob(id, func(e *jobEntry) error {
		e.trigger = trig
		e.job.Trigger = trig.Spec()
		e.job.NextRun, _ = trig.Next(now, time.Time{})
		o.logger.Info("job rescheduled", "job_id", id, "trigger", e.job.Trigger, "next_run", e.job.NextRun)
		return nil
	})
}

// RunOnce executes the full pipeline immediately for topic, or for the
// current rotation topic when topic is empty. It bypasses triggers but
// shares the overlap guard with scheduled runs of the same job id.
func (o *Orchestrator) RunOnce(ctx context.Context, topic string) (*pipeline.Run, error) {
	topic = strings.TrimSpace(topic)
	id := schedule.JobID(topic)
	if topic == "" {
		current, err := o.rotation.CurrentTopic()
		if err != nil {
			return nil, err
		}
		topic = current
	}
	return o.runNow(ctx, id, topic)
}

// RunJob executes an existing job immediately.
func (o *Orchestrator) RunJob(ctx context.Context, id string) (*pipeline.Run, error) {
	o.mu.Lock()
	e, ok := o.jobs[id]
	var job schedule.Job
	if ok {
		job = e.job
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	topic, err := o.runTopic(job)
	if err != nil {
		return nil, err
	}
	return o.runNow(ctx, id, topic)
}

func (o *Orchestrator) runNow(ctx context.Context, id, topic string) (*pipeline.Run, error) {
	kind, err := o.rotation.CurrentContentType()
	if err != nil {
		return nil, err
	}
	if err := o.acquire(id); err != nil {
		return nil, err
	}
	defer o.wg.Done()
	defer o.release(id)

	run := o.exec.Execute(ctx, pipeline.Request{JobID: id, Topic: topic, ContentType: kind, Manual: true}, pipeline.RecorderFunc(o.record))
	return run, nil
}

// ListJobs returns every live job sorted by id.
func (o *Orchestrator) ListJobs() []schedule.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]schedule.Job, 0, len(o.jobs))
	for _, e := range o.jobs {
		out = append(out, e.job)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// GetJob returns one job by id.
func (o *Orchestrator) GetJob(id string) (schedule.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.jobs[id]
	if !ok {
		return schedule.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job, nil
}

// Upcoming lists active jobs due within the next window, soonest first.
func (o *Orchestrator) Upcoming(window time.Duration) []schedule.Job {
	limit := o.now().Add(window)
	var out []schedule.Job
	for _, j := range o.ListJobs() {
		if j.Status != schedule.Active || j.NextRun.IsZero() || j.NextRun.After(limit) {
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].NextRun.Before(out[k].NextRun) })
	return out
}

// JobStatus is the per-job part of Status.
type JobStatus struct {
	ID          string          `json:"job_id"`
	Topic       string          `json:"topic,omitempty"`
	Trigger     string          `json:"trigger"`
	Status      schedule.Status `json:"status"`
	NextRun     time.Time       `json:"next_run,omitzero"`
	LastRun     time.Time       `json:"last_run,omitzero"`
	LastError   string          `json:"last_error,omitempty"`
	PauseReason string          `json:"pause_reason,omitempty"`
	Running     bool            `json:"running"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running            bool           `json:"running"`
	CurrentTopic       string         `json:"current_topic,omitempty"`
	CurrentContentType content.Kind   `json:"current_content_type,omitempty"`
	Topics             []string       `json:"topics"`
	ContentTypes       []content.Kind `json:"content_types"`
	Jobs               []JobStatus    `json:"jobs"`
	Problems           []string       `json:"problems,omitempty"`
}

// Status reports whether the scheduler loop is running, the current
// rotation selection and each job's next run and last failure.
func (o *Orchestrator) Status() Status {
	snap := o.rotation.Snapshot()
	st := Status{Topics: snap.Topics, ContentTypes: snap.ContentTypes}

	if t, err := o.rotation.CurrentTopic(); err == nil {
		st.CurrentTopic = t
	} else {
		st.Problems = append(st.Problems, err.Error())
	}
	if k, err := o.rotation.CurrentContentType(); err == nil {
		st.CurrentContentType = k
	} else {
		st.Problems = append(st.Problems, err.Error())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	st.Running = o.running
	ids := make([]string, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		j := o.jobs[id].job
		st.Jobs = append(st.Jobs, JobStatus{
			ID:          j.ID,
			Topic:       j.Topic,
			Trigger:     j.Trigger,
			Status:      j.Status,
			NextRun:     j.NextRun,
			LastRun:     j.LastRun,
			LastError:   j.LastError,
			PauseReason: j.PauseReason,
			Running:     o.inFlight[id],
		})
	}
	return st
}

// AddTopic adds a topic to the rotation without scheduling a job for it.
func (o *Orchestrator) AddTopic(topic string) error {
	return o.rotation.AddTopic(topic)
}

// RemoveTopic drops a topic from the rotation together with its job.
func (o *Orchestrator) RemoveTopic(topic string) error {
	if err := o.rotation.RemoveTopic(topic); err != nil {
		return err
	}
	if _, err := o.Remove(schedule.JobID(topic)); err != nil {
		return fmt.Errorf("removing job for topic: %w", err)
	}
	return nil
}

// SetCurrentTopic moves the rotation to an existing topic.
func (o *Orchestrator) SetCurrentTopic(topic string) error {
	return o.rotation.SetCurrentTopic(topic)
}

// IsNotFound reports whether err means a job does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrJobNotFound) }
