package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/autopost/internal/content"
	"github.com/kalambet/autopost/internal/orchestrator"
	"github.com/kalambet/autopost/internal/pipeline"
	"github.com/kalambet/autopost/internal/rotation"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

// fakeManager is an in-memory Manager.
type fakeManager struct {
	mu      sync.Mutex
	jobs    map[string]schedule.Job
	topics  []string
	current string
	busy    bool
	runs    []string
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		jobs:    map[string]schedule.Job{},
		topics:  []string{"ai ethics", "rust"},
		current: "ai ethics",
	}
}

func (m *fakeManager) Schedule(topic, spec string) (string, error) {
	trig, err := schedule.ParseTrigger(spec)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := schedule.JobID(topic)
	next, _ := trig.Next(time.Now(), time.Time{})
	m.jobs[id] = schedule.Job{ID: id, Topic: topic, Trigger: trig.Spec(), Status: schedule.Active, NextRun: next}
	return id, nil
}

func (m *fakeManager) Remove(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[id]
	delete(m.jobs, id)
	return ok, nil
}

func (m *fakeManager) setStatus(id string, s schedule.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, id)
	}
	j.Status = s
	m.jobs[id] = j
	return nil
}

func (m *fakeManager) Pause(id string) error  { return m.setStatus(id, schedule.Paused) }
func (m *fakeManager) Resume(id string) error { return m.setStatus(id, schedule.Active) }

func (m *fakeManager) Reschedule(id, spec string) error {
	trig, err := schedule.ParseTrigger(spec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, id)
	}
	j.Trigger = trig.Spec()
	m.jobs[id] = j
	return nil
}

func (m *fakeManager) run(id, topic string) (*pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return nil, orchestrator.ErrRunInProgress
	}
	m.runs = append(m.runs, topic)
	a := content.Fallback(topic, content.Article)
	return &pipeline.Run{
		ID: "run-1", JobID: id, Topic: topic, ContentType: content.Article,
		State: pipeline.Completed, Outcome: pipeline.Success, PostID: "urn:li:share:1", Artifact: a,
	}, nil
}

func (m *fakeManager) RunOnce(_ context.Context, topic string) (*pipeline.Run, error) {
	id := schedule.JobID(topic)
	if topic == "" {
		topic = m.current
	}
	return m.run(id, topic)
}

func (m *fakeManager) RunJob(_ context.Context, id string) (*pipeline.Run, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, id)
	}
	return m.run(id, j.Topic)
}

func (m *fakeManager) ListJobs() []schedule.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.Job
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *fakeManager) GetJob(id string) (schedule.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return schedule.Job{}, fmt.Errorf("%w: %s", orchestrator.ErrJobNotFound, id)
	}
	return j, nil
}

func (m *fakeManager) Upcoming(window time.Duration) []schedule.Job {
	var out []schedule.Job
	limit := time.Now().Add(window)
	for _, j := range m.ListJobs() {
		if j.Status == schedule.Active && !j.NextRun.After(limit) {
			out = append(out, j)
		}
	}
	return out
}

func (m *fakeManager) Status() orchestrator.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orchestrator.Status{
		Running:      true,
		CurrentTopic: m.current,
		Topics:       append([]string(nil), m.topics...),
		ContentTypes: content.Kinds,
	}
}

func (m *fakeManager) AddTopic(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topics {
		if strings.EqualFold(t, topic) {
			return nil
		}
	}
	m.topics = append(m.topics, topic)
	return nil
}

func (m *fakeManager) RemoveTopic(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.topics {
		if strings.EqualFold(t, topic) {
			if len(m.topics) == 1 {
				return rotation.ErrLastTopic
			}
			m.topics = append(m.topics[:i], m.topics[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", rotation.ErrUnknownTopic, topic)
}

func (m *fakeManager) SetCurrentTopic(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topics {
		if strings.EqualFold(t, topic) {
			m.current = t
			return nil
		}
	}
	return fmt.Errorf("%w: %q", rotation.ErrUnknownTopic, topic)
}

func openHistory(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
