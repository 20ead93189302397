package schedule

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/autopost/internal/atomicfile"
)

// Status is the lifecycle state of a scheduled job.
type Status string

const (
	Active  Status = "active"
	Paused  Status = "paused"
	Removed Status = "removed"
)

// RotationJobID identifies the job that follows the rotation's current topic
// instead of a fixed one. Topic job ids always carry the "post_" prefix, so
// no topic can map to it.
const RotationJobID = "rotation"

// Job is one scheduled trigger for a topic. An empty Topic means the job
// follows the rotation.
type Job struct {
	ID                      string    `json:"job_id"`
	Topic                   string    `json:"topic,omitempty"`
	Trigger                 string    `json:"trigger"`
	Status                  Status    `json:"status"`
	CreatedAt               time.Time `json:"created_at"`
	LastRun                 time.Time `json:"last_run,omitzero"`
	NextRun                 time.Time `json:"next_run,omitzero"`
	LastError               string    `json:"last_error,omitempty"`
	PauseReason             string    `json:"pause_reason,omitempty"`
	ConsecutiveAuthFailures int       `json:"consecutive_auth_failures,omitempty"`
	BackoffUntil            time.Time `json:"backoff_until,omitzero"`
}

// JobID derives the stable job identifier for a topic.
func JobID(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return RotationJobID
	}
	var b strings.Builder
	b.WriteString("post_")
	underscore := false
	for _, r := range strings.ToLower(topic) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// TableStore persists the job table as a single JSON document.
type TableStore struct {
	path string
}

// NewTableStore returns a store writing jobs.json inside dir.
func NewTableStore(dir string) *TableStore {
	return &TableStore{path: filepath.Join(dir, "jobs.json")}
}

type tableFile struct {
	Jobs []Job `json:"jobs"`
}

// Load returns all persisted jobs, skipping removed ones.
func (s *TableStore) Load() ([]Job, error) {
	var f tableFile
	if _, err := atomicfile.ReadJSON(s.path, &f); err != nil {
		return nil, err
	}
	out := f.Jobs[:0]
	for _, j := range f.Jobs {
		if j.Status != Removed && j.ID != "" {
			out = append(out, j)
		}
	}
	return out, nil
}

// Save atomically rewrites the whole table, sorted by job id.
func (s *TableStore) Save(jobs []Job) error {
	sorted := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status != Removed {
			sorted = append(sorted, j)
		}
	}
	sort.Slice(sorted, func(i, k int) bool { return sorted[i].ID < sorted[k].ID })
	return atomicfile.WriteJSON(s.path, tableFile{Jobs: sorted})
}
