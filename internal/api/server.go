package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/autopost/internal/orchestrator"
	"github.com/kalambet/autopost/internal/pipeline"
	"github.com/kalambet/autopost/internal/rotation"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Manager is the scheduling surface exposed over HTTP and MCP.
// *orchestrator.Orchestrator implements it.
type Manager interface {
	Schedule(topic, spec string) (string, error)
	Remove(id string) (bool, error)
	Pause(id string) error
	Resume(id string) error
	Reschedule(id, spec string) error
	RunOnce(ctx context.Context, topic string) (*pipeline.Run, error)
	RunJob(ctx context.Context, id string) (*pipeline.Run, error)
	ListJobs() []schedule.Job
	GetJob(id string) (schedule.Job, error)
	Upcoming(window time.Duration) []schedule.Job
	Status() orchestrator.Status
	AddTopic(topic string) error
	RemoveTopic(topic string) error
	SetCurrentTopic(topic string) error
}

// History reads past pipeline runs. *storage.Store implements it.
type History interface {
	ListRecords(ctx context.Context, f storage.Filter) ([]storage.Record, error)
	GetRecord(ctx context.Context, id string) (storage.Record, error)
	CountByStatus(ctx context.Context, f storage.Filter) (map[string]int, error)
}

type Deps struct {
	Manager Manager
	History History
	Token   string
}

// NewHandler returns the management API. /health is public; every other
// route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))

		r.Get("/jobs", handleListJobs(deps))
		r.Post("/jobs", handleSchedule(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Delete("/jobs/{id}", handleRemoveJob(deps))
		r.Post("/jobs/{id}/pause", handlePauseJob(deps))
		r.Post("/jobs/{id}/resume", handleResumeJob(deps))
		r.Post("/jobs/{id}/run", handleRunJob(deps))
		r.Put("/jobs/{id}/trigger", handleReschedule(deps))

		r.Post("/run", handleRunOnce(deps))
		r.Get("/upcoming", handleUpcoming(deps))

		r.Get("/topics", handleListTopics(deps))
		r.Post("/topics", handleAddTopic(deps))
		r.Delete("/topics/{topic}", handleRemoveTopic(deps))
		r.Put("/topics/current", handleSetCurrentTopic(deps))

		r.Get("/history", handleListHistory(deps))
		r.Get("/history/{id}", handleGetHistory(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Manager.Status())
	}
}

// ScheduleRequest creates or replaces a job. An empty topic schedules the
// rotation job.
type ScheduleRequest struct {
	Topic   string `json:"topic"`
	Trigger string `json:"trigger"`
}

// TriggerRequest replaces a job's trigger.
type TriggerRequest struct {
	Trigger string `json:"trigger"`
}

// TopicRequest names a topic.
type TopicRequest struct {
	Topic string `json:"topic"`
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := deps.Manager.ListJobs()
		if jobs == nil {
			jobs = []schedule.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleSchedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Trigger) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "trigger is required")
			return
		}
		id, err := deps.Manager.Schedule(req.Topic, req.Trigger)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		job, err := deps.Manager.GetJob(id)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Manager.GetJob(chi.URLParam(r, "id"))
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleRemoveJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		removed, err := deps.Manager.Remove(id)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		if !removed {
			httpError(w, http.StatusNotFound, "not_found", "job %q not found", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

func handlePauseJob(deps Deps) http.HandlerFunc {
	return jobAction(deps, func(id string) error { return deps.Manager.Pause(id) })
}

func handleResumeJob(deps Deps) http.HandlerFunc {
	return jobAction(deps, func(id string) error { return deps.Manager.Resume(id) })
}

// jobAction runs fn on the job named in the URL and responds with the
// updated job.
func jobAction(deps Deps, fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(id); err != nil {
			writeManagerError(w, err)
			return
		}
		job, err := deps.Manager.GetJob(id)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleReschedule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TriggerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		jobAction(deps, func(id string) error { return deps.Manager.Reschedule(id, req.Trigger) })(w, r)
	}
}

func handleRunJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Manager.RunJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Summarize(run))
	}
}

func handleRunOnce(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TopicRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		run, err := deps.Manager.RunOnce(r.Context(), req.Topic)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Summarize(run))
	}
}

func handleUpcoming(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", 24, 24*30)
		jobs := deps.Manager.Upcoming(time.Duration(hours) * time.Hour)
		if jobs == nil {
			jobs = []schedule.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleListTopics(deps Deps) http.HandlerFunc {
	return topicsResponse(deps, http.StatusOK)
}

func handleAddTopic(deps Deps) http.HandlerFunc {
	return topicAction(deps, http.StatusCreated, deps.Manager.AddTopic)
}

func handleSetCurrentTopic(deps Deps) http.HandlerFunc {
	return topicAction(deps, http.StatusOK, deps.Manager.SetCurrentTopic)
}

func topicAction(deps Deps, code int, fn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TopicRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Topic) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}
		if err := fn(req.Topic); err != nil {
			writeManagerError(w, err)
			return
		}
		topicsResponse(deps, code)(w, r)
	}
}

func topicsResponse(deps Deps, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Manager.Status()
		writeJSON(w, code, map[string]any{
			"topics":        st.Topics,
			"current_topic": st.CurrentTopic,
		})
	}
}

func handleRemoveTopic(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Manager.RemoveTopic(chi.URLParam(r, "topic")); err != nil {
			writeManagerError(w, err)
			return
		}
		topicsResponse(deps, http.StatusOK)(w, r)
	}
}

// HistoryPage is the /history response.
type HistoryPage struct {
	Records []storage.Record `json:"records"`
	Counts  map[string]int   `json:"counts"`
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "history is not available")
			return
		}
		q := r.URL.Query()
		f := storage.Filter{
			JobID:  q.Get("job_id"),
			Topic:  q.Get("topic"),
			Status: q.Get("status"),
			Limit:  parseIntParam(r, "limit", 20, 200),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		if since := q.Get("since"); since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "since must be RFC3339: %v", err)
				return
			}
			f.Since = t
		}

		records, err := deps.History.ListRecords(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		counts, err := deps.History.CountByStatus(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count history: %v", err)
			return
		}
		if records == nil {
			records = []storage.Record{}
		}
		writeJSON(w, http.StatusOK, HistoryPage{Records: records, Counts: counts})
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "history is not available")
			return
		}
		rec, err := deps.History.GetRecord(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// writeManagerError maps scheduling errors to HTTP status codes.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound), errors.Is(err, rotation.ErrUnknownTopic):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, orchestrator.ErrRunInProgress):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
	case errors.Is(err, rotation.ErrLastTopic), errors.Is(err, rotation.ErrEmptyRotation):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, schedule.ErrInvalidTrigger):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
