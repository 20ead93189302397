package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/autopost/internal/orchestrator"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

const testToken = "test-token-12345"

func setupHandler(t *testing.T) (http.Handler, *fakeManager, *storage.Store) {
	t.Helper()
	m := newFakeManager()
	store := openHistory(t)
	return NewHandler(Deps{Manager: m, History: store, Token: testToken}), m, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func TestHealthIsPublic(t *testing.T) {
	h, _, _ := setupHandler(t)
	rr := serve(h, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _, _ := setupHandler(t)
	for _, token := range []string{"", "wrong"} {
		rr := serve(h, authReq(http.MethodGet, "/jobs", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
		if got := errorType(t, rr); got != "authentication_error" {
			t.Errorf("error type = %q", got)
		}
		if !strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Bearer ") {
			t.Errorf("token %q: WWW-Authenticate = %q", token, rr.Header().Get("WWW-Authenticate"))
		}
	}
}

func TestAuthRejectsEverythingWithoutToken(t *testing.T) {
	h := NewHandler(Deps{Manager: newFakeManager(), History: openHistory(t)})
	rr := serve(h, authReq(http.MethodGet, "/jobs", "", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := errorType(t, rr); got != "configuration_error" {
		t.Errorf("error type = %q", got)
	}
	if rr := serve(h, authReq(http.MethodGet, "/health", "", "")); rr.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rr.Code)
	}
}

func TestManagerErrorShuttingDown(t *testing.T) {
	rr := httptest.NewRecorder()
	writeManagerError(rr, fmt.Errorf("run once: %w", orchestrator.ErrShuttingDown))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := errorType(t, rr); got != "unavailable" {
		t.Errorf("error type = %q", got)
	}
}

func TestScheduleAndListJobs(t *testing.T) {
	h, m, _ := setupHandler(t)

	rr := serve(h, authReq(http.MethodPost, "/jobs", `{"topic":"AI Ethics","trigger":"every:4h~15m"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var job schedule.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "post_ai_ethics" || job.Trigger != "every:4h~15m" {
		t.Errorf("unexpected job %+v", job)
	}

	rr = serve(h, authReq(http.MethodGet, "/jobs", "", testToken))
	var jobs []schedule.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || len(m.jobs) != 1 {
		t.Errorf("got %d jobs", len(jobs))
	}
}

func TestScheduleRejectsBadTrigger(t *testing.T) {
	h, _, _ := setupHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing trigger", `{"topic":"rust"}`},
		{"bad trigger", `{"topic":"rust","trigger":"every:daily"}`},
		{"bad json", `{"topic":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodPost, "/jobs", tt.body, testToken))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestJobNotFound(t *testing.T) {
	h, _, _ := setupHandler(t)
	for _, req := range []*http.Request{
		authReq(http.MethodGet, "/jobs/nope", "", testToken),
		authReq(http.MethodDelete, "/jobs/nope", "", testToken),
		authReq(http.MethodPost, "/jobs/nope/pause", "", testToken),
		authReq(http.MethodPost, "/jobs/nope/run", "", testToken),
		authReq(http.MethodPut, "/jobs/nope/trigger", `{"trigger":"every:2h"}`, testToken),
	} {
		rr := serve(h, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", req.Method, req.URL.Path, rr.Code)
		}
	}
}

func TestPauseResumeReschedule(t *testing.T) {
	h, m, _ := setupHandler(t)
	id, _ := m.Schedule("rust", "cron:0 9 * * *")

	rr := serve(h, authReq(http.MethodPost, "/jobs/"+id+"/pause", "", testToken))
	if rr.Code != http.StatusOK || m.jobs[id].Status != schedule.Paused {
		t.Fatalf("pause: status = %d, job = %+v", rr.Code, m.jobs[id])
	}
	rr = serve(h, authReq(http.MethodPost, "/jobs/"+id+"/resume", "", testToken))
	if rr.Code != http.StatusOK || m.jobs[id].Status != schedule.Active {
		t.Fatalf("resume: status = %d, job = %+v", rr.Code, m.jobs[id])
	}
	rr = serve(h, authReq(http.MethodPut, "/jobs/"+id+"/trigger", `{"trigger":"every:6h"}`, testToken))
	if rr.Code != http.StatusOK || m.jobs[id].Trigger != "every:6h" {
		t.Fatalf("reschedule: status = %d, job = %+v", rr.Code, m.jobs[id])
	}
	rr = serve(h, authReq(http.MethodDelete, "/jobs/"+id, "", testToken))
	if rr.Code != http.StatusOK || len(m.jobs) != 0 {
		t.Fatalf("remove: status = %d", rr.Code)
	}
}

func TestRunOnce(t *testing.T) {
	h, m, _ := setupHandler(t)

	rr := serve(h, authReq(http.MethodPost, "/run", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var sum RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Topic != "ai ethics" || sum.Outcome != "success" || sum.PostID == "" || !sum.Fallback {
		t.Errorf("unexpected summary %+v", sum)
	}

	serve(h, authReq(http.MethodPost, "/run", `{"topic":"rust"}`, testToken))
	if len(m.runs) != 2 || m.runs[1] != "rust" {
		t.Errorf("runs = %v", m.runs)
	}

	m.busy = true
	rr = serve(h, authReq(http.MethodPost, "/run", `{"topic":"rust"}`, testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 while a run is in progress", rr.Code)
	}
}

func TestTopics(t *testing.T) {
	h, m, _ := setupHandler(t)

	rr := serve(h, authReq(http.MethodPost, "/topics", `{"topic":"quantum computing"}`, testToken))
	if rr.Code != http.StatusCreated || len(m.topics) != 3 {
		t.Fatalf("add: status = %d, topics = %v", rr.Code, m.topics)
	}
	rr = serve(h, authReq(http.MethodPut, "/topics/current", `{"topic":"rust"}`, testToken))
	if rr.Code != http.StatusOK || m.current != "rust" {
		t.Fatalf("set current: status = %d, current = %q", rr.Code, m.current)
	}
	rr = serve(h, authReq(http.MethodPut, "/topics/current", `{"topic":"cooking"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown current topic: status = %d, want 404", rr.Code)
	}
	rr = serve(h, authReq(http.MethodDelete, "/topics/rust", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("remove: status = %d", rr.Code)
	}
	serve(h, authReq(http.MethodDelete, "/topics/ai%20ethics", "", testToken))
	rr = serve(h, authReq(http.MethodDelete, "/topics/quantum%20computing", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("removing last topic: status = %d, want 409", rr.Code)
	}
}

func TestHistory(t *testing.T) {
	h, _, store := setupHandler(t)
	ctx := context.Background()
	for _, r := range []*storage.Record{
		{RunID: "r1", JobID: "post_rust", Topic: "rust", ContentType: "article", Status: storage.StatusPublished, PostID: "urn:1"},
		{RunID: "r2", JobID: "post_rust", Topic: "rust", ContentType: "chart", Status: storage.StatusFailed, Error: "auth"},
		{RunID: "r3", JobID: "post_go", Topic: "go", ContentType: "article", Status: storage.StatusPublished, PostID: "urn:3"},
	} {
		if err := store.SaveRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rr := serve(h, authReq(http.MethodGet, "/history?topic=rust", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var page HistoryPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 2 {
		t.Errorf("got %d records, want 2", len(page.Records))
	}
	if page.Counts[storage.StatusFailed] != 1 || page.Counts[storage.StatusPublished] != 1 {
		t.Errorf("counts = %v", page.Counts)
	}

	rr = serve(h, authReq(http.MethodGet, "/history/"+page.Records[0].ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("get record: status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodGet, "/history/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing record: status = %d, want 404", rr.Code)
	}
	rr = serve(h, authReq(http.MethodGet, "/history?since=yesterday", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rr.Code)
	}
}
