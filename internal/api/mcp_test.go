package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Schedule(t *testing.T) {
	m := newFakeManager()
	deps := MCPDeps{Manager: m}

	res, err := mcpSchedule(deps)(context.Background(), makeCallToolRequest("schedule", map[string]any{
		"topic":   "rust",
		"trigger": "cron:0 9 * * 1-5",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}
	var job schedule.Job
	if err := json.Unmarshal([]byte(toolText(t, res)), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "post_rust" || job.Trigger != "cron:0 9 * * 1-5" {
		t.Errorf("unexpected job %+v", job)
	}

	res, _ = mcpSchedule(deps)(context.Background(), makeCallToolRequest("schedule", map[string]any{"trigger": "weekly"}))
	if !res.IsError {
		t.Error("expected error for bad trigger")
	}
	res, _ = mcpSchedule(deps)(context.Background(), makeCallToolRequest("schedule", map[string]any{}))
	if !res.IsError {
		t.Error("expected error for missing trigger")
	}
}

func TestMCPTool_RunOnce(t *testing.T) {
	m := newFakeManager()
	res, err := mcpRunOnce(MCPDeps{Manager: m})(context.Background(), makeCallToolRequest("run_once", map[string]any{"topic": "rust"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}
	var sum RunSummary
	if err := json.Unmarshal([]byte(toolText(t, res)), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Topic != "rust" || sum.PostID == "" {
		t.Errorf("unexpected summary %+v", sum)
	}

	m.busy = true
	res, _ = mcpRunOnce(MCPDeps{Manager: m})(context.Background(), makeCallToolRequest("run_once", nil))
	if !res.IsError || !strings.Contains(toolText(t, res), "in progress") {
		t.Errorf("expected in-progress error, got %q", toolText(t, res))
	}
}

func TestMCPTool_JobActions(t *testing.T) {
	m := newFakeManager()
	id, _ := m.Schedule("rust", "every:4h")

	res, _ := mcpJobAction(m.Pause, "Paused")(context.Background(), makeCallToolRequest("pause_job", map[string]any{"job_id": id}))
	if res.IsError || m.jobs[id].Status != schedule.Paused {
		t.Fatalf("pause failed: %s", toolText(t, res))
	}
	res, _ = mcpJobAction(m.Resume, "Resumed")(context.Background(), makeCallToolRequest("resume_job", map[string]any{"job_id": "nope"}))
	if !res.IsError {
		t.Error("expected error for unknown job")
	}

	res, _ = mcpRemoveJob(MCPDeps{Manager: m})(context.Background(), makeCallToolRequest("remove_job", map[string]any{"job_id": id}))
	if res.IsError || len(m.jobs) != 0 {
		t.Fatalf("remove failed: %s", toolText(t, res))
	}
	res, _ = mcpRemoveJob(MCPDeps{Manager: m})(context.Background(), makeCallToolRequest("remove_job", map[string]any{"job_id": id}))
	if !res.IsError {
		t.Error("expected error removing a missing job")
	}
}

func TestMCPTool_StatusAndListJobs(t *testing.T) {
	m := newFakeManager()
	m.Schedule("", "every:2h")
	deps := MCPDeps{Manager: m}

	res, _ := mcpStatus(deps)(context.Background(), makeCallToolRequest("status", nil))
	if !strings.Contains(toolText(t, res), `"current_topic":"ai ethics"`) {
		t.Errorf("status = %s", toolText(t, res))
	}
	res, _ = mcpListJobs(deps)(context.Background(), makeCallToolRequest("list_jobs", nil))
	if !strings.Contains(toolText(t, res), schedule.RotationJobID) {
		t.Errorf("list_jobs = %s", toolText(t, res))
	}
	res, _ = mcpUpcoming(deps)(context.Background(), makeCallToolRequest("upcoming", map[string]any{"hours": float64(3)}))
	if !strings.Contains(toolText(t, res), schedule.RotationJobID) {
		t.Errorf("upcoming = %s", toolText(t, res))
	}
}

func TestMCPResource_History(t *testing.T) {
	store := openHistory(t)
	if err := store.SaveRecord(context.Background(), &storage.Record{RunID: "r1", Topic: "rust", Status: storage.StatusPublished}); err != nil {
		t.Fatal(err)
	}
	handler := mcpResourceHistory(MCPDeps{Manager: newFakeManager(), History: store})
	contents, err := handler(context.Background(), mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "autopost://history"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, `"topic":"rust"`) {
		t.Errorf("history = %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Manager: newFakeManager(), History: openHistory(t)}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
