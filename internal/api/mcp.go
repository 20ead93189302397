package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/autopost/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager Manager
	History History // optional; if nil, the history resource is not registered
}

// NewMCPServer creates an MCP server exposing job management tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"autopost",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("autopost schedules and publishes LinkedIn posts from a rotation of topics and content types."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List scheduled posting jobs with their triggers and next run times."),
		),
		mcpListJobs(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule",
			mcp.WithDescription("Create or replace a posting job. Triggers: cron:<5 fields>, every:<N>h[~<M>m], at:<RFC3339>."),
			mcp.WithString("trigger", mcp.Description("Trigger spec, e.g. cron:0 9 * * 1-5"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Topic to post about; empty follows the rotation")),
		),
		mcpSchedule(deps),
	)

	s.AddTool(
		mcp.NewTool("run_once",
			mcp.WithDescription("Run the full pipeline now and publish one post."),
			mcp.WithString("topic", mcp.Description("Topic to post about; empty uses the current rotation topic")),
		),
		mcpRunOnce(deps),
	)

	s.AddTool(
		mcp.NewTool("status",
			mcp.WithDescription("Show the rotation state, jobs and any problems."),
		),
		mcpStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("pause_job",
			mcp.WithDescription("Pause a job so its trigger no longer fires."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobAction(deps.Manager.Pause, "Paused"),
	)

	s.AddTool(
		mcp.NewTool("resume_job",
			mcp.WithDescription("Resume a paused job and clear its failure counters."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpJobAction(deps.Manager.Resume, "Resumed"),
	)

	s.AddTool(
		mcp.NewTool("remove_job",
			mcp.WithDescription("Remove a job."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpRemoveJob(deps),
	)

	s.AddTool(
		mcp.NewTool("upcoming",
			mcp.WithDescription("List jobs due within the next N hours."),
			mcp.WithNumber("hours", mcp.Description("Window in hours (default 24)")),
		),
		mcpUpcoming(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"autopost://history",
				"Recent Posts",
				mcp.WithResourceDescription("Last 10 pipeline runs"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceHistory(deps),
		)
	}

	return s
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Manager.ListJobs()), nil
	}
}

func mcpSchedule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		trigger, err := req.RequireString("trigger")
		if err != nil {
			return mcpError("trigger is required"), nil
		}
		topic := req.GetString("topic", "")

		id, err := deps.Manager.Schedule(topic, trigger)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to schedule: %v", err)), nil
		}
		job, err := deps.Manager.GetJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("scheduled %s but could not read it back: %v", id, err)), nil
		}
		return mcpJSON(job), nil
	}
}

func mcpRunOnce(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		run, err := deps.Manager.RunOnce(ctx, req.GetString("topic", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		res := mcpJSON(Summarize(run))
		res.IsError = !run.Published()
		return res, nil
	}
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Manager.Status()), nil
	}
}

func mcpJobAction(fn func(id string) error, verb string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		if err := fn(id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("%s %s", verb, id)), nil
	}
}

func mcpRemoveJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		removed, err := deps.Manager.Remove(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to remove: %v", err)), nil
		}
		if !removed {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}
		return mcpText(fmt.Sprintf("Removed %s", id)), nil
	}
}

func mcpUpcoming(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		hours := req.GetInt("hours", 24)
		if hours <= 0 {
			hours = 24
		}
		return mcpJSON(deps.Manager.Upcoming(time.Duration(hours) * time.Hour)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.History.ListRecords(ctx, storage.Filter{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list history: %w", err)
		}
		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
