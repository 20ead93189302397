package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/autopost/internal/api"
	"github.com/kalambet/autopost/internal/config"
	"github.com/kalambet/autopost/internal/schedule"
	"github.com/kalambet/autopost/internal/storage"
)

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled posting jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		jobs, err := listJobs(cmd.Context(), client)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(jobs)
		}
		printJobs(jobs)
		return nil
	},
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <trigger>",
	Short: "Schedule a job",
	Long: `Schedule a job. Scheduling the same topic again replaces its trigger.

Triggers:
  cron:<min> <hour> <dom> <month> <dow>   e.g. "cron:0 9 * * 1-5"
  every:<N>h[~<M>m]                      e.g. "every:4h~30m"
  at:<RFC3339>                           e.g. "at:2026-11-01T09:00:00Z"

Without --topic the job follows the topic rotation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		if _, err := schedule.ParseTrigger(args[0]); err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		job, err := scheduleJob(cmd.Context(), client, topic, args[0])
		if err != nil {
			return err
		}
		printSuccess("Scheduled %s (%s), next run %s", job.ID, job.Trigger, formatTime(job.NextRun))
		return nil
	},
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed %s", args[0])
		return nil
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd.Context(), args[0], "pause", "Paused")
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd.Context(), args[0], "resume", "Resumed")
	},
}

var jobsRescheduleCmd = &cobra.Command{
	Use:   "reschedule <job-id> <trigger>",
	Short: "Replace a job's trigger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := schedule.ParseTrigger(args[1]); err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/jobs/"+url.PathEscape(args[0])+"/trigger", api.TriggerRequest{Trigger: args[1]})
		if err != nil {
			return err
		}
		var job schedule.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Rescheduled %s (%s), next run %s", job.ID, job.Trigger, formatTime(job.NextRun))
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run a job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Running %s...", args[0])
		resp, err := client.post(cmd.Context(), "/jobs/"+url.PathEscape(args[0])+"/run", nil)
		if err != nil {
			return err
		}
		var sum api.RunSummary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}
		return reportRun(sum)
	},
}

func init() {
	jobsListCmd.Flags().Bool("json", false, "print raw JSON")
	jobsAddCmd.Flags().String("topic", "", "topic to post about (default: follow the rotation)")
	jobsCmd.AddCommand(jobsListCmd, jobsAddCmd, jobsRemoveCmd, jobsPauseCmd, jobsResumeCmd, jobsRescheduleCmd, jobsRunCmd)
}

func listJobs(ctx context.Context, client *apiClient) ([]schedule.Job, error) {
	resp, err := client.get(ctx, "/jobs")
	if err != nil {
		return nil, err
	}
	var jobs []schedule.Job
	if err := decodeJSON(resp, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scheduleJob(ctx context.Context, client *apiClient, topic, trigger string) (schedule.Job, error) {
	resp, err := client.post(ctx, "/jobs", api.ScheduleRequest{Topic: topic, Trigger: trigger})
	if err != nil {
		return schedule.Job{}, err
	}
	var job schedule.Job
	if err := decodeJSON(resp, &job); err != nil {
		return schedule.Job{}, err
	}
	return job, nil
}

func jobAction(ctx context.Context, id, action, verb string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(ctx, "/jobs/"+url.PathEscape(id)+"/"+action, nil)
	if err != nil {
		return err
	}
	var job schedule.Job
	if err := decodeJSON(resp, &job); err != nil {
		return err
	}
	printSuccess("%s %s", verb, job.ID)
	return nil
}

func printJobs(jobs []schedule.Job) {
	if len(jobs) == 0 {
		printWarning("No jobs scheduled")
		return
	}
	for _, j := range jobs {
		topic := j.Topic
		if topic == "" {
			topic = "(rotation)"
		}
		fmt.Fprintf(stdout, "%s  %s  %-20s  next %s  %s\n",
			colorize(colorBold, j.ID), jobStatus(j.Status, 8), j.Trigger, formatTime(j.NextRun), topic)
		if j.PauseReason != "" {
			fmt.Fprintf(stdout, "    paused: %s\n", j.PauseReason)
		}
		if j.LastError != "" {
			fmt.Fprintf(stdout, "    last error: %s\n", j.LastError)
		}
	}
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Generate and publish one post now",
	Long: `Generate and publish one post now. Without a topic the current
rotation topic is used. The content type follows the rotation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sum, err := runOnce(cmd.Context(), client, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return reportRun(sum)
	},
}

func runOnce(ctx context.Context, client *apiClient, topic string) (api.RunSummary, error) {
	printStep("Running pipeline...")
	resp, err := client.post(ctx, "/run", api.TopicRequest{Topic: topic})
	if err != nil {
		return api.RunSummary{}, err
	}
	var sum api.RunSummary
	if err := decodeJSON(resp, &sum); err != nil {
		return api.RunSummary{}, err
	}
	return sum, nil
}

// reportRun prints a run summary and returns an error when nothing was
// published.
func reportRun(sum api.RunSummary) error {
	printStatus("Topic", "%s", sum.Topic)
	printStatus("Content type", "%s", sum.ContentType.Label())
	for stage, msg := range sum.StageErrors {
		printWarning("%s: %s", stage, msg)
	}
	for _, w := range sum.Warnings {
		printWarning("%s", w)
	}
	if sum.Fallback {
		printWarning("Published templated fallback content")
	}
	switch sum.Outcome {
	case "success", "partial_success":
		printSuccess("Published %s", sum.PostID)
		if sum.Preview != "" {
			fmt.Fprintln(stdout, sum.Preview)
		}
		return nil
	}
	if sum.ErrorKind != "" {
		return fmt.Errorf("publish failed (%s): %s", sum.ErrorKind, sum.Error)
	}
	return fmt.Errorf("run %s: %s", sum.Outcome, sum.Error)
}

// --- topics ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage the topic rotation",
}

type topicsResponse struct {
	Topics       []string `json:"topics"`
	CurrentTopic string   `json:"current_topic"`
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rotation topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/topics")
		if err != nil {
			return err
		}
		var tr topicsResponse
		if err := decodeJSON(resp, &tr); err != nil {
			return err
		}
		printTopics(tr)
		return nil
	},
}

var topicsAddCmd = &cobra.Command{
	Use:   "add <topic>",
	Short: "Add a topic to the rotation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return topicAction(cmd.Context(), "POST", "/topics", strings.Join(args, " "), "Added")
	},
}

var topicsRemoveCmd = &cobra.Command{
	Use:   "remove <topic>",
	Short: "Remove a topic and its job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.Join(args, " ")
		return topicAction(cmd.Context(), "DELETE", "/topics/"+url.PathEscape(topic), topic, "Removed")
	},
}

var topicsCurrentCmd = &cobra.Command{
	Use:   "current <topic>",
	Short: "Make a topic the current rotation topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return topicAction(cmd.Context(), "PUT", "/topics/current", strings.Join(args, " "), "Current topic set to")
	},
}

func init() {
	topicsCmd.AddCommand(topicsListCmd, topicsAddCmd, topicsRemoveCmd, topicsCurrentCmd)
}

func topicAction(ctx context.Context, method, path, topic, verb string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var body any
	if method != "DELETE" {
		body = api.TopicRequest{Topic: topic}
	}
	resp, err := client.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	var tr topicsResponse
	if err := decodeJSON(resp, &tr); err != nil {
		return err
	}
	printSuccess("%s %q", verb, topic)
	printTopics(tr)
	return nil
}

func printTopics(tr topicsResponse) {
	for _, t := range tr.Topics {
		marker := "  "
		if strings.EqualFold(t, tr.CurrentTopic) {
			marker = colorize(colorGreen, "→ ")
		}
		fmt.Fprintf(stdout, "%s%s\n", marker, t)
	}
}

// --- upcoming ---

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List jobs due within the next hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/upcoming?hours="+strconv.Itoa(hours))
		if err != nil {
			return err
		}
		var jobs []schedule.Job
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			printWarning("Nothing due in the next %d hours", hours)
			return nil
		}
		printJobs(jobs)
		return nil
	},
}

func init() {
	upcomingCmd.Flags().Int("hours", 24, "look-ahead window in hours")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show published and failed posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"topic", "status", "job"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				key := name
				if name == "job" {
					key = "job_id"
				}
				q.Set(key, v)
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/history?"+q.Encode())
		if err != nil {
			return err
		}
		var page api.HistoryPage
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(page)
		}
		printHistory(page)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("topic", "", "filter by topic")
	historyCmd.Flags().String("status", "", "filter by status (published, failed)")
	historyCmd.Flags().String("job", "", "filter by job id")
	historyCmd.Flags().Int("limit", 20, "maximum number of records")
	historyCmd.Flags().Bool("json", false, "print raw JSON")
}

func printHistory(page api.HistoryPage) {
	if len(page.Records) == 0 {
		printWarning("No history yet")
		return
	}
	for _, r := range page.Records {
		fmt.Fprintf(stdout, "%s  %s  %-12s  %s  %s\n", formatTime(r.CreatedAt), recordStatus(r.Status, 9), r.ContentType, r.Topic, r.Title)
		if r.Error != "" {
			fmt.Fprintf(stdout, "    %s\n", r.Error)
		}
	}
	printStatus("Published", "%d", page.Counts[storage.StatusPublished])
	printStatus("Failed", "%d", page.Counts[storage.StatusFailed])
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys are written to the secrets file.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		printStep("Restart the daemon for the change to take effect")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
