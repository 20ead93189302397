package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/autopost/internal/api"
	"github.com/kalambet/autopost/internal/config"
	"github.com/kalambet/autopost/internal/orchestrator"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the autopost daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runDaemon(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running autopost daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler, rotation and job status",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return showStatus(cmd.Context(), asJSON)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity to the LLM, LinkedIn and the enhancement service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := buildApp(cfg, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
		if err != nil {
			return err
		}
		defer a.Close()

		if failed := runChecks(cmd.Context(), a.checks()); failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	statusCmd.Flags().Bool("json", false, "print raw JSON")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "autopost.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runDaemon(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "autopost version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("autopost already running (PID %d)", pid)
		}
		return fmt.Errorf("autopost already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	if err := a.publisher.Validate(ctx); err != nil {
		printWarning("LinkedIn credentials could not be validated: %v", err)
	}

	created, err := a.orch.EnsureDefaultJob(cfg.Scheduler.DefaultCron)
	if err != nil {
		return fmt.Errorf("scheduling default job: %w", err)
	}
	if created {
		slog.Info("scheduled default rotation job", "trigger", cfg.Scheduler.DefaultCron)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(api.Deps{Manager: a.orch, History: a.store, Token: token}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(gCtx)
	})
	g.Go(func() error {
		slog.Info("autopost listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Manager: a.orch, History: a.store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("autopost is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop autopost (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to autopost (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context, asJSON bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, "/status")
	if err != nil {
		printStatus("Daemon", "stopped")
		return nil
	}
	var st orchestrator.Status
	if err := decodeJSON(resp, &st); err != nil {
		return err
	}
	if asJSON {
		return printJSON(st)
	}
	printStatusReport(st)
	return nil
}

func printStatusReport(st orchestrator.Status) {
	if st.Running {
		printStatus("Scheduler", "running")
	} else {
		printStatus("Scheduler", "stopped")
	}
	printStatus("Current topic", "%s", st.CurrentTopic)
	printStatus("Next content type", "%s", st.CurrentContentType.Label())
	printStatus("Topics", "%s", strings.Join(st.Topics, ", "))
	printStatus("Jobs", "%d", len(st.Jobs))
	for _, j := range st.Jobs {
		line := fmt.Sprintf("%s [%s] %s next %s", j.ID, jobStatus(j.Status, 0), j.Trigger, formatTime(j.NextRun))
		if j.Running {
			line += " (running)"
		}
		if j.LastError != "" {
			line += " last error: " + j.LastError
		}
		fmt.Fprintln(stderr, "    "+line)
	}
	for _, p := range st.Problems {
		printWarning("%s", p)
	}
}
