// jobforge stages job files, submits them in batch to the configured
// scheduler backend and polls their status until every job reached a terminal
// state, printing a rolling status line per poll.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"jobforge/internal/config"
	"jobforge/internal/manager"
	"jobforge/internal/observability"
	"jobforge/internal/scheduler/docker"
	"jobforge/internal/scheduler/shell"
	"jobforge/internal/stager"
	"jobforge/pkg/backoff"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(jobFiles []string) error {
	if len(jobFiles) == 0 {
		return fmt.Errorf("usage: jobforge <job file> [<job file> ...]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadEngineConfig()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown error", "error", err)
		}
	}()

	// Create the scheduler backend
	sched, closeSched, err := newScheduler(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSched()

	mgr := manager.New(sched, manager.Config{Threads: cfg.Threads, Metrics: metrics})

	// Stage the job files
	stg, err := stager.New(stager.Config{
		Dir:     cfg.JobFileDir,
		Mkdtemp: cfg.JobFileDirMkdtemp,
		Cleanup: cfg.JobFileDirCleanup,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer stg.Close()

	staged := make([]string, 0, len(jobFiles))
	for i, src := range jobFiles {
		dst, err := stg.ProvideInput(ctx, src, stager.Plain("_"+strconv.Itoa(i)), "", nil, false)
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", src, err)
		}
		staged = append(staged, dst)
	}
	slog.Info("Job files staged", "count", len(staged), "dir", stg.Dir())

	// Submit
	submitOpts := batchOpts(cfg.ChunkSizeSubmit)
	results := mgr.SubmitBatch(ctx, staged, submitOpts...)

	jobIDs := make([]string, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			slog.Error("Submission failed", "jobFile", staged[i], "error", res.Err)
			continue
		}
		jobIDs = append(jobIDs, res.JobID)
	}
	if len(jobIDs) == 0 {
		return fmt.Errorf("all %d submissions failed", len(staged))
	}
	slog.Info("Jobs submitted", "submitted", len(jobIDs), "failed", len(staged)-len(jobIDs))

	// Poll until every job reached a terminal state
	err = poll(ctx, mgr, jobIDs, cfg)

	// On interrupt, stop the jobs before removing their remote state
	if err != nil && errors.Is(err, context.Canceled) {
		slog.Info("Interrupted, cancelling jobs", "count", len(jobIDs))
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
		defer cancel()
		for _, e := range mgr.CancelBatch(teardownCtx, jobIDs, batchOpts(cfg.ChunkSizeCancel)...) {
			slog.Warn("Cancel failed", "jobId", jobIDs[e.Index], "error", e.Err)
		}
		cleanup(teardownCtx, mgr, jobIDs, cfg)
		return nil
	}
	if err != nil {
		return err
	}

	cleanup(ctx, mgr, jobIDs, cfg)
	return nil
}

// poll queries the batch until no job is pending or running anymore, printing
// one status line per round. Poll pacing backs off from the configured
// interval.
func poll(ctx context.Context, mgr *manager.Manager, jobIDs []string, cfg *config.EngineConfig) error {
	queryOpts := batchOpts(cfg.ChunkSizeQuery)

	for attempt := 1; ; attempt++ {
		wait := backoff.Exponential(attempt, &backoff.Config{Initial: cfg.PollInterval, Max: time.Minute})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		results := mgr.QueryBatch(ctx, jobIDs, queryOpts...)
		counts := manager.CountStatuses(results)

		line, err := mgr.StatusLine(counts, manager.WithColor(true), manager.WithAlign(4))
		if err != nil {
			return err
		}
		fmt.Println(line)

		if counts[0]+counts[1] == 0 { // pending + running
			slog.Info("All jobs reached a terminal state")
			return nil
		}
	}
}

func cleanup(ctx context.Context, mgr *manager.Manager, jobIDs []string, cfg *config.EngineConfig) {
	for _, e := range mgr.CleanupBatch(ctx, jobIDs, batchOpts(cfg.ChunkSizeCleanup)...) {
		slog.Warn("Cleanup failed", "jobId", jobIDs[e.Index], "error", e.Err)
	}
}

// newScheduler builds the backend named by the configuration.
func newScheduler(ctx context.Context, cfg *config.EngineConfig) (manager.Scheduler, func(), error) {
	switch cfg.Scheduler {
	case "docker":
		sched, err := docker.New(ctx, docker.Config{})
		if err != nil {
			return nil, nil, err
		}
		if err := sched.Ready(ctx); err != nil {
			sched.Close()
			return nil, nil, fmt.Errorf("docker daemon not reachable: %w", err)
		}
		slog.Info("Connected to Docker daemon")
		return sched, func() { sched.Close() }, nil

	case "shell":
		sched, err := shell.New(shell.Config{
			SubmitCommand:  config.GetEnv("SUBMIT_COMMAND", ""),
			CancelCommand:  config.GetEnv("CANCEL_COMMAND", ""),
			CleanupCommand: config.GetEnv("CLEANUP_COMMAND", ""),
			QueryCommand:   config.GetEnv("QUERY_COMMAND", ""),
			JobIDPrefix:    config.GetEnv("JOB_ID_PREFIX", ""),
			Chunks: manager.ChunkSizes{
				Submit:  cfg.ChunkSizeSubmit,
				Cancel:  cfg.ChunkSizeCancel,
				Cleanup: cfg.ChunkSizeCleanup,
				Query:   cfg.ChunkSizeQuery,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return sched, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown scheduler %q, want docker or shell", cfg.Scheduler)
	}
}

// batchOpts translates a configured chunk size into batch options. 0 keeps
// the backend default.
func batchOpts(chunkSize int) []manager.BatchOption {
	if chunkSize <= 0 {
		return nil
	}
	return []manager.BatchOption{manager.WithChunkSize(chunkSize)}
}
