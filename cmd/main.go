// Package main boots the vita service: a long-running daemon by
// default, or a one-shot ingest, cycle or forget run when the matching
// flag is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/adapters/http/ops"
	app "github.com/mirek/vita/internal/app"
	"github.com/mirek/vita/internal/config"
	"github.com/mirek/vita/internal/domain/insight"
	"github.com/mirek/vita/internal/domain/mapper"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/logger"
	"github.com/mirek/vita/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server and updater timing constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	jobPollInterval           = 50 * time.Millisecond
	jobDrainTimeout           = 5 * time.Minute
	nanosecondsPerMillisecond = 1e6
)

func main() {
	ingestGlob := flag.String("ingest", "", "one-shot: ingest the export files matching this glob, then exit")
	user := flag.String("user", "", "user id for -ingest and -cycle")
	provider := flag.String("provider", "", "declared provider for -ingest; empty means detect")
	dryRun := flag.Bool("dry-run", false, "parse and canonicalize only, never persist")
	cycle := flag.Bool("cycle", false, "one-shot: evaluate insights for -user, print the feed, then exit")
	forget := flag.String("forget", "", "one-shot: delete every stored trace of this user, then exit")
	flag.Parse()

	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	opts, err := serviceOptions(cfg, loggerInstance)
	if err != nil {
		os.Stderr.WriteString("failed to prepare service: " + err.Error() + "\n")
		return
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}

	var runErr error
	switch {
	case *forget != "":
		runErr = runForget(ctx, svc, *forget)
	case *ingestGlob != "":
		runErr = runIngest(ctx, svc, *ingestGlob, *user, model.Provider(*provider), *dryRun)
	case *cycle:
		runErr = runCycle(ctx, svc, *user)
	default:
		runErr = runDaemon(ctx, cfg, svc, loggerInstance)
	}

	svc.Stop()
	if runErr != nil {
		os.Stderr.WriteString(runErr.Error() + "\n")
		os.Exit(1)
	}
}

// serviceOptions maps the loaded configuration onto service options.
func serviceOptions(cfg *config.Config, log logger.Logger) ([]app.Option, error) {
	opts := []app.Option{
		app.WithLogger(log),
		app.WithDBPath(cfg.DBPath),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxAttempts(cfg.MaxAttempts),
		app.WithRetryBackoff(time.Duration(cfg.RetryBackoffMS) * time.Millisecond),
		app.WithDefaultTimezone(cfg.DefaultTimezone),
		app.WithInsightInterval(time.Duration(cfg.InsightIntervalMin) * time.Minute),
		app.WithInsightBudget(time.Duration(cfg.InsightBudgetMS) * time.Millisecond),
	}

	if cfg.RulesFile != "" {
		rules, err := insight.LoadRules(cfg.RulesFile, insight.Rule{
			WindowDays:            cfg.WindowDays,
			MaxLagDays:            cfg.MaxLagDays,
			MinSamples:            cfg.MinSamples,
			SignificanceThreshold: cfg.SignificanceThreshold,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithRules(rules))
	}

	if cfg.MappingFile != "" {
		table, err := mapper.LoadTable(cfg.MappingFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithMapping(table))
	}

	return opts, nil
}

// runDaemon serves the ops endpoints until the process is signalled.
func runDaemon(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) error {
	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	ops.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Start the HTTP server
	go func() {
		log.Info(ctx, "starting ops HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// runIngest submits every file matching the glob and waits for the
// jobs to finish.
func runIngest(ctx context.Context, svc *app.Service, glob, userID string, provider model.Provider, dryRun bool) error {
	if userID == "" {
		return errors.New("-ingest requires -user")
	}
	if provider != "" && !model.IsValidProvider(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}

	files, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("bad -ingest pattern: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %q", glob)
	}

	var pending []uuid.UUID
	failed := false
	for _, path := range files {
		job, err := svc.IngestFile(ctx, userID, path, provider, dryRun)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		if dryRun {
			printJob(path, job)
			continue
		}
		pending = append(pending, job.ID)
	}

	for _, id := range pending {
		job, err := waitForJob(ctx, svc, id)
		if err != nil {
			fmt.Printf("%s: %v\n", id, err)
			failed = true
			continue
		}
		printJob(job.FileRef, job)
		if job.State != model.JobCompleted {
			failed = true
		}
	}

	if failed {
		return errors.New("one or more exports did not ingest cleanly")
	}
	return nil
}

// waitForJob polls the job until terminal or the drain timeout lapses.
func waitForJob(ctx context.Context, svc *app.Service, id uuid.UUID) (model.Job, error) {
	deadline := time.Now().Add(jobDrainTimeout)
	for time.Now().Before(deadline) {
		job, err := svc.Job(ctx, id)
		if err == nil && job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return model.Job{}, ctx.Err()
		case <-time.After(jobPollInterval):
		}
	}
	return model.Job{}, fmt.Errorf("job %s did not finish in time", id)
}

// printJob renders one submission result for the terminal.
func printJob(path string, job model.Job) {
	if job.State == model.JobCompleted {
		fmt.Printf("%s: %s, %d records persisted, %d skipped", path, job.State, job.PersistedCount, job.SkippedCount)
		if job.DryRun {
			fmt.Printf(" (dry run)")
		}
		fmt.Println()
	} else {
		fmt.Printf("%s: %s: %s\n", path, job.State, job.ErrorLog)
	}
	for _, w := range job.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

// runCycle evaluates one user synchronously and prints the resulting
// feed next to today's anomalies and the weekly report.
func runCycle(ctx context.Context, svc *app.Service, userID string) error {
	if userID == "" {
		return errors.New("-cycle requires -user")
	}

	res, anomalies, err := svc.RunInsightCycle(ctx, userID)
	if err != nil {
		return fmt.Errorf("insight cycle: %w", err)
	}
	fmt.Printf("evaluated %d rules in %s: %d published, %d suppressed\n",
		res.Evaluated, res.Elapsed.Round(time.Millisecond), len(res.Published), res.Suppressed)

	feed, err := svc.Insights(ctx, userID)
	if err != nil {
		return fmt.Errorf("reading feed: %w", err)
	}
	for i, ins := range feed {
		fmt.Printf("%2d. [%s %.2f] %s\n", i+1, ins.Tier, ins.Confidence, ins.RenderedText)
	}

	for _, a := range anomalies {
		fmt.Printf("anomaly: %s\n", a.Text)
	}

	weekly, err := svc.WeeklyReport(ctx, userID)
	if err != nil {
		return fmt.Errorf("weekly report: %w", err)
	}
	if weekly.Current.DaysWithData > 0 {
		fmt.Printf("last 7 days: %.0f steps, avg sleep %.0f min, avg resting hr %.0f bpm (%d days with data)\n",
			weekly.Current.Steps, weekly.Current.AvgSleepMinutes, weekly.Current.AvgRestingHR, weekly.Current.DaysWithData)
	}
	return nil
}

// runForget removes the user's records, insights and job history.
func runForget(ctx context.Context, svc *app.Service, userID string) error {
	if err := svc.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	fmt.Printf("user %s forgotten\n", userID)
	return nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the service gauges on a timer.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats refreshes the queue, store and worker gauges.
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		// Average pause over the process lifetime
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
