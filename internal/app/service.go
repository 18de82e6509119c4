// Package service wires the ingestion and insight components into the
// one facade the CLI and the ops endpoints drive.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/adapters/ingest"
	"github.com/mirek/vita/internal/adapters/mq/queue"
	"github.com/mirek/vita/internal/adapters/mq/worker"
	"github.com/mirek/vita/internal/adapters/repository"
	"github.com/mirek/vita/internal/domain/dedupe"
	"github.com/mirek/vita/internal/domain/insight"
	"github.com/mirek/vita/internal/domain/mapper"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/internal/domain/pipeline"
	"github.com/mirek/vita/internal/domain/stats"
	"github.com/mirek/vita/internal/domain/summary"
	"github.com/mirek/vita/pkg/logger"
	"github.com/mirek/vita/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultDBPath          = "vita.db"
	defaultQueueSize       = 1024
	defaultDedupeSize      = 10_000
	defaultMaxAttempts     = 3
	defaultTimezone        = "UTC"
	defaultInsightInterval = 6 * time.Hour
	defaultInsightBudget   = 30 * time.Second
)

// anomalyMetrics are the series the trailing-baseline checks read.
var anomalyMetrics = []model.MetricType{
	model.MetricHRV,
	model.MetricRestingHeartRate,
	model.MetricSleepDuration,
}

// Service owns the ingestion pipeline, the job queue and the insight
// engine for one process.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	guard    dedupe.Guard
	queue    *queue.PartitionedQueue
	pipeline *pipeline.Pipeline
	pool     *worker.Pool
	engine   *insight.Engine

	// Configuration
	dbPath          string
	workerCount     int
	queueSize       int
	dedupeSize      int
	maxAttempts     int
	retryBackoff    time.Duration
	timezone        string
	rules           []insight.Rule
	mapping         *mapper.Table
	insightInterval time.Duration
	insightBudget   time.Duration

	// Insight cycles in flight, cancellable per user on deletion.
	cycleMu      sync.Mutex
	cycleCancels map[string]context.CancelFunc

	// State
	started   bool
	ownStore  bool
	startedAt time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects an already open store. The caller keeps ownership
// and closes it; Stop will not.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
			s.ownStore = false
		}
	}
}

// WithDBPath sets the SQLite database location for the store the
// service opens itself.
func WithDBPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.dbPath = path
		}
	}
}

// WithWorkerCount sets the number of ingestion workers. It also fixes
// the queue partition count, so it bounds how many users ingest in
// parallel.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds each queue partition's buffered jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize caps the in-flight duplicate-submission guard.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxAttempts bounds executions per job including the first.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between job retry attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBackoff = d
		}
	}
}

// WithRules replaces the built-in insight rule set.
func WithRules(rules []insight.Rule) Option {
	return func(s *Service) {
		if len(rules) > 0 {
			s.rules = rules
		}
	}
}

// WithMapping overlays the built-in canonical mapping table.
func WithMapping(t *mapper.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.mapping = t
		}
	}
}

// WithInsightInterval sets the period between scheduler sweeps.
func WithInsightInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.insightInterval = d
		}
	}
}

// WithInsightBudget caps one user's evaluation cycle.
func WithInsightBudget(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.insightBudget = d
		}
	}
}

// WithDefaultTimezone sets the IANA zone applied to provider rows that
// carry no UTC offset.
func WithDefaultTimezone(tz string) Option {
	return func(s *Service) {
		if tz != "" {
			s.timezone = tz
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:          defaultDBPath,
		workerCount:     runtime.NumCPU(),
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		maxAttempts:     defaultMaxAttempts,
		timezone:        defaultTimezone,
		insightInterval: defaultInsightInterval,
		insightBudget:   defaultInsightBudget,
		cycleCancels:    make(map[string]context.CancelFunc),
		stopCh:          make(chan struct{}),
		logger:          nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting vita service...")

	if s.store == nil {
		st, err := repository.New(ctx, s.dbPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		s.store = st
		s.ownStore = true
	}

	s.guard = dedupe.NewInMemoryGuard(
		dedupe.WithMaxSize(s.dedupeSize),
	)

	mapperOpts := []mapper.Option{}
	if s.mapping != nil {
		mapperOpts = append(mapperOpts, mapper.WithTable(s.mapping))
	}
	s.pipeline = pipeline.New(s.store, ingest.NewRegistry(), mapper.New(mapperOpts...),
		pipeline.WithMaxAttempts(s.maxAttempts),
		pipeline.WithTimezone(s.timezone),
	)

	s.queue = queue.NewPartitionedQueue(
		queue.WithPartitions(s.workerCount),
		queue.WithPartitionSize(s.queueSize),
	)

	workerOpts := []worker.Option{}
	if s.retryBackoff > 0 {
		workerOpts = append(workerOpts, worker.WithRetryDelay(s.retryBackoff))
	}
	s.pool = worker.NewPool(s.queue, s.pipeline, s.guard, workerOpts...)
	s.pool.Start(ctx)

	engineOpts := []insight.Option{insight.WithBudget(s.insightBudget)}
	if len(s.rules) > 0 {
		engineOpts = append(engineOpts, insight.WithRules(s.rules))
	}
	s.engine = insight.New(s.store, engineOpts...)

	s.stopCh = make(chan struct{})
	s.startScheduler(ctx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "vita service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
	)

	return nil
}

// Stop gracefully shuts down the service. Queued jobs drain before the
// workers stop; in-flight insight cycles are aborted.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	pool := s.pool
	store := s.store
	ownStore := s.ownStore
	if ownStore {
		// Start reopens the store on a restart.
		s.store = nil
	}
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping vita service...")

	// Abort in-flight insight cycles; the next sweep recomputes them.
	s.cycleMu.Lock()
	for _, cancel := range s.cycleCancels {
		cancel()
	}
	s.cycleMu.Unlock()

	// Signal the scheduler to stop
	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}
	s.wg.Wait()

	if pool != nil {
		_ = pool.Shutdown(ctx)
	}

	if ownStore && store != nil {
		_ = store.Close()
	}

	s.logger.Info(ctx, "vita service stopped")
}

// IngestFile submits one export file for background ingestion and
// returns the job as queued. Dry runs instead execute synchronously,
// bypass the duplicate guard and return the finished job without a
// single store write.
func (s *Service) IngestFile(ctx context.Context, userID, path string, declared model.Provider, dryRun bool) (model.Job, error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return model.Job{}, ErrNotStarted
	}
	store := s.store
	guard := s.guard
	q := s.queue
	pl := s.pipeline
	s.mu.RUnlock()

	hash, err := hashFile(path)
	if err != nil {
		return model.Job{}, fmt.Errorf("hashing export: %w", err)
	}

	job := model.NewJob(userID, path, declared)
	job.SourceHash = hash
	job.DryRun = dryRun

	if dryRun {
		if err := pl.RunFile(ctx, job); err != nil {
			return *job, err
		}
		return *job, nil
	}

	key := dedupe.Key(userID, hash)
	if !guard.Acquire(ctx, key) {
		metrics.RecordDuplicateSubmission()
		return model.Job{}, fmt.Errorf("%w: %s", ErrDuplicateSubmission, path)
	}

	// Persist the queued row before handing the job to the workers so
	// the submission is visible immediately. The pipeline owns every
	// save after this one.
	if err := store.SaveJob(ctx, job); err != nil {
		guard.Release(ctx, key)
		return model.Job{}, fmt.Errorf("saving job: %w", err)
	}

	submitted := *job
	if !q.Enqueue(ctx, job) {
		guard.Release(ctx, key)
		return model.Job{}, queue.ErrQueueFull
	}

	s.logger.Info(ctx, "export submitted",
		logger.String("job_id", submitted.ID.String()),
		logger.String("user_id", userID),
		logger.String("provider", string(declared)),
		logger.String("file", path),
	)
	return submitted, nil
}

// RunInsightCycle evaluates one user's rules immediately and reports
// today's baseline anomalies next to the cycle result.
func (s *Service) RunInsightCycle(ctx context.Context, userID string) (insight.CycleResult, []summary.Anomaly, error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return insight.CycleResult{}, nil, ErrNotStarted
	}
	engine := s.engine
	store := s.store
	s.mu.RUnlock()

	cctx, cancel := context.WithCancel(ctx)
	s.trackCycle(userID, cancel)
	defer s.releaseCycle(userID)

	res, err := engine.RunCycle(cctx, userID)
	if err != nil {
		return res, nil, err
	}

	anomalies, err := s.detectAnomalies(cctx, store, userID)
	if err != nil {
		// The cycle already published; anomaly detection is best effort.
		s.logger.Warn(ctx, "anomaly detection failed",
			logger.String("user_id", userID),
			logger.Error(err),
		)
	}
	return res, anomalies, nil
}

// Insights returns the user's current feed, ranked by confidence.
func (s *Service) Insights(ctx context.Context, userID string) ([]model.Insight, error) {
	store, err := s.runningStore()
	if err != nil {
		return nil, err
	}
	return store.Insights(ctx, userID)
}

// Job returns one submission's current state.
func (s *Service) Job(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	store, err := s.runningStore()
	if err != nil {
		return model.Job{}, err
	}
	return store.Job(ctx, jobID)
}

// Jobs returns the user's submission history, newest first.
func (s *Service) Jobs(ctx context.Context, userID string) ([]model.Job, error) {
	store, err := s.runningStore()
	if err != nil {
		return nil, err
	}
	return store.Jobs(ctx, userID)
}

// DailySummary rolls today's records up into one summary row.
func (s *Service) DailySummary(ctx context.Context, userID string) (summary.Daily, error) {
	store, err := s.runningStore()
	if err != nil {
		return summary.Daily{}, err
	}

	now := time.Now()
	day := stats.DayOf(now)
	snap, err := store.Snapshot(ctx, userID, model.AllMetricTypes(), day, now)
	if err != nil {
		return summary.Daily{}, err
	}
	return summary.BuildDaily(snap, day), nil
}

// WeeklyReport aggregates the user's last seven days against the seven
// before them.
func (s *Service) WeeklyReport(ctx context.Context, userID string) (summary.Weekly, error) {
	store, err := s.runningStore()
	if err != nil {
		return summary.Weekly{}, err
	}

	now := time.Now()
	end := stats.DayOf(now)
	from := end.AddDate(0, 0, -13)
	snap, err := store.Snapshot(ctx, userID, model.AllMetricTypes(), from, now)
	if err != nil {
		return summary.Weekly{}, err
	}
	return summary.WeeklyReport(snap, now), nil
}

// DeleteUser removes every stored trace of the user: records, insights
// and job history. An in-flight insight cycle for the user is aborted
// first so it cannot republish from deleted data.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	store, err := s.runningStore()
	if err != nil {
		return err
	}

	s.cycleMu.Lock()
	if cancel, ok := s.cycleCancels[userID]; ok {
		cancel()
	}
	s.cycleMu.Unlock()

	if err := store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user forgotten", logger.String("user_id", userID))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	st := map[string]interface{}{
		"started":      s.started,
		"worker_count": s.workerCount,
		"queue_size":   s.queueSize,
		"dedupe_size":  s.dedupeSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		totalRecords := s.store.Count(ctx)

		st["queue_length"] = queueLen
		st["total_records"] = totalRecords
		st["pending_claims"] = s.guard.Size()
		st["uptime_seconds"] = int(time.Since(s.startedAt).Seconds())

		// Update metrics
		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateStoreRecordsTotal(totalRecords)
		metrics.UpdateWorkerCount(s.workerCount)
	}

	return st
}

// startScheduler periodically evaluates insights for every user with
// recently written data.
func (s *Service) startScheduler(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.insightInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep runs one insight cycle per user active inside the last two
// scheduler periods.
func (s *Service) sweep(ctx context.Context) {
	store, err := s.runningStore()
	if err != nil {
		return
	}

	since := time.Now().Add(-2 * s.insightInterval)
	users, err := store.ActiveUsers(ctx, since)
	if err != nil {
		s.logger.Warn(ctx, "active user sweep failed", logger.Error(err))
		return
	}

	for _, userID := range users {
		if _, _, err := s.RunInsightCycle(ctx, userID); err != nil {
			s.logger.Warn(ctx, "insight cycle failed",
				logger.String("user_id", userID),
				logger.Error(err),
			)
		}
	}
}

// detectAnomalies snapshots the trailing baseline window ending today
// and runs the deviation checks over it.
func (s *Service) detectAnomalies(ctx context.Context, store repository.Store, userID string) ([]summary.Anomaly, error) {
	now := time.Now()
	today := stats.DayOf(now)
	from := today.AddDate(0, 0, -summary.BaselineWindowDays)

	snap, err := store.Snapshot(ctx, userID, anomalyMetrics, from, now)
	if err != nil {
		return nil, err
	}

	anomalies := summary.DetectAnomalies(snap, now)
	for _, a := range anomalies {
		metrics.RecordAnomalyDetected()
		s.logger.Info(ctx, "anomaly detected",
			logger.String("user_id", a.UserID),
			logger.String("metric", string(a.Metric)),
			logger.String("kind", a.Kind),
			logger.Float64("value", a.Value),
			logger.Float64("baseline", a.Baseline),
		)
	}
	return anomalies, nil
}

// runningStore returns the store while the service is started.
func (s *Service) runningStore() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// trackCycle registers the cancel func that lets user deletion abort
// the user's in-flight cycle.
func (s *Service) trackCycle(userID string, cancel context.CancelFunc) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.cycleCancels[userID] = cancel
}

// releaseCycle drops the registration once the cycle finishes.
func (s *Service) releaseCycle(userID string) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	if cancel, ok := s.cycleCancels[userID]; ok {
		cancel()
		delete(s.cycleCancels, userID)
	}
}

// hashFile returns the hex sha256 of the file content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
