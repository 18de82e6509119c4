// Package worker runs the partition-pinned goroutines that execute
// ingestion jobs off the queue.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/domain/dedupe"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/logger"
	"github.com/mirek/vita/pkg/metrics"
)

// Default worker configuration constants.
const (
	retryBaseDelay        = 250 * time.Millisecond
	retryJitterFraction   = 0.2
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Job abstracts what workers read off the queue.
// Using the model.Job type for consistency.
type Job = model.Job

// Result is the reported outcome of one terminal job.
type Result struct {
	JobID          uuid.UUID
	UserID         string
	FinalState     model.JobState
	PersistedCount int
	WarningCount   int
	ErrorLog       string
}

// ResultOf summarizes a job that reached a terminal state.
func ResultOf(job *Job) Result {
	return Result{
		JobID:          job.ID,
		UserID:         job.UserID,
		FinalState:     job.State,
		PersistedCount: job.PersistedCount,
		WarningCount:   job.WarningCount,
		ErrorLog:       job.ErrorLog,
	}
}

// Runner executes one ingestion attempt for a job. An attempt leaves
// the job terminal, or back in queued when a storage failure deserves
// another try.
type Runner interface {
	RunFile(ctx context.Context, job *Job) error
}

// Releaser frees a job's in-flight duplicate claim once the job
// reaches a terminal state.
type Releaser interface {
	Release(ctx context.Context, key string)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context, partition int) <-chan *Job
	Partitions() int
}

// Worker processes one partition's jobs using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// The job in flight finishes before the worker stops.
	Shutdown(ctx context.Context) error
}

// PartitionWorker implements Worker pinned to a single queue partition,
// so one user's jobs never interleave.
type PartitionWorker struct {
	queue     Queue
	runner    Runner
	releaser  Releaser
	partition int
	name      string
	retryBase time.Duration
	active    *atomic.Int64 // shared with the pool, may be nil

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewPartitionWorker creates a worker for one partition with
// configuration options.
func NewPartitionWorker(queue Queue, runner Runner, releaser Releaser, partition int, opts ...Option) *PartitionWorker {
	w := &PartitionWorker{
		queue:     queue,
		runner:    runner,
		releaser:  releaser,
		partition: partition,
		name:      "worker-" + strconv.Itoa(partition), // default name
		retryBase: retryBaseDelay,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *PartitionWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx, w.partition)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				// Channel closed, worker should stop
				return
			}
			w.processJob(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *PartitionWorker) Shutdown(ctx context.Context) error {
	// Signal shutdown
	close(w.shutdown)

	// Wait for the worker to finish or the context to time out
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob executes a job to its terminal state, sleeping between
// retryable storage attempts. The claim on the job's source file is
// released whichever way the job ends.
func (w *PartitionWorker) processJob(ctx context.Context, job *Job) {
	if w.active != nil {
		w.active.Add(1)
		defer w.active.Add(-1)
	}
	start := time.Now()

loop:
	for {
		if err := w.runner.RunFile(ctx, job); err != nil {
			metrics.RecordWorkerError()
			w.logger.Error(ctx, "ingestion attempt failed",
				logger.String("job_id", job.ID.String()),
				logger.String("user_id", job.UserID),
				logger.Int("attempts", job.Attempts),
				logger.Error(err),
			)
		}
		if job.State != model.JobQueued {
			break
		}

		// Re-queued by the pipeline for another storage attempt
		delay := w.retryDelay(job.Attempts)
		metrics.RecordWorkerRetry()
		w.logger.Warn(ctx, "retrying job after storage failure",
			logger.String("job_id", job.ID.String()),
			logger.Int("attempts", job.Attempts),
			logger.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-w.shutdown:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if job.State.Terminal() {
		metrics.RecordJobTerminal(string(job.State))
		metrics.RecordJobDuration(float64(time.Since(start).Milliseconds()))

		res := ResultOf(job)
		w.logger.Info(ctx, "job finished",
			logger.String("job_id", res.JobID.String()),
			logger.String("user_id", res.UserID),
			logger.String("state", string(res.FinalState)),
			logger.Int("persisted", res.PersistedCount),
			logger.Int("warnings", res.WarningCount),
		)
	}
	if job.SourceHash != "" {
		w.releaser.Release(ctx, dedupe.Key(job.UserID, job.SourceHash))
	}
}

// retryDelay doubles from the base per attempt, with up to 20% jitter
// either way so colliding retries spread out.
func (w *PartitionWorker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(w.retryBase) * float64(uint64(1)<<uint(attempt-1))
	jitter := 1 + retryJitterFraction*(2*rand.Float64()-1)
	return time.Duration(d * jitter)
}

// Pool manages one worker per queue partition.
type Pool struct {
	workers []*PartitionWorker
	queue   Queue
	active  atomic.Int64

	// Shutdown control
	shutdown chan struct{}

	// Logging
	logger logger.Logger
}

// NewPool creates a pool with one worker pinned to each partition.
// Options are applied to every worker.
func NewPool(queue Queue, runner Runner, releaser Releaser, opts ...Option) *Pool {
	n := queue.Partitions()
	p := &Pool{
		workers:  make([]*PartitionWorker, n),
		queue:    queue,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	for i := 0; i < n; i++ {
		w := NewPartitionWorker(queue, runner, releaser, i, opts...)
		w.active = &p.active
		p.workers[i] = w
	}

	// Initialize worker metrics
	metrics.UpdateWorkerCount(n)
	metrics.UpdateWorkerActiveCount(0)

	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}

	// Start metrics updater
	go p.startMetricsUpdater(ctx)
}

// startMetricsUpdater periodically publishes the active worker gauge.
func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			metrics.UpdateWorkerActiveCount(int(p.active.Load()))
		}
	}
}

// Shutdown gracefully shuts down the entire pool: the queue stops
// accepting new jobs, then each worker drains its partition.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue so the dequeue channels drain and close
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	close(p.shutdown)

	// Wait for all workers to finish or the grace period to lapse
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("partition", i))
		}
	}

	metrics.UpdateWorkerCount(0)
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
