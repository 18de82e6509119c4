// Package pipeline executes ingestion jobs: parse the export, map its
// raw records to canonical ones, persist the batch, and walk the job
// state machine while doing it.
//
// Run handles exactly one attempt. A storage failure re-queues the job
// while attempts remain; every other failure is terminal.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mirek/vita/internal/adapters/ingest"
	"github.com/mirek/vita/internal/domain/mapper"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/logger"
	"github.com/mirek/vita/pkg/metrics"
)

// Default pipeline configuration constants.
const (
	defaultMaxAttempts = 3
)

// Store persists canonical records and job history.
type Store interface {
	// UpsertRecords writes a batch atomically and returns the number of
	// records written.
	UpsertRecords(ctx context.Context, records []model.Record) (int, error)

	// SaveJob persists the job's current state.
	SaveJob(ctx context.Context, job *model.Job) error
}

// Resolver selects the parsing adapter for an export file.
type Resolver interface {
	Resolve(declared model.Provider, peek []byte) (ingest.Adapter, model.Provider, error)
}

// Canonicalizer converts raw provider records into canonical ones.
type Canonicalizer interface {
	CanonicalizeAll(raws []ingest.RawRecord, prof model.Profile) ([]model.Record, mapper.Skips)
}

// Pipeline drives ingestion jobs through the state machine.
type Pipeline struct {
	store       Store
	registry    Resolver
	mapper      Canonicalizer
	maxAttempts int
	timezone    string
	logger      logger.Logger
}

// New creates a pipeline with configuration options.
func New(store Store, registry Resolver, m Canonicalizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		registry:    registry,
		mapper:      m,
		maxAttempts: defaultMaxAttempts,
		logger:      logger.Get().Named("pipeline"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RunFile opens the job's source file and executes one attempt.
func (p *Pipeline) RunFile(ctx context.Context, job *model.Job) error {
	f, err := os.Open(job.FileRef)
	if err != nil {
		// The export disappeared between submission and execution.
		job.Attempts++
		if terr := p.transition(ctx, job, model.JobParsing); terr != nil {
			return terr
		}
		return p.fail(ctx, job, fmt.Errorf("open export: %w", err))
	}
	defer f.Close()

	return p.Run(ctx, job, f)
}

// Run executes one ingestion attempt synchronously. On return the job
// is terminal, or back in queued after a retryable storage failure.
func (p *Pipeline) Run(ctx context.Context, job *model.Job, src io.Reader) error {
	job.Attempts++

	if err := p.transition(ctx, job, model.JobParsing); err != nil {
		return err
	}

	// Peek the envelope without consuming it, then hand the same reader
	// to the adapter.
	br := bufio.NewReaderSize(src, ingest.SniffLen)
	peek, _ := br.Peek(ingest.SniffLen)

	adapter, provider, err := p.registry.Resolve(job.Provider, peek)
	if err != nil {
		metrics.RecordFileUnsupported()
		metrics.RecordErrorByComponent("pipeline", "unsupported_format")
		return p.fail(ctx, job, err)
	}

	payload, err := adapter.Parse(ctx, br)
	if err != nil {
		if errors.Is(err, ingest.ErrUnsupportedFormat) {
			metrics.RecordFileUnsupported()
		}
		metrics.RecordErrorByComponent("pipeline", "parse")
		return p.fail(ctx, job, err)
	}

	// The envelope's own signature beats the declared provider.
	if payload.Provider != "" {
		job.Provider = payload.Provider
	} else {
		job.Provider = provider
	}
	metrics.RecordRowsParsed(string(job.Provider), len(payload.Records))
	if payload.MalformedRows > 0 {
		metrics.RecordRowsMalformed(string(job.Provider), payload.MalformedRows)
		p.warn(job, fmt.Sprintf("%d malformed rows skipped", payload.MalformedRows))
	}

	if err := p.transition(ctx, job, model.JobCanonicalizing); err != nil {
		return err
	}

	prof := model.Profile{UserID: job.UserID, Timezone: p.timezone}
	records, skips := p.mapper.CanonicalizeAll(payload.Records, prof)
	job.SkippedCount = skips.Total()
	for reason, n := range skips.ByReason() {
		metrics.RecordRecordsSkipped(reason, n)
		p.warn(job, fmt.Sprintf("%d records skipped: %s", n, reason))
	}
	for i := range records {
		records[i].SourceHash = job.SourceHash
	}

	if err := p.transition(ctx, job, model.JobPersisting); err != nil {
		return err
	}

	if job.DryRun {
		job.PersistedCount = len(records)
		return p.transition(ctx, job, model.JobCompleted)
	}

	var persisted int
	if len(records) > 0 {
		persisted, err = p.store.UpsertRecords(ctx, records)
		if err != nil {
			return p.requeueOrFail(ctx, job, err)
		}
	}
	job.PersistedCount = persisted
	metrics.RecordRecordsPersisted(persisted)

	if persisted == 0 {
		reason := skips.Dominant()
		if reason == "" {
			reason = "no records parsed"
		}
		return p.fail(ctx, job, fmt.Errorf("%w: %s", ErrNothingPersisted, reason))
	}

	if err := p.transition(ctx, job, model.JobCompleted); err != nil {
		return err
	}
	p.logger.Info(ctx, "job completed",
		logger.String("job_id", job.ID.String()),
		logger.String("user_id", job.UserID),
		logger.String("provider", string(job.Provider)),
		logger.Int("persisted", job.PersistedCount),
		logger.Int("skipped", job.SkippedCount),
	)
	return nil
}

// requeueOrFail routes a storage failure: re-queue while attempts
// remain, fail terminally otherwise.
func (p *Pipeline) requeueOrFail(ctx context.Context, job *model.Job, cause error) error {
	metrics.RecordErrorByComponent("pipeline", "storage")

	if job.Attempts >= p.maxAttempts {
		return p.fail(ctx, job, fmt.Errorf("persisting after %d attempts: %v", job.Attempts, cause))
	}

	p.warn(job, fmt.Sprintf("attempt %d: %v", job.Attempts, cause))
	if terr := p.transition(ctx, job, model.JobQueued); terr != nil {
		return terr
	}
	p.logger.Warn(ctx, "storage failure, job re-queued",
		logger.String("job_id", job.ID.String()),
		logger.Int("attempts", job.Attempts),
		logger.Error(cause),
	)
	return fmt.Errorf("%w: %v", ErrStorage, cause)
}

// fail marks the job terminally failed, records the cause, and returns it.
func (p *Pipeline) fail(ctx context.Context, job *model.Job, cause error) error {
	job.ErrorLog = cause.Error()
	if terr := p.transition(ctx, job, model.JobFailed); terr != nil {
		return terr
	}
	p.logger.Warn(ctx, "job failed",
		logger.String("job_id", job.ID.String()),
		logger.String("user_id", job.UserID),
		logger.Error(cause),
	)
	return cause
}

// warn attaches a partial-ingestion warning to the job.
func (p *Pipeline) warn(job *model.Job, msg string) {
	job.Warnings = append(job.Warnings, msg)
	job.WarningCount = len(job.Warnings)
}

// transition advances the job state and persists it. The state is
// mutated before the save so a failed save cannot strand the job in a
// state the worker would re-run. Dry runs are never written.
func (p *Pipeline) transition(ctx context.Context, job *model.Job, to model.JobState) error {
	if !job.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.State, to)
	}
	job.State = to
	job.UpdatedAt = time.Now().UTC()

	p.logger.Debug(ctx, "job state changed",
		logger.String("job_id", job.ID.String()),
		logger.String("state", string(to)),
	)

	if job.DryRun {
		return nil
	}
	if err := p.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
