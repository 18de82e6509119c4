// Package repository defines the durable store interface and errors.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/domain/model"
)

// Store provides read/write access to canonical records, published
// insights, and import job history.
type Store interface {
	// UpsertRecords writes a batch of canonical records atomically.
	// A record sharing its natural key (user, metric, timestamp,
	// provider) with an existing row overwrites that row. Returns the
	// number of rows written.
	UpsertRecords(ctx context.Context, records []model.Record) (int, error)

	// FetchSeries returns one user's records for a metric inside
	// [from, to], ordered by timestamp ascending.
	FetchSeries(ctx context.Context, userID string, metric model.MetricType, from, to time.Time) ([]model.Record, error)

	// Snapshot captures several metric series in a single transaction
	// so evaluation computes over a consistent view while ingestion
	// keeps appending.
	Snapshot(ctx context.Context, userID string, metricTypes []model.MetricType, from, to time.Time) (model.Snapshot, error)

	// ReplaceInsights atomically supersedes one rule's insights whose
	// windows overlap [windowStart, windowEnd] with the given batch.
	ReplaceInsights(ctx context.Context, userID, ruleID string, windowStart, windowEnd time.Time, insights []model.Insight) error

	// Insights returns the user's feed ranked by confidence descending,
	// newest window first on ties.
	Insights(ctx context.Context, userID string) ([]model.Insight, error)

	// SaveJob upserts an import job row keyed by job ID.
	SaveJob(ctx context.Context, job *model.Job) error

	// Job returns a single import job.
	// Returns ErrNotFound if the job is unknown.
	Job(ctx context.Context, jobID uuid.UUID) (model.Job, error)

	// Jobs returns the user's import history, newest first.
	Jobs(ctx context.Context, userID string) ([]model.Job, error)

	// ActiveUsers returns the IDs of users whose records were written
	// at or after the given instant.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	// DeleteUser removes every record, insight, and job belonging to
	// the user.
	DeleteUser(ctx context.Context, userID string) error

	// Count returns the number of canonical records stored.
	Count(ctx context.Context) int

	// Close releases the underlying database.
	Close() error
}
