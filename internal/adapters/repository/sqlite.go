package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/metrics"
	_ "modernc.org/sqlite"
)

// Default store configuration constants.
const (
	defaultMetricsUpdateInterval = 5 * time.Second

	// MemoryPath opens a private in-memory database, used by tests.
	MemoryPath = ":memory:"
)

// SQLiteStore is the Store implementation backed by a pure-Go SQLite
// database. One file holds records, insights, and job history so a
// single import stays atomic without external coordination.
type SQLiteStore struct {
	db                    *sql.DB
	path                  string
	metricsUpdateInterval time.Duration

	closed atomic.Bool

	// Background metrics management
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New opens or creates the database at path and initializes the
// schema. The context bounds the background metrics goroutine.
func New(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:                    db,
		path:                  path,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	if err := s.configurePragmas(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Initialize metrics
	metrics.UpdateStoreRecordsTotal(s.Count(ctx))
	s.startMetricsUpdater(ctx)

	return s, nil
}

// configurePragmas tunes the connection for concurrent readers with a
// single writer.
func (s *SQLiteStore) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// startMetricsUpdater starts a background goroutine that refreshes the
// stored-records gauge at the configured interval.
func (s *SQLiteStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateStoreRecordsTotal(s.Count(ctx))
			}
		}
	}()
}

// Close stops the background goroutine and closes the database.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	return s.db.Close()
}

// UpsertRecords implements Store.UpsertRecords. The batch is written
// in one transaction so a failed import leaves no partial data.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []model.Record) (int, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpsertLatency(float64(time.Since(start).Milliseconds()))
	}()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (user_id, metric, timestamp, provider, value, unit, source_hash, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, metric, timestamp, provider) DO UPDATE SET
			value = excluded.value,
			unit = excluded.unit,
			source_hash = excluded.source_hash,
			written_at = excluded.written_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	writtenAt := timeText(time.Now())
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.UserID,
			string(r.Metric),
			timeText(r.Timestamp),
			string(r.Provider),
			r.Value,
			r.Unit,
			r.SourceHash,
			writtenAt,
		)
		if err != nil {
			metrics.RecordErrorByComponent("store", "upsert")
			return 0, fmt.Errorf("upsert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordErrorByComponent("store", "upsert")
		return 0, fmt.Errorf("commit upsert: %w", err)
	}

	metrics.UpdateStoreRecordsTotal(s.Count(ctx))
	return len(records), nil
}

// FetchSeries implements Store.FetchSeries.
func (s *SQLiteStore) FetchSeries(ctx context.Context, userID string, metric model.MetricType, from, to time.Time) ([]model.Record, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectSeriesQuery, userID, string(metric), timeText(from), timeText(to))
	if err != nil {
		metrics.RecordErrorByComponent("store", "query")
		return nil, fmt.Errorf("fetch series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Snapshot implements Store.Snapshot. All series are read inside one
// transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context, userID string, metricTypes []model.MetricType, from, to time.Time) (model.Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	snap := model.Snapshot{
		UserID:  userID,
		From:    from.UTC(),
		To:      to.UTC(),
		TakenAt: time.Now().UTC(),
		Series:  make(map[model.MetricType][]model.Record, len(metricTypes)),
	}

	if s.closed.Load() {
		return snap, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, metric := range metricTypes {
		rows, err := tx.QueryContext(ctx, selectSeriesQuery, userID, string(metric), timeText(from), timeText(to))
		if err != nil {
			metrics.RecordErrorByComponent("store", "query")
			return snap, fmt.Errorf("snapshot %s: %w", metric, err)
		}
		series, err := scanRecords(rows)
		_ = rows.Close()
		if err != nil {
			return snap, fmt.Errorf("snapshot %s: %w", metric, err)
		}
		snap.Series[metric] = series
	}

	return snap, nil
}

// ReplaceInsights implements Store.ReplaceInsights. The delete and the
// inserts share one transaction so readers never see a half-replaced
// window.
func (s *SQLiteStore) ReplaceInsights(ctx context.Context, userID, ruleID string, windowStart, windowEnd time.Time, insights []model.Insight) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreUpsertLatency(float64(time.Since(start).Milliseconds()))
	}()

	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM insights
		WHERE user_id = ? AND rule_id = ? AND window_end >= ? AND window_start <= ?
	`, userID, ruleID, timeText(windowStart), timeText(windowEnd))
	if err != nil {
		metrics.RecordErrorByComponent("store", "replace")
		return fmt.Errorf("supersede insights: %w", err)
	}

	for _, ins := range insights {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO insights (id, user_id, rule_id, window_start, window_end, lag_days,
				effect_size, p_value, sample_count, confidence, tier, rendered_text, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ins.ID.String(),
			ins.UserID,
			ins.RuleID,
			timeText(ins.WindowStart),
			timeText(ins.WindowEnd),
			ins.LagDays,
			ins.EffectSize,
			ins.PValue,
			ins.SampleCount,
			ins.Confidence,
			string(ins.Tier),
			ins.RenderedText,
			timeText(ins.ComputedAt),
		)
		if err != nil {
			metrics.RecordErrorByComponent("store", "replace")
			return fmt.Errorf("insert insight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordErrorByComponent("store", "replace")
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// Insights implements Store.Insights.
func (s *SQLiteStore) Insights(ctx context.Context, userID string) ([]model.Insight, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, rule_id, window_start, window_end, lag_days,
			effect_size, p_value, sample_count, confidence, tier, rendered_text, computed_at
		FROM insights
		WHERE user_id = ?
		ORDER BY confidence DESC, window_end DESC, rule_id ASC
	`, userID)
	if err != nil {
		metrics.RecordErrorByComponent("store", "query")
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []model.Insight
	for rows.Next() {
		var ins model.Insight
		var id, winStart, winEnd, tier, computedAt string
		err := rows.Scan(&id, &ins.UserID, &ins.RuleID, &winStart, &winEnd, &ins.LagDays,
			&ins.EffectSize, &ins.PValue, &ins.SampleCount, &ins.Confidence, &tier, &ins.RenderedText, &computedAt)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		ins.ID, _ = uuid.Parse(id)
		ins.WindowStart = parseTimeText(winStart)
		ins.WindowEnd = parseTimeText(winEnd)
		ins.Tier = model.InsightTier(tier)
		ins.ComputedAt = parseTimeText(computedAt)
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

// SaveJob implements Store.SaveJob.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.Job) error {
	if s.closed.Load() {
		return ErrClosed
	}

	warnings := "[]"
	if len(job.Warnings) > 0 {
		b, err := json.Marshal(job.Warnings)
		if err != nil {
			return fmt.Errorf("encode warnings: %w", err)
		}
		warnings = string(b)
	}

	dryRun := 0
	if job.DryRun {
		dryRun = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, file_ref, provider, state, attempts,
			persisted_count, skipped_count, warning_count, warnings, error_log,
			source_hash, dry_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider = excluded.provider,
			state = excluded.state,
			attempts = excluded.attempts,
			persisted_count = excluded.persisted_count,
			skipped_count = excluded.skipped_count,
			warning_count = excluded.warning_count,
			warnings = excluded.warnings,
			error_log = excluded.error_log,
			source_hash = excluded.source_hash,
			updated_at = excluded.updated_at
	`,
		job.ID.String(),
		job.UserID,
		job.FileRef,
		string(job.Provider),
		string(job.State),
		job.Attempts,
		job.PersistedCount,
		job.SkippedCount,
		job.WarningCount,
		warnings,
		job.ErrorLog,
		job.SourceHash,
		dryRun,
		timeText(job.CreatedAt),
		timeText(job.UpdatedAt),
	)
	if err != nil {
		metrics.RecordErrorByComponent("store", "save_job")
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Job implements Store.Job.
func (s *SQLiteStore) Job(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	if s.closed.Load() {
		return model.Job{}, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, selectJobQuery+" WHERE id = ?", jobID.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.RecordErrorByComponent("store", "not_found")
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, err
	}
	return job, nil
}

// Jobs implements Store.Jobs.
func (s *SQLiteStore) Jobs(ctx context.Context, userID string) ([]model.Job, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectJobQuery+" WHERE user_id = ? ORDER BY created_at DESC, id ASC", userID)
	if err != nil {
		metrics.RecordErrorByComponent("store", "query")
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveUsers implements Store.ActiveUsers.
func (s *SQLiteStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM records WHERE written_at >= ? ORDER BY user_id
	`, timeText(since))
	if err != nil {
		metrics.RecordErrorByComponent("store", "query")
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// DeleteUser implements Store.DeleteUser. Records, insights, and jobs
// go together so no orphaned derivative survives the user.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"records", "insights", "jobs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			metrics.RecordErrorByComponent("store", "delete_user")
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordErrorByComponent("store", "delete_user")
		return fmt.Errorf("commit delete: %w", err)
	}

	metrics.UpdateStoreRecordsTotal(s.Count(ctx))
	return nil
}

// Count implements Store.Count. Errors collapse to zero; the count
// feeds gauges and stats where an approximation beats a failure.
func (s *SQLiteStore) Count(ctx context.Context) int {
	if s.closed.Load() {
		return 0
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Shared query fragments.
const (
	selectSeriesQuery = `
		SELECT user_id, metric, timestamp, provider, value, unit, source_hash
		FROM records
		WHERE user_id = ? AND metric = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, provider ASC
	`

	selectJobQuery = `
		SELECT id, user_id, file_ref, provider, state, attempts,
			persisted_count, skipped_count, warning_count, warnings, error_log,
			source_hash, dry_run, created_at, updated_at
		FROM jobs
	`
)

// timeText renders a timestamp as RFC3339 UTC text, the stored form.
func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTimeText is the inverse of timeText. Unparseable text yields a
// zero time.
func parseTimeText(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// scanRecords drains a series result set.
func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		var r model.Record
		var metric, ts, provider string
		if err := rows.Scan(&r.UserID, &metric, &ts, &provider, &r.Value, &r.Unit, &r.SourceHash); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Metric = model.MetricType(metric)
		r.Timestamp = parseTimeText(ts)
		r.Provider = model.Provider(provider)
		records = append(records, r)
	}
	return records, rows.Err()
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row.
func scanJob(row rowScanner) (model.Job, error) {
	var job model.Job
	var id, provider, state, warnings string
	var createdAt, updatedAt string
	var dryRun int
	err := row.Scan(&id, &job.UserID, &job.FileRef, &provider, &state, &job.Attempts,
		&job.PersistedCount, &job.SkippedCount, &job.WarningCount, &warnings, &job.ErrorLog,
		&job.SourceHash, &dryRun, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, err
		}
		return model.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.ID, _ = uuid.Parse(id)
	job.Provider = model.Provider(provider)
	job.State = model.JobState(state)
	job.DryRun = dryRun != 0
	job.CreatedAt = parseTimeText(createdAt)
	job.UpdatedAt = parseTimeText(updatedAt)
	if warnings != "" && warnings != "[]" {
		_ = json.Unmarshal([]byte(warnings), &job.Warnings)
	}
	return job, nil
}
