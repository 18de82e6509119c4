package repository

// initSchema creates the tables and indexes when they do not exist.
// Timestamps are stored as RFC3339 UTC text so string comparison
// matches chronological order.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		user_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		provider TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		source_hash TEXT NOT NULL DEFAULT '',
		written_at TEXT NOT NULL,
		PRIMARY KEY (user_id, metric, timestamp, provider)
	);

	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		lag_days INTEGER NOT NULL,
		effect_size REAL NOT NULL,
		p_value REAL NOT NULL,
		sample_count INTEGER NOT NULL,
		confidence REAL NOT NULL,
		tier TEXT NOT NULL,
		rendered_text TEXT NOT NULL,
		computed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		provider TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		persisted_count INTEGER NOT NULL,
		skipped_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		warnings TEXT NOT NULL DEFAULT '[]',
		error_log TEXT NOT NULL DEFAULT '',
		source_hash TEXT NOT NULL DEFAULT '',
		dry_run INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_series ON records(user_id, metric, timestamp);
	CREATE INDEX IF NOT EXISTS idx_records_written ON records(written_at);
	CREATE INDEX IF NOT EXISTS idx_insights_feed ON insights(user_id, confidence DESC, window_end DESC);
	CREATE INDEX IF NOT EXISTS idx_insights_windows ON insights(user_id, rule_id, window_start, window_end);
	CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}
