package storage

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS recommendations (
	id                   TEXT PRIMARY KEY,
	position_key         TEXT NOT NULL UNIQUE,
	symbol               TEXT NOT NULL,
	account              TEXT NOT NULL DEFAULT '',
	option_type          TEXT NOT NULL,
	strike               REAL NOT NULL,
	expiration           TEXT NOT NULL,
	contracts            INTEGER NOT NULL,
	original_premium     REAL NOT NULL,
	status               TEXT NOT NULL,
	resolution_reason    TEXT NOT NULL DEFAULT '',
	days_active          INTEGER NOT NULL DEFAULT 0,
	last_snapshot_number INTEGER NOT NULL DEFAULT 0,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	resolved_at          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status);

CREATE TABLE IF NOT EXISTS snapshots (
	id                TEXT PRIMARY KEY,
	recommendation_id TEXT NOT NULL REFERENCES recommendations(id),
	number            INTEGER NOT NULL,
	action            TEXT NOT NULL,
	priority          TEXT NOT NULL,
	reason            TEXT NOT NULL,
	target_strike     REAL,
	target_expiration TEXT,
	target_net_cost   REAL,
	target_premium    REAL,
	detail            TEXT NOT NULL DEFAULT '',
	technical_summary TEXT NOT NULL DEFAULT '',
	rationale         TEXT NOT NULL DEFAULT '',
	market            TEXT NOT NULL DEFAULT '{}',
	action_changed    INTEGER NOT NULL DEFAULT 0,
	target_changed    INTEGER NOT NULL DEFAULT 0,
	priority_changed  INTEGER NOT NULL DEFAULT 0,
	notified          INTEGER NOT NULL DEFAULT 0,
	verdict_reason    TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	UNIQUE (recommendation_id, number)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_notified ON snapshots(notified, created_at);

CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	account     TEXT NOT NULL DEFAULT '',
	option_type TEXT NOT NULL,
	action      TEXT NOT NULL,
	strike      REAL NOT NULL,
	expiration  TEXT NOT NULL,
	premium     REAL NOT NULL,
	contracts   INTEGER NOT NULL,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);

CREATE TABLE IF NOT EXISTS matches (
	id                    TEXT PRIMARY KEY,
	day                   TEXT NOT NULL,
	recommendation_id     TEXT NOT NULL DEFAULT '',
	snapshot_id           TEXT NOT NULL DEFAULT '',
	execution_id          TEXT NOT NULL DEFAULT '',
	symbol                TEXT NOT NULL,
	classification        TEXT NOT NULL,
	recommended_action    TEXT NOT NULL DEFAULT '',
	recommended_priority  TEXT NOT NULL DEFAULT '',
	confidence            REAL NOT NULL DEFAULT 0,
	recommended_premium   REAL NOT NULL DEFAULT 0,
	strike_delta_pct      REAL NOT NULL DEFAULT 0,
	expiration_delta_days INTEGER NOT NULL DEFAULT 0,
	premium_delta_pct     REAL NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_matches_recommendation_day
	ON matches(recommendation_id, day) WHERE recommendation_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS ux_matches_independent_execution
	ON matches(execution_id) WHERE recommendation_id = '';
CREATE INDEX IF NOT EXISTS idx_matches_day ON matches(day);

CREATE TABLE IF NOT EXISTS outcomes (
	match_id             TEXT PRIMARY KEY REFERENCES matches(id) ON DELETE CASCADE,
	result               TEXT NOT NULL,
	closing_execution_id TEXT NOT NULL DEFAULT '',
	realized_premium     REAL NOT NULL,
	net_profit           REAL NOT NULL,
	closed_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_closed_at ON outcomes(closed_at);

CREATE TABLE IF NOT EXISTS weekly_summaries (
	year         INTEGER NOT NULL,
	week         INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	PRIMARY KEY (year, week)
);
`
