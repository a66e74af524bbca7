package store

// schemaSQL is applied in full on startup; every statement is idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS failures (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	run_id        TEXT NOT NULL DEFAULT '',
	test_name     TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	stack_trace   TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	environment   TEXT NOT NULL DEFAULT '',
	timestamp     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_failures_project_time ON failures(project_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(project_id, run_id);

CREATE TABLE IF NOT EXISTS classifications (
	test_case_id  TEXT PRIMARY KEY,
	primary_class TEXT NOT NULL,
	sub_class     TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	is_manual     INTEGER NOT NULL DEFAULT 0,
	classified_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS defect_groups (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL,
	signature_hash       TEXT NOT NULL,
	primary_class        TEXT NOT NULL DEFAULT '',
	sub_class            TEXT NOT NULL DEFAULT '',
	representative_error TEXT NOT NULL DEFAULT '',
	first_seen           TIMESTAMP NOT NULL,
	last_seen            TIMESTAMP NOT NULL,
	occurrence_count     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(project_id, signature_hash)
);

CREATE INDEX IF NOT EXISTS idx_groups_project_count ON defect_groups(project_id, occurrence_count);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  TEXT NOT NULL REFERENCES defect_groups(id) ON DELETE CASCADE,
	record_id TEXT NOT NULL,
	PRIMARY KEY (group_id, record_id)
);
`
