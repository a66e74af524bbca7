// Package store persists failures, classifications, and defect groups in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/reportstack/triage-engine/internal/models"
)

// Store wraps the SQLite connection used by all persistence paths.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the database at dbPath and applies the
// schema. ":memory:" is supported for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout goes first so the remaining pragmas wait on locks held by
	// a concurrently initializing process.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertFailures inserts or refreshes failure records for one project.
// Records are keyed by their backend-assigned ID, so re-ingesting a report is
// idempotent.
func (s *Store) UpsertFailures(ctx context.Context, projectID string, records []models.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO failures
		(id, project_id, run_id, test_name, error_message, stack_trace, duration_ms, environment, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			test_name = excluded.test_name,
			error_message = excluded.error_message,
			stack_trace = excluded.stack_trace,
			duration_ms = excluded.duration_ms,
			environment = excluded.environment,
			timestamp = excluded.timestamp`)
	if err != nil {
		return fmt.Errorf("prepare failure upsert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.ID,
			projectID,
			record.RunID,
			record.TestName,
			record.ErrorMessage,
			record.StackTrace,
			record.Duration.Milliseconds(),
			record.Environment,
			record.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("upsert failure %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failures: %w", err)
	}
	return nil
}

// QueryFailures returns failure records matching the filter, newest first.
func (s *Store) QueryFailures(ctx context.Context, filter models.FailureFilter, now time.Time) ([]models.FailureRecord, error) {
	query, args := failureQuery(filter, now)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var records []models.FailureRecord
	for rows.Next() {
		record, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure rows: %w", err)
	}
	return records, nil
}

func failureQuery(filter models.FailureFilter, now time.Time) (string, []interface{}) {
	start, end := filter.Range(now)

	query := `SELECT id, run_id, test_name, error_message, stack_trace, duration_ms, environment, timestamp
		FROM failures
		WHERE project_id = ? AND timestamp >= ? AND timestamp <= ?`
	args := []interface{}{filter.ProjectID, start.UTC(), end.UTC()}

	if filter.TestSearch != "" {
		query += " AND test_name LIKE ?"
		args = append(args, "%"+filter.TestSearch+"%")
	}
	if len(filter.RunIDs) > 0 {
		query += " AND run_id IN (?" + strings.Repeat(",?", len(filter.RunIDs)-1) + ")"
		for _, runID := range filter.RunIDs {
			args = append(args, runID)
		}
	}

	query += " ORDER BY timestamp DESC, id"
	return query, args
}

func scanFailure(rows *sql.Rows) (models.FailureRecord, error) {
	var record models.FailureRecord
	var durationMs int64
	if err := rows.Scan(
		&record.ID,
		&record.RunID,
		&record.TestName,
		&record.ErrorMessage,
		&record.StackTrace,
		&durationMs,
		&record.Environment,
		&record.Timestamp,
	); err != nil {
		return models.FailureRecord{}, fmt.Errorf("scan failure row: %w", err)
	}
	record.Duration = time.Duration(durationMs) * time.Millisecond
	return record, nil
}

// GetFailure returns one failure record by ID, or ErrNotFound.
func (s *Store) GetFailure(ctx context.Context, id string) (models.FailureRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, test_name, error_message, stack_trace, duration_ms, environment, timestamp
		FROM failures WHERE id = ?`, id)

	var record models.FailureRecord
	var durationMs int64
	err := row.Scan(
		&record.ID,
		&record.RunID,
		&record.TestName,
		&record.ErrorMessage,
		&record.StackTrace,
		&durationMs,
		&record.Environment,
		&record.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FailureRecord{}, fmt.Errorf("failure %s: %w", id, ErrNotFound)
		}
		return models.FailureRecord{}, fmt.Errorf("query failure: %w", err)
	}
	record.Duration = time.Duration(durationMs) * time.Millisecond
	return record, nil
}

// UpsertClassification stores a classification verdict. A manual verdict
// always wins; an automatic verdict never overwrites a stored manual one and
// returns nil in that case so classification passes stay idempotent.
func (s *Store) UpsertClassification(ctx context.Context, c models.Classification) error {
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = time.Now().UTC()
	}

	var query string
	if c.IsManual {
		query = `INSERT INTO classifications
			(test_case_id, primary_class, sub_class, confidence, is_manual, classified_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(test_case_id) DO UPDATE SET
				primary_class = excluded.primary_class,
				sub_class = excluded.sub_class,
				confidence = excluded.confidence,
				is_manual = 1,
				classified_at = excluded.classified_at`
	} else {
		query = `INSERT INTO classifications
			(test_case_id, primary_class, sub_class, confidence, is_manual, classified_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(test_case_id) DO UPDATE SET
				primary_class = excluded.primary_class,
				sub_class = excluded.sub_class,
				confidence = excluded.confidence,
				classified_at = excluded.classified_at
			WHERE classifications.is_manual = 0`
	}

	if _, err := s.db.ExecContext(ctx, query,
		c.TestCaseID, string(c.PrimaryClass), c.SubClass, c.Confidence, c.ClassifiedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upsert classification %s: %w", c.TestCaseID, err)
	}
	return nil
}

// GetClassification returns the stored verdict for one test case, or
// ErrNotFound when the case was never classified.
func (s *Store) GetClassification(ctx context.Context, testCaseID string) (models.Classification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT test_case_id, primary_class, sub_class, confidence, is_manual, classified_at
		FROM classifications WHERE test_case_id = ?`, testCaseID)

	var c models.Classification
	var primary string
	err := row.Scan(&c.TestCaseID, &primary, &c.SubClass, &c.Confidence, &c.IsManual, &c.ClassifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Classification{}, fmt.Errorf("classification %s: %w", testCaseID, ErrNotFound)
		}
		return models.Classification{}, fmt.Errorf("query classification: %w", err)
	}
	c.PrimaryClass = models.PrimaryClass(primary)
	return c, nil
}

// QueryClassified returns filtered failures joined with their stored
// classifications. Unclassified records carry an Unknown verdict with zero
// confidence so callers never need a separate lookup.
func (s *Store) QueryClassified(ctx context.Context, filter models.FailureFilter, now time.Time) ([]models.ClassifiedFailure, error) {
	start, end := filter.Range(now)

	query := `SELECT f.id, f.run_id, f.test_name, f.error_message, f.stack_trace, f.duration_ms, f.environment, f.timestamp,
			c.primary_class, c.sub_class, c.confidence, c.is_manual, c.classified_at
		FROM failures f
		LEFT JOIN classifications c ON c.test_case_id = f.id
		WHERE f.project_id = ? AND f.timestamp >= ? AND f.timestamp <= ?`
	args := []interface{}{filter.ProjectID, start.UTC(), end.UTC()}

	if filter.TestSearch != "" {
		query += " AND f.test_name LIKE ?"
		args = append(args, "%"+filter.TestSearch+"%")
	}
	if len(filter.RunIDs) > 0 {
		query += " AND f.run_id IN (?" + strings.Repeat(",?", len(filter.RunIDs)-1) + ")"
		for _, runID := range filter.RunIDs {
			args = append(args, runID)
		}
	}
	query += " ORDER BY f.timestamp DESC, f.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query classified failures: %w", err)
	}
	defer rows.Close()

	var out []models.ClassifiedFailure
	for rows.Next() {
		var cf models.ClassifiedFailure
		var durationMs int64
		var primary, subClass sql.NullString
		var confidence sql.NullFloat64
		var isManual sql.NullBool
		var classifiedAt sql.NullTime

		if err := rows.Scan(
			&cf.Record.ID,
			&cf.Record.RunID,
			&cf.Record.TestName,
			&cf.Record.ErrorMessage,
			&cf.Record.StackTrace,
			&durationMs,
			&cf.Record.Environment,
			&cf.Record.Timestamp,
			&primary,
			&subClass,
			&confidence,
			&isManual,
			&classifiedAt,
		); err != nil {
			return nil, fmt.Errorf("scan classified row: %w", err)
		}
		cf.Record.Duration = time.Duration(durationMs) * time.Millisecond

		cf.Classification = models.Classification{
			TestCaseID:   cf.Record.ID,
			PrimaryClass: models.ClassUnknown,
		}
		if primary.Valid {
			cf.Classification.PrimaryClass = models.PrimaryClass(primary.String)
			cf.Classification.SubClass = subClass.String
			cf.Classification.Confidence = confidence.Float64
			cf.Classification.IsManual = isManual.Bool
			cf.Classification.ClassifiedAt = classifiedAt.Time
		}

		out = append(out, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classified rows: %w", err)
	}
	return out, nil
}

// FindBySignature returns the project's defect group for a signature hash,
// members included, or ErrNotFound.
func (s *Store) FindBySignature(ctx context.Context, projectID, hash string) (models.DefectGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, project_id, signature_hash, primary_class, sub_class,
			representative_error, first_seen, last_seen, occurrence_count
		FROM defect_groups WHERE project_id = ? AND signature_hash = ?`, projectID, hash)

	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefectGroup{}, fmt.Errorf("group %s/%s: %w", projectID, hash, ErrNotFound)
		}
		return models.DefectGroup{}, err
	}

	group.MemberIDs, err = s.groupMembers(ctx, group.ID)
	if err != nil {
		return models.DefectGroup{}, err
	}
	return group, nil
}

// InsertGroup creates a new defect group with its members. A concurrent
// insert of the same (project, signature) pair surfaces as ErrConflict so the
// caller can re-read and merge.
func (s *Store) InsertGroup(ctx context.Context, group models.DefectGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO defect_groups
		(id, project_id, signature_hash, primary_class, sub_class, representative_error, first_seen, last_seen, occurrence_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID,
		group.ProjectID,
		group.SignatureHash,
		string(group.PrimaryClass),
		group.SubClass,
		group.RepresentativeError,
		group.FirstSeen.UTC(),
		group.LastSeen.UTC(),
		group.OccurrenceCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("group %s/%s: %w", group.ProjectID, group.SignatureHash, ErrConflict)
		}
		return fmt.Errorf("insert group: %w", err)
	}

	if err := replaceMembers(ctx, tx, group.ID, group.MemberIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group insert: %w", err)
	}
	return nil
}

// UpdateGroup rewrites a group row and its member set.
func (s *Store) UpdateGroup(ctx context.Context, group models.DefectGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE defect_groups SET
			primary_class = ?, sub_class = ?, representative_error = ?,
			first_seen = ?, last_seen = ?, occurrence_count = ?
		WHERE id = ?`,
		string(group.PrimaryClass),
		group.SubClass,
		group.RepresentativeError,
		group.FirstSeen.UTC(),
		group.LastSeen.UTC(),
		group.OccurrenceCount,
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update group rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("group %s: %w", group.ID, ErrNotFound)
	}

	if err := replaceMembers(ctx, tx, group.ID, group.MemberIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group update: %w", err)
	}
	return nil
}

// ListGroups returns a project's defect groups ordered by descending
// occurrence count, members included.
func (s *Store) ListGroups(ctx context.Context, projectID string) ([]models.DefectGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, signature_hash, primary_class, sub_class,
			representative_error, first_seen, last_seen, occurrence_count
		FROM defect_groups
		WHERE project_id = ?
		ORDER BY occurrence_count DESC, signature_hash`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.DefectGroup
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}

	for i := range groups {
		groups[i].MemberIDs, err = s.groupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (models.DefectGroup, error) {
	var group models.DefectGroup
	var primary string
	err := row.Scan(
		&group.ID,
		&group.ProjectID,
		&group.SignatureHash,
		&primary,
		&group.SubClass,
		&group.RepresentativeError,
		&group.FirstSeen,
		&group.LastSeen,
		&group.OccurrenceCount,
	)
	if err != nil {
		return models.DefectGroup{}, err
	}
	group.PrimaryClass = models.PrimaryClass(primary)
	return group, nil
}

func (s *Store) groupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM group_members WHERE group_id = ? ORDER BY record_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}
	return members, nil
}

func replaceMembers(ctx context.Context, tx *sql.Tx, groupID string, memberIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	for _, recordID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, record_id) VALUES (?, ?)`,
			groupID, recordID,
		); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
