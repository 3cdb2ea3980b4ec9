package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ocr-ingest/internal/database/migrations"
	"ocr-ingest/internal/ingest"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements ingest.ProgressStore on a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	clock ingest.Clock
	path  string
}

var _ ingest.ProgressStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path. path can be a file path or
// ":memory:". A nil clock uses the wall clock for updated_at stamps.
func NewSQLiteStore(path string, clock ingest.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = ingest.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clock, path: path}, nil
}

// OpenConnection opens a SQLite database with foreign keys enabled and a busy timeout.
// The pool is limited to one connection: writers are serialized and an
// in-memory database stays the same database across calls.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ingest.ErrStoreUnavailable, err)
	}
	return db, nil
}

// now is the store clock in UTC.
func (s *SQLiteStore) now() time.Time {
	return s.clock.Now().UTC()
}

// Migrate applies the embedded migrations for this dialect.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := migrations.MigrateUp(s.db, migrations.SQLite); err != nil {
		return fmt.Errorf("migrating %s: %w", s.path, err)
	}
	return nil
}

// CheckSchema verifies the schema is at the latest migration.
func (s *SQLiteStore) CheckSchema(ctx context.Context) error {
	if err := migrations.CheckDBMigrationStatus(s.db, migrations.SQLite); err != nil {
		return fmt.Errorf("checking schema of %s: %w", s.path, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Archive operations

// RecordArchiveStatus upserts the status of an archive, leaving its diagnostic alone.
func (s *SQLiteStore) RecordArchiveStatus(ctx context.Context, path string, status ingest.ArchiveStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zips (file_path, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		path, string(status), s.now())
	if err != nil {
		return fmt.Errorf("recording status of %s: %w", path, err)
	}
	return nil
}

// RecordArchiveError upserts the diagnostic of an archive, leaving its status alone.
func (s *SQLiteStore) RecordArchiveError(ctx context.Context, path string, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zips (file_path, error_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET error_data = excluded.error_data, updated_at = excluded.updated_at`,
		path, message, s.now())
	if err != nil {
		return fmt.Errorf("recording error of %s: %w", path, err)
	}
	return nil
}

// RecordArchiveOutcome writes the final status and diagnostic together.
func (s *SQLiteStore) RecordArchiveOutcome(ctx context.Context, path string, status ingest.ArchiveStatus, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zips (file_path, status, error_data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			status = excluded.status, error_data = excluded.error_data, updated_at = excluded.updated_at`,
		path, string(status), nullIfEmpty(message), s.now())
	if err != nil {
		return fmt.Errorf("recording outcome of %s: %w", path, err)
	}
	return nil
}

// IsArchiveCompleted reports whether the archive's stored status is completed.
func (s *SQLiteStore) IsArchiveCompleted(ctx context.Context, path string) (bool, error) {
	var status sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT status FROM zips WHERE file_path = ?", path).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking archive %s: %w", path, err)
	}
	return status.String == string(ingest.ArchiveCompleted), nil
}

// ClaimArchive takes the archive in one upsert, so the completion and lease
// checks and the status change are atomic.
func (s *SQLiteStore) ClaimArchive(ctx context.Context, path string, now, staleBefore time.Time, force bool) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO zips (file_path, status, error_data, updated_at) VALUES (?, 'downloading', NULL, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			status = 'downloading', error_data = NULL, updated_at = excluded.updated_at
		WHERE ?
			OR zips.status IS NULL
			OR zips.status NOT IN ('downloading', 'extracting', 'completed')
			OR (zips.status <> 'completed' AND (zips.updated_at IS NULL OR zips.updated_at < ?))
		RETURNING id`,
		path, now.UTC(), force, staleBefore.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claiming archive %s: %w", path, err)
	}
	return true, nil
}

// RegisterArchive returns the archive's id, inserting the row if it is missing.
func (s *SQLiteStore) RegisterArchive(ctx context.Context, path string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zips (file_path, status, updated_at) VALUES (?, 'extracting', ?)
		ON CONFLICT (file_path) DO NOTHING`,
		path, s.now())
	if err != nil {
		return 0, fmt.Errorf("registering archive %s: %w", path, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM zips WHERE file_path = ?", path).Scan(&id); err != nil {
		return 0, fmt.Errorf("looking up archive %s: %w", path, err)
	}
	return id, nil
}

// FindArchive returns the archive row for path, or nil if there is none.
func (s *SQLiteStore) FindArchive(ctx context.Context, path string) (*ingest.Archive, error) {
	var (
		a         ingest.Archive
		status    sql.NullString
		errorData sql.NullString
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, file_path, status, error_data, updated_at FROM zips WHERE file_path = ?", path).
		Scan(&a.ID, &a.Path, &status, &errorData, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding archive %s: %w", path, err)
	}
	a.Status = ingest.ArchiveStatus(status.String)
	a.ErrorData = errorData.String
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

// CountArchivesByStatus groups archives by status. A NULL status counts under "".
func (s *SQLiteStore) CountArchivesByStatus(ctx context.Context) (map[ingest.ArchiveStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT COALESCE(status, ''), COUNT(*) FROM zips GROUP BY 1")
	if err != nil {
		return nil, fmt.Errorf("counting archives: %w", err)
	}
	defer rows.Close()

	counts := make(map[ingest.ArchiveStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning archive count: %w", err)
		}
		counts[ingest.ArchiveStatus(status)] = n
	}
	return counts, rows.Err()
}

// PurgeArchive deletes the archive row. Its files go with it by cascade.
func (s *SQLiteStore) PurgeArchive(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM zips WHERE file_path = ?", path)
	if err != nil {
		return false, fmt.Errorf("purging archive %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("purging archive %s: %w", path, err)
	}
	return n > 0, nil
}

// File operations

// RecordFileOutcome upserts the file row for outcome.Path.
func (s *SQLiteStore) RecordFileOutcome(ctx context.Context, outcome ingest.FileOutcome) error {
	text, errorData := outcomeColumns(outcome)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (zips_id, file_path, ocr_text, error_data, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path) DO UPDATE SET
			zips_id = excluded.zips_id, ocr_text = excluded.ocr_text, error_data = excluded.error_data,
			status = excluded.status, updated_at = excluded.updated_at`,
		outcome.ArchiveID, outcome.Path, text, errorData, string(outcome.Status), s.now())
	if err != nil {
		return fmt.Errorf("recording file %s: %w", outcome.Path, err)
	}
	return nil
}

// IsFileCompleted reports whether the file's stored status is completed.
func (s *SQLiteStore) IsFileCompleted(ctx context.Context, path string) (bool, error) {
	var status sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT status FROM files WHERE file_path = ?", path).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file %s: %w", path, err)
	}
	return status.String == string(ingest.FileCompleted), nil
}

// ListArchiveFiles returns the files of an archive ordered by path.
func (s *SQLiteStore) ListArchiveFiles(ctx context.Context, archiveID int64) ([]*ingest.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, zips_id, file_path, ocr_text, error_data, status, updated_at
		FROM files WHERE zips_id = ? ORDER BY file_path`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("listing files of archive %d: %w", archiveID, err)
	}
	defer rows.Close()

	var files []*ingest.File
	for rows.Next() {
		var (
			f         ingest.File
			zipsID    sql.NullInt64
			text      sql.NullString
			errorData sql.NullString
			status    sql.NullString
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&f.ID, &zipsID, &f.Path, &text, &errorData, &status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		f.ArchiveID = zipsID.Int64
		f.Text = text.String
		f.ErrorData = errorData.String
		f.Status = ingest.FileStatus(status.String)
		f.UpdatedAt = updatedAt.Time
		files = append(files, &f)
	}
	return files, rows.Err()
}

// Run tracking

// CreateRun inserts a running operation and returns its id.
func (s *SQLiteStore) CreateRun(ctx context.Context, operation, parameters string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (operation, parameters, started_at, status) VALUES (?, ?, ?, 'running')",
		operation, parameters, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the final status of an operation.
func (s *SQLiteStore) FinishRun(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*ingest.Run, error) {
	query := "SELECT id, operation, parameters, started_at, finished_at, status FROM runs ORDER BY started_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*ingest.Run
	for rows.Next() {
		var (
			r          ingest.Run
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.StartedAt, &finishedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// outcomeColumns returns the ocr_text and error_data values for a file outcome.
// Only a completed file stores text and only a failed one stores a diagnostic.
func outcomeColumns(o ingest.FileOutcome) (text, errorData sql.NullString) {
	switch o.Status {
	case ingest.FileCompleted:
		text = sql.NullString{String: o.Text, Valid: true}
	case ingest.FileError:
		errorData = sql.NullString{String: o.Error, Valid: true}
	}
	return text, errorData
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
