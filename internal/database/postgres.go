package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ocr-ingest/internal/database/migrations"
	"ocr-ingest/internal/ingest"
)

// PostgresStore implements ingest.ProgressStore on a pgx connection pool.
// It is safe for use by concurrent workers.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock ingest.Clock
	url   string
}

var _ ingest.ProgressStore = (*PostgresStore)(nil)

// ConnectPostgres creates a pool for databaseURL and pings it.
// Connection failures wrap ingest.ErrStoreUnavailable.
func ConnectPostgres(ctx context.Context, databaseURL string, maxConns int32, clock ingest.Clock) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pool: %v", ingest.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ingest.ErrStoreUnavailable, err)
	}

	if clock == nil {
		clock = ingest.RealClock{}
	}
	return &PostgresStore{pool: pool, clock: clock, url: databaseURL}, nil
}

// now is the store clock in UTC.
func (s *PostgresStore) now() time.Time {
	return s.clock.Now().UTC()
}

// Migrate applies the embedded migrations for this dialect.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := migrations.MigrateUpURL(s.url); err != nil {
		return classify(fmt.Errorf("migrating: %w", err))
	}
	return nil
}

// CheckSchema verifies the schema is at the latest migration.
func (s *PostgresStore) CheckSchema(ctx context.Context) error {
	if err := migrations.CheckMigrationStatusURL(s.url); err != nil {
		return classify(fmt.Errorf("checking schema: %w", err))
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Archive operations

// RecordArchiveStatus upserts the status of an archive, leaving its diagnostic alone.
func (s *PostgresStore) RecordArchiveStatus(ctx context.Context, path string, status ingest.ArchiveStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO zips (file_path, status, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (file_path) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		path, string(status), s.now())
	if err != nil {
		return classify(fmt.Errorf("recording status of %s: %w", path, err))
	}
	return nil
}

// RecordArchiveError upserts the diagnostic of an archive, leaving its status alone.
func (s *PostgresStore) RecordArchiveError(ctx context.Context, path string, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO zips (file_path, error_data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (file_path) DO UPDATE SET error_data = EXCLUDED.error_data, updated_at = EXCLUDED.updated_at`,
		path, message, s.now())
	if err != nil {
		return classify(fmt.Errorf("recording error of %s: %w", path, err))
	}
	return nil
}

// RecordArchiveOutcome writes the final status and diagnostic together.
func (s *PostgresStore) RecordArchiveOutcome(ctx context.Context, path string, status ingest.ArchiveStatus, message string) error {
	var errorData *string
	if message != "" {
		errorData = &message
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO zips (file_path, status, error_data, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_path) DO UPDATE SET
			status = EXCLUDED.status, error_data = EXCLUDED.error_data, updated_at = EXCLUDED.updated_at`,
		path, string(status), errorData, s.now())
	if err != nil {
		return classify(fmt.Errorf("recording outcome of %s: %w", path, err))
	}
	return nil
}

// IsArchiveCompleted reports whether the archive's stored status is completed.
func (s *PostgresStore) IsArchiveCompleted(ctx context.Context, path string) (bool, error) {
	var status *string
	err := s.pool.QueryRow(ctx, "SELECT status FROM zips WHERE file_path = $1", path).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("checking archive %s: %w", path, err))
	}
	return status != nil && *status == string(ingest.ArchiveCompleted), nil
}

// ClaimArchive takes the archive in one upsert, so the completion and lease
// checks and the status change are atomic.
func (s *PostgresStore) ClaimArchive(ctx context.Context, path string, now, staleBefore time.Time, force bool) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO zips (file_path, status, error_data, updated_at) VALUES ($1, 'downloading', NULL, $2)
		ON CONFLICT (file_path) DO UPDATE SET
			status = 'downloading', error_data = NULL, updated_at = EXCLUDED.updated_at
		WHERE $4::boolean
			OR zips.status IS NULL
			OR zips.status NOT IN ('downloading', 'extracting', 'completed')
			OR (zips.status <> 'completed' AND (zips.updated_at IS NULL OR zips.updated_at < $3))
		RETURNING id`,
		path, now.UTC(), staleBefore.UTC(), force).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("claiming archive %s: %w", path, err))
	}
	return true, nil
}

// RegisterArchive returns the archive's id, inserting the row if it is missing.
func (s *PostgresStore) RegisterArchive(ctx context.Context, path string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO zips (file_path, status, updated_at) VALUES ($1, 'extracting', $2)
		ON CONFLICT (file_path) DO NOTHING
		RETURNING id`,
		path, s.now()).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, classify(fmt.Errorf("registering archive %s: %w", path, err))
	}

	// the row already existed
	if err := s.pool.QueryRow(ctx, "SELECT id FROM zips WHERE file_path = $1", path).Scan(&id); err != nil {
		return 0, classify(fmt.Errorf("looking up archive %s: %w", path, err))
	}
	return id, nil
}

// FindArchive returns the archive row for path, or nil if there is none.
func (s *PostgresStore) FindArchive(ctx context.Context, path string) (*ingest.Archive, error) {
	var (
		a         ingest.Archive
		status    *string
		errorData *string
		updatedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, file_path, status, error_data, updated_at FROM zips WHERE file_path = $1", path).
		Scan(&a.ID, &a.Path, &status, &errorData, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("finding archive %s: %w", path, err))
	}
	a.Status = ingest.ArchiveStatus(deref(status))
	a.ErrorData = deref(errorData)
	if updatedAt != nil {
		a.UpdatedAt = *updatedAt
	}
	return &a, nil
}

// CountArchivesByStatus groups archives by status. A NULL status counts under "".
func (s *PostgresStore) CountArchivesByStatus(ctx context.Context) (map[ingest.ArchiveStatus]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT COALESCE(status, ''), COUNT(*) FROM zips GROUP BY 1")
	if err != nil {
		return nil, classify(fmt.Errorf("counting archives: %w", err))
	}
	defer rows.Close()

	counts := make(map[ingest.ArchiveStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning archive count: %w", err)
		}
		counts[ingest.ArchiveStatus(status)] = int(n)
	}
	return counts, classify(rows.Err())
}

// PurgeArchive deletes the archive row. Its files go with it by cascade.
func (s *PostgresStore) PurgeArchive(ctx context.Context, path string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM zips WHERE file_path = $1", path)
	if err != nil {
		return false, classify(fmt.Errorf("purging archive %s: %w", path, err))
	}
	return tag.RowsAffected() > 0, nil
}

// File operations

// RecordFileOutcome upserts the file row for outcome.Path.
func (s *PostgresStore) RecordFileOutcome(ctx context.Context, outcome ingest.FileOutcome) error {
	text, errorData := outcomeColumns(outcome)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (zips_id, file_path, ocr_text, error_data, status, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_path) DO UPDATE SET
			zips_id = EXCLUDED.zips_id, ocr_text = EXCLUDED.ocr_text, error_data = EXCLUDED.error_data,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		outcome.ArchiveID, outcome.Path, text, errorData, string(outcome.Status), s.now())
	if err != nil {
		return classify(fmt.Errorf("recording file %s: %w", outcome.Path, err))
	}
	return nil
}

// IsFileCompleted reports whether the file's stored status is completed.
func (s *PostgresStore) IsFileCompleted(ctx context.Context, path string) (bool, error) {
	var status *string
	err := s.pool.QueryRow(ctx, "SELECT status FROM files WHERE file_path = $1", path).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("checking file %s: %w", path, err))
	}
	return status != nil && *status == string(ingest.FileCompleted), nil
}

// ListArchiveFiles returns the files of an archive ordered by path.
func (s *PostgresStore) ListArchiveFiles(ctx context.Context, archiveID int64) ([]*ingest.File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, zips_id, file_path, ocr_text, error_data, status, updated_at
		FROM files WHERE zips_id = $1 ORDER BY file_path`, archiveID)
	if err != nil {
		return nil, classify(fmt.Errorf("listing files of archive %d: %w", archiveID, err))
	}
	defer rows.Close()

	var files []*ingest.File
	for rows.Next() {
		var (
			f         ingest.File
			zipsID    *int64
			text      *string
			errorData *string
			status    *string
			updatedAt *time.Time
		)
		if err := rows.Scan(&f.ID, &zipsID, &f.Path, &text, &errorData, &status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		if zipsID != nil {
			f.ArchiveID = *zipsID
		}
		f.Text = deref(text)
		f.ErrorData = deref(errorData)
		f.Status = ingest.FileStatus(deref(status))
		if updatedAt != nil {
			f.UpdatedAt = *updatedAt
		}
		files = append(files, &f)
	}
	return files, classify(rows.Err())
}

// Run tracking

// CreateRun inserts a running operation and returns its id.
func (s *PostgresStore) CreateRun(ctx context.Context, operation, parameters string, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO runs (operation, parameters, started_at, status) VALUES ($1, $2, $3, 'running') RETURNING id",
		operation, parameters, startedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("creating run: %w", err))
	}
	return id, nil
}

// FinishRun stamps the final status of an operation.
func (s *PostgresStore) FinishRun(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3", status, finishedAt.UTC(), id)
	if err != nil {
		return classify(fmt.Errorf("finishing run %d: %w", id, err))
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero returns all.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*ingest.Run, error) {
	query := "SELECT id, operation, parameters, started_at, finished_at, status FROM runs ORDER BY started_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("listing runs: %w", err))
	}
	defer rows.Close()

	var runs []*ingest.Run
	for rows.Next() {
		var r ingest.Run
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.StartedAt, &r.FinishedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, classify(rows.Err())
}

// classify marks connectivity failures with ingest.ErrStoreUnavailable so
// callers can tell a lost database from a rejected statement.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ingest.ErrStoreUnavailable, err)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
