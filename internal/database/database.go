package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"soundprint/internal/logging"
	"soundprint/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrJobNotFound is returned by GetJob for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// Database wraps a *sql.DB holding the registration job history. It is safe
// for concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Entry

	upsertJobStmt *sql.Stmt
	getJobStmt    *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures the jobs table and its indices exist. Caller should Close() it
// when finished.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	log := logging.Component(logger, "database")

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY between concurrent registrations.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: log,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	log.WithField("db_path", dbPath).Debug("Database initialized successfully")
	return db, nil
}

// createTables is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	jobsTable := `
	CREATE TABLE IF NOT EXISTS registration_jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT,
		artist TEXT,
		status TEXT NOT NULL,
		error TEXT,
		track_id TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);`

	if _, err := db.conn.Exec(jobsTable); err != nil {
		return fmt.Errorf("failed to create registration_jobs table: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_registration_jobs_status ON registration_jobs(status);",
		"CREATE INDEX IF NOT EXISTS idx_registration_jobs_created ON registration_jobs(created_at);",
	}
	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.upsertJobStmt, err = db.conn.Prepare(`
		INSERT INTO registration_jobs (id, kind, source, title, artist, status, error, track_id, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			source=excluded.source,
			title=excluded.title,
			artist=excluded.artist,
			status=excluded.status,
			error=excluded.error,
			track_id=excluded.track_id,
			completed_at=excluded.completed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert job statement: %w", err)
	}

	db.getJobStmt, err = db.conn.Prepare(`
		SELECT id, kind, source, title, artist, status, error, track_id, created_at, completed_at
		FROM registration_jobs WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get job statement: %w", err)
	}

	return nil
}

// UpsertJob inserts or updates a job record by ID. CreatedAt is only written
// on first insert.
func (db *Database) UpsertJob(job models.Job) error {
	if job.ID == "" {
		return errors.New("job id cannot be empty")
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var completedAt interface{}
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC()
	}

	_, err := db.upsertJobStmt.Exec(job.ID, job.Kind, job.Source, job.Title, job.Artist,
		string(job.Status), job.Error, job.TrackID, createdAt.UTC(), completedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job by ID or ErrJobNotFound.
func (db *Database) GetJob(id string) (*models.Job, error) {
	job, err := scanJob(db.getJobStmt.QueryRow(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// GetAllJobs returns persisted jobs, newest first. A limit <= 0 returns all.
func (db *Database) GetAllJobs(limit int) ([]models.Job, error) {
	query := `SELECT id, kind, source, title, artist, status, error, track_id, created_at, completed_at
		FROM registration_jobs ORDER BY created_at DESC, id`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CleanupJobs removes finished jobs that completed before now-maxAge and
// returns how many rows were deleted.
func (db *Database) CleanupJobs(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	result, err := db.conn.Exec(`
		DELETE FROM registration_jobs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, string(models.JobCompleted), string(models.JobFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		db.logger.WithField("jobs_deleted", removed).Info("Cleaned up finished jobs")
	}
	return removed, nil
}

// Close closes the prepared statements and the database connection.
func (db *Database) Close() error {
	for _, stmt := range []*sql.Stmt{db.upsertJobStmt, db.getJobStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var title, artist, status, errMsg, trackID sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&job.ID, &job.Kind, &job.Source, &title, &artist, &status,
		&errMsg, &trackID, &job.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	job.Title = title.String
	job.Artist = artist.String
	job.Status = models.JobStatus(status.String)
	job.Error = errMsg.String
	job.TrackID = trackID.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
