package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/storage"
)

// JobRepository stores job history in SQLite. Timestamps are kept as RFC3339 text.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(dbConn *sql.DB) *JobRepository {
	return &JobRepository{db: dbConn}
}

// SaveJob inserts the record or overwrites the row of the same job. purged_at is
// never reset by a save.
func (r *JobRepository) SaveJob(ctx context.Context, rec storage.JobRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, source_url, format, status, file_name, error, started_at, ended_at, instance_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			file_name = excluded.file_name,
			error = excluded.error,
			ended_at = excluded.ended_at,
			instance_id = excluded.instance_id
	`,
		rec.JobID, rec.SourceURL, rec.Format, rec.Status, nullString(rec.FileName), nullString(rec.Error),
		formatTime(rec.StartedAt), nullTime(rec.EndedAt), rec.InstanceID,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.JobID, err)
	}

	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, jobID string) (storage.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, source_url, format, status, file_name, error, started_at, ended_at, purged_at, instance_id
		FROM jobs WHERE job_id = ?`, jobID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.JobRecord{}, storage.ErrNotFound
	}

	return rec, err
}

func (r *JobRepository) GetUnpurgedCompleted(ctx context.Context) ([]storage.JobRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, source_url, format, status, file_name, error, started_at, ended_at, purged_at, instance_id
		FROM jobs
		WHERE status = ? AND purged_at IS NULL AND file_name IS NOT NULL AND file_name != ''
		ORDER BY ended_at`, job.StatusCompleted.String())
	if err != nil {
		return nil, fmt.Errorf("query unpurged jobs: %w", err)
	}
	defer rows.Close()

	var records []storage.JobRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *JobRepository) MarkPurged(ctx context.Context, jobIDs []string, at time.Time) error {
	if len(jobIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(jobIDs)), ",")

	args := make([]any, 0, len(jobIDs)+1)
	args = append(args, formatTime(at))

	for _, id := range jobIDs {
		args = append(args, id)
	}

	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET purged_at = ? WHERE job_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark jobs purged: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.JobRecord, error) {
	var (
		rec                      storage.JobRecord
		format, fileName, errMsg sql.NullString
		instanceID               sql.NullString
		startedAt                string
		endedAt, purgedAt        sql.NullString
	)

	err := s.Scan(&rec.JobID, &rec.SourceURL, &format, &rec.Status, &fileName, &errMsg,
		&startedAt, &endedAt, &purgedAt, &instanceID)
	if err != nil {
		return storage.JobRecord{}, err
	}

	rec.Format = format.String
	rec.FileName = fileName.String
	rec.Error = errMsg.String
	rec.InstanceID = instanceID.String

	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return storage.JobRecord{}, fmt.Errorf("parse started_at of %s: %w", rec.JobID, err)
	}

	if endedAt.Valid {
		if rec.EndedAt, err = parseTime(endedAt.String); err != nil {
			return storage.JobRecord{}, fmt.Errorf("parse ended_at of %s: %w", rec.JobID, err)
		}
	}

	if purgedAt.Valid {
		t, err := parseTime(purgedAt.String)
		if err != nil {
			return storage.JobRecord{}, fmt.Errorf("parse purged_at of %s: %w", rec.JobID, err)
		}

		rec.PurgedAt = &t
	}

	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}

	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
