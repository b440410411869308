package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

// InstrumentedJobRepository wraps JobRepository with telemetry.
type InstrumentedJobRepository struct {
	repo      *JobRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedJobRepository creates a new instrumented job repository.
func NewInstrumentedJobRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJobRepository {
	return &InstrumentedJobRepository{
		repo:      NewJobRepository(dbConn),
		telemetry: tel,
	}
}

// SaveJob records a finished job with telemetry.
func (r *InstrumentedJobRepository) SaveJob(ctx context.Context, rec storage.JobRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_job", func(ctx context.Context) error {
		return r.repo.SaveJob(ctx, rec)
	})
}

// GetJob retrieves a single record with telemetry.
func (r *InstrumentedJobRepository) GetJob(ctx context.Context, jobID string) (storage.JobRecord, error) {
	var result storage.JobRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_job", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetJob(ctx, jobID)

		return err
	})

	return result, err
}

// GetUnpurgedCompleted retrieves the cleanup candidates with telemetry.
func (r *InstrumentedJobRepository) GetUnpurgedCompleted(ctx context.Context) ([]storage.JobRecord, error) {
	var result []storage.JobRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_unpurged_completed", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetUnpurgedCompleted(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkPurged flags records whose artifact was removed, with telemetry.
func (r *InstrumentedJobRepository) MarkPurged(ctx context.Context, jobIDs []string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_purged", func(ctx context.Context) error {
		return r.repo.MarkPurged(ctx, jobIDs, at)
	})
}

var _ storage.JobRepository = (*InstrumentedJobRepository)(nil)
