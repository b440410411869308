package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/media_downloader/internal/job"
)

// ErrNotFound is returned when no history row exists for a job id.
var ErrNotFound = errors.New("job record not found")

// JobRecord is the persisted history of a job that reached a terminal status.
type JobRecord struct {
	JobID      string
	SourceURL  string
	Format     string
	Status     string
	FileName   string
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
	PurgedAt   *time.Time
	InstanceID string
}

// RecordFromJob converts a terminal job snapshot into a history record.
func RecordFromJob(j job.Job, instanceID string) JobRecord {
	rec := JobRecord{
		JobID:      j.ID,
		SourceURL:  j.Request.URL,
		Format:     j.Request.Format,
		Status:     j.Status.String(),
		Error:      j.Error,
		StartedAt:  j.StartedAt,
		InstanceID: instanceID,
	}

	if j.Result != nil {
		rec.FileName = j.Result.FileName
	}

	if j.EndedAt != nil {
		rec.EndedAt = *j.EndedAt
	}

	return rec
}

// JobReadRepository reads job history.
type JobReadRepository interface {
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
	// GetUnpurgedCompleted returns completed jobs whose artifact has not been removed yet.
	GetUnpurgedCompleted(ctx context.Context) ([]JobRecord, error)
}

// JobWriteRepository writes job history.
type JobWriteRepository interface {
	SaveJob(ctx context.Context, rec JobRecord) error
	MarkPurged(ctx context.Context, jobIDs []string, at time.Time) error
}

// JobRepository is the full history store.
type JobRepository interface {
	JobReadRepository
	JobWriteRepository
}
