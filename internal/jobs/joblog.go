package jobs

import (
	"context"
	"time"

	"horse.fit/storyline/internal/db"
)

// Entry is one audit record for a finished, failed or skipped trigger.
type Entry struct {
	RunID      string
	JobType    Type
	Status     string
	Result     Result
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

type JobLog interface {
	Record(ctx context.Context, entry Entry) error
}

// DBJobLog writes entries to storyline.job_runs.
type DBJobLog struct {
	store interface {
		InsertJobRun(ctx context.Context, run db.JobRunRecord) error
	}
}

func NewDBJobLog(pool *db.Pool) *DBJobLog {
	return &DBJobLog{store: pool}
}

func (l *DBJobLog) Record(ctx context.Context, entry Entry) error {
	finishedAt := entry.FinishedAt
	var errMessage *string
	if entry.Error != "" {
		msg := entry.Error
		errMessage = &msg
	}
	return l.store.InsertJobRun(ctx, db.JobRunRecord{
		JobRunUUID:        entry.RunID,
		JobType:           string(entry.JobType),
		Status:            entry.Status,
		ArticlesProcessed: entry.Result.ArticlesProcessed,
		StoriesCreated:    entry.Result.StoriesCreated,
		ClusterCount:      entry.Result.ClusterCount,
		StartedAt:         entry.StartedAt,
		FinishedAt:        &finishedAt,
		ErrorMessage:      errMessage,
	})
}
