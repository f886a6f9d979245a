package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobRunRecord is one finished job execution.
type JobRunRecord struct {
	JobRunUUID        string     `json:"job_run_uuid"`
	JobType           string     `json:"job_type"`
	Status            string     `json:"status"`
	ArticlesProcessed int        `json:"articles_processed"`
	StoriesCreated    int        `json:"stories_created"`
	ClusterCount      int        `json:"cluster_count"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

func (p *Pool) InsertJobRun(ctx context.Context, run JobRunRecord) error {
	var finishedAt *time.Time
	if run.FinishedAt != nil {
		utc := run.FinishedAt.UTC()
		finishedAt = &utc
	}

	if _, err := p.Exec(ctx, `
INSERT INTO storyline.job_runs (
	job_run_uuid,
	job_type,
	status,
	articles_processed,
	stories_created,
	cluster_count,
	started_at,
	finished_at,
	error_message
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_run_uuid) DO NOTHING
`,
		run.JobRunUUID,
		run.JobType,
		run.Status,
		run.ArticlesProcessed,
		run.StoriesCreated,
		run.ClusterCount,
		run.StartedAt.UTC(),
		finishedAt,
		run.ErrorMessage,
	); err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the most recent runs, optionally filtered by job type.
func (p *Pool) ListJobRuns(ctx context.Context, jobType string, limit int) ([]JobRunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	rows, err := p.Query(ctx, `
SELECT
	job_run_uuid::text,
	job_type,
	status,
	articles_processed,
	stories_created,
	cluster_count,
	started_at,
	finished_at,
	error_message
FROM storyline.job_runs
WHERE ($1 = '' OR job_type = $1)
ORDER BY started_at DESC, job_run_id DESC
LIMIT $2
`, strings.TrimSpace(jobType), limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	items := make([]JobRunRecord, 0, limit)
	for rows.Next() {
		var row JobRunRecord
		if err := rows.Scan(
			&row.JobRunUUID,
			&row.JobType,
			&row.Status,
			&row.ArticlesProcessed,
			&row.StoriesCreated,
			&row.ClusterCount,
			&row.StartedAt,
			&row.FinishedAt,
			&row.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return items, nil
}
