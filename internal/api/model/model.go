package model

import "time"

// Job is a row of the jobs table as read by the API service. JSONB columns
// stay raw bytes so NULL results scan cleanly.
type Job struct {
	ID        string    `db:"id"`
	UserID    *string   `db:"user_id"`
	JobType   string    `db:"job_type"`
	Status    string    `db:"status"`
	Params    []byte    `db:"params"`
	Result    []byte    `db:"result"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// JobResult is a row of the job_results table
type JobResult struct {
	ID        int64     `db:"id"`
	JobID     string    `db:"job_id"`
	Status    string    `db:"status"`
	Result    []byte    `db:"result"`
	CreatedAt time.Time `db:"created_at"`
}
