package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/meritpath/worker-service/internal/worker/domain"
)

// Storage handles job and job-result persistence for the worker. Every method
// logs database errors and reports them as false / absent; nothing is
// returned to the caller as an error.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// jobRow mirrors the jobs table. JSONB columns scan as []byte so a NULL
// result does not fail the scan.
type jobRow struct {
	ID        string    `db:"id"`
	UserID    *string   `db:"user_id"`
	JobType   string    `db:"job_type"`
	Status    string    `db:"status"`
	Params    []byte    `db:"params"`
	Result    []byte    `db:"result"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	return &domain.Job{
		ID:        r.ID,
		UserID:    r.UserID,
		JobType:   r.JobType,
		Status:    domain.Status(r.Status),
		Params:    json.RawMessage(r.Params),
		Result:    json.RawMessage(r.Result),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GetJob retrieves a job by its ID. The second value is false when the job
// does not exist or the lookup failed.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, bool) {
	query := `
		SELECT id, user_id, job_type, status, params, result, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("Failed to get job",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
		return nil, false
	}

	return row.toDomain(), true
}

// InsertJob creates a pending job row. An existing row with the same ID is
// left untouched and still counts as success; callers re-read the row.
func (s *Storage) InsertJob(ctx context.Context, jobID, userID, jobType string, params json.RawMessage) (string, bool) {
	query := `
		INSERT INTO jobs (id, user_id, job_type, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var owner sql.NullString
	if userID != "" {
		owner = sql.NullString{String: userID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, jobID, owner, jobType, domain.JobStatusPending, string(params)); err != nil {
		s.logger.Error("Failed to insert job",
			slog.String("job_id", jobID),
			slog.String("job_type", jobType),
			slog.Any("error", err),
		)
		return "", false
	}

	s.logger.Info("Job inserted",
		slog.String("job_id", jobID),
		slog.String("job_type", jobType),
	)

	return jobID, true
}

// UpdateStatusIf moves a job to newStatus only if it is currently in
// expectedStatus. The check and the write are one UPDATE statement, so among
// concurrent callers with the same expectedStatus exactly one sees true.
func (s *Storage) UpdateStatusIf(ctx context.Context, jobID string, newStatus, expectedStatus domain.Status) bool {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, newStatus, jobID, expectedStatus)
	if err != nil {
		s.logger.Error("Failed to conditionally update job status",
			slog.String("job_id", jobID),
			slog.String("new_status", string(newStatus)),
			slog.String("expected_status", string(expectedStatus)),
			slog.Any("error", err),
		)
		return false
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Error("Failed to get rows affected",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return false
	}

	return rowsAffected == 1
}

// UpdateStatus sets the job status unconditionally. A non-nil result is also
// stored on the job row. Used by the worker that already won the claim.
func (s *Storage) UpdateStatus(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = COALESCE($2, result),
		    updated_at = NOW()
		WHERE id = $3
	`

	var resultArg any
	if result != nil {
		resultArg = string(result)
	}

	res, err := s.db.ExecContext(ctx, query, status, resultArg, jobID)
	if err != nil {
		s.logger.Error("Failed to update job status",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return false
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil || rowsAffected == 0 {
		s.logger.Warn("Job status update affected no rows",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return false
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return true
}

// AppendResult inserts a job_results row. Rows are never updated.
func (s *Storage) AppendResult(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool {
	query := `
		INSERT INTO job_results (job_id, status, result, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	if _, err := s.db.ExecContext(ctx, query, jobID, status, string(result)); err != nil {
		s.logger.Error("Failed to append job result",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return false
	}

	s.logger.Info("Job result saved",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return true
}

// Heartbeat refreshes updated_at on a processing job so stale recovery
// leaves it alone. Returns false when the job is no longer processing.
func (s *Storage) Heartbeat(ctx context.Context, jobID string) bool {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusProcessing)
	if err != nil {
		s.logger.Warn("Failed to update job heartbeat",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return false
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
		return false
	}

	return true
}

// StaleJobOutcome is the result recorded for a job released by FailStaleJobs
func StaleJobOutcome(staleAfter time.Duration) domain.Outcome {
	return domain.Failed(fmt.Errorf("no heartbeat for %s", staleAfter))
}

// FailStaleJobs moves jobs stuck in processing for longer than staleAfter to
// failed and records a failed result for each, in one statement. Failed jobs
// are claimable again, so a later delivery of the same job_id re-runs them.
// Returns the number of jobs released.
func (s *Storage) FailStaleJobs(ctx context.Context, staleAfter time.Duration) int {
	payload, err := json.Marshal(StaleJobOutcome(staleAfter))
	if err != nil {
		return 0
	}

	query := `
		WITH stale AS (
			UPDATE jobs
			SET status = $1,
			    result = $4::jsonb,
			    updated_at = NOW()
			WHERE status = $2
			  AND updated_at < NOW() - make_interval(secs => $3)
			RETURNING id
		)
		INSERT INTO job_results (job_id, status, result)
		SELECT id, $1, $4::jsonb FROM stale
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		domain.JobStatusProcessing,
		staleAfter.Seconds(),
		string(payload),
	)
	if err != nil {
		s.logger.Error("Failed to reset stale jobs",
			slog.Duration("stale_after", staleAfter),
			slog.Any("error", err),
		)
		return 0
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0
	}

	return int(rowsAffected)
}
