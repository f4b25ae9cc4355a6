package dto

import (
	"encoding/json"
	"time"

	"github.com/meritpath/worker-service/internal/api/model"
)

type CreateJobRequest struct {
	UserID    string          `json:"user_id"`
	JobType   string          `json:"job_type" binding:"required"`
	JobParams json.RawMessage `json:"job_params"`
}

type TestJobRequest struct {
	EndNumber int    `form:"end_number"`
	UserID    string `form:"user_id"`
}

type EnqueueResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID     string          `json:"job_id"`
	UserID    string          `json:"user_id,omitempty"`
	JobType   string          `json:"job_type"`
	Status    string          `json:"status"`
	Params    json.RawMessage `json:"job_params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type JobResultDTO struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type JobDetailResponse struct {
	JobDTO
	Results []JobResultDTO `json:"results"`
}

// NewJobDTO converts a jobs row for the wire
func NewJobDTO(job model.Job) JobDTO {
	out := JobDTO{
		JobID:     job.ID,
		JobType:   job.JobType,
		Status:    job.Status,
		Params:    rawOrNil(job.Params),
		Result:    rawOrNil(job.Result),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
	if job.UserID != nil {
		out.UserID = *job.UserID
	}
	return out
}

// NewJobResultDTO converts a job_results row for the wire
func NewJobResultDTO(r model.JobResult) JobResultDTO {
	return JobResultDTO{
		ID:        r.ID,
		Status:    r.Status,
		Result:    rawOrNil(r.Result),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
