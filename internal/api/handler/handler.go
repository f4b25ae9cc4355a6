package handler

import (
	"context"
	"log/slog"

	"github.com/meritpath/worker-service/internal/api/model"
	"github.com/meritpath/worker-service/internal/api/storage"
)

// JobStore is the persistence the job routes need
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	ListJobResults(ctx context.Context, jobID string) ([]model.JobResult, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
}

// Sender puts a message body on the job queue and returns its message ID
type Sender interface {
	Send(ctx context.Context, body []byte) (string, bool)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Store    JobStore
	Queue    Sender
	Database HealthChecker
	Broker   HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  JobStore
	queue  Sender
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		queue:  deps.Queue,
	}
}
