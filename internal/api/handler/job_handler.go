package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meritpath/worker-service/internal/api/dto"
	"github.com/meritpath/worker-service/internal/api/model"
	"github.com/meritpath/worker-service/internal/api/storage"
	"github.com/meritpath/worker-service/internal/worker/domain"
)

var enqueueableTypes = map[string]bool{
	domain.JobTypePrintNumbers: true,
	domain.JobTypeFindCiters:   true,
}

// CreateJob handles POST /api/v1/jobs
// Records a pending job and puts it on the job queue
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !enqueueableTypes[req.JobType] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unsupported job_type: " + req.JobType,
		})
		return
	}

	params, userID, err := withUserID(req.JobParams, req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_params must be a JSON object",
		})
		return
	}

	h.enqueue(c, req.JobType, userID, params)
}

// CreateTestJob handles POST /api/v1/test-job
// Enqueues a print_numbers job, optionally with end_number
func (h *JobHandler) CreateTestJob(c *gin.Context) {
	var req dto.TestJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.UserID == "" {
		req.UserID = "test-user"
	}

	p := map[string]any{"user_id": req.UserID}
	if req.EndNumber > 0 {
		p["end_number"] = req.EndNumber
	}
	params, _ := json.Marshal(p)

	h.enqueue(c, domain.JobTypePrintNumbers, req.UserID, params)
}

// enqueue inserts the job row first so the worker always finds it, then
// sends the queue message. A failed send leaves the row pending.
func (h *JobHandler) enqueue(c *gin.Context, jobType, userID string, params json.RawMessage) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	job := model.Job{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Status:    string(domain.JobStatusPending),
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != "" {
		job.UserID = &userID
	}

	if err := h.store.CreateJob(ctx, &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, _ := json.Marshal(domain.MessageBody{
		JobID:     job.ID,
		JobType:   jobType,
		JobParams: params,
	})

	messageID, ok := h.queue.Send(context.WithoutCancel(ctx), body)
	if !ok {
		h.logger.Error("Failed to send job message", slog.String("job_id", job.ID))
		c.JSON(http.StatusBadGateway, dto.EnqueueResponse{
			Status: "failed",
			JobID:  job.ID,
			Error:  "failed to send job to queue",
		})
		return
	}

	h.logger.Info("Job queued",
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
		slog.String("message_id", messageID),
	)

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		Status:    "queued",
		JobID:     job.ID,
		MessageID: messageID,
	})
}

// withUserID makes sure params is an object carrying user_id. An explicit
// userID wins over one already in params.
func withUserID(raw json.RawMessage, userID string) (json.RawMessage, string, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, "", err
		}
	}

	if userID != "" {
		encoded, _ := json.Marshal(userID)
		fields["user_id"] = encoded
	} else {
		userID = domain.UserIDFromParams(raw)
	}

	params, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return params, userID, nil
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job row and its results, newest first
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := domain.NormalizeJobID(c.Param("job_id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	results, err := h.store.ListJobResults(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to list job results", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp := dto.JobDetailResponse{
		JobDTO:  dto.NewJobDTO(*job),
		Results: make([]dto.JobResultDTO, len(results)),
	}
	for i, r := range results {
		resp.Results[i] = dto.NewJobResultDTO(r)
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:   req.UserID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// One extra row was fetched to detect a further page
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.NewJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
