package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/meritpath/worker-service/internal/worker/domain"
)

// processMessage runs one message through claim, execute and finalize, then
// deletes it. The delete is the last action and happens exactly once on every
// path, including a panic.
func (d *Dispatcher) processMessage(ctx context.Context, msg domain.QueueMessage) {
	var out domain.MessageOutcome

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Message task panic recovered",
				slog.String("message_id", msg.ID),
				slog.String("job_id", out.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out = domain.Rejected(out.JobID, domain.RejectPanic)
		}

		if !d.queue.Delete(ctx, msg.ReceiptHandle) {
			d.stats.deleteFailures.Add(1)
			d.logger.Warn("Failed to delete message, it will redeliver",
				slog.String("message_id", msg.ID),
				slog.String("job_id", out.JobID),
			)
		}

		d.record(out)
	}()

	out = d.handleMessage(ctx, msg, &out)
}

// handleMessage returns the message's final disposition. The job ID is
// written into partial as soon as it is known so a panic can still report it.
func (d *Dispatcher) handleMessage(ctx context.Context, msg domain.QueueMessage, partial *domain.MessageOutcome) domain.MessageOutcome {
	body, err := domain.ParseMessageBody(msg.Body)
	if err != nil {
		d.logger.Warn("Discarding malformed message",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
		return domain.Rejected("", domain.RejectMalformedBody)
	}

	if body.JobID == "" {
		d.logger.Warn("Discarding message without job_id",
			slog.String("message_id", msg.ID),
		)
		return domain.Rejected("", domain.RejectMissingJobID)
	}

	jobID := body.JobID
	partial.JobID = jobID

	logger := d.logger.With(
		slog.String("job_id", jobID),
		slog.String("message_id", msg.ID),
	)

	job, reason, ok := d.claim(ctx, logger, body)
	if !ok {
		return domain.Rejected(jobID, reason)
	}

	jobType, params := body.JobType, body.JobParams
	if jobType == "" {
		jobType = job.JobType
	}
	if string(params) == "{}" && len(job.Params) > 0 {
		params = job.Params
	}

	logger.Info("Executing job",
		slog.String("job_type", jobType),
		slog.Int("receive_count", msg.ReceiveCount),
	)

	started := time.Now()
	outcome := d.execute(ctx, logger, jobID, jobType, params)
	outcome = d.finalize(ctx, logger, jobID, outcome)

	if outcome.Succeeded() {
		logger.Info("Job completed",
			slog.String("job_type", jobType),
			slog.Duration("duration", time.Since(started)),
		)
		return domain.MessageOutcome{JobID: jobID, Disposition: domain.DispositionSucceeded}
	}

	logger.Warn("Job failed",
		slog.String("job_type", jobType),
		slog.String("error", outcome.Error),
		slog.Duration("duration", time.Since(started)),
	)
	return domain.MessageOutcome{JobID: jobID, Disposition: domain.DispositionFailed, Reason: outcome.Error}
}

// claim makes sure the job row exists and moves it to processing. Only one
// caller per prior status can win the conditional update; everyone else gets
// a reject reason.
func (d *Dispatcher) claim(ctx context.Context, logger *slog.Logger, body *domain.MessageBody) (*domain.Job, domain.RejectReason, bool) {
	job, found := d.store.GetJob(ctx, body.JobID)
	if !found {
		userID := domain.UserIDFromParams(body.JobParams)
		if _, ok := d.store.InsertJob(ctx, body.JobID, userID, body.JobType, body.JobParams); !ok {
			logger.Error("Could not create job row, abandoning message")
			return nil, domain.RejectStoreUnavailable, false
		}

		// Another path may have created the row first; always re-read.
		job, found = d.store.GetJob(ctx, body.JobID)
		if !found {
			logger.Error("Job row missing after insert, abandoning message")
			return nil, domain.RejectStoreUnavailable, false
		}
	}

	if !job.Status.Claimable() {
		logger.Info("Job already active or finished, skipping",
			slog.String("status", string(job.Status)),
		)
		return nil, domain.RejectAlreadyActive, false
	}

	if !d.store.UpdateStatusIf(ctx, job.ID, domain.JobStatusProcessing, job.Status) {
		logger.Info("Lost claim race, skipping",
			slog.String("expected_status", string(job.Status)),
		)
		return nil, domain.RejectLostClaim, false
	}

	logger.Info("Job claimed",
		slog.String("previous_status", string(job.Status)),
	)
	return job, "", true
}

// execute runs the handler. A panic becomes a failed outcome.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, jobID, jobType string, params json.RawMessage) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panic recovered",
				slog.String("job_type", jobType),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = domain.Failed(fmt.Errorf("handler panic: %v", r))
		}
	}()

	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	stop := d.startHeartbeat(ctx, logger, jobID)
	defer stop()

	return d.executor.Execute(ctx, jobType, params)
}

// finalize appends the result row and then moves the job to its terminal
// status, so a terminal status always has a readable result. A panic in the
// store still leaves the claimed job failed when the store allows it.
func (d *Dispatcher) finalize(ctx context.Context, logger *slog.Logger, jobID string, outcome domain.Outcome) (final domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Finalize panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			final = domain.Failed(fmt.Errorf("finalize panic: %v", r))
			d.markFailed(ctx, logger, jobID, final)
		}
	}()

	payload, err := json.Marshal(outcome)
	if err != nil {
		outcome = domain.Failed(fmt.Errorf("failed to encode job result: %w", err))
		payload, _ = json.Marshal(outcome)
	}

	status := outcome.JobStatus()

	if !d.store.AppendResult(ctx, jobID, status, payload) {
		logger.Error("Failed to save job result",
			slog.String("status", string(status)),
		)
	}

	if !d.store.UpdateStatus(ctx, jobID, status, payload) {
		logger.Error("Failed to update job status",
			slog.String("status", string(status)),
		)
	}

	return outcome
}

// markFailed makes one last attempt to move a claimed job out of processing
func (d *Dispatcher) markFailed(ctx context.Context, logger *slog.Logger, jobID string, outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Could not mark job failed, it stays processing",
				slog.Any("panic", r),
			)
		}
	}()

	payload, _ := json.Marshal(outcome)
	if !d.store.UpdateStatus(ctx, jobID, domain.JobStatusFailed, payload) {
		logger.Error("Failed to update job status",
			slog.String("status", string(domain.JobStatusFailed)),
		)
	}
}

// startHeartbeat refreshes the job row periodically until the returned stop
// function is called. stop returns once the heartbeat goroutine has exited.
func (d *Dispatcher) startHeartbeat(ctx context.Context, logger *slog.Logger, jobID string) func() {
	if d.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(d.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.store.Heartbeat(ctx, jobID) {
					logger.Debug("Job heartbeat not applied")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}
