package domain

// Job status values stored in jobs.status and job_results.status
const (
	JobStatusPending    Status = "pending"
	JobStatusProcessing Status = "processing"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"

	// JobStatusSuccess is the terminal value older workers wrote for successful jobs.
	// It is never written anymore but still protects a row from re-claim.
	JobStatusSuccess Status = "success"
)

// Job type tags understood by the handler registry
const (
	JobTypePrintNumbers = "print_numbers"
	JobTypeFindCiters   = "find_citers"
)

// Outcome status values carried in job result payloads
const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)
