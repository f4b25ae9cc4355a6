package domain

import "encoding/json"

// OutcomeStatus tags a handler Outcome
type OutcomeStatus string

// Outcome is the tagged result of a handler execution: either success with
// data, or failed with an error message.
type Outcome struct {
	Status OutcomeStatus
	Data   any
	Error  string
}

// Success builds a successful Outcome carrying data
func Success(data any) Outcome {
	return Outcome{Status: OutcomeSuccess, Data: data}
}

// Failed builds a failed Outcome from err
func Failed(err error) Outcome {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Outcome{Status: OutcomeFailed, Error: msg}
}

// Succeeded reports whether the outcome is the success variant
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// JobStatus maps the outcome onto the terminal job status it produces
func (o Outcome) JobStatus() Status {
	if o.Succeeded() {
		return JobStatusCompleted
	}
	return JobStatusFailed
}

// MarshalJSON renders {"status":"success","data":...} or {"status":"failed","error":"..."}
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Succeeded() {
		return json.Marshal(struct {
			Status OutcomeStatus `json:"status"`
			Data   any           `json:"data"`
		}{o.Status, o.Data})
	}
	return json.Marshal(struct {
		Status OutcomeStatus `json:"status"`
		Error  string        `json:"error"`
	}{OutcomeFailed, o.Error})
}

// Disposition is what happened to one queue message
type Disposition string

const (
	DispositionClaimed   Disposition = "claimed"
	DispositionRejected  Disposition = "rejected"
	DispositionSucceeded Disposition = "succeeded"
	DispositionFailed    Disposition = "failed"
)

// RejectReason explains why a message was dropped without executing a handler
type RejectReason string

const (
	RejectMalformedBody    RejectReason = "malformed_body"
	RejectMissingJobID     RejectReason = "missing_job_id"
	RejectAlreadyActive    RejectReason = "already_active"
	RejectLostClaim        RejectReason = "lost_claim"
	RejectStoreUnavailable RejectReason = "store_unavailable"
	RejectPanic            RejectReason = "panic"
)

// MessageOutcome records the final disposition of one message. Reason is the
// RejectReason for rejected messages and the error text for failed jobs.
type MessageOutcome struct {
	JobID       string
	Disposition Disposition
	Reason      string
}

// Rejected builds a rejected MessageOutcome
func Rejected(jobID string, reason RejectReason) MessageOutcome {
	return MessageOutcome{JobID: jobID, Disposition: DispositionRejected, Reason: string(reason)}
}
