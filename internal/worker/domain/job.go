package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a job row
type Status string

// Claimable reports whether a worker may move a job in this state to processing
func (s Status) Claimable() bool {
	return s == JobStatusPending || s == JobStatusFailed
}

// Terminal reports whether the status ends the job lifecycle
func (s Status) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSuccess
}

// Job represents a row of the jobs table
type Job struct {
	ID        string          `db:"id" json:"id"`
	UserID    *string         `db:"user_id" json:"user_id"`
	JobType   string          `db:"job_type" json:"job_type"`
	Status    Status          `db:"status" json:"status"`
	Params    json.RawMessage `db:"params" json:"params"`
	Result    json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// JobResult is an append-only record of one finished execution
type JobResult struct {
	ID        int64           `db:"id" json:"id"`
	JobID     string          `db:"job_id" json:"job_id"`
	Status    Status          `db:"status" json:"status"`
	Result    json.RawMessage `db:"result" json:"result"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// QueueMessage is a message received from the job queue. The receipt handle
// stays valid until the visibility timeout passed to Receive elapses.
type QueueMessage struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// MessageBody is the JSON body producers put on the job queue
type MessageBody struct {
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type"`
	JobParams json.RawMessage `json:"job_params,omitempty"`
}

// UnmarshalJSON accepts job_id as a JSON string or number
func (b *MessageBody) UnmarshalJSON(data []byte) error {
	type plain MessageBody
	aux := struct {
		JobID OwnerRef `json:"job_id"`
		*plain
	}{plain: (*plain)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.JobID = string(aux.JobID)
	return nil
}

// ParseMessageBody decodes a queue message body. Unknown fields are ignored.
func ParseMessageBody(raw []byte) (*MessageBody, error) {
	var body MessageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, ErrInvalidMessage
	}
	body.JobID = NormalizeJobID(body.JobID)
	if len(body.JobParams) == 0 || string(body.JobParams) == "null" {
		body.JobParams = json.RawMessage(`{}`)
	}
	return &body, nil
}

// NormalizeJobID returns the canonical lowercase form used for comparisons
func NormalizeJobID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// OwnerRef is an identifier producers send either as a string or a bare
// number, both decode to the same string form. It carries job_id and
// params.user_id.
type OwnerRef string

// UnmarshalJSON accepts a JSON string, number, or null
func (o *OwnerRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = OwnerRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return ErrInvalidParams
	}
	*o = OwnerRef(n.String())
	return nil
}

// UserIDFromParams extracts params.user_id, returning "" when absent or malformed
func UserIDFromParams(params json.RawMessage) string {
	var p struct {
		UserID OwnerRef `json:"user_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return string(p.UserID)
}
