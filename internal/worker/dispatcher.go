package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/meritpath/worker-service/internal/worker/domain"
)

// Queue is the message queue the dispatcher consumes
type Queue interface {
	Receive(ctx context.Context, maxMessages int, waitTime, visibilityTimeout time.Duration) []domain.QueueMessage
	Delete(ctx context.Context, receiptHandle string) bool
}

// Store is the record store that arbitrates job ownership
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, bool)
	InsertJob(ctx context.Context, jobID, userID, jobType string, params json.RawMessage) (string, bool)
	UpdateStatusIf(ctx context.Context, jobID string, newStatus, expectedStatus domain.Status) bool
	UpdateStatus(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool
	AppendResult(ctx context.Context, jobID string, status domain.Status, result json.RawMessage) bool
	Heartbeat(ctx context.Context, jobID string) bool
}

// staleJobFailer is implemented by stores that can release jobs stuck in processing
type staleJobFailer interface {
	FailStaleJobs(ctx context.Context, staleAfter time.Duration) int
}

// Executor runs the handler registered for a job type
type Executor interface {
	Execute(ctx context.Context, jobType string, params json.RawMessage) domain.Outcome
}

// Config holds dispatcher tuning
type Config struct {
	MaxConcurrentJobs  int
	MaxBatchSize       int
	WaitTime           time.Duration
	VisibilityTimeout  time.Duration
	IdleBackoff        time.Duration
	ErrorBackoff       time.Duration
	JobTimeout         time.Duration
	HeartbeatInterval  time.Duration
	StaleAfter         time.Duration
	StaleCheckInterval time.Duration

	// OnOutcome, when set, is called once per admitted message after it has
	// been deleted.
	OnOutcome func(domain.MessageOutcome)
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 20
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 10
	}
	if c.WaitTime < 0 {
		c.WaitTime = 0
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 300 * time.Second
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 100 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = time.Minute
	}
	return c
}

// Stats counts message dispositions since the dispatcher was created
type Stats struct {
	Received       int64 `json:"received"`
	Rejected       int64 `json:"rejected"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	DeleteFailures int64 `json:"delete_failures"`
}

type counters struct {
	received       atomic.Int64
	rejected       atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	deleteFailures atomic.Int64
}

// Dispatcher owns the poll, claim, execute, finalize loop. It bounds the
// number of in-flight messages and deletes every admitted message exactly
// once, whatever path it took.
type Dispatcher struct {
	queue    Queue
	store    Store
	executor Executor
	cfg      Config
	logger   *slog.Logger
	workerID string

	slots    chan struct{}
	released chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int64
	stats    counters
}

// NewDispatcher creates a Dispatcher. Zero config values fall back to defaults.
func NewDispatcher(queue Queue, store Store, executor Executor, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	workerID := uuid.NewString()

	return &Dispatcher{
		queue:    queue,
		store:    store,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(slog.String("worker_id", workerID)),
		workerID: workerID,
		slots:    make(chan struct{}, cfg.MaxConcurrentJobs),
		released: make(chan struct{}, 1),
	}
}

// WorkerID identifies this dispatcher in logs
func (d *Dispatcher) WorkerID() string {
	return d.workerID
}

// MaxConcurrentJobs returns the concurrency budget
func (d *Dispatcher) MaxConcurrentJobs() int {
	return d.cfg.MaxConcurrentJobs
}

// Stats returns a snapshot of the disposition counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:       d.stats.received.Load(),
		Rejected:       d.stats.rejected.Load(),
		Succeeded:      d.stats.succeeded.Load(),
		Failed:         d.stats.failed.Load(),
		DeleteFailures: d.stats.deleteFailures.Load(),
	}
}

func (d *Dispatcher) record(out domain.MessageOutcome) {
	switch out.Disposition {
	case domain.DispositionRejected:
		d.stats.rejected.Add(1)
	case domain.DispositionSucceeded:
		d.stats.succeeded.Add(1)
	case domain.DispositionFailed:
		d.stats.failed.Add(1)
	}
	if d.cfg.OnOutcome != nil {
		d.cfg.OnOutcome(out)
	}
}
