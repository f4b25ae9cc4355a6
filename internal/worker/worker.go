package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a worker that is running
var ErrAlreadyRunning = errors.New("worker already running")

// WorkerConfig holds worker configuration
type WorkerConfig struct {
	Logger          *slog.Logger
	Dispatcher      *Dispatcher
	ShutdownTimeout time.Duration
}

// Worker runs a Dispatcher in the background and stops it with a bounded
// grace period.
type Worker struct {
	logger          *slog.Logger
	dispatcher      *Dispatcher
	shutdownTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Status is a point-in-time view of the worker
type Status struct {
	Running           bool   `json:"running"`
	WorkerID          string `json:"worker_id"`
	InFlight          int    `json:"in_flight"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
	Stats             Stats  `json:"stats"`
}

// NewWorker creates a new worker instance
func NewWorker(cfg *WorkerConfig) *Worker {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		logger:          cfg.Logger,
		dispatcher:      cfg.Dispatcher,
		shutdownTimeout: timeout,
	}
}

// Start launches the dispatcher's poll loop and returns immediately
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrAlreadyRunning
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.dispatcher.WorkerID()),
		slog.Int("max_concurrent_jobs", w.dispatcher.MaxConcurrentJobs()),
		slog.Duration("shutdown_timeout", w.shutdownTimeout),
	)

	pollCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	w.cancel = cancel
	w.stopped = stopped

	go func() {
		defer close(stopped)
		if err := w.dispatcher.Run(pollCtx); err != nil {
			w.logger.Error("Dispatcher exited with error", slog.Any("error", err))
		}
	}()

	return nil
}

// Stop stops polling, then waits up to the shutdown timeout for in-flight
// jobs. It returns the number of jobs abandoned at the deadline. Stopping a
// worker that is not running is a no-op.
func (w *Worker) Stop() int {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.cancel, w.stopped = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return 0
	}

	w.logger.Info("Stopping worker...")
	cancel()
	<-stopped

	abandoned := w.dispatcher.Drain(w.shutdownTimeout)
	w.logger.Info("Worker stopped", slog.Int("abandoned", abandoned))
	return abandoned
}

// Run starts the worker and blocks until ctx is cancelled, then stops it
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Running reports whether the poll loop has been started and not stopped
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Status reports the worker's state
func (w *Worker) Status() Status {
	return Status{
		Running:           w.Running(),
		WorkerID:          w.dispatcher.WorkerID(),
		InFlight:          w.dispatcher.InFlight(),
		MaxConcurrentJobs: w.dispatcher.MaxConcurrentJobs(),
		Stats:             w.dispatcher.Stats(),
	}
}
