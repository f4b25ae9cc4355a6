package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Run polls the queue and admits messages until ctx is cancelled. It returns
// without waiting for in-flight tasks; call Drain for that.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started",
		slog.Int("max_concurrent_jobs", d.cfg.MaxConcurrentJobs),
		slog.Int("max_batch_size", d.cfg.MaxBatchSize),
		slog.Duration("wait_time", d.cfg.WaitTime),
		slog.Duration("visibility_timeout", d.cfg.VisibilityTimeout),
	)

	if failer, ok := d.store.(staleJobFailer); ok && d.cfg.StaleAfter > 0 {
		go d.runStaleRecovery(ctx, failer)
	}

	for ctx.Err() == nil {
		if !d.pollOnce(ctx) {
			sleep(ctx, d.cfg.ErrorBackoff)
		}
	}

	d.logger.Info("Dispatcher stopped polling",
		slog.Int("in_flight", d.InFlight()),
	)
	return nil
}

// pollOnce runs one iteration of the poll loop. It returns false if the
// iteration panicked.
func (d *Dispatcher) pollOnce(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Poll loop panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			ok = false
		}
	}()

	capacity := d.Capacity()
	if capacity == 0 {
		select {
		case <-ctx.Done():
		case <-d.released:
		}
		return true
	}

	batch := min(capacity, d.cfg.MaxBatchSize)
	messages := d.queue.Receive(ctx, batch, d.cfg.WaitTime, d.cfg.VisibilityTimeout)
	if len(messages) == 0 {
		sleep(ctx, d.cfg.IdleBackoff)
		return true
	}

	d.logger.Debug("Received messages",
		slog.Int("count", len(messages)),
		slog.Int("requested", batch),
	)

	for _, msg := range messages {
		if !d.admit(ctx, msg) {
			d.logger.Info("Shutdown before admission, message will redeliver",
				slog.String("message_id", msg.ID),
			)
		}
	}
	return true
}

func (d *Dispatcher) runStaleRecovery(ctx context.Context, failer staleJobFailer) {
	ticker := time.NewTicker(d.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := failer.FailStaleJobs(ctx, d.cfg.StaleAfter); n > 0 {
				d.logger.Warn("Released stale processing jobs",
					slog.Int("count", n),
					slog.Duration("stale_after", d.cfg.StaleAfter),
				)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
