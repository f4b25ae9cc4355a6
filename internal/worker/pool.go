package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/meritpath/worker-service/internal/worker/domain"
)

// InFlight returns the number of messages currently being processed
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Capacity returns how many more messages the pool can admit right now
func (d *Dispatcher) Capacity() int {
	return cap(d.slots) - len(d.slots)
}

// admit takes a slot and starts a task for msg. Only the poller calls admit,
// so a slot is normally free; if the queue handed back more than was asked
// for, admit waits for a slot. It returns false if ctx ends first, leaving
// the message to redeliver.
func (d *Dispatcher) admit(ctx context.Context, msg domain.QueueMessage) bool {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	d.inFlight.Add(1)
	d.stats.received.Add(1)
	d.wg.Add(1)

	// Tasks outlive the poller's context; shutdown waits for them instead.
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.release()
		d.processMessage(taskCtx, msg)
	}()

	return true
}

func (d *Dispatcher) release() {
	d.inFlight.Add(-1)
	<-d.slots
	d.wg.Done()

	select {
	case d.released <- struct{}{}:
	default:
	}
}

// Drain waits up to timeout for in-flight tasks to finish and returns how
// many were still running at the deadline. Those tasks are not interrupted.
func (d *Dispatcher) Drain(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		d.logger.Info("All in-flight jobs finished")
		return 0
	case <-timer.C:
		abandoned := d.InFlight()
		d.logger.Warn("Shutdown grace period elapsed, abandoning in-flight jobs",
			slog.Int("abandoned", abandoned),
			slog.Duration("timeout", timeout),
		)
		return abandoned
	}
}
