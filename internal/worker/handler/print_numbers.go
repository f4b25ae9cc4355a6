package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meritpath/worker-service/internal/worker/domain"
)

const (
	DefaultEndNumber = 100
	DefaultStepDelay = 50 * time.Millisecond

	// MaxEndNumber bounds the range a single job may request
	MaxEndNumber = 10_000
)

// PrintNumbersParams are the job_params of a print_numbers job
type PrintNumbersParams struct {
	UserID    domain.OwnerRef `json:"user_id"`
	EndNumber *int            `json:"end_number"`
}

// Validate checks the owner and the range end
func (p PrintNumbersParams) Validate() error {
	if p.UserID == "" {
		return domain.NewMissingParameterError("user_id")
	}
	if p.EndNumber != nil && *p.EndNumber < 1 {
		return errors.New("end_number must be at least 1")
	}
	if p.EndNumber != nil && *p.EndNumber > MaxEndNumber {
		return fmt.Errorf("end_number must be at most %d", MaxEndNumber)
	}
	return nil
}

// End returns the requested end value or the default
func (p PrintNumbersParams) End() int {
	if p.EndNumber == nil {
		return DefaultEndNumber
	}
	return *p.EndNumber
}

// PrintNumbersResult is the data of a successful print_numbers job
type PrintNumbersResult struct {
	Numbers []int `json:"numbers"`
	Count   int   `json:"count"`
}

// NumberPrinter emits 1..end_number with a pause between steps
type NumberPrinter struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewNumberPrinter creates a NumberPrinter. A negative delay is treated as zero.
func NewNumberPrinter(delay time.Duration, logger *slog.Logger) *NumberPrinter {
	if delay < 0 {
		delay = 0
	}
	return &NumberPrinter{delay: delay, logger: logger}
}

// Handler returns the typed handler for registration
func (n *NumberPrinter) Handler() Handler {
	return Typed(n.Run)
}

// Run prints the numbers. Cancelling ctx stops the run with a failed outcome.
func (n *NumberPrinter) Run(ctx context.Context, params PrintNumbersParams) domain.Outcome {
	end := params.End()
	n.logger.Info("Printing numbers",
		slog.String("user_id", string(params.UserID)),
		slog.Int("end_number", end),
	)

	numbers := make([]int, 0, min(end, MaxEndNumber))
	for i := 1; i <= end; i++ {
		n.logger.Debug("Number", slog.Int("value", i))
		numbers = append(numbers, i)

		if n.delay > 0 && i < end {
			select {
			case <-ctx.Done():
				return domain.Failed(ctx.Err())
			case <-time.After(n.delay):
			}
		}
	}

	n.logger.Info("Finished printing numbers", slog.Int("count", len(numbers)))

	return domain.Success(PrintNumbersResult{Numbers: numbers, Count: len(numbers)})
}
