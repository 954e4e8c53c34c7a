package retry

import (
	"context"
	"time"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Executor orchestrates retry attempts with backoff and error classification.
//
// Execute() is safe for concurrent use. WithOnRetry() returns a NEW instance
// with the callback configured; the original Executor remains unchanged.
type Executor struct {
	classifier atomdeploy.ErrorClassifier
	strategy   atomdeploy.BackoffStrategy
	onRetry    func(attempt int, err error, delay time.Duration)
}

// NewExecutor creates a new retry executor with the given configuration.
// Panics if classifier or strategy is nil.
func NewExecutor(
	classifier atomdeploy.ErrorClassifier,
	strategy atomdeploy.BackoffStrategy,
) *Executor {
	if classifier == nil {
		panic("classifier cannot be nil")
	}
	if strategy == nil {
		panic("strategy cannot be nil")
	}
	return &Executor{
		classifier: classifier,
		strategy:   strategy,
	}
}

// NewDialExecutor returns the executor backends use to open connections.
func NewDialExecutor(logger atomdeploy.Logger, target string) *Executor {
	strategy := NewExponentialBackoff(atomdeploy.DefaultRetryMaxAttempts,
		WithInitialDelay(atomdeploy.DefaultRetryInitialDelay),
		WithMaxDelay(atomdeploy.DefaultRetryMaxDelay),
	)
	return NewExecutor(NewNetworkErrorClassifier(), strategy).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Verbose("Connecting to %s failed (%v), retry %d in %s", target, err, attempt+1, delay)
		})
}

// WithOnRetry returns a new Executor with the specified retry callback.
func (e *Executor) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Executor {
	clone := *e
	clone.onRetry = callback
	return &clone
}

// Execute runs the operation with retry logic.
// Returns the result of the last attempt (success or fatal error).
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	maxAttempts := e.strategy.MaxAttempts()

	lastErr := operation(ctx)
	if lastErr == nil {
		return nil
	}
	if !e.classifier.IsTransient(lastErr) {
		return lastErr
	}

	// A negative maxAttempts retries until the context ends.
	for attempt := 0; maxAttempts < 0 || attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		delay := e.strategy.NextDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}
		if !e.classifier.IsTransient(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
