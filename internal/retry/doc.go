// Package retry provides automatic retry logic with exponential backoff
// for establishing connections to remote backends (SSH, SFTP, FTP).
//
// Only connection setup is retried. Commands and file transfers run once:
// a failed step aborts the deployment and the operator re-runs it.
//
// # Example Usage
//
//	classifier := retry.NewNetworkErrorClassifier()
//	strategy := retry.NewExponentialBackoff(3)
//	executor := retry.NewExecutor(classifier, strategy)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return dial(ctx)
//	})
//
// # Error Classification
//
// The ErrorClassifier interface determines which errors are transient (retryable)
// versus fatal (non-retryable). NetworkErrorClassifier treats refused, reset and
// timed-out connections and FTP 421 replies as transient, and authentication or
// host key failures as fatal.
//
// # Thread Safety
//
// Executor instances are safe for concurrent use. Use WithOnRetry() to create
// independent configurations per goroutine.
package retry
