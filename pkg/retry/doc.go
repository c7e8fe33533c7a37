// Package retry provides exponential backoff for re-running failed executions.
//
// A Policy is attached to a task definition. Only errors accepted by
// Policy.Retryable trigger another attempt, and the wait between attempts
// respects the context deadline, so a retried execution never outlives its
// timeout.
//
//	attempts, err := retry.Do(ctx, retry.Policy{
//	    MaxAttempts:  3,
//	    InitialDelay: 500 * time.Millisecond,
//	}, func(ctx context.Context, attempt int) error {
//	    return callUpstream(ctx)
//	})
package retry
