// Package retry wraps the stage runner with bounded, jittered exponential
// backoff. Failures tagged services.ErrTransient on stages marked retryable
// are reattempted up to the configured limit; everything else resolves on the
// first attempt. Backoff sleeps honor context cancellation.
package retry
