package ingest

// RetryPolicy decides whether a failed attempt may be retried. attempt is
// 1-based and counts the attempt that just failed.
type RetryPolicy interface {
	ShouldRetry(attempt, maxAttempts int) bool
}

// MaxAttemptsPolicy retries until attempt reaches maxAttempts.
type MaxAttemptsPolicy struct{}

// ShouldRetry implements RetryPolicy.
func (MaxAttemptsPolicy) ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}
