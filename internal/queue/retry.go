package queue

import (
	"errors"
	"time"

	"github.com/bdougie/framesearch/internal/models"
)

const (
	backoffBase = 30 * time.Second
	backoffMax  = time.Hour
)

// Backoff returns the delay before retrying after the given 1-based attempt:
// 30s, 1m, 2m, ... capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffMax {
			return backoffMax
		}
	}
	return delay
}

// Succeed returns job after a successful attempt.
func Succeed(job models.Job, now time.Time) models.Job {
	if job.AttemptCount < job.MaxAttempts {
		job.AttemptCount++
	}
	job.Status = models.JobStatusCompleted
	job.LastError = ""
	job.UpdatedAt = now
	return job
}

// Transition returns job after a failed attempt. The job becomes failed once
// attempt_count reaches max_attempts, or at once when the handler reports the
// error as not retryable; otherwise it is pending again with run_after pushed
// out by backoff.
func Transition(job models.Job, cause error, now time.Time, backoff func(int) time.Duration) models.Job {
	if job.AttemptCount < job.MaxAttempts {
		job.AttemptCount++
	}
	job.UpdatedAt = now
	if cause != nil {
		job.LastError = cause.Error()
	}

	var jobErr *models.JobError
	permanent := errors.As(cause, &jobErr) && !jobErr.Retryable

	if permanent || job.AttemptCount >= job.MaxAttempts {
		job.Status = models.JobStatusFailed
		return job
	}

	job.Status = models.JobStatusPending
	job.RunAfter = now.Add(backoff(job.AttemptCount))
	return job
}

// Stale reports whether a processing job has gone longer than timeout
// without an update.
func Stale(job models.Job, now time.Time, timeout time.Duration) bool {
	return timeout > 0 && job.Status == models.JobStatusProcessing && now.Sub(job.UpdatedAt) > timeout
}
