// Package queue is the Redis-backed job runtime that delivers jobs to handlers
// and owns retry and backoff.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bdougie/framesearch/internal/models"
)

// ErrDuplicate is returned by Enqueue when a live job already holds the dedupe key.
var ErrDuplicate = errors.New("duplicate job")

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// ErrWorkerLost is the failure recorded for a job reclaimed from the
// processing list after its worker went away.
var ErrWorkerLost = errors.New("worker stopped before finishing the job")

const (
	defaultMaxAttempts       = 3
	defaultVisibilityTimeout = time.Hour
	dedupeTTL                = 24 * time.Hour
	jobTTL                   = 7 * 24 * time.Hour
)

// EnqueueOptions tune a new job.
type EnqueueOptions struct {
	DedupeKey   string
	MaxAttempts int
}

// RedisQueue stores jobs as JSON under <prefix>:job:<id>, ready ids in a list
// and delayed retries in a sorted set scored by run_after. A dequeued id sits
// in the processing list until the job is completed, failed or requeued.
type RedisQueue struct {
	client     *redis.Client
	prefix     string
	visibility time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a RedisQueue.
type Option func(*RedisQueue)

// WithVisibilityTimeout sets how long a job may stay processing without
// finishing before it is reclaimed as lost. Zero disables reclaiming.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *RedisQueue) { q.visibility = d }
}

// NewRedisQueue creates a queue whose keys start with prefix.
func NewRedisQueue(client *redis.Client, prefix string, logger *slog.Logger, opts ...Option) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "framesearch"
	}
	q := &RedisQueue{
		client:     client,
		prefix:     prefix,
		visibility: defaultVisibilityTimeout,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) jobKey(id string) string     { return q.prefix + ":job:" + id }
func (q *RedisQueue) dedupeKey(key string) string { return q.prefix + ":dedupe:" + key }
func (q *RedisQueue) readyKey() string            { return q.prefix + ":ready" }
func (q *RedisQueue) delayedKey() string          { return q.prefix + ":delayed" }
func (q *RedisQueue) processingKey() string       { return q.prefix + ":processing" }

// Enqueue stores a new pending job and makes it ready. With a dedupe key, a
// second job is rejected with ErrDuplicate while the first is not terminal.
func (q *RedisQueue) Enqueue(ctx context.Context, jobType, orgID string, payload any, opts EnqueueOptions) (*models.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	now := q.now().UTC()
	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Status:      models.JobStatusPending,
		Payload:     raw,
		OrgID:       orgID,
		MaxAttempts: opts.MaxAttempts,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
		DedupeKey:   opts.DedupeKey,
	}

	if job.DedupeKey != "" {
		ok, err := q.client.SetNX(ctx, q.dedupeKey(job.DedupeKey), job.ID, dedupeTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve dedupe key: %w", err)
		}
		if !ok {
			existing, _ := q.client.Get(ctx, q.dedupeKey(job.DedupeKey)).Result()
			return nil, fmt.Errorf("%w: key %q held by job %s", ErrDuplicate, job.DedupeKey, existing)
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, jobTTL)
		pipe.RPush(ctx, q.readyKey(), job.ID)
		return nil
	})
	if err != nil {
		if job.DedupeKey != "" {
			// No job was written, so the reservation must not outlive this call.
			if derr := q.client.Del(context.WithoutCancel(ctx), q.dedupeKey(job.DedupeKey)).Err(); derr != nil {
				q.logger.Warn("failed to release dedupe key", "dedupe_key", job.DedupeKey, "error", derr)
			}
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	q.logger.Info("job enqueued", "job_id", job.ID, "type", jobType, "org_id", orgID)
	return job, nil
}

// Dequeue promotes due retries and reclaims jobs of lost workers, then waits
// up to timeout for a ready job, moves it to the processing list and marks it
// processing. It returns nil, nil when nothing arrived in time.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	if err := q.reclaimStale(ctx); err != nil {
		return nil, err
	}

	id, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		q.ack(ctx, id)
		return nil, err
	}
	job.Status = models.JobStatusProcessing
	job.UpdatedAt = q.now().UTC()
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get loads a job by id.
func (q *RedisQueue) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Complete records a successful attempt.
func (q *RedisQueue) Complete(ctx context.Context, job *models.Job) error {
	*job = Succeed(*job, q.now().UTC())
	if err := q.save(ctx, job); err != nil {
		return err
	}
	q.ack(ctx, job.ID)
	return q.releaseDedupe(ctx, job)
}

// Requeue hands an abandoned job back to the front of the ready list without
// charging an attempt.
func (q *RedisQueue) Requeue(ctx context.Context, job *models.Job) error {
	job.Status = models.JobStatusPending
	job.UpdatedAt = q.now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, jobTTL)
		pipe.LRem(ctx, q.processingKey(), 0, job.ID)
		pipe.LPush(ctx, q.readyKey(), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	q.logger.Info("job requeued", "job_id", job.ID, "attempts", job.AttemptCount)
	return nil
}

// Fail records a failed attempt and either schedules a retry after the
// backoff or marks the job failed for good.
func (q *RedisQueue) Fail(ctx context.Context, job *models.Job, cause error) error {
	*job = Transition(*job, cause, q.now().UTC(), Backoff)
	if err := q.save(ctx, job); err != nil {
		return err
	}
	q.ack(ctx, job.ID)

	if job.Status == models.JobStatusFailed {
		q.logger.Warn("job failed permanently",
			"job_id", job.ID,
			"attempts", job.AttemptCount,
			"error", job.LastError)
		return q.releaseDedupe(ctx, job)
	}

	q.logger.Info("job scheduled for retry",
		"job_id", job.ID,
		"attempts", job.AttemptCount,
		"run_after", job.RunAfter)
	return q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(job.RunAfter.UnixMilli()),
		Member: job.ID,
	}).Err()
}

// promoteDue moves delayed jobs whose run_after has passed onto the ready
// list. ZRem decides which consumer wins a given id.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("list delayed jobs: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.readyKey(), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStale fails jobs that have been processing longer than the
// visibility timeout, which happens when a worker dies mid-job. LRem decides
// which consumer reclaims a given id.
func (q *RedisQueue) reclaimStale(ctx context.Context) error {
	if q.visibility <= 0 {
		return nil
	}
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}

	now := q.now().UTC()
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.ack(ctx, id)
			continue
		}
		if err != nil {
			return err
		}
		if !Stale(*job, now, q.visibility) {
			continue
		}

		removed, err := q.client.LRem(ctx, q.processingKey(), 0, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		q.logger.Warn("reclaiming job from lost worker", "job_id", id, "processing_since", job.UpdatedAt)
		if err := q.Fail(ctx, job, ErrWorkerLost); err != nil {
			return err
		}
	}
	return nil
}

// ack drops id from the processing list.
func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.client.LRem(ctx, q.processingKey(), 0, id).Err(); err != nil {
		q.logger.Warn("failed to remove job from processing list", "job_id", id, "error", err)
	}
}

func (q *RedisQueue) save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) releaseDedupe(ctx context.Context, job *models.Job) error {
	if job.DedupeKey == "" {
		return nil
	}
	return q.client.Del(ctx, q.dedupeKey(job.DedupeKey)).Err()
}

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
