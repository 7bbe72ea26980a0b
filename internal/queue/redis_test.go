package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdougie/framesearch/internal/models"
)

type redisCall struct {
	name string
	key  string
}

// scriptedRedis answers commands in-process through a client hook and
// records what was sent.
type scriptedRedis struct {
	mu      sync.Mutex
	calls   []redisCall
	reserve bool
	execErr error
	replies map[redisCall]func(redis.Cmder)
}

func (r *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.answer(cmd)
		return cmd.Err()
	}
}

func (r *scriptedRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			r.answer(cmd)
		}
		return r.execErr
	}
}

func (r *scriptedRedis) answer(cmd redis.Cmder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call := redisCall{name: cmd.Name()}
	if args := cmd.Args(); len(args) > 1 {
		call.key = fmt.Sprint(args[1])
	}
	r.calls = append(r.calls, call)

	if b, ok := cmd.(*redis.BoolCmd); ok {
		b.SetVal(r.reserve)
	}
	if reply, ok := r.replies[call]; ok {
		reply(cmd)
	} else if reply, ok := r.replies[redisCall{name: call.name}]; ok {
		reply(cmd)
	}
}

func (r *scriptedRedis) called(name, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.name == name && c.key == key {
			return true
		}
	}
	return false
}

func newScriptedQueue(t *testing.T, r *scriptedRedis) *RedisQueue {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	client.AddHook(r)
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "test", nil)
}

func storedJob(t *testing.T, job models.Job) func(redis.Cmder) {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return func(cmd redis.Cmder) { cmd.(*redis.StringCmd).SetVal(string(data)) }
}

func TestEnqueueReleasesDedupeKeyWhenWriteFails(t *testing.T) {
	r := &scriptedRedis{reserve: true, execErr: errors.New("READONLY You can't write against a read only replica")}
	q := newScriptedQueue(t, r)

	_, err := q.Enqueue(context.Background(), models.JobTypeExtractFrames, "org-1",
		models.ExtractFramesPayload{RecordingID: "rec-1", OrgID: "org-1", VideoURL: "v.mp4"},
		EnqueueOptions{DedupeKey: "extract_frames:rec-1"})
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	if !r.called("del", "test:dedupe:extract_frames:rec-1") {
		t.Errorf("dedupe key was not released, calls = %v", r.calls)
	}
}

func TestEnqueueKeepsDedupeKeyOnSuccess(t *testing.T) {
	r := &scriptedRedis{reserve: true}
	q := newScriptedQueue(t, r)

	job, err := q.Enqueue(context.Background(), models.JobTypeExtractFrames, "org-1",
		models.ExtractFramesPayload{RecordingID: "rec-1"},
		EnqueueOptions{DedupeKey: "extract_frames:rec-1"})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusPending || job.MaxAttempts != defaultMaxAttempts {
		t.Errorf("job = %+v", job)
	}
	if !r.called("rpush", "test:ready") {
		t.Error("job was not made ready")
	}
	if r.called("del", "test:dedupe:extract_frames:rec-1") {
		t.Error("dedupe key released for a live job")
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	r := &scriptedRedis{reserve: false}
	q := newScriptedQueue(t, r)

	_, err := q.Enqueue(context.Background(), models.JobTypeExtractFrames, "org-1",
		models.ExtractFramesPayload{RecordingID: "rec-1"},
		EnqueueOptions{DedupeKey: "extract_frames:rec-1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if r.called("rpush", "test:ready") {
		t.Error("duplicate job was made ready")
	}
}

func TestDequeueMovesJobToProcessing(t *testing.T) {
	r := &scriptedRedis{replies: map[redisCall]func(redis.Cmder){
		{name: "blmove"}: func(cmd redis.Cmder) { cmd.(*redis.StringCmd).SetVal("job-1") },
	}}
	r.replies[redisCall{name: "get", key: "test:job:job-1"}] = storedJob(t, models.Job{
		ID: "job-1", Type: models.JobTypeExtractFrames, Status: models.JobStatusPending, MaxAttempts: 3,
	})
	q := newScriptedQueue(t, r)

	job, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != models.JobStatusProcessing {
		t.Fatalf("job = %+v", job)
	}
	if !r.called("blmove", "test:ready") {
		t.Error("job was not moved off the ready list")
	}
}

func TestRequeueDoesNotChargeAttempt(t *testing.T) {
	r := &scriptedRedis{}
	q := newScriptedQueue(t, r)

	job := &models.Job{ID: "job-1", Status: models.JobStatusProcessing, AttemptCount: 2, MaxAttempts: 3}
	if err := q.Requeue(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusPending || job.AttemptCount != 2 {
		t.Errorf("job = %+v", job)
	}
	if !r.called("lrem", "test:processing") || !r.called("lpush", "test:ready") {
		t.Errorf("calls = %v", r.calls)
	}
	if r.called("zadd", "test:delayed") {
		t.Error("requeued job was scheduled as a retry")
	}
}

func TestReclaimStaleFailsLostJobs(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &scriptedRedis{replies: map[redisCall]func(redis.Cmder){
		{name: "lrange"}: func(cmd redis.Cmder) { cmd.(*redis.StringSliceCmd).SetVal([]string{"lost", "fresh"}) },
		{name: "lrem"}:   func(cmd redis.Cmder) { cmd.(*redis.IntCmd).SetVal(1) },
	}}
	r.replies[redisCall{name: "get", key: "test:job:lost"}] = storedJob(t, models.Job{
		ID: "lost", Status: models.JobStatusProcessing, MaxAttempts: 3, UpdatedAt: now.Add(-2 * time.Hour),
	})
	r.replies[redisCall{name: "get", key: "test:job:fresh"}] = storedJob(t, models.Job{
		ID: "fresh", Status: models.JobStatusProcessing, MaxAttempts: 3, UpdatedAt: now.Add(-time.Minute),
	})
	q := newScriptedQueue(t, r)
	q.now = func() time.Time { return now }

	if err := q.reclaimStale(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !r.called("set", "test:job:lost") || !r.called("zadd", "test:delayed") {
		t.Errorf("lost job was not rescheduled, calls = %v", r.calls)
	}
	if r.called("set", "test:job:fresh") {
		t.Error("running job was reclaimed")
	}
}
